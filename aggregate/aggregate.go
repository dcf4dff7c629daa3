// Package aggregate reduces a file's stream of per-frame scalar columns
// into the single flat descriptor row the predictor consumes.
package aggregate

import (
	"math"

	"github.com/livepeer/transcode-pipeline/dag"
)

// Stat names one of the four aggregations a column can be reduced to.
type Stat string

const (
	StatMin  Stat = "min"
	StatMean Stat = "mean"
	StatMax  Stat = "max"
	StatStd  Stat = "std"
)

var allStats = []Stat{StatMin, StatMean, StatMax, StatStd}

// schema declares, per column, the subset of {min, mean, max, std} the
// descriptor carries. Columns absent here get all four. The subsets mirror
// the feature set the regression model was trained on, so changing them
// requires retraining.
var schema = map[string][]Stat{
	"width":                {StatMin},
	"height":               {StatMin},
	"TI_mean":              {StatMax, StatStd},
	"FHV13":                {StatMax},
	"GLCM_contrast_std":    {StatStd},
	"GLCM_correlation_std": {StatStd},
}

func statsFor(column string) []Stat {
	if s, ok := schema[column]; ok {
		return s
	}
	return allStats
}

// Descriptor is the single flat row the predictor scores: one entry per
// `<column>_<stat>` the schema declares.
type Descriptor map[string]float64

// runningColumn folds a column's values with Welford's online algorithm, so
// the Collector never holds more than one running tuple per column instead
// of buffering every frame's value.
type runningColumn struct {
	count      int
	min, max   float64
	mean       float64
	m2         float64 // sum of squared distances from the running mean
}

func (c *runningColumn) add(v float64) {
	if c.count == 0 {
		c.min, c.max = v, v
	} else {
		if v < c.min {
			c.min = v
		}
		if v > c.max {
			c.max = v
		}
	}
	c.count++
	delta := v - c.mean
	c.mean += delta / float64(c.count)
	delta2 := v - c.mean
	c.m2 += delta * delta2
}

func (c *runningColumn) std() float64 {
	if c.count == 0 {
		return 0
	}
	return math.Sqrt(c.m2 / float64(c.count))
}

// Collector is the streaming form of the Aggregator: it consumes FrameRows
// one at a time (as the DAG scheduler produces them) and never buffers the
// full per-frame history, only a running tuple per column.
type Collector struct {
	columns map[string]*runningColumn
}

// NewCollector returns an empty Collector ready to Add rows to.
func NewCollector() *Collector {
	return &Collector{columns: make(map[string]*runningColumn)}
}

// FrameColumns is the minimal shape Add needs from a frame row: a
// dag.FrameRow's Columns map converts to it directly.
type FrameColumns map[string]float64

// Add folds one frame's calculator output columns into the running stats,
// ignoring NaN values (processors with no output on a given frame).
func (c *Collector) Add(columns FrameColumns) {
	for name, v := range columns {
		if math.IsNaN(v) {
			continue
		}
		rc, ok := c.columns[name]
		if !ok {
			rc = &runningColumn{}
			c.columns[name] = rc
		}
		rc.add(v)
	}
}

// Descriptor reduces every observed column to its declared subset of
// {min, mean, max, std}, producing the single flat row the predictor scores.
func (c *Collector) Descriptor() Descriptor {
	descriptor := make(Descriptor)
	for name, rc := range c.columns {
		if rc.count == 0 {
			continue
		}
		for _, stat := range statsFor(name) {
			key := name + "_" + string(stat)
			switch stat {
			case StatMin:
				descriptor[key] = rc.min
			case StatMax:
				descriptor[key] = rc.max
			case StatMean:
				descriptor[key] = rc.mean
			case StatStd:
				descriptor[key] = rc.std()
			}
		}
	}
	return descriptor
}

// Aggregate is a convenience, non-streaming wrapper around Collector for
// callers that already hold every row in memory (small test fixtures). The
// production analyzer path folds dag.Scheduler's row channel through a
// Collector directly instead, so it never buffers the whole video.
func Aggregate(rows []dag.FrameRow) Descriptor {
	c := NewCollector()
	for _, r := range rows {
		c.Add(FrameColumns(r.Columns))
	}
	return c.Descriptor()
}
