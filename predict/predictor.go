// Package predict joins the Aggregator's descriptor with a candidate grid
// of encoder rate-control parameters, scores each candidate with a
// regression model, and picks the cheapest one that still meets a quality
// floor.
package predict

import (
	"fmt"
	"sort"
)

// Parameter is one of the two mutually exclusive rate-control modes the
// encoder driver understands.
type Parameter string

const (
	ParameterCRF Parameter = "crf"
	ParameterQP  Parameter = "qp"
)

// Status reports how Predict arrived at its chosen candidate.
type Status string

const (
	StatusSuccess         Status = "success"
	StatusSuccessFallback Status = "success_fallback"
	StatusFailed          Status = "failed"
)

// Candidate is one (parameter, value) point in the grid PARAMS crosses
// against the descriptor.
type Candidate struct {
	Parameter Parameter
	Value     int
}

// Result is the predictor's decision: either the chosen candidate
// (StatusSuccess/StatusSuccessFallback) or a failure the orchestrator must
// translate into encoder defaults (StatusFailed).
type Result struct {
	Parameter Parameter
	Value     int
	Status    Status
	Error     string
}

// Config holds the candidate grid and quality floor as configurable knobs
// rather than hard-coded constants.
type Config struct {
	CRFRange     [2]int // inclusive [min, max], default [17, 30]
	QPRange      [2]int // inclusive [min, max], default [25, 40]
	QualityFloor float64
	// FallbackParameter/FallbackValue are emitted when no candidate clears
	// the quality floor. A model error yields StatusFailed instead.
	FallbackParameter Parameter
	FallbackValue     int
}

// DefaultConfig returns the standard candidate grid and quality floor.
func DefaultConfig() Config {
	return Config{
		CRFRange:          [2]int{17, 30},
		QPRange:           [2]int{25, 40},
		QualityFloor:      95,
		FallbackParameter: ParameterCRF,
		FallbackValue:     16,
	}
}

// Grid materializes the candidate parameter grid from the config.
func (c Config) Grid() []Candidate {
	var candidates []Candidate
	for v := c.CRFRange[0]; v <= c.CRFRange[1]; v++ {
		candidates = append(candidates, Candidate{Parameter: ParameterCRF, Value: v})
	}
	for v := c.QPRange[0]; v <= c.QPRange[1]; v++ {
		candidates = append(candidates, Candidate{Parameter: ParameterQP, Value: v})
	}
	return candidates
}

func (c Config) fallback() Result {
	return Result{Parameter: c.FallbackParameter, Value: c.FallbackValue, Status: StatusSuccessFallback}
}

// Predictor cross-joins a descriptor with the candidate grid and scores
// every row through the opaque regression Model.
type Predictor struct {
	model  Model
	config Config
}

// NewPredictor builds a Predictor over model using the given Config. Pass
// DefaultConfig() for the standard grid and floor.
func NewPredictor(model Model, config Config) *Predictor {
	return &Predictor{model: model, config: config}
}

// Predict scores every (parameter, value) candidate against descriptor,
// restricts to candidates whose predicted quality clears the floor, and
// picks the smallest such quality (the cheapest encode that still meets
// it). If none clears the floor, it returns the safe fallback candidate; if
// the model errors, it returns StatusFailed with the error, which the
// encoder driver turns into its default rate-control setting.
func (p *Predictor) Predict(descriptor map[string]float64) Result {
	type scored struct {
		Candidate
		quality float64
	}
	var passing []scored

	for _, cand := range p.config.Grid() {
		features := candidateFeatures(descriptor, cand)
		quality, err := p.model.Predict(features)
		if err != nil {
			return Result{Status: StatusFailed, Error: fmt.Sprintf("predictor model error for %s=%d: %v", cand.Parameter, cand.Value, err)}
		}
		if quality >= p.config.QualityFloor {
			passing = append(passing, scored{cand, quality})
		}
	}

	if len(passing) == 0 {
		return p.config.fallback()
	}

	sort.Slice(passing, func(i, j int) bool { return passing[i].quality < passing[j].quality })
	best := passing[0]
	return Result{Parameter: best.Parameter, Value: best.Value, Status: StatusSuccess}
}

// candidateFeatures copies descriptor and overlays the candidate's
// parameter/value so the model can score how this rate-control choice
// would affect quality, without mutating the caller's descriptor.
func candidateFeatures(descriptor map[string]float64, cand Candidate) map[string]float64 {
	features := make(map[string]float64, len(descriptor)+2)
	for k, v := range descriptor {
		features[k] = v
	}
	features["param_value"] = float64(cand.Value)
	if cand.Parameter == ParameterQP {
		features["param_is_qp"] = 1
	} else {
		features["param_is_qp"] = 0
	}
	return features
}
