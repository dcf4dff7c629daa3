// Package processor implements the catalog of per-frame feature extractors
// and calculators the DAG scheduler runs over each decoded frame.
package processor

import "github.com/livepeer/transcode-pipeline/video"

// Kind is a closed variant over the two processor shapes, favoring a tagged
// union over an open interface hierarchy: every Processor is exactly one of
// these, never both or neither.
type Kind int

const (
	KindExtractor Kind = iota
	KindCalculator
)

func (k Kind) String() string {
	if k == KindCalculator {
		return "calculator"
	}
	return "extractor"
}

// Value is the output of running a Processor on one frame: either a Matrix
// (extractors) or a Scalar (calculators). Valid is false for the empty
// result a stateful processor emits before it has history to compare
// against.
type Value struct {
	Matrix Matrix
	Scalar float64
	Valid  bool
}

// Input is everything a Processor.Run needs for one frame: the raw decoded
// frame (consulted only by processors with no DependsOn) and the already
// computed Value of its single dependency, if any.
type Input struct {
	Frame *video.Frame
	Dep   Value
	State any
}

// Processor is a single node in the registry's dependency forest. No
// processor depends on more than one other, so DependsOn is a single name
// rather than a slice.
type Processor struct {
	Name      string
	Kind      Kind
	DependsOn string
	Stateful  bool

	// NewState constructs the per-file mutable state a stateful processor
	// carries across frames (e.g. TI's previous-frame buffer). nil for
	// stateless processors.
	NewState func() any

	// Run computes this processor's output for one frame.
	Run func(in Input) (Value, error)
}
