package predict

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

// stubModel scores a candidate using a caller-supplied function, letting
// tests drive specific quality curves without a real regression artifact.
type stubModel struct {
	predict func(features map[string]float64) (float64, error)
}

func (m stubModel) Columns() []string { return nil }
func (m stubModel) Predict(features map[string]float64) (float64, error) {
	return m.predict(features)
}

func TestPredictPicksSmallestQualityClearingFloor(t *testing.T) {
	// Quality increases as param_value decreases (lower CRF == higher
	// quality), so every value from 17 up clears 95 except it gets worse as
	// value increases; the selection rule should pick the highest CRF
	// (cheapest) that still clears the floor.
	model := stubModel{predict: func(f map[string]float64) (float64, error) {
		if f["param_is_qp"] == 1 {
			return 50, nil // qp candidates never clear the floor
		}
		return 130 - f["param_value"], nil // crf=17 -> 113 ... crf=30 -> 100
	}}
	p := NewPredictor(model, DefaultConfig())
	result := p.Predict(map[string]float64{"SI_mean_mean": 1})

	require.Equal(t, StatusSuccess, result.Status)
	require.Equal(t, ParameterCRF, result.Parameter)
	// All crf candidates clear 95 (min quality 100 at crf=30); the minimum
	// passing quality is the one with the largest param_value (cheapest).
	require.Equal(t, 30, result.Value)
}

func TestPredictFallsBackWhenNoCandidateClearsFloor(t *testing.T) {
	model := stubModel{predict: func(f map[string]float64) (float64, error) { return 0, nil }}
	p := NewPredictor(model, DefaultConfig())
	result := p.Predict(map[string]float64{})

	require.Equal(t, StatusSuccessFallback, result.Status)
	require.Equal(t, ParameterCRF, result.Parameter)
	require.Equal(t, 16, result.Value)
}

func TestPredictSurfacesModelError(t *testing.T) {
	model := stubModel{predict: func(f map[string]float64) (float64, error) {
		return 0, fmt.Errorf("missing feature column")
	}}
	p := NewPredictor(model, DefaultConfig())
	result := p.Predict(map[string]float64{})

	require.Equal(t, StatusFailed, result.Status)
	require.Contains(t, result.Error, "missing feature column")
}

func TestGridMatchesSpecRanges(t *testing.T) {
	grid := DefaultConfig().Grid()
	var crfCount, qpCount int
	for _, c := range grid {
		switch c.Parameter {
		case ParameterCRF:
			crfCount++
			require.GreaterOrEqual(t, c.Value, 17)
			require.LessOrEqual(t, c.Value, 30)
		case ParameterQP:
			qpCount++
			require.GreaterOrEqual(t, c.Value, 25)
			require.LessOrEqual(t, c.Value, 40)
		}
	}
	require.Equal(t, 14, crfCount)
	require.Equal(t, 16, qpCount)
}
