package processor

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/livepeer/transcode-pipeline/video"
)

func TestNewRegistryBuildsClosedCatalog(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)

	for _, name := range []string{"Y", "U", "V", "SI", "TI", "GLCM", "GLCM_contrast", "GLCM_correlation", "GLCM_energy", "GLCM_homogeneity", "FHV13"} {
		require.Contains(t, reg.Extractors, name)
	}
	require.Len(t, reg.Order, len(reg.Extractors))

	seen := map[string]bool{}
	for _, p := range reg.Order {
		if p.DependsOn != "" {
			require.True(t, seen[p.DependsOn], "extractor %q scheduled before its dependency %q", p.Name, p.DependsOn)
		}
		seen[p.Name] = true
	}
}

func TestYExtractorIdentity(t *testing.T) {
	y := yExtractor()
	frame := &video.Frame{Width: 2, Height: 2, Y: []byte{10, 20, 30, 40}}
	v, err := y.Run(Input{Frame: frame})
	require.NoError(t, err)
	require.True(t, v.Valid)
	require.Equal(t, []float64{10, 20, 30, 40}, v.Matrix.Data)
}

func TestTIFirstFrameIsEmpty(t *testing.T) {
	ti := tiExtractor()
	state := ti.NewState()
	y1 := Value{Matrix: bytesToMatrix([]byte{1, 2, 3, 4}, 2, 2), Valid: true}
	v, err := ti.Run(Input{Dep: y1, State: state})
	require.NoError(t, err)
	require.False(t, v.Valid)
}

func TestTISecondFrameIsDifference(t *testing.T) {
	ti := tiExtractor()
	state := ti.NewState()
	y1 := Value{Matrix: bytesToMatrix([]byte{1, 2, 3, 4}, 2, 2), Valid: true}
	y2 := Value{Matrix: bytesToMatrix([]byte{4, 2, 3, 1}, 2, 2), Valid: true}

	_, err := ti.Run(Input{Dep: y1, State: state})
	require.NoError(t, err)
	v, err := ti.Run(Input{Dep: y2, State: state})
	require.NoError(t, err)
	require.True(t, v.Valid)
	require.Equal(t, []float64{3, 0, 0, -3}, v.Matrix.Data)
}

func TestMeanCalculatorPropagatesEmpty(t *testing.T) {
	calc := meanCalculator("TI")
	v, err := calc.Run(Input{Dep: Value{Valid: false}})
	require.NoError(t, err)
	require.False(t, v.Valid)
}

func TestMeanAndStdCalculators(t *testing.T) {
	m := bytesToMatrix([]byte{2, 4, 4, 4}, 2, 2)
	dep := Value{Matrix: m, Valid: true}

	meanVal, err := meanCalculator("SI").Run(Input{Dep: dep})
	require.NoError(t, err)
	require.True(t, meanVal.Valid)
	require.InDelta(t, 3.5, meanVal.Scalar, 1e-9)

	stdVal, err := stdCalculator("SI").Run(Input{Dep: dep})
	require.NoError(t, err)
	require.True(t, stdVal.Valid)
	require.Greater(t, stdVal.Scalar, 0.0)
}

func TestSIIsZeroOnFlatFrame(t *testing.T) {
	si := siExtractor()
	y := bytesToMatrix([]byte{5, 5, 5, 5, 5, 5, 5, 5, 5}, 3, 3)
	v, err := si.Run(Input{Dep: Value{Matrix: y, Valid: true}})
	require.NoError(t, err)
	for _, val := range v.Matrix.Data {
		require.InDelta(t, 0, val, 1e-9)
	}
}

func TestGLCMNormalizesToOne(t *testing.T) {
	glcm := glcmExtractor()
	y := bytesToMatrix([]byte{1, 2, 3, 4, 5, 6, 7, 8, 9}, 3, 3)
	v, err := glcm.Run(Input{Dep: Value{Matrix: y, Valid: true}})
	require.NoError(t, err)
	var sum float64
	for _, p := range v.Matrix.Data {
		sum += p
	}
	require.InDelta(t, 1.0, sum, 1e-9)
}

func TestFHV13BandpassWeightsSumToZero(t *testing.T) {
	var sum float64
	for _, w := range fhv13BandpassWeights {
		sum += w
	}
	require.InDelta(t, 0, sum, 1e-12)
}

func TestFHV13ExtractorFlatFrameHasNoResponse(t *testing.T) {
	y := NewMatrix(32, 32, 1)
	for i := range y.Data {
		y.Data[i] = 128
	}
	v, err := fhv13Extractor().Run(Input{Dep: Value{Matrix: y, Valid: true}})
	require.NoError(t, err)
	for _, val := range v.Matrix.Data {
		require.InDelta(t, 0, val, 1e-9)
	}
}

func TestFHV13ExtractorVerticalEdgeIsAxisAligned(t *testing.T) {
	// A hard vertical edge: the row-stacked kernel responds along x only,
	// and the transposed kernel's response cancels exactly because the
	// bandpass weights sum to zero over identical rows. Every gradient is
	// axis-aligned, so only channel 0 may carry magnitude.
	y := NewMatrix(32, 32, 1)
	for py := 0; py < 32; py++ {
		for px := 16; px < 32; px++ {
			y.Set(0, px, py, 200)
		}
	}
	v, err := fhv13Extractor().Run(Input{Dep: Value{Matrix: y, Valid: true}})
	require.NoError(t, err)

	var ch0Sum float64
	for _, val := range v.Matrix.Channel(0) {
		ch0Sum += val
	}
	require.Greater(t, ch0Sum, 0.0)
	for _, val := range v.Matrix.Channel(1) {
		require.InDelta(t, 0, val, 1e-9)
	}
}

func TestFHV13ExtractorDiagonalRampIsDiagonal(t *testing.T) {
	// A ramp rising equally along both axes makes gx == gy everywhere away
	// from the borders, putting the gradient angle at pi/4.
	y := NewMatrix(32, 32, 1)
	for py := 0; py < 32; py++ {
		for px := 0; px < 32; px++ {
			y.Set(0, px, py, float64(5*(px+py)))
		}
	}
	v, err := fhv13Extractor().Run(Input{Dep: Value{Matrix: y, Valid: true}})
	require.NoError(t, err)

	// The interior is pure diagonal gradient.
	require.Greater(t, v.Matrix.At(1, 16, 16), 0.0)
	require.InDelta(t, 0, v.Matrix.At(0, 16, 16), 1e-9)
}

func TestFHV13CalculatorRatio(t *testing.T) {
	m := NewMatrix(1, 1, 2)
	m.Set(0, 0, 0, 40)
	m.Set(1, 0, 0, 10)
	v, err := fhv13Calculator().Run(Input{Dep: Value{Matrix: m, Valid: true}})
	require.NoError(t, err)
	require.True(t, v.Valid)
	require.InDelta(t, 4.0, v.Scalar, 1e-9)
}
