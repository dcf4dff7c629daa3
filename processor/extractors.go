package processor

import (
	"math"

	"github.com/livepeer/transcode-pipeline/video"
)

// yExtractor selects the luma plane, full resolution.
func yExtractor() *Processor {
	return &Processor{
		Name: "Y",
		Kind: KindExtractor,
		Run: func(in Input) (Value, error) {
			f := in.Frame
			return Value{Matrix: bytesToMatrix(f.Y, f.Width, f.Height), Valid: true}, nil
		},
	}
}

// chromaDimensions returns the subsampled plane dimensions for U/V given the
// frame's pixel format, matching the layout video.FrameSource decodes.
func chromaDimensions(f *video.Frame) (int, int) {
	switch f.PixelFormat {
	case "yuv422p":
		return (f.Width + 1) / 2, f.Height
	case "yuv444p":
		return f.Width, f.Height
	default: // yuv420p and unrecognized formats
		return (f.Width + 1) / 2, (f.Height + 1) / 2
	}
}

// uExtractor selects the Cb plane, at its native subsampled resolution.
func uExtractor() *Processor {
	return &Processor{
		Name: "U",
		Kind: KindExtractor,
		Run: func(in Input) (Value, error) {
			w, h := chromaDimensions(in.Frame)
			return Value{Matrix: bytesToMatrix(in.Frame.U, w, h), Valid: true}, nil
		},
	}
}

// vExtractor selects the Cr plane, at its native subsampled resolution.
func vExtractor() *Processor {
	return &Processor{
		Name: "V",
		Kind: KindExtractor,
		Run: func(in Input) (Value, error) {
			w, h := chromaDimensions(in.Frame)
			return Value{Matrix: bytesToMatrix(in.Frame.V, w, h), Valid: true}, nil
		},
	}
}

// siExtractor computes the Sobel gradient magnitude of the Y plane.
func siExtractor() *Processor {
	return &Processor{
		Name:      "SI",
		Kind:      KindExtractor,
		DependsOn: "Y",
		Run: func(in Input) (Value, error) {
			y := in.Dep.Matrix
			out := sobelMagnitude(y)
			return Value{Matrix: out, Valid: true}, nil
		},
	}
}

// tiState holds the previous frame's Y matrix for the stateful TI extractor.
type tiState struct {
	prev *Matrix
}

// tiExtractor computes the inter-frame difference of the Y plane. The
// first frame has no predecessor and emits no value.
func tiExtractor() *Processor {
	return &Processor{
		Name:      "TI",
		Kind:      KindExtractor,
		DependsOn: "Y",
		Stateful:  true,
		NewState:  func() any { return &tiState{} },
		Run: func(in Input) (Value, error) {
			st := in.State.(*tiState)
			y := in.Dep.Matrix
			if st.prev == nil {
				prev := y
				st.prev = &prev
				return Value{Valid: false}, nil
			}
			diff := NewMatrix(y.Width, y.Height, 1)
			for i := range diff.Data {
				diff.Data[i] = y.Data[i] - st.prev.Data[i]
			}
			prev := y
			st.prev = &prev
			return Value{Matrix: diff, Valid: true}, nil
		},
	}
}

// sobelKernelX/Y are the standard 3x3 Sobel operators.
var sobelKernelX = [3][3]float64{
	{-1, 0, 1},
	{-2, 0, 2},
	{-1, 0, 1},
}
var sobelKernelY = [3][3]float64{
	{-1, -2, -1},
	{0, 0, 0},
	{1, 2, 1},
}

func sobelMagnitude(y Matrix) Matrix {
	out := NewMatrix(y.Width, y.Height, 1)
	for py := 0; py < y.Height; py++ {
		for px := 0; px < y.Width; px++ {
			var gx, gy float64
			for ky := -1; ky <= 1; ky++ {
				for kx := -1; kx <= 1; kx++ {
					sx, sy := clamp(px+kx, y.Width), clamp(py+ky, y.Height)
					v := y.At(0, sx, sy)
					gx += v * sobelKernelX[ky+1][kx+1]
					gy += v * sobelKernelY[ky+1][kx+1]
				}
			}
			out.Set(0, px, py, math.Hypot(gx, gy))
		}
	}
	return out
}

func clamp(v, max int) int {
	if v < 0 {
		return 0
	}
	if v >= max {
		return max - 1
	}
	return v
}

const glcmLevels = 256

// glcmAngles are the four standard co-occurrence offsets at distance 1.
var glcmAngles = [][2]int{
	{1, 0},  // 0
	{1, -1}, // pi/4
	{0, -1},  // pi/2
	{-1, -1}, // 3pi/4
}

// glcmExtractor builds the gray-level co-occurrence matrix of the Y plane
// at distance 1 across the four canonical angles, normalized to sum to 1.
func glcmExtractor() *Processor {
	return &Processor{
		Name:      "GLCM",
		Kind:      KindExtractor,
		DependsOn: "Y",
		Run: func(in Input) (Value, error) {
			y := in.Dep.Matrix
			glcm := NewMatrix(glcmLevels, glcmLevels, 1)
			var total float64
			for py := 0; py < y.Height; py++ {
				for px := 0; px < y.Width; px++ {
					i := quantize(y.At(0, px, py))
					for _, d := range glcmAngles {
						nx, ny := px+d[0], py+d[1]
						if nx < 0 || nx >= y.Width || ny < 0 || ny >= y.Height {
							continue
						}
						j := quantize(y.At(0, nx, ny))
						glcm.Set(0, j, i, glcm.At(0, j, i)+1)
						glcm.Set(0, i, j, glcm.At(0, i, j)+1)
						total += 2
					}
				}
			}
			if total > 0 {
				for i := range glcm.Data {
					glcm.Data[i] /= total
				}
			}
			return Value{Matrix: glcm, Valid: true}, nil
		},
	}
}

func quantize(v float64) int {
	i := int(v)
	return clamp(i, glcmLevels)
}

// glcmProperty names the four texture statistics derivable from a
// normalized GLCM.
type glcmProperty string

const (
	glcmContrast     glcmProperty = "contrast"
	glcmCorrelation  glcmProperty = "correlation"
	glcmEnergy       glcmProperty = "energy"
	glcmHomogeneity  glcmProperty = "homogeneity"
)

// glcmPropertyExtractor builds a `GLCM_<prop>` extractor: a 1x1
// scalar-matrix derived from the GLCM extractor's output.
func glcmPropertyExtractor(prop glcmProperty) *Processor {
	return &Processor{
		Name:      "GLCM_" + string(prop),
		Kind:      KindExtractor,
		DependsOn: "GLCM",
		Run: func(in Input) (Value, error) {
			g := in.Dep.Matrix
			out := NewMatrix(1, 1, 1)
			out.Data[0] = glcmPropertyValue(g, prop)
			return Value{Matrix: out, Valid: true}, nil
		},
	}
}

func glcmPropertyValue(g Matrix, prop glcmProperty) float64 {
	switch prop {
	case glcmContrast:
		var sum float64
		for i := 0; i < g.Width; i++ {
			for j := 0; j < g.Height; j++ {
				d := float64(i - j)
				sum += g.At(0, i, j) * d * d
			}
		}
		return sum
	case glcmEnergy:
		var sum float64
		for _, v := range g.Data {
			sum += v * v
		}
		return sum
	case glcmHomogeneity:
		var sum float64
		for i := 0; i < g.Width; i++ {
			for j := 0; j < g.Height; j++ {
				sum += g.At(0, i, j) / (1 + math.Abs(float64(i-j)))
			}
		}
		return sum
	case glcmCorrelation:
		return glcmCorrelationValue(g)
	default:
		return 0
	}
}

func glcmCorrelationValue(g Matrix) float64 {
	var muI, muJ float64
	for i := 0; i < g.Width; i++ {
		for j := 0; j < g.Height; j++ {
			p := g.At(0, i, j)
			muI += float64(i) * p
			muJ += float64(j) * p
		}
	}
	var sigI, sigJ float64
	for i := 0; i < g.Width; i++ {
		for j := 0; j < g.Height; j++ {
			p := g.At(0, i, j)
			sigI += p * (float64(i) - muI) * (float64(i) - muI)
			sigJ += p * (float64(j) - muJ) * (float64(j) - muJ)
		}
	}
	sigI, sigJ = math.Sqrt(sigI), math.Sqrt(sigJ)
	if sigI == 0 || sigJ == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < g.Width; i++ {
		for j := 0; j < g.Height; j++ {
			p := g.At(0, i, j)
			sum += p * (float64(i) - muI) * (float64(j) - muJ)
		}
	}
	return sum / (sigI * sigJ)
}

// fhv13BandpassWeights is the 13-tap bandpass filter of the spatial
// gradient HV13 measure (Wolf & Pinson, "Video Quality Measurement
// Techniques"). Antisymmetric, so it sums to zero and flat regions produce
// no response.
var fhv13BandpassWeights = [13]float64{
	-.0052625,
	-.0173446,
	-.0427401,
	-.0768961,
	-.0957739,
	-.0696751,
	0,
	.0696751,
	.0957739,
	.0768961,
	.0427401,
	.0173446,
	.0052625,
}

const (
	fhv13RMin       = 20.0
	fhv13DeltaTheta = 0.225
)

// fhv13Extractor convolves the Y plane with the 13x13 gradient kernel built
// by stacking the bandpass weights into 13 identical rows, and with its
// transpose, then buckets the resulting gradient magnitude into
// axis-aligned (channel 0) and diagonal (channel 1) sectors.
//
// Both kernels are rank-1 (row-stacked entry (r,c) is weights[c]
// independent of r), so each 2-D convolution is computed separably: a
// 13-tap bandpass along one axis followed by a 13-tap box sum along the
// other. Border samples reflect, matching the reference filter's edge
// handling.
func fhv13Extractor() *Processor {
	return &Processor{
		Name:      "FHV13",
		Kind:      KindExtractor,
		DependsOn: "Y",
		Run: func(in Input) (Value, error) {
			y := in.Dep.Matrix
			gx := fhv13Gradient(y, true)
			gy := fhv13Gradient(y, false)
			out := NewMatrix(y.Width, y.Height, 2)
			for py := 0; py < y.Height; py++ {
				for px := 0; px < y.Width; px++ {
					r := math.Hypot(gx.At(0, px, py), gy.At(0, px, py))
					if r < fhv13RMin {
						continue
					}
					theta := math.Atan2(gy.At(0, px, py), gx.At(0, px, py))
					if nearAxisAligned(theta) {
						out.Set(0, px, py, r)
					} else if nearDiagonal(theta) {
						out.Set(1, px, py, r)
					}
				}
			}
			return Value{Matrix: out, Valid: true}, nil
		},
	}
}

// fhv13Gradient computes one of the two 13x13 gradient responses. For the
// horizontal kernel the bandpass runs along x and the box sum along y; the
// transposed kernel swaps the two passes.
func fhv13Gradient(y Matrix, horizontal bool) Matrix {
	bandpassed := NewMatrix(y.Width, y.Height, 1)
	for py := 0; py < y.Height; py++ {
		for px := 0; px < y.Width; px++ {
			var sum float64
			for t := -6; t <= 6; t++ {
				var sx, sy int
				if horizontal {
					sx, sy = reflect(px+t, y.Width), py
				} else {
					sx, sy = px, reflect(py+t, y.Height)
				}
				sum += y.At(0, sx, sy) * fhv13BandpassWeights[t+6]
			}
			bandpassed.Set(0, px, py, sum)
		}
	}

	out := NewMatrix(y.Width, y.Height, 1)
	for py := 0; py < y.Height; py++ {
		for px := 0; px < y.Width; px++ {
			var sum float64
			for t := -6; t <= 6; t++ {
				var sx, sy int
				if horizontal {
					sx, sy = px, reflect(py+t, y.Height)
				} else {
					sx, sy = reflect(px+t, y.Width), py
				}
				sum += bandpassed.At(0, sx, sy)
			}
			out.Set(0, px, py, sum)
		}
	}
	return out
}

// reflect mirrors an out-of-range index back into [0, max) with the edge
// sample repeated: ... 1 0 | 0 1 2 ... (max-1) | (max-1) (max-2) ...
func reflect(v, max int) int {
	for v < 0 || v >= max {
		if v < 0 {
			v = -v - 1
		}
		if v >= max {
			v = 2*max - v - 1
		}
	}
	return v
}

func nearAxisAligned(theta float64) bool {
	for k := 0; k < 4; k++ {
		axis := float64(k) * math.Pi / 2
		if angularDistance(theta, axis) <= fhv13DeltaTheta {
			return true
		}
	}
	return false
}

func nearDiagonal(theta float64) bool {
	for k := 0; k < 4; k++ {
		diag := float64(k)*math.Pi/2 + math.Pi/4
		if angularDistance(theta, diag) <= fhv13DeltaTheta {
			return true
		}
	}
	return false
}

func angularDistance(a, b float64) float64 {
	d := math.Mod(math.Abs(a-b), math.Pi)
	if d > math.Pi/2 {
		d = math.Pi - d
	}
	return d
}
