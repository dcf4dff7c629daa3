package dag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/livepeer/transcode-pipeline/processor"
	"github.com/livepeer/transcode-pipeline/video"
)

func feed(frames []video.Frame) <-chan video.Frame {
	ch := make(chan video.Frame, len(frames))
	for _, f := range frames {
		ch <- f
	}
	close(ch)
	return ch
}

func constantFrame(w, h int, val byte) video.Frame {
	y := make([]byte, w*h)
	for i := range y {
		y[i] = val
	}
	return video.Frame{Width: w, Height: h, Y: y, U: []byte{0}, V: []byte{0}}
}

func drain(t *testing.T, rows <-chan FrameRow, wait func() error) []FrameRow {
	t.Helper()
	var collected []FrameRow
	for row := range rows {
		collected = append(collected, row)
	}
	require.NoError(t, wait())
	return collected
}

func TestSchedulerProducesOneRowPerFrame(t *testing.T) {
	reg, err := processor.NewRegistry()
	require.NoError(t, err)
	s := NewScheduler(reg, 4)

	frames := []video.Frame{constantFrame(4, 4, 10), constantFrame(4, 4, 20), constantFrame(4, 4, 30)}
	rows, wait := s.Run(context.Background(), feed(frames))
	collected := drain(t, rows, wait)
	require.Len(t, collected, 3)
}

func TestSchedulerTIOrderingInvariant(t *testing.T) {
	reg, err := processor.NewRegistry()
	require.NoError(t, err)
	s := NewScheduler(reg, 2)

	frames := []video.Frame{constantFrame(2, 2, 10), constantFrame(2, 2, 40), constantFrame(2, 2, 70)}
	rows, wait := s.Run(context.Background(), feed(frames))
	collected := drain(t, rows, wait)
	require.Len(t, collected, 3)

	// First frame has no predecessor: TI columns are absent.
	_, present := collected[0].Columns["TI_mean"]
	require.False(t, present)

	// Frame i>=1 carries std(f[i].Y - f[i-1].Y); for constant frames this
	// collapses to the constant difference, so std is 0.
	require.InDelta(t, 0, collected[1].Columns["TI_std"], 1e-9)
	require.InDelta(t, 30, collected[1].Columns["TI_mean"], 1e-9)
	require.InDelta(t, 30, collected[2].Columns["TI_mean"], 1e-9)
}

func TestSchedulerFlatFrameHasZeroSI(t *testing.T) {
	reg, err := processor.NewRegistry()
	require.NoError(t, err)
	s := NewScheduler(reg, 4)

	rows, wait := s.Run(context.Background(), feed([]video.Frame{constantFrame(8, 8, 50)}))
	collected := drain(t, rows, wait)
	require.InDelta(t, 0, collected[0].Columns["SI_mean"], 1e-9)
}

func TestSchedulerMatchesSingleThreadedReference(t *testing.T) {
	reg, err := processor.NewRegistry()
	require.NoError(t, err)

	frames := make([]video.Frame, 20)
	for i := range frames {
		frames[i] = constantFrame(6, 6, byte(i*5))
	}

	parallel := NewScheduler(reg, 4)
	prows, pwait := parallel.Run(context.Background(), feed(frames))
	parallelRows := drain(t, prows, pwait)

	sequential := NewScheduler(reg, 1)
	srows, swait := sequential.Run(context.Background(), feed(frames))
	sequentialRows := drain(t, srows, swait)

	require.Equal(t, len(sequentialRows), len(parallelRows))
	for i := range sequentialRows {
		require.InDelta(t, sequentialRows[i].Columns["SI_mean"], parallelRows[i].Columns["SI_mean"], 1e-9)
		require.InDelta(t, sequentialRows[i].Columns["GLCM_contrast_mean"], parallelRows[i].Columns["GLCM_contrast_mean"], 1e-9)
	}
}

// TestSchedulerPropagatesFatalError verifies a processor failure surfaces via
// wait() and that no row is emitted for the failing frame onward.
func TestSchedulerPropagatesFatalError(t *testing.T) {
	extractors := []*processor.Processor{
		{Name: "boom", Kind: processor.KindExtractor, Run: func(processor.Input) (processor.Value, error) {
			return processor.Value{}, context.DeadlineExceeded
		}},
	}
	reg, err := processor.NewRegistryFrom(extractors, nil)
	require.NoError(t, err)

	s := NewScheduler(reg, 1)
	rows, wait := s.Run(context.Background(), feed([]video.Frame{constantFrame(2, 2, 1)}))
	var collected []FrameRow
	for row := range rows {
		collected = append(collected, row)
	}
	require.Empty(t, collected)
	require.Error(t, wait())
}
