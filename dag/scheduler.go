// Package dag runs the processor registry's extractors and calculators over
// a stream of decoded frames, honoring declared dependency edges.
package dag

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/livepeer/transcode-pipeline/config"
	"github.com/livepeer/transcode-pipeline/processor"
	"github.com/livepeer/transcode-pipeline/video"
)

// FrameRow is one frame's calculator outputs, keyed by calculator name.
// A column absent from Columns means the calculator produced no value for
// this frame (e.g. TI on the first frame), consistent with the processor
// package's Value.Valid convention.
type FrameRow struct {
	Index   int
	Columns map[string]float64
}

// Scheduler executes every processor in the registry exactly once per
// frame, submitting independent stateless processors to a bounded worker
// pool in topological waves. Stateful processors run synchronously on the
// caller's goroutine to preserve frame-arrival order.
type Scheduler struct {
	registry    *processor.Registry
	concurrency int
	waves       [][]*processor.Processor
}

// NewScheduler computes the registry's topological waves once, since the
// dependency graph is fixed per file, not per frame. concurrency bounds how
// many independent processors within a wave run at once; values below 1 are
// treated as 1.
func NewScheduler(registry *processor.Registry, concurrency int) *Scheduler {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Scheduler{
		registry:    registry,
		concurrency: concurrency,
		waves:       computeWaves(registry.Order),
	}
}

func computeWaves(order []*processor.Processor) [][]*processor.Processor {
	depth := make(map[string]int, len(order))
	var waves [][]*processor.Processor
	for _, p := range order {
		d := 0
		if p.DependsOn != "" {
			d = depth[p.DependsOn] + 1
		}
		depth[p.Name] = d
		for len(waves) <= d {
			waves = append(waves, nil)
		}
		waves[d] = append(waves[d], p)
	}
	return waves
}

// Run drains frames in decode order and streams one FrameRow per frame on
// the returned channel, never holding more than the configured lookahead
// in memory at once. Callers must range over the channel to completion and
// then call wait() to pick up any fatal per-file error; no partial rows are
// emitted for a frame that errors, matching the "processor errors are
// fatal-per-file" contract.
func (s *Scheduler) Run(ctx context.Context, frames <-chan video.Frame) (rows <-chan FrameRow, wait func() error) {
	out := make(chan FrameRow, config.DefaultFrameLookahead)
	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		defer close(out)

		states := make(map[string]any, len(s.registry.Extractors))
		for _, p := range s.registry.Extractors {
			if p.Stateful {
				states[p.Name] = p.NewState()
			}
		}

		idx := 0
		for {
			select {
			case frame, ok := <-frames:
				if !ok {
					return nil
				}

				row, err := s.runFrame(gctx, idx, &frame, states)
				if err != nil {
					return err
				}

				select {
				case out <- row:
				case <-gctx.Done():
					return gctx.Err()
				}
				idx++
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	return out, group.Wait
}

func (s *Scheduler) runFrame(ctx context.Context, idx int, frame *video.Frame, states map[string]any) (FrameRow, error) {
	results := make(map[string]processor.Value, len(s.registry.Extractors))
	for _, wave := range s.waves {
		if err := s.runWave(ctx, frame, wave, results, states); err != nil {
			return FrameRow{}, fmt.Errorf("frame %d: %w", idx, err)
		}
	}

	row := FrameRow{Index: idx, Columns: make(map[string]float64, len(s.registry.Calculators)+2)}
	row.Columns["width"] = float64(frame.Width)
	row.Columns["height"] = float64(frame.Height)
	for _, c := range s.registry.Calculators {
		v, err := c.Run(processor.Input{Dep: results[c.DependsOn]})
		if err != nil {
			return FrameRow{}, fmt.Errorf("frame %d: calculator %q: %w", idx, c.Name, err)
		}
		if v.Valid {
			row.Columns[c.Name] = v.Scalar
		}
	}
	return row, nil
}

func (s *Scheduler) runWave(ctx context.Context, frame *video.Frame, wave []*processor.Processor, results map[string]processor.Value, states map[string]any) error {
	// Stateful processors run first, inline on the caller's goroutine, so
	// they observe frames in strict decode order and never touch the
	// results map concurrently with the wave's worker goroutines.
	for _, p := range wave {
		if !p.Stateful {
			continue
		}
		v, err := p.Run(processor.Input{Frame: frame, Dep: results[p.DependsOn], State: states[p.Name]})
		if err != nil {
			return fmt.Errorf("%s: %w", p.Name, err)
		}
		results[p.Name] = v
	}

	group, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, s.concurrency)
	var mu sync.Mutex

	for _, p := range wave {
		p := p
		if p.Stateful {
			continue
		}

		group.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			defer func() { <-sem }()

			v, err := p.Run(processor.Input{Frame: frame, Dep: results[p.DependsOn]})
			if err != nil {
				return fmt.Errorf("%s: %w", p.Name, err)
			}
			mu.Lock()
			results[p.Name] = v
			mu.Unlock()
			return nil
		})
	}

	return group.Wait()
}
