// Package orchestrator runs the two-stage Analyze/Transcode job chain
// against a single task, claiming it for idempotency and reporting the
// resulting status back to the task repository. Each stage runs under
// recover so a per-task failure never crashes the worker process.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/livepeer/transcode-pipeline/aggregate"
	"github.com/livepeer/transcode-pipeline/cache"
	"github.com/livepeer/transcode-pipeline/clients"
	"github.com/livepeer/transcode-pipeline/config"
	"github.com/livepeer/transcode-pipeline/dag"
	"github.com/livepeer/transcode-pipeline/encode"
	"github.com/livepeer/transcode-pipeline/log"
	"github.com/livepeer/transcode-pipeline/metrics"
	"github.com/livepeer/transcode-pipeline/predict"
	"github.com/livepeer/transcode-pipeline/processor"
	"github.com/livepeer/transcode-pipeline/task"
	"github.com/livepeer/transcode-pipeline/video"
)

// AnalyzeOutput is the payload Analyze hands off to Transcode, either
// directly (in-process) or marshaled across the broker.
type AnalyzeOutput struct {
	TaskID      int64                `json:"task_id"`
	Predictor   predict.Result       `json:"predictor"`
	HasAudio    bool                 `json:"has_audio"`
	DurationSec float64              `json:"duration_sec"`
	SourceFile  string               `json:"source_file"`
	SourceSize  int64                `json:"source_size"`
	Descriptor  aggregate.Descriptor `json:"descriptor,omitempty"`
}

// Orchestrator wires the frame decode/analyze/predict/encode pipeline to
// durable task state. Its exported fields are read-only infrastructure
// shared across concurrently running jobs, with DAG scheduler concurrency
// bounded per job by config; the only mutable state is the in-process
// in-flight guard below.
type Orchestrator struct {
	Tasks       task.Repository
	Descriptors task.DescriptorCache
	ObjectStore *clients.ObjectStore
	FrameSource *video.FrameSource
	Registry    *processor.Registry
	Predictor   *predict.Predictor
	Encoder     *encode.Driver
	Concurrency int           // DAG scheduler inner concurrency, per job
	Expiry      time.Duration // presigned source URL lifetime; defaults to config.DefaultPresignedURLExpirationSecs if zero

	// inFlight guards against one worker process running the same stage
	// for the same task twice concurrently, ahead of the Claim CAS
	// round-trip to Postgres. Lazily initialized so a zero-value
	// Orchestrator (as built by tests) still works.
	inFlight     *cache.Cache[bool]
	inFlightOnce sync.Once
}

func (o *Orchestrator) inFlightCache() *cache.Cache[bool] {
	o.inFlightOnce.Do(func() {
		o.inFlight = cache.New[bool]()
	})
	return o.inFlight
}

func (o *Orchestrator) presignExpiry() time.Duration {
	if o.Expiry > 0 {
		return o.Expiry
	}
	return time.Duration(config.DefaultPresignedURLExpirationSecs) * time.Second
}

// recovered runs f, turning a panic into an error instead of crashing the
// worker process.
func recovered(f func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			log.LogNoRequestID("panic in orchestrator job, recovering", "err", rec, "trace", string(debug.Stack()))
			err = fmt.Errorf("panic in orchestrator job: %v", rec)
		}
	}()
	return f()
}

// Analyze claims task_id, streams its source file through the feature
// extraction DAG, and returns the predictor's rate-control decision. It
// begins with Claim for idempotency: a task already terminal returns a nil
// AnalyzeOutput and nil error, so redelivery after the job already
// completed is a clean no-op.
func (o *Orchestrator) Analyze(ctx context.Context, taskID int64, sourceKey string) (*AnalyzeOutput, error) {
	requestID := fmt.Sprintf("task-%d-analyze", taskID)

	inFlight := o.inFlightCache()
	key := fmt.Sprintf("analyze-%d", taskID)
	if inFlight.Get(key) {
		log.Log(requestID, "analyze already running in this process, skipping redelivery")
		return nil, nil
	}
	inFlight.Store(key, true)
	defer inFlight.Remove(requestID, key)

	t, err := o.Tasks.Claim(ctx, taskID)
	if err == task.ErrFinished {
		log.Log(requestID, "task already finished, skipping analyze")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim task %d: %w", taskID, err)
	}
	log.AddContext(requestID, "task_id", t.ID, "source_file", t.SourceFile)
	metrics.Metrics.TasksInFlight.Inc()
	defer metrics.Metrics.TasksInFlight.Dec()

	var out *AnalyzeOutput
	err = recovered(func() error {
		start := time.Now()
		log.Log(requestID, "starting analyze stage")
		result, runErr := o.runAnalyze(ctx, requestID, t)
		metrics.Metrics.TaskPipeline.StageDuration.WithLabelValues("analyze").Observe(time.Since(start).Seconds())
		if runErr != nil {
			return runErr
		}
		out = result
		return nil
	})
	if err != nil {
		metrics.Metrics.TaskPipeline.Count.WithLabelValues("analyze", "failed").Inc()
		if markErr := o.failTask(ctx, taskID, err); markErr != nil {
			log.LogError(requestID, "failed to mark task failed after analyze error", markErr)
		}
		return nil, err
	}
	metrics.Metrics.TaskPipeline.Count.WithLabelValues("analyze", "success").Inc()
	return out, nil
}

func (o *Orchestrator) runAnalyze(ctx context.Context, requestID string, t *task.Task) (*AnalyzeOutput, error) {
	// Canceling tears down the decode subprocess and its reader goroutine if
	// the scheduler bails out mid-stream.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	presigned, err := o.ObjectStore.PresignGet(t.SourceFile, o.presignExpiry())
	if err != nil {
		return nil, fmt.Errorf("failed to presign source for analyze: %w", err)
	}

	stream, iv, err := o.FrameSource.Open(ctx, requestID, presigned)
	if err != nil {
		return nil, fmt.Errorf("failed to open source stream: %w", err)
	}

	scheduler := dag.NewScheduler(o.Registry, o.Concurrency)
	rows, wait := scheduler.Run(ctx, stream.Frames)

	collector := aggregate.NewCollector()
	for row := range rows {
		collector.Add(aggregate.FrameColumns(row.Columns))
		metrics.Metrics.TaskPipeline.FramesAnalyzed.Inc()
	}
	if err := wait(); err != nil {
		return nil, fmt.Errorf("dag scheduler failed: %w", err)
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("frame decode failed: %w", err)
	}

	descriptor := collector.Descriptor()
	result := o.Predictor.Predict(descriptor)

	key := task.DescriptorKey(t.SourceFile, t.SourceSize)
	if o.Descriptors != nil {
		if err := o.Descriptors.Put(ctx, key, descriptor); err != nil {
			log.LogError(requestID, "failed to persist descriptor cache entry", err)
		}
	}

	return &AnalyzeOutput{
		TaskID:      t.ID,
		Predictor:   result,
		HasAudio:    iv.HasAudio(),
		DurationSec: iv.Duration,
		SourceFile:  t.SourceFile,
		SourceSize:  t.SourceSize,
		Descriptor:  descriptor,
	}, nil
}

// Transcode claims task_id (again, idempotently), encodes the source with
// the parameters carried in analyzeOut, uploads the result and marks the
// task COMPLETED. If analyzeOut is nil (the broker payload was lost before
// this stage ran), it tries the descriptor cache and, on a miss, re-runs the
// analyze pass; with no descriptor cache configured it fails the task.
func (o *Orchestrator) Transcode(ctx context.Context, taskID int64, analyzeOut *AnalyzeOutput) error {
	requestID := fmt.Sprintf("task-%d-transcode", taskID)

	inFlight := o.inFlightCache()
	key := fmt.Sprintf("transcode-%d", taskID)
	if inFlight.Get(key) {
		log.Log(requestID, "transcode already running in this process, skipping redelivery")
		return nil
	}
	inFlight.Store(key, true)
	defer inFlight.Remove(requestID, key)

	t, err := o.Tasks.Claim(ctx, taskID)
	if err == task.ErrFinished {
		log.Log(requestID, "task already finished, skipping transcode")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to claim task %d: %w", taskID, err)
	}
	log.AddContext(requestID, "task_id", t.ID, "source_file", t.SourceFile)
	metrics.Metrics.TasksInFlight.Inc()
	defer metrics.Metrics.TasksInFlight.Dec()

	err = recovered(func() error {
		start := time.Now()
		runErr := o.runTranscode(ctx, requestID, t, analyzeOut)
		metrics.Metrics.TaskPipeline.StageDuration.WithLabelValues("transcode").Observe(time.Since(start).Seconds())
		return runErr
	})
	if err != nil {
		metrics.Metrics.TaskPipeline.Count.WithLabelValues("transcode", "failed").Inc()
		if markErr := o.failTask(ctx, taskID, err); markErr != nil {
			log.LogError(requestID, "failed to mark task failed after transcode error", markErr)
		}
		return err
	}
	metrics.Metrics.TaskPipeline.Count.WithLabelValues("transcode", "success").Inc()
	return nil
}

func (o *Orchestrator) runTranscode(ctx context.Context, requestID string, t *task.Task, analyzeOut *AnalyzeOutput) error {
	predictorResult, hasAudio, durationSec, err := o.resolvePredictorResult(ctx, requestID, t, analyzeOut)
	if err != nil {
		return err
	}

	presigned, err := o.ObjectStore.PresignGet(t.SourceFile, o.presignExpiry())
	if err != nil {
		return fmt.Errorf("failed to presign source for transcode: %w", err)
	}

	var softDeadline time.Duration
	if durationSec > 0 {
		softDeadline = time.Duration(durationSec*config.SubprocessDeadlineMultiplier) * time.Second
	}

	out, err := o.Encoder.Run(ctx, encode.Input{
		RequestID:       requestID,
		SourcePresigned: presigned,
		HasAudio:        hasAudio,
		Predictor:       predictorResult,
		SoftDeadline:    softDeadline,
	})
	if err != nil {
		return fmt.Errorf("encode failed: %w", err)
	}

	// Best-effort re-probe of the uploaded output: encoders don't always hit
	// the requested rate-control target exactly, so log what actually landed.
	if presignedOut, perr := o.ObjectStore.PresignGet(out.OutputFile, o.presignExpiry()); perr == nil {
		probed, perr := video.PopulateOutput(requestID, o.FrameSource.Probe, presignedOut, video.OutputVideoFile{Location: out.OutputFile})
		if perr != nil {
			log.LogError(requestID, "failed to probe encoded output", perr)
		} else {
			log.Log(requestID, "encoded output probed", "width", probed.Width, "height", probed.Height, "bitrate", probed.Bitrate)
		}
	}

	if _, err := o.Tasks.MarkCompleted(ctx, t.ID, out.OutputFile, out.OutputSize); err != nil {
		return fmt.Errorf("failed to mark task completed: %w", err)
	}
	log.Log(requestID, "transcode completed", "output_file", out.OutputFile, "output_size", out.OutputSize)
	return nil
}

// resolvePredictorResult uses the broker-chained analyze output if present.
// Otherwise it falls back to the descriptor cache and re-runs only the
// predictor; if the cache also misses, it re-runs the whole analyze pass as
// a last resort rather than failing the task over a lost payload.
func (o *Orchestrator) resolvePredictorResult(ctx context.Context, requestID string, t *task.Task, analyzeOut *AnalyzeOutput) (predict.Result, bool, float64, error) {
	if analyzeOut != nil {
		return analyzeOut.Predictor, analyzeOut.HasAudio, analyzeOut.DurationSec, nil
	}

	log.Log(requestID, "no analyze payload, checking descriptor cache")
	if o.Descriptors == nil {
		return predict.Result{}, false, 0, fmt.Errorf("analyze payload missing and no descriptor cache configured")
	}
	key := task.DescriptorKey(t.SourceFile, t.SourceSize)
	descriptor, found, err := o.Descriptors.Get(ctx, key)
	if err != nil {
		return predict.Result{}, false, 0, fmt.Errorf("failed to read descriptor cache: %w", err)
	}
	if !found {
		log.Log(requestID, "descriptor cache miss, re-running analyze")
		out, err := o.runAnalyze(ctx, requestID, t)
		if err != nil {
			return predict.Result{}, false, 0, fmt.Errorf("analyze payload missing and re-analysis failed: %w", err)
		}
		return out.Predictor, out.HasAudio, out.DurationSec, nil
	}

	presigned, err := o.ObjectStore.PresignGet(t.SourceFile, o.presignExpiry())
	if err != nil {
		return predict.Result{}, false, 0, fmt.Errorf("failed to presign source to re-probe audio: %w", err)
	}
	iv, err := o.FrameSource.Probe.ProbeFile(requestID, presigned)
	if err != nil {
		return predict.Result{}, false, 0, fmt.Errorf("failed to re-probe source for audio detection: %w", err)
	}

	return o.Predictor.Predict(descriptor), iv.HasAudio(), iv.Duration, nil
}

func (o *Orchestrator) failTask(ctx context.Context, taskID int64, cause error) error {
	_, err := o.Tasks.MarkFailed(ctx, taskID, cause.Error())
	return err
}

// EncodeAnalyzeOutput marshals an AnalyzeOutput for the Transcode broker
// message, so Transcode can receive Analyze's return value across process
// boundaries.
func EncodeAnalyzeOutput(out *AnalyzeOutput) ([]byte, error) {
	return json.Marshal(out)
}

// DecodeAnalyzeOutput reverses EncodeAnalyzeOutput.
func DecodeAnalyzeOutput(data []byte) (*AnalyzeOutput, error) {
	var out AnalyzeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
