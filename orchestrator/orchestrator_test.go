package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/livepeer/transcode-pipeline/predict"
	"github.com/livepeer/transcode-pipeline/task"
)

// fakeRepo is a minimal in-memory task.Repository for exercising the
// orchestrator's idempotency and failure-reporting contract without a real
// database.
type fakeRepo struct {
	tasks        map[int64]*task.Task
	markedFailed []string
	completed    []string
}

func newFakeRepo(t *task.Task) *fakeRepo {
	return &fakeRepo{tasks: map[int64]*task.Task{t.ID: t}}
}

func (f *fakeRepo) Create(ctx context.Context, sourceFile string, sourceSize int64) (*task.Task, error) {
	panic("not used in these tests")
}

func (f *fakeRepo) Claim(ctx context.Context, id int64) (*task.Task, error) {
	t, ok := f.tasks[id]
	if !ok {
		return nil, task.ErrNotFound
	}
	if t.Status.Terminal() {
		return nil, task.ErrFinished
	}
	t.Status = task.StatusProcessing
	return t, nil
}

func (f *fakeRepo) MarkCompleted(ctx context.Context, id int64, outputFile string, outputSize int64) (*task.Task, error) {
	t := f.tasks[id]
	t.Status = task.StatusCompleted
	t.OutputFile = &outputFile
	t.OutputSize = &outputSize
	f.completed = append(f.completed, outputFile)
	return t, nil
}

func (f *fakeRepo) MarkFailed(ctx context.Context, id int64, errorMessage string) (*task.Task, error) {
	t := f.tasks[id]
	t.Status = task.StatusFailed
	t.ErrorMessage = &errorMessage
	f.markedFailed = append(f.markedFailed, errorMessage)
	return t, nil
}

func (f *fakeRepo) Get(ctx context.Context, id int64) (*task.Task, error) {
	t, ok := f.tasks[id]
	if !ok {
		return nil, task.ErrNotFound
	}
	return t, nil
}

func (f *fakeRepo) List(ctx context.Context, filter task.ListFilter) ([]*task.Task, error) {
	panic("not used in these tests")
}

func TestAnalyzeSkipsAlreadyFinishedTask(t *testing.T) {
	repo := newFakeRepo(&task.Task{ID: 1, Status: task.StatusCompleted})
	o := &Orchestrator{Tasks: repo}

	out, err := o.Analyze(context.Background(), 1, "source/abc.mp4")
	require.NoError(t, err)
	require.Nil(t, out)
	require.Empty(t, repo.markedFailed)
}

func TestTranscodeSkipsAlreadyFinishedTask(t *testing.T) {
	repo := newFakeRepo(&task.Task{ID: 2, Status: task.StatusFailed})
	o := &Orchestrator{Tasks: repo}

	err := o.Transcode(context.Background(), 2, nil)
	require.NoError(t, err)
	require.Empty(t, repo.markedFailed)
}

func TestAnalyzeRecoversPanicAndMarksFailed(t *testing.T) {
	repo := newFakeRepo(&task.Task{ID: 3, Status: task.StatusPending, SourceFile: "source/x.mp4", SourceSize: 10})
	o := &Orchestrator{Tasks: repo}

	_, err := o.Analyze(context.Background(), 3, "source/x.mp4")
	require.Error(t, err)
	require.Len(t, repo.markedFailed, 1)
	require.Equal(t, task.StatusFailed, repo.tasks[3].Status)
}

func TestTranscodeFailsCleanlyWithoutAnalyzeOutputOrCache(t *testing.T) {
	repo := newFakeRepo(&task.Task{ID: 4, Status: task.StatusPending, SourceFile: "source/y.mp4", SourceSize: 20})
	o := &Orchestrator{Tasks: repo}

	err := o.Transcode(context.Background(), 4, nil)
	require.Error(t, err)
	require.Len(t, repo.markedFailed, 1)
	require.Contains(t, repo.markedFailed[0], "descriptor cache")
}

func TestResolvePredictorResultPrefersAnalyzeOutput(t *testing.T) {
	o := &Orchestrator{}
	analyzeOut := &AnalyzeOutput{
		Predictor:   predict.Result{Parameter: predict.ParameterCRF, Value: 22, Status: predict.StatusSuccess},
		HasAudio:    true,
		DurationSec: 12.5,
	}

	result, hasAudio, durationSec, err := o.resolvePredictorResult(context.Background(), "req", &task.Task{}, analyzeOut)
	require.NoError(t, err)
	require.True(t, hasAudio)
	require.InDelta(t, 12.5, durationSec, 1e-9)
	require.Equal(t, analyzeOut.Predictor, result)
}

func TestAnalyzeTranscodeOutputRoundTrips(t *testing.T) {
	out := &AnalyzeOutput{
		TaskID:    5,
		Predictor: predict.Result{Parameter: predict.ParameterQP, Value: 30, Status: predict.StatusSuccess},
		HasAudio:  false,
	}
	data, err := EncodeAnalyzeOutput(out)
	require.NoError(t, err)

	got, err := DecodeAnalyzeOutput(data)
	require.NoError(t, err)
	require.Equal(t, out.TaskID, got.TaskID)
	require.Equal(t, out.Predictor, got.Predictor)
}
