package api

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/require"

	"github.com/livepeer/transcode-pipeline/task"
)

type fakeRepo struct {
	tasks      map[int64]*task.Task
	listResult []*task.Task
	lastFilter task.ListFilter
}

func (f *fakeRepo) Create(ctx context.Context, sourceFile string, sourceSize int64) (*task.Task, error) {
	panic("not used in these tests")
}

func (f *fakeRepo) Claim(ctx context.Context, id int64) (*task.Task, error) {
	panic("not used in these tests")
}

func (f *fakeRepo) MarkCompleted(ctx context.Context, id int64, outputFile string, outputSize int64) (*task.Task, error) {
	panic("not used in these tests")
}

func (f *fakeRepo) MarkFailed(ctx context.Context, id int64, errorMessage string) (*task.Task, error) {
	panic("not used in these tests")
}

func (f *fakeRepo) Get(ctx context.Context, id int64) (*task.Task, error) {
	t, ok := f.tasks[id]
	if !ok {
		return nil, task.ErrNotFound
	}
	return t, nil
}

func (f *fakeRepo) List(ctx context.Context, filter task.ListFilter) ([]*task.Task, error) {
	f.lastFilter = filter
	return f.listResult, nil
}

func noopMiddleware(next httprouter.Handle) httprouter.Handle { return next }

func TestGetTaskNotFound(t *testing.T) {
	repo := &fakeRepo{tasks: map[int64]*task.Task{}}
	h := &TaskHandlers{Tasks: repo}
	router := NewRouter(h, noopMiddleware, noopMiddleware)

	req := httptest.NewRequest(http.MethodGet, "/tasks/99", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetTaskOmitsDownloadURLWhenNotCompleted(t *testing.T) {
	now := time.Now()
	repo := &fakeRepo{tasks: map[int64]*task.Task{
		1: {ID: 1, SourceFile: "source/a.mp4", SourceSize: 100, Status: task.StatusProcessing, CreatedAt: now, UpdatedAt: now},
	}}
	h := &TaskHandlers{Tasks: repo}
	router := NewRouter(h, noopMiddleware, noopMiddleware)

	req := httptest.NewRequest(http.MethodGet, "/tasks/1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, rec.Body.String(), "download_url")
}

func TestListTasksParsesStatusesLimitAndSkip(t *testing.T) {
	repo := &fakeRepo{listResult: []*task.Task{}}
	h := &TaskHandlers{Tasks: repo}
	router := NewRouter(h, noopMiddleware, noopMiddleware)

	req := httptest.NewRequest(http.MethodGet, "/tasks?statuses=PENDING,PROCESSING&limit=10&skip=5", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []task.Status{task.StatusPending, task.StatusProcessing}, repo.lastFilter.Statuses)
	require.Equal(t, 10, repo.lastFilter.Limit)
	require.Equal(t, 5, repo.lastFilter.Offset)
}

func TestCreateTaskRejectsNonVideoUpload(t *testing.T) {
	repo := &fakeRepo{}
	h := &TaskHandlers{Tasks: repo}
	router := NewRouter(h, noopMiddleware, noopMiddleware)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "not-a-video.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("this is plain text, not a video file at all"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/tasks", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExtensionForPrefersFilenameExtension(t *testing.T) {
	require.Equal(t, ".mp4", extensionFor("clip.mp4", "video/quicktime"))
}

func TestExtensionForFallsBackToContentType(t *testing.T) {
	ext := extensionFor("noext", "video/mp4")
	require.NotEmpty(t, ext)
}
