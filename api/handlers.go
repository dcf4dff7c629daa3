// Package api exposes the task endpoints: upload-and-create, paginated
// listing and single-task lookup, plus the /healthz and /metrics surface
// every deployable instance of this service carries.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/livepeer/transcode-pipeline/clients"
	"github.com/livepeer/transcode-pipeline/config"
	xerrors "github.com/livepeer/transcode-pipeline/errors"
	"github.com/livepeer/transcode-pipeline/middleware"
	"github.com/livepeer/transcode-pipeline/task"
)

// maxUploadMemory bounds how much of a multipart upload is buffered in
// memory before the rest spills to a temp file, mirroring the stdlib
// multipart reader's own default.
const maxUploadMemory = 32 << 20

// Enqueuer submits the Analyze→Transcode chain for a newly created task.
// Satisfied by a broker.Broker-backed implementation in production; tests
// substitute a fake that records calls.
type Enqueuer interface {
	EnqueueAnalyze(ctx context.Context, taskID int64, sourceKey string) error
}

// TaskHandlers groups the task endpoints' dependencies in one explicit
// collection struct instead of package-level singletons.
type TaskHandlers struct {
	Tasks       task.Repository
	ObjectStore *clients.ObjectStore
	Enqueuer    Enqueuer
	Expiry      time.Duration
}

// NewRouter builds the httprouter.Router for a TaskHandlers collection,
// wiring CORS and request logging around every task endpoint.
func NewRouter(h *TaskHandlers, withLogging, withCORS func(httprouter.Handle) httprouter.Handle) *httprouter.Router {
	router := httprouter.New()
	router.GET("/healthz", withLogging(h.Healthz()))
	router.Handler(http.MethodGet, "/metrics", promhttp.Handler())
	router.POST("/tasks", withLogging(middleware.MonitorRequest("create_task")(withCORS(h.CreateTask()))))
	router.GET("/tasks", withLogging(middleware.MonitorRequest("list_tasks")(withCORS(h.ListTasks()))))
	router.GET("/tasks/:id", withLogging(middleware.MonitorRequest("get_task")(withCORS(h.GetTask()))))
	// Preflight requests for registered paths go through the CORS wrapper,
	// which answers them itself.
	preflight := withCORS(func(http.ResponseWriter, *http.Request, httprouter.Params) {})
	router.GlobalOPTIONS = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		preflight(w, r, nil)
	})
	return router
}

// Healthz reports liveness with no dependency checks.
func (h *TaskHandlers) Healthz() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
}

// taskResponse is the wire shape for a single task, including a
// presigned download_url when the task is COMPLETED.
type taskResponse struct {
	ID           int64   `json:"id"`
	SourceFile   string  `json:"source_file"`
	SourceSize   int64   `json:"source_size"`
	OutputFile   *string `json:"output_file,omitempty"`
	OutputSize   *int64  `json:"output_size,omitempty"`
	Status       string  `json:"status"`
	ErrorMessage *string `json:"error_message,omitempty"`
	CreatedAt    string  `json:"created_at"`
	UpdatedAt    string  `json:"updated_at"`
	DownloadURL  string  `json:"download_url,omitempty"`
}

func (h *TaskHandlers) toResponse(t *task.Task) (taskResponse, error) {
	resp := taskResponse{
		ID:           t.ID,
		SourceFile:   t.SourceFile,
		SourceSize:   t.SourceSize,
		OutputFile:   t.OutputFile,
		OutputSize:   t.OutputSize,
		Status:       strings.ToLower(string(t.Status)),
		ErrorMessage: t.ErrorMessage,
		CreatedAt:    t.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    t.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if t.Status == task.StatusCompleted && t.OutputFile != nil {
		expiry := h.Expiry
		if expiry <= 0 {
			expiry = config.DefaultPresignedURLExpirationSecs * time.Second
		}
		url, err := h.ObjectStore.PresignGet(*t.OutputFile, expiry)
		if err != nil {
			return taskResponse{}, fmt.Errorf("failed to presign download url: %w", err)
		}
		resp.DownloadURL = url
	}
	return resp, nil
}

// CreateTask handles POST /tasks: a multipart file upload. It sniffs the
// content type from the leading bytes, rejects non-video uploads with 400,
// uploads the source to source/<uuid><ext>, creates the task row and
// enqueues the Analyze→Transcode chain.
func (h *TaskHandlers) CreateTask() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
			xerrors.WriteHTTPBadRequest(w, "failed to parse multipart upload", err)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			xerrors.WriteHTTPBadRequest(w, "missing \"file\" field in multipart upload", err)
			return
		}
		defer file.Close()

		sniff := make([]byte, 512)
		n, err := io.ReadFull(file, sniff)
		if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
			xerrors.WriteHTTPBadRequest(w, "failed to read upload", err)
			return
		}
		sniff = sniff[:n]
		contentType := http.DetectContentType(sniff)
		if !strings.HasPrefix(contentType, "video/") {
			xerrors.WriteHTTPBadRequest(w, fmt.Sprintf("uploaded file has unsupported content type %q", contentType), nil)
			return
		}

		body := io.MultiReader(bytes.NewReader(sniff), file)
		key := config.SourceKeyPrefix + newObjectID() + extensionFor(header.Filename, contentType)

		if err := h.ObjectStore.Upload(r.Context(), key, contentType, body); err != nil {
			xerrors.WriteHTTPBadGateway(w, "failed to upload source file", err)
			return
		}

		t, err := h.Tasks.Create(r.Context(), key, header.Size)
		if err != nil {
			xerrors.WriteHTTPInternalServerError(w, "failed to create task", err)
			return
		}

		if err := h.Enqueuer.EnqueueAnalyze(r.Context(), t.ID, key); err != nil {
			xerrors.WriteHTTPInternalServerError(w, "failed to enqueue task", err)
			return
		}

		resp, err := h.toResponse(t)
		if err != nil {
			xerrors.WriteHTTPInternalServerError(w, "failed to build task response", err)
			return
		}
		writeJSON(w, http.StatusCreated, resp)
	}
}

// ListTasks handles GET /tasks?statuses=&limit=&skip=, paginated and
// ordered by created_at DESC.
func (h *TaskHandlers) ListTasks() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		q := r.URL.Query()
		filter := task.ListFilter{Limit: 50}

		if statuses := q.Get("statuses"); statuses != "" {
			for _, s := range strings.Split(statuses, ",") {
				filter.Statuses = append(filter.Statuses, task.Status(strings.ToUpper(strings.TrimSpace(s))))
			}
		}
		if limit := q.Get("limit"); limit != "" {
			n, err := strconv.Atoi(limit)
			if err != nil {
				xerrors.WriteHTTPBadRequest(w, "invalid limit", err)
				return
			}
			filter.Limit = n
		}
		if skip := q.Get("skip"); skip != "" {
			n, err := strconv.Atoi(skip)
			if err != nil {
				xerrors.WriteHTTPBadRequest(w, "invalid skip", err)
				return
			}
			filter.Offset = n
		}

		tasks, err := h.Tasks.List(r.Context(), filter)
		if err != nil {
			xerrors.WriteHTTPInternalServerError(w, "failed to list tasks", err)
			return
		}

		resps := make([]taskResponse, 0, len(tasks))
		for _, t := range tasks {
			resp, err := h.toResponse(t)
			if err != nil {
				xerrors.WriteHTTPInternalServerError(w, "failed to build task response", err)
				return
			}
			resps = append(resps, resp)
		}
		writeJSON(w, http.StatusOK, resps)
	}
}

// GetTask handles GET /tasks/:id, attaching a fresh download URL when the
// task is COMPLETED.
func (h *TaskHandlers) GetTask() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		id, err := strconv.ParseInt(ps.ByName("id"), 10, 64)
		if err != nil {
			xerrors.WriteHTTPBadRequest(w, "invalid task id", err)
			return
		}

		t, err := h.Tasks.Get(r.Context(), id)
		if err == task.ErrNotFound {
			xerrors.WriteHTTPNotFound(w, fmt.Sprintf("no task with id %d", id), err)
			return
		}
		if err != nil {
			xerrors.WriteHTTPInternalServerError(w, "failed to get task", err)
			return
		}

		resp, err := h.toResponse(t)
		if err != nil {
			xerrors.WriteHTTPInternalServerError(w, "failed to build task response", err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// newObjectID returns a fresh uuid as 32 hex characters, the dashless form
// object keys use.
func newObjectID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// extensionFor prefers the uploaded filename's own extension, falling back
// to one derived from the sniffed content type.
func extensionFor(filename, contentType string) string {
	if ext := filepath.Ext(filename); ext != "" {
		return ext
	}
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}
