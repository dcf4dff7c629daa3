package middleware

import (
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/livepeer/transcode-pipeline/config"
	"github.com/livepeer/transcode-pipeline/errors"
	"github.com/livepeer/transcode-pipeline/metrics"
)

type responseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func wrapResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w}
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}

	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
	rw.wroteHeader = true
}

// MonitorRequest tracks in-flight request count and per-route latency,
// labeled by success and status code.
func MonitorRequest(route string) func(httprouter.Handle) httprouter.Handle {
	return func(next httprouter.Handle) httprouter.Handle {
		return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
			metrics.Metrics.HTTPRequestsInFlight.Inc()
			defer metrics.Metrics.HTTPRequestsInFlight.Dec()

			start := time.Now()
			wrapped := wrapResponseWriter(w)
			next(wrapped, r, ps)

			status := wrapped.status
			if status == 0 {
				status = http.StatusOK
			}
			metrics.Metrics.APIRequestDurationSec.
				WithLabelValues(strconv.FormatBool(status < 400), strconv.Itoa(status), route).
				Observe(time.Since(start).Seconds())
		}
	}
}

func LogRequest() func(httprouter.Handle) httprouter.Handle {
	return func(next httprouter.Handle) httprouter.Handle {
		fn := func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
			start := time.Now()
			wrapped := wrapResponseWriter(w)

			defer func() {
				if err := recover(); err != nil {
					errors.WriteHTTPInternalServerError(wrapped, "Internal Server Error", nil)
					config.Logger.Log("err", err, "trace", debug.Stack())
				}
			}()

			next(wrapped, r, ps)
			config.Logger.Log(
				"remote", r.RemoteAddr,
				"proto", r.Proto,
				"method", r.Method,
				"uri", r.URL.RequestURI(),
				"duration", time.Since(start),
				"status", wrapped.status,
			)

		}

		return fn
	}
}
