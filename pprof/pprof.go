// Package pprof serves the Go profiling endpoints on a dedicated listener.
package pprof

import (
	"fmt"
	"net/http"
	"net/http/pprof"
)

// ListenAndServe serves /debug/pprof on its own mux and port, bound to
// loopback only: the profiling surface carries heap contents and must never
// ride the task API or metrics listeners. (A blank import of net/http/pprof
// would register on http.DefaultServeMux, which the metrics listener uses.)
func ListenAndServe(port int) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return fmt.Errorf("pprof listener stopped: %w", http.ListenAndServe(fmt.Sprintf("127.0.0.1:%d", port), mux))
}
