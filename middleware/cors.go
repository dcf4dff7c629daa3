package middleware

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
)

// AllowCORS opens the task endpoints to browser clients. The API is
// unauthenticated and read/create only, so the policy is a plain wildcard:
// no credentials, and only the methods the task surface actually serves.
func AllowCORS() func(httprouter.Handle) httprouter.Handle {
	return func(next httprouter.Handle) httprouter.Handle {
		handler := func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Headers", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next(w, r, ps)
		}
		return handler
	}
}
