// Package middleware provides small HTTP wrapping helpers shared by the
// daemon's HTTP-facing components.
package middleware

import "net/http"

// CORS wraps handler with the permissive cross-origin headers the diffusion
// HTTP front advertises on every route, including the OPTIONS preflight.
func CORS(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		handler.ServeHTTP(w, r)
	})
}
