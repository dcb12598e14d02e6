// Package server exposes the detect map over HTTP.
package server

import (
	"fmt"
	"net/http"

	"github.com/Sternrassler/detectmap/pkg/metrics"
	"github.com/go-chi/chi/v5"
)

// NewRouter registers the health and metrics routes and sends every other
// request to detect.
func NewRouter(detect http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware)
	r.Use(loggingMiddleware)

	r.Get("/health", healthHandler)
	r.Handle("/metrics", metrics.Handler())
	r.Handle("/*", detect)

	return r
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}
