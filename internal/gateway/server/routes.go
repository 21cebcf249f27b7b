package server

import (
	"context"
	"net/http"

	"setupguide/internal/gateway/handler"
	"setupguide/internal/gateway/middleware"
)

// NewMux wires every route. health may be nil.
func NewMux(h *handler.Handler, health func(context.Context) error) http.Handler {
	mux := http.NewServeMux()

	// RPC
	mux.Handle(handler.NewGuideServiceHandler(h))

	// JSON API
	mux.HandleFunc("POST /api/analyze", h.HandleAnalyze)
	mux.HandleFunc("GET /api/jobs/{id}", h.HandleJob)
	mux.HandleFunc("GET /api/jobs/{id}/watch", h.HandleWatch)
	mux.HandleFunc("POST /api/session", h.HandleCreateSession)
	mux.HandleFunc("DELETE /api/session", h.HandleDeleteSession)
	mux.HandleFunc("GET /healthz", handler.HandleHealth(health))

	return middleware.Recovery(middleware.Logger(middleware.CORS(mux)))
}
