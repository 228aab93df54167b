// Package api exposes archived arrivals, headway summaries and replay
// positions over HTTP.
package api

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter wires the handlers. Either source may be nil; the endpoints that
// need it then answer 503.
func NewRouter(origins []string, arrivals ArrivalRepository, positions PositionSource) http.Handler {
	h := &Handler{arrivals: arrivals, positions: positions}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/health", h.Health)
	r.Route("/api", func(r chi.Router) {
		r.Get("/routes/{routeID}/arrivals", h.GetArrivals)
		r.Get("/routes/{routeID}/headways", h.GetHeadways)
		r.Get("/positions", h.GetPositions)
	})
	return r
}

// Serve runs the API on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, handler http.Handler) {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Printf("API listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Printf("api server error: %v", err)
	}
}
