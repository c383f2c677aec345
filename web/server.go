// Package web serves the JSON control API and the live event stream.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"
	"github.com/mbocsi/devlink/broker"
	"github.com/mbocsi/devlink/link"
	"github.com/mbocsi/devlink/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Server exposes the services over HTTP
type Server struct {
	services *services.ServiceContainer
	events   *broker.Bus[link.Event]
	gatherer prometheus.Gatherer

	// PingInterval keeps event stream connections alive
	PingInterval time.Duration
}

func NewServer(svc *services.ServiceContainer, events *broker.Bus[link.Event], gatherer prometheus.Gatherer) *Server {
	return &Server{
		services:     svc,
		events:       events,
		gatherer:     gatherer,
		PingInterval: 20 * time.Second,
	}
}

// Routes returns the HTTP routes of the API
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/api/transports", s.HandleTransports)
	r.Put("/api/selection", s.HandleSelect)
	r.Delete("/api/selection", s.HandleDisconnect)
	r.Get("/api/status", s.HandleStatus)
	r.Get("/api/packet", s.HandleLatestPacket)
	r.Get("/api/message", s.HandleLatestMessage)
	r.Post("/api/packets", s.HandleSendPacket)
	r.Post("/api/queries", s.HandleSendQuery)
	r.Post("/api/messages", s.HandleSendMessage)
	r.Post("/api/transfers", s.HandleTransfer)
	r.Get("/api/events", s.HandleEvents)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

// ListenAndServe serves the API on addr until ctx is cancelled
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Routes()}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP API listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	slog.Info("HTTP API shut down")
	return nil
}
