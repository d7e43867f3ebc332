package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"yt-transcripts/internal/model"
)

// Server exposes /metrics and a /health endpoint reporting session counters.
type Server struct {
	server   *http.Server
	counters func() model.Counters
	logger   *slog.Logger
}

func NewServer(addr string, counters func() model.Counters, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	s := &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		counters: counters,
		logger:   logger,
	}
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", s.handleHealth)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Serve runs until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.ListenAndServe()
	}()
	s.logger.Info("metrics endpoint listening", "addr", s.server.Addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	payload := map[string]any{"status": "ok"}
	if s.counters != nil {
		payload["counters"] = s.counters()
	}
	_ = json.NewEncoder(w).Encode(payload)
}
