// Package debug holds the diagnostics that are only enabled in debug mode: an
// HTTP server exposing metrics, the player list and pprof, and packet dumps.
package debug

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/nebulamp/netcore/internal/session"
)

// PlayerLister is satisfied by *session.Players.
type PlayerLister interface {
	Snapshot() []session.PlayerInfo
}

// Router serves /metrics from gatherer, /players from players and the pprof
// handlers under /debug/pprof.
func Router(gatherer prometheus.Gatherer, players PlayerLister) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/players", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(players.Snapshot()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	r.Mount("/debug", middleware.Profiler())

	return r
}

// StartUtilities serves handler on addr until ctx is cancelled.
func StartUtilities(ctx context.Context, logger logrus.FieldLogger, addr string, handler http.Handler) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Infof("[DEBUG] starting debug server on %s", addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("[DEBUG] error starting debug server: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	return srv
}
