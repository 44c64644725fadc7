// Package server assembles the training session, its observers and the HTTP
// API, and runs them until the context ends.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/jwaldner/pinnbs/internal/audit"
	"github.com/jwaldner/pinnbs/internal/config"
	"github.com/jwaldner/pinnbs/internal/handlers"
	"github.com/jwaldner/pinnbs/internal/logger"
	"github.com/jwaldner/pinnbs/internal/pinn"
	"github.com/jwaldner/pinnbs/internal/stream"
)

// Server owns one training session and the HTTP surface over it.
type Server struct {
	cfg     *config.Config
	session *pinn.Session
	hub     *stream.Hub
	journal *audit.Journal
	http    *http.Server
}

// New wires the session, the websocket hub and, when enabled, the run
// journal. Runs started over HTTP are bound to ctx.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	session := pinn.NewSession(pinn.SessionOptions{AllowStaleReads: cfg.Training.AllowStaleReads})

	hub := stream.NewHub(cfg.Server.StreamBuffer, session.Status)
	session.Observe(hub)

	var journal *audit.Journal
	if cfg.Journal.Enabled {
		var err error
		if journal, err = audit.NewJournal(cfg.Journal, cfg.Training.EmitEvery*10); err != nil {
			return nil, err
		}
		session.Observe(journal)
		logger.Info.Printf("📋 Journaling runs to %s", cfg.Journal.Dir)
	}

	api := handlers.NewAPI(ctx, cfg, session, hub, journal)
	return &Server{
		cfg:     cfg,
		session: session,
		hub:     hub,
		journal: journal,
		http: &http.Server{
			Addr:         ":" + cfg.Server.Port,
			Handler:      api.Router(),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}, nil
}

// Run serves until ctx is cancelled, then stops any active run, flushes the
// journal and shuts the listener down.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Always.Printf("🌐 Server starting on http://localhost:%s", s.cfg.Server.Port)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Always.Printf("🛑 Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
		defer cancel()

		s.session.Close()
		s.hub.Close()
		if s.journal != nil {
			s.journal.Close()
		}
		return s.http.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
