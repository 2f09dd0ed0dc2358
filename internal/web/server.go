// Package web exposes a read-only HTTP view of the agent: the decision
// diary, the prompt log, and a dashboard summary. It never mutates trading
// state; it only reads append-only files and the database.
package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cmorley/perp-agent/internal/config"
	"github.com/cmorley/perp-agent/internal/journal"
	"github.com/cmorley/perp-agent/internal/logger"
	"github.com/cmorley/perp-agent/internal/storage"
	"github.com/cmorley/perp-agent/internal/trade"
)

type Server struct {
	httpServer *http.Server
	journal    *journal.Journal
	repo       *storage.Repository
	store      *trade.Store
	config     *config.Config
	logger     *logger.Logger
}

func NewServer(j *journal.Journal, repo *storage.Repository, store *trade.Store, cfg *config.Config, log *logger.Logger) *Server {
	s := &Server{
		journal: j,
		repo:    repo,
		store:   store,
		config:  cfg,
		logger:  log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/diary", s.handleDiary)
	mux.HandleFunc("/logs", s.handleLogs)
	mux.HandleFunc("/dashboard", s.handleDashboard)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Web.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

func (s *Server) Start() error {
	s.logger.Info("web server starting", "port", s.config.Web.Port)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("web server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
