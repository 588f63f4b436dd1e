// Package httpapi exposes the reconstruction pipeline's two operations
// over HTTP: batch-generate and merge-chain, plus a health endpoint an
// operator's probe hits before routing traffic to this instance.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/edrsec/processchain/internal/audit"
	"github.com/edrsec/processchain/internal/cache"
	"github.com/edrsec/processchain/internal/chain"
	"github.com/edrsec/processchain/internal/config"
	"github.com/edrsec/processchain/internal/history"
	"github.com/edrsec/processchain/internal/index"
	"github.com/sirupsen/logrus"
)

// Server wires the query facade, cache, history store, and audit client
// behind the two HTTP operations that make up this service's inbound
// surface.
type Server struct {
	facade  index.Facade
	cache   cache.Backend
	history history.Repository
	audit   *audit.Client // nil when config.AuditConfig.Enabled is false
	limits  chain.Limits
	logger  *logrus.Logger

	httpServer *http.Server
}

// Deps bundles everything NewServer needs, so call sites don't thread a
// growing argument list.
type Deps struct {
	Facade  index.Facade
	Cache   cache.Backend
	History history.Repository
	Audit   *audit.Client
	Limits  chain.Limits
	Logger  *logrus.Logger
}

// NewServer builds a Server bound to addr, ready for ListenAndServe via
// Start.
func NewServer(cfg config.ServerConfig, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	s := &Server{
		facade:  deps.Facade,
		cache:   deps.Cache,
		history: deps.History,
		audit:   deps.Audit,
		limits:  deps.Limits,
		logger:  logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/processchain/batch-generate", s.handleBatchGenerate)
	mux.HandleFunc("POST /api/processchain/merge-chain", s.handleMergeChain)
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  cfg.RequestDeadline,
		WriteTimeout: cfg.RequestDeadline,
	}
	return s
}

// Start begins serving and blocks until the listener stops. Callers run
// it in a goroutine and use Shutdown to stop it gracefully.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("http server starting")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting new connections and waits for in-flight
// requests to finish, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}

// requestTimeout bounds the context of every batch-generate and merge-chain
// request, independently of the server's ReadTimeout/WriteTimeout.
const requestTimeout = 60 * time.Second
