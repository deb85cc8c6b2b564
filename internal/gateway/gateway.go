// Package gateway exposes the engine over HTTP: thread CRUD and
// lifecycle, run history, the transfer audit trail, a live event
// stream, health and Prometheus metrics.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/newsieai/newsie/internal/events"
	"github.com/newsieai/newsie/internal/payment"
	"github.com/newsieai/newsie/internal/store"
	"github.com/newsieai/newsie/internal/telemetry"
	"github.com/newsieai/newsie/internal/thread"
)

// Service is the slice of the engine the gateway drives. Implemented by
// the engine package.
type Service interface {
	SaveThread(ctx context.Context, th *thread.Thread) error
	GetThread(ctx context.Context, id string) (*thread.Thread, error)
	ListThreads(ctx context.Context) ([]thread.Thread, error)
	DeleteThread(ctx context.Context, id string) error

	StartThread(ctx context.Context, id string) (time.Time, error)
	StopThread(ctx context.Context, id string) error
	RunNow(ctx context.Context, id string) error
	NextFire(id string) (time.Time, bool)
	InFlight(id string) bool

	LatestRun(ctx context.Context, id string) (*store.Run, error)
	ListRuns(ctx context.Context, id string, limit int) ([]store.Run, error)
	ListItems(ctx context.Context, id string, limit int) ([]store.Item, error)
	ListTransfers(ctx context.Context, limit int) ([]payment.TransferRecord, error)
	LatestTransfer(ctx context.Context, id string) (*payment.TransferRecord, error)
	Balance(ctx context.Context) (float64, error)
}

// Config configures the HTTP server.
type Config struct {
	Listen          string
	AuthToken       string // empty disables auth on /api routes
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

func (c *Config) defaults() {
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 15 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

// Server is the HTTP gateway.
type Server struct {
	config    Config
	service   Service
	metrics   *telemetry.Metrics
	bus       *events.Bus
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

func NewServer(cfg Config, svc Service, metrics *telemetry.Metrics, bus *events.Bus, logger *slog.Logger) *Server {
	cfg.defaults()
	return &Server{
		config:  cfg,
		service: svc,
		metrics: metrics,
		bus:     bus,
		logger:  logger.With("component", "gateway"),
	}
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	s.startedAt = time.Now()

	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.buildRouter(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", s.config.Listen)
	if err != nil {
		return errors.New("gateway: listen failed: " + err.Error())
	}

	go func() {
		s.logger.Info("gateway listening", "addr", s.config.Listen)
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("gateway serve error", "error", err)
		}
	}()

	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("gateway shutting down")
	return s.server.Shutdown(shutdownCtx)
}
