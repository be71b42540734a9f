// Package gateway wires serial port connections, the event bus, the
// subscriber feed, and the admin surface into one runnable service.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/meshgate/internal/bus"
	"github.com/danmuck/meshgate/internal/port"
	"github.com/danmuck/meshgate/internal/server"
)

// PortConfig names one serial device to bridge.
type PortConfig struct {
	Path string
	// ID labels this device in events and logs; defaults to Path.
	ID string
}

// Config is the gateway runtime configuration.
type Config struct {
	ListenAddr      string
	AdminListenAddr string
	Ports           []PortConfig
	Baud            int
	RetryInterval   time.Duration
	// NodeInfoInterval enables the periodic node-info query when > 0.
	NodeInfoInterval time.Duration
	WriteTimeout     time.Duration
	EventLogPath     string
}

func DefaultConfig() Config {
	return Config{
		ListenAddr:    "127.0.0.1:9000",
		Baud:          port.DefaultBaud,
		RetryInterval: 2 * time.Second,
	}
}

// Service is the running gateway.
type Service struct {
	cfg    Config
	logger zerolog.Logger

	bus    *bus.Bus
	dist   *server.Distributor
	opener port.Opener
	conns  []*port.Connection

	started time.Time
}

func NewService(cfg Config, logger zerolog.Logger) *Service {
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = DefaultConfig().ListenAddr
	}
	if cfg.Baud <= 0 {
		cfg.Baud = port.DefaultBaud
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultConfig().RetryInterval
	}
	s := &Service{
		cfg:    cfg,
		logger: logger,
		bus:    bus.New(),
		opener: port.SerialOpener{},
	}
	s.dist = server.New(server.Options{
		ListenAddr:   cfg.ListenAddr,
		WriteTimeout: cfg.WriteTimeout,
		EventLogPath: cfg.EventLogPath,
	}, s.bus, logger)
	return s
}

// SetOpener overrides serial device access; tests inject in-memory devices.
func (s *Service) SetOpener(o port.Opener) { s.opener = o }

// FeedAddr reports the bound subscriber feed address once running.
func (s *Service) FeedAddr() string { return s.dist.Addr() }

// PortStatuses snapshots every port connection for the admin surface.
func (s *Service) PortStatuses() []port.Status {
	out := make([]port.Status, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, c.Status())
	}
	return out
}

// Run blocks until signal shutdown.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.RunContext(ctx)
}

// RunContext starts every task and blocks until cancellation or a fatal
// listener error. In-flight undelivered events are dropped at shutdown; the
// protocol has no acknowledgment, so nothing downstream can tell.
func (s *Service) RunContext(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.started = time.Now()

	for _, pc := range s.cfg.Ports {
		conn := port.New(port.Config{
			Path:             pc.Path,
			ID:               pc.ID,
			Baud:             s.cfg.Baud,
			NodeInfoInterval: s.cfg.NodeInfoInterval,
			Backoff:          port.BackoffConfig{Interval: s.cfg.RetryInterval, Multiplier: 1.0},
		}, s.opener, s.bus, s.logger)
		s.conns = append(s.conns, conn)
	}
	if len(s.conns) == 0 {
		s.logger.Warn().Msg("no serial ports configured; feed-only mode")
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- s.dist.Run(ctx) }()

	var wg sync.WaitGroup
	for _, conn := range s.conns {
		wg.Add(1)
		go func(c *port.Connection) {
			defer wg.Done()
			c.Run(ctx)
		}(conn)
	}

	var admin *http.Server
	if addr := strings.TrimSpace(s.cfg.AdminListenAddr); addr != "" {
		admin = s.adminServer(addr)
		go func() {
			if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error().Err(err).Msg("admin server failed")
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		// The feed listener failing is fatal; everything else unwinds.
		runErr = err
		serveErr = nil
	}

	cancel()
	s.bus.Close()
	wg.Wait()
	if serveErr != nil {
		<-serveErr
	}
	if admin != nil {
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer shutCancel()
		admin.Shutdown(shutCtx)
	}
	return runErr
}
