// Package port owns the lifecycle of one serial device: open, stream frames
// into events, retry forever on failure.
package port

import (
	"context"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.bug.st/serial"

	"github.com/danmuck/meshgate/internal/bus"
	"github.com/danmuck/meshgate/internal/event"
	"github.com/danmuck/meshgate/internal/observability"
	"github.com/danmuck/meshgate/internal/protocol/frame"
)

const (
	DefaultBaud      = 921600
	defaultReadChunk = 512

	nodeInfoRequest = "{\"request\":\"node_info\"}\n"
)

// State is the connection's externally visible lifecycle state.
type State string

const (
	StateClosed    State = "closed"
	StateOpening   State = "opening"
	StateStreaming State = "streaming"
)

// Opener abstracts serial device access for tests.
type Opener interface {
	Open(path string, baud int) (io.ReadWriteCloser, error)
}

// SerialOpener opens real devices: 8 data bits, no parity, one stop bit, no
// flow control.
type SerialOpener struct{}

func (SerialOpener) Open(path string, baud int) (io.ReadWriteCloser, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	return serial.Open(path, mode)
}

// Config for one device connection.
type Config struct {
	Path string
	// ID labels events from this device; defaults to Path.
	ID   string
	Baud int
	// NodeInfoInterval enables the periodic node-info query when > 0.
	NodeInfoInterval time.Duration
	ReadChunk        int
	Backoff          BackoffConfig
}

func (c Config) WithDefaults() Config {
	if strings.TrimSpace(c.ID) == "" {
		c.ID = c.Path
	}
	if c.Baud <= 0 {
		c.Baud = DefaultBaud
	}
	if c.ReadChunk <= 0 {
		c.ReadChunk = defaultReadChunk
	}
	if c.Backoff.Interval <= 0 {
		c.Backoff = DefaultBackoff()
	}
	return c
}

// Status is a point-in-time snapshot for the admin surface.
type Status struct {
	ID         string `json:"id"`
	Path       string `json:"path"`
	State      State  `json:"state"`
	Attempts   int    `json:"attempts"`
	Reconnects uint64 `json:"reconnects"`
	LastError  string `json:"last_error,omitempty"`
}

// Connection drives one serial device through Closed -> Opening ->
// Streaming -> Closed until its context is cancelled.
type Connection struct {
	cfg    Config
	opener Opener
	bus    *bus.Bus
	logger zerolog.Logger

	state      atomic.Value // State
	attempts   atomic.Int64
	reconnects atomic.Uint64
	lastErr    atomic.Value // string
}

func New(cfg Config, opener Opener, b *bus.Bus, logger zerolog.Logger) *Connection {
	cfg = cfg.WithDefaults()
	c := &Connection{
		cfg:    cfg,
		opener: opener,
		bus:    b,
		logger: logger.With().Str("port", cfg.ID).Logger(),
	}
	c.state.Store(StateClosed)
	c.lastErr.Store("")
	return c
}

func (c *Connection) ID() string { return c.cfg.ID }

func (c *Connection) Status() Status {
	return Status{
		ID:         c.cfg.ID,
		Path:       c.cfg.Path,
		State:      c.state.Load().(State),
		Attempts:   int(c.attempts.Load()),
		Reconnects: c.reconnects.Load(),
		LastError:  c.lastErr.Load().(string),
	}
}

// Run loops open/stream/backoff until ctx is cancelled. It never returns on
// its own: a missing device is retried indefinitely.
func (c *Connection) Run(ctx context.Context) {
	defer c.state.Store(StateClosed)
	for {
		if ctx.Err() != nil {
			return
		}
		c.state.Store(StateOpening)
		dev, err := c.opener.Open(c.cfg.Path, c.cfg.Baud)
		if err != nil {
			attempt := int(c.attempts.Add(1))
			c.lastErr.Store(err.Error())
			c.logger.Warn().Err(err).Int("attempt", attempt).Msg("open failed")
			if !sleepCtx(ctx, NextBackoffDelay(c.cfg.Backoff, attempt, nil)) {
				return
			}
			continue
		}
		c.attempts.Store(0)
		c.logger.Info().Str("path", c.cfg.Path).Int("baud", c.cfg.Baud).Msg("listening")

		c.stream(ctx, dev)

		observability.RecordPortReconnect(c.cfg.ID)
		c.reconnects.Add(1)
		if ctx.Err() != nil {
			return
		}
		c.logger.Info().Msg("waiting for reconnect")
		if !sleepCtx(ctx, NextBackoffDelay(c.cfg.Backoff, 1, nil)) {
			return
		}
	}
}

// stream reads until EOF, error, or cancellation. Demux state lives and
// dies with the session: a reconnect starts from an empty buffer.
func (c *Connection) stream(ctx context.Context, dev io.ReadWriteCloser) {
	c.state.Store(StateStreaming)

	// Closing the device unblocks the pending read on cancellation.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			dev.Close()
		case <-done:
		}
	}()
	defer dev.Close()

	if c.cfg.NodeInfoInterval > 0 {
		go c.pollNodeInfo(ctx, done, dev)
	}

	demux := frame.NewDemux()
	chunk := make([]byte, c.cfg.ReadChunk)
	var seenDroppedBytes, seenDroppedLines uint64
	for {
		n, err := dev.Read(chunk)
		if err != nil || n == 0 {
			if ctx.Err() == nil {
				c.lastErr.Store(readFailure(err))
				c.logger.Warn().Err(err).Msg("stream ended")
			}
			return
		}

		for _, f := range demux.Push(chunk[:n]) {
			ev, ok := event.Classify(c.cfg.ID, f)
			if !ok {
				if f.Kind == frame.KindBinary {
					observability.RecordDecodeError(c.cfg.ID)
					c.logger.Debug().Int("len", len(f.Payload)).Msg("undecodable frame dropped")
				}
				continue
			}
			observability.RecordEventPublished(c.cfg.ID, string(ev.Kind))
			c.bus.Publish(ev)
		}

		if db := demux.DroppedBytes(); db > seenDroppedBytes {
			observability.AddResyncBytes(c.cfg.ID, db-seenDroppedBytes)
			c.logger.Debug().Uint64("bytes", db-seenDroppedBytes).Msg("resync drop")
			seenDroppedBytes = db
		}
		if dl := demux.DroppedLines(); dl > seenDroppedLines {
			observability.AddDroppedLines(c.cfg.ID, dl-seenDroppedLines)
			c.logger.Debug().Uint64("lines", dl-seenDroppedLines).Msg("malformed line drop")
			seenDroppedLines = dl
		}
	}
}

// pollNodeInfo periodically asks the radio for its node table. One-way
// trigger, no response correlation.
func (c *Connection) pollNodeInfo(ctx context.Context, done <-chan struct{}, dev io.Writer) {
	ticker := time.NewTicker(c.cfg.NodeInfoInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			if _, err := io.WriteString(dev, nodeInfoRequest); err != nil {
				c.logger.Debug().Err(err).Msg("node_info request write failed")
				return
			}
		}
	}
}

func readFailure(err error) string {
	if err == nil {
		return "zero-byte read"
	}
	return err.Error()
}
