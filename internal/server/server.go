// Package server accepts TCP subscribers and fans bus events out to them as
// line-delimited JSON.
package server

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/danmuck/meshgate/internal/bus"
	"github.com/danmuck/meshgate/internal/event"
	"github.com/danmuck/meshgate/internal/observability"
)

const (
	defaultWriteTimeout = 5 * time.Second

	// newConns buffers accepted sockets until the distributor's next pass;
	// registration is deliberately decoupled from the per-event hot path.
	acceptBacklog = 128

	// acceptRetryDelay paces the accept loop after a transient failure so fd
	// exhaustion does not spin it.
	acceptRetryDelay = 50 * time.Millisecond
)

// Options for the subscriber feed.
type Options struct {
	ListenAddr   string
	WriteTimeout time.Duration
	// EventLogPath, when set, appends every delivered line to a file.
	EventLogPath string
}

// SubscriberInfo is the admin-surface view of one connected subscriber.
type SubscriberInfo struct {
	ID         string `json:"id"`
	RemoteAddr string `json:"remote_addr"`
}

// Distributor owns the subscriber set. New connections arrive from the
// accept loop over a channel; all set mutation and all writes happen on the
// distributor goroutine, so the per-event path takes no lock.
type Distributor struct {
	opts   Options
	bus    *bus.Bus
	logger zerolog.Logger

	newConns chan net.Conn
	subs     map[string]net.Conn

	// meta mirrors subs for admin snapshots; updated only on register and
	// prune, never per event.
	meta     sync.Map
	subCount atomic.Int64
	addr     atomic.Value // string

	eventLog *os.File
}

func New(opts Options, b *bus.Bus, logger zerolog.Logger) *Distributor {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	return &Distributor{
		opts:     opts,
		bus:      b,
		logger:   logger.With().Str("component", "feed").Logger(),
		newConns: make(chan net.Conn, acceptBacklog),
		subs:     make(map[string]net.Conn),
	}
}

// Addr reports the bound listen address once Run has started.
func (d *Distributor) Addr() string {
	if v := d.addr.Load(); v != nil {
		return v.(string)
	}
	return ""
}

// Subscribers reports the current live subscriber count.
func (d *Distributor) Subscribers() int {
	return int(d.subCount.Load())
}

// SnapshotSubscribers lists live subscribers for the admin surface.
func (d *Distributor) SnapshotSubscribers() []SubscriberInfo {
	out := []SubscriberInfo{}
	d.meta.Range(func(k, v any) bool {
		out = append(out, SubscriberInfo{ID: k.(string), RemoteAddr: v.(string)})
		return true
	})
	return out
}

// Run listens, accepts, and distributes until ctx is cancelled or the bus
// closes. Every subscriber socket is closed on the way out.
func (d *Distributor) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", d.opts.ListenAddr)
	if err != nil {
		return err
	}
	d.addr.Store(ln.Addr().String())
	d.logger.Info().Str("addr", ln.Addr().String()).Msg("listening")

	if d.opts.EventLogPath != "" {
		f, err := os.OpenFile(d.opts.EventLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			ln.Close()
			return err
		}
		d.eventLog = f
	}

	go d.serve(ctx, ln)
	defer d.shutdown(ln)

	// The pump lets the distributor select over events and new subscribers
	// together, so registration is prompt even on an idle feed. It closes
	// events once the bus is closed and drained or the context ends.
	events := make(chan event.Event)
	go func() {
		defer close(events)
		for {
			ev, err := d.bus.Next(ctx)
			if err != nil {
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case conn := <-d.newConns:
			d.register(conn)
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			// Anything accepted before this event was dequeued is
			// registered before the fan-out pass.
			d.drainNewConns()
			observability.SetBusDepth(d.bus.Depth())

			line, err := event.EncodeLine(ev)
			if err != nil {
				d.logger.Error().Err(err).Msg("event serialization failed")
				continue
			}
			d.fanOut(line)
			if d.eventLog != nil {
				if _, err := d.eventLog.Write(line); err != nil {
					d.logger.Warn().Err(err).Msg("event log write failed")
				}
			}
		}
	}
}

// serve is the accept loop. Sockets are handed to the distributor via
// newConns; the loop itself never touches the subscriber set.
func (d *Distributor) serve(ctx context.Context, ln net.Listener) {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			// Transient accept failures must not kill the feed.
			d.logger.Warn().Err(err).Msg("accept failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(acceptRetryDelay):
			}
			continue
		}
		if tc, ok := conn.(*net.TCPConn); ok {
			tc.SetNoDelay(true)
		}
		select {
		case d.newConns <- conn:
		case <-ctx.Done():
			conn.Close()
			return
		}
	}
}

func (d *Distributor) drainNewConns() {
	for {
		select {
		case conn := <-d.newConns:
			d.register(conn)
		default:
			return
		}
	}
}

func (d *Distributor) register(conn net.Conn) {
	id := uuid.NewString()
	d.subs[id] = conn
	d.meta.Store(id, conn.RemoteAddr().String())
	d.subCount.Store(int64(len(d.subs)))
	observability.SetSubscribers(len(d.subs))
	d.logger.Info().
		Str("subscriber", id).
		Str("remote", conn.RemoteAddr().String()).
		Int("active", len(d.subs)).
		Msg("subscriber connected")
}

// fanOut writes one serialized line to every subscriber. A failed write
// prunes that subscriber immediately and does not disturb the rest; there
// are no retries and no backlog replay.
func (d *Distributor) fanOut(line []byte) {
	for id, conn := range d.subs {
		conn.SetWriteDeadline(time.Now().Add(d.opts.WriteTimeout))
		if _, err := conn.Write(line); err != nil {
			d.prune(id, conn, err)
			continue
		}
		observability.RecordDelivery()
	}
}

func (d *Distributor) prune(id string, conn net.Conn, err error) {
	conn.Close()
	delete(d.subs, id)
	d.meta.Delete(id)
	d.subCount.Store(int64(len(d.subs)))
	observability.SetSubscribers(len(d.subs))
	observability.RecordSubscriberPruned()
	d.logger.Info().
		Str("subscriber", id).
		Err(err).
		Int("active", len(d.subs)).
		Msg("subscriber pruned")
}

func (d *Distributor) shutdown(ln net.Listener) {
	ln.Close()
	d.drainNewConns()
	for id, conn := range d.subs {
		conn.Close()
		delete(d.subs, id)
		d.meta.Delete(id)
	}
	d.subCount.Store(0)
	observability.SetSubscribers(0)
	if d.eventLog != nil {
		d.eventLog.Close()
	}
}
