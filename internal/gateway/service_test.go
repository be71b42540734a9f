package gateway

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/danmuck/meshgate/internal/testutil/testlog"
)

// feedDevice is an in-memory serial device; reads block until the test feeds
// bytes or the device is closed.
type feedDevice struct {
	feed   chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFeedDevice() *feedDevice {
	return &feedDevice{feed: make(chan []byte, 16), closed: make(chan struct{})}
}

func (d *feedDevice) Read(p []byte) (int, error) {
	select {
	case b := <-d.feed:
		return copy(p, b), nil
	case <-d.closed:
		return 0, io.ErrClosedPipe
	}
}

func (d *feedDevice) Write(p []byte) (int, error) { return len(p), nil }

func (d *feedDevice) Close() error {
	d.once.Do(func() { close(d.closed) })
	return nil
}

type fixedOpener struct{ dev *feedDevice }

func (o fixedOpener) Open(string, int) (io.ReadWriteCloser, error) { return o.dev, nil }

// meshPacketFrame builds one length-prefixed radio frame carrying a mesh
// packet with the given routing fields, padded with an opaque payload field
// to a realistic 91-byte message.
func meshPacketFrame(from, to, hop uint32) []byte {
	var mp []byte
	mp = protowire.AppendTag(mp, 1, protowire.Fixed32Type)
	mp = protowire.AppendFixed32(mp, from)
	mp = protowire.AppendTag(mp, 2, protowire.Fixed32Type)
	mp = protowire.AppendFixed32(mp, to)
	if hop > 0 {
		mp = protowire.AppendTag(mp, 9, protowire.VarintType)
		mp = protowire.AppendVarint(mp, uint64(hop))
	}
	mp = protowire.AppendTag(mp, 8, protowire.BytesType)
	mp = protowire.AppendBytes(mp, make([]byte, 88-len(mp)))

	var fr []byte
	fr = protowire.AppendTag(fr, 2, protowire.BytesType)
	fr = protowire.AppendBytes(fr, mp)

	buf := make([]byte, 2+len(fr))
	binary.LittleEndian.PutUint16(buf[:2], uint16(len(fr)))
	copy(buf[2:], fr)
	return buf
}

func startService(t *testing.T, dev *feedDevice) *Service {
	t.Helper()
	cfg := DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.RetryInterval = 5 * time.Millisecond
	cfg.Ports = []PortConfig{{Path: "/dev/ttyFAKE", ID: "p0"}}

	svc := NewService(cfg, zerolog.Nop())
	svc.SetOpener(fixedOpener{dev: dev})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.RunContext(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("service exit: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Errorf("service did not stop")
		}
	})

	deadline := time.Now().Add(2 * time.Second)
	for svc.FeedAddr() == "" {
		if time.Now().After(deadline) {
			t.Fatalf("feed never bound")
		}
		time.Sleep(time.Millisecond)
	}
	return svc
}

func TestServiceBridgesSerialFramesToSubscribers(t *testing.T) {
	testlog.Start(t)
	dev := newFeedDevice()
	svc := startService(t, dev)

	conn, err := net.Dial("tcp", svc.FeedAddr())
	if err != nil {
		t.Fatalf("dial feed: %v", err)
	}
	defer conn.Close()
	time.Sleep(20 * time.Millisecond)

	frame := meshPacketFrame(10, 20, 0)
	if frame[0] != 0x5B || frame[1] != 0x00 {
		t.Fatalf("unexpected frame prefix: % x", frame[:2])
	}
	dev.feed <- frame
	dev.feed <- []byte("{\"num\":42}\n")

	reader := bufio.NewReader(conn)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read first line: %v", err)
	}
	if want := `{"source_port":"p0","kind":"DirectMesh","from":10,"to":20}` + "\n"; line != want {
		t.Fatalf("first line %q, want %q", line, want)
	}

	line, err = reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read second line: %v", err)
	}
	if want := `{"source_port":"p0","kind":"NodeInfo","node_id":42}` + "\n"; line != want {
		t.Fatalf("second line %q, want %q", line, want)
	}
}

func TestServiceReportsPortStatus(t *testing.T) {
	testlog.Start(t)
	dev := newFeedDevice()
	svc := startService(t, dev)

	deadline := time.Now().Add(2 * time.Second)
	for {
		statuses := svc.PortStatuses()
		if len(statuses) == 1 && statuses[0].ID == "p0" && statuses[0].State != "" {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("port status never populated: %+v", statuses)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAdminHealthEndpoint(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	svc := NewService(DefaultConfig(), zerolog.Nop())
	svc.started = time.Now()

	router := gin.New()
	svc.registerRoutes(router)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, `"status":"ok"`) || !strings.Contains(body, `"service":"meshgate"`) {
		t.Fatalf("unexpected health body: %s", body)
	}
}

func TestAdminPortsEndpoint(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	svc := NewService(DefaultConfig(), zerolog.Nop())

	router := gin.New()
	svc.registerRoutes(router)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ports", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", w.Code)
	}
	if body := w.Body.String(); !strings.Contains(body, `"ports":[]`) {
		t.Fatalf("unexpected ports body: %s", body)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.ListenAddr != "127.0.0.1:9000" {
		t.Fatalf("listen addr default mismatch: %q", cfg.ListenAddr)
	}
	if cfg.Baud != 921600 {
		t.Fatalf("baud default mismatch: %d", cfg.Baud)
	}
	if cfg.RetryInterval != 2*time.Second {
		t.Fatalf("retry interval default mismatch: %v", cfg.RetryInterval)
	}
}
