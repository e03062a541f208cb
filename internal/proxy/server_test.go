package proxy

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/WillKirkmanM/forward-cache-proxy/internal/config"
)

// TestServerStartAcceptsConnections verifies the server listens on the
// configured port and accepts a raw TCP connection without error.
func TestServerStartAcceptsConnections(t *testing.T) {
	cfg := config.New(freePort(t), 1)
	cfg.Metrics.Enabled = false
	cfg.RateLimit.Enabled = false

	s, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startErr := make(chan error, 1)
	go func() {
		startErr <- s.Start(ctx)
	}()

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.Server.Port))
	var conn net.Conn
	for i := 0; i < 50; i++ {
		conn, err = net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("failed to dial proxy listener: %v", err)
	}
	conn.Close()

	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	cancel()

	select {
	case err := <-startErr:
		if err != nil && err != context.Canceled {
			t.Fatalf("Start returned unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Start did not return after Shutdown")
	}
}

// freePort asks the OS for an ephemeral port by briefly listening on :0.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}
