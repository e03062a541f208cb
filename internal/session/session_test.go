package session

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/WillKirkmanM/forward-cache-proxy/internal/admission"
	"github.com/WillKirkmanM/forward-cache-proxy/internal/cache"
	"github.com/WillKirkmanM/forward-cache-proxy/internal/fetcher"
	"github.com/WillKirkmanM/forward-cache-proxy/internal/logging"
	"github.com/WillKirkmanM/forward-cache-proxy/internal/metrics"
	"github.com/WillKirkmanM/forward-cache-proxy/internal/ratelimit"
	"github.com/WillKirkmanM/forward-cache-proxy/internal/upstream"
)

// fakeSelector dials a fixed address regardless of the requested host,
// standing in for DNS resolution in tests that need a real socket pair.
type fakeSelector struct {
	addr string
}

func (f *fakeSelector) Connect(ctx context.Context, host string) (net.Conn, *upstream.Candidate, error) {
	conn, err := net.Dial("tcp", f.addr)
	if err != nil {
		return nil, nil, err
	}
	return conn, nil, nil
}

// originServer accepts one connection, writes reply once for each read
// that returns request bytes, and stays open for the session to reuse.
func originServer(t *testing.T, reply string) (addr string, requestCount *int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	count := 0
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 4096)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				count++
				conn.Write([]byte(reply))
			}
			if err != nil {
				return
			}
		}
	}()

	return ln.Addr().String(), &count
}

func newTestDeps(t *testing.T, originAddr string) Deps {
	t.Helper()
	c := cache.New(1<<20, nil)
	f := fetcher.New(&fakeSelector{addr: originAddr})
	return Deps{
		Cache:           c,
		Fetcher:         f,
		Gate:            admission.New(5),
		RateLimiter:     ratelimit.New(100, 100),
		Metrics:         metrics.NewMetrics(),
		Logger:          logging.NewLogger("test"),
		ReadTimeout:     time.Second,
		MaxRequestBytes: 5000,
	}
}

// TestServeCachesSecondIdenticalRequest verifies a session serves the first
// request from the origin and a second identical request from the cache,
// without sending a second request upstream.
func TestServeCachesSecondIdenticalRequest(t *testing.T) {
	originAddr, requestCount := originServer(t, "HTTP/1.1 200 OK\r\n\r\nhello")

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	deps := newTestDeps(t, originAddr)
	sess := New(serverConn, deps)

	done := make(chan struct{})
	go func() {
		sess.Serve(context.Background())
		close(done)
	}()

	request := []byte("GET / HTTP/1.1\r\nHost: example.com\r\n\r\n")

	clientConn.SetDeadline(time.Now().Add(2 * time.Second))

	if _, err := clientConn.Write(request); err != nil {
		t.Fatalf("write request 1: %v", err)
	}
	resp1 := make([]byte, len("HTTP/1.1 200 OK\r\n\r\nhello"))
	if _, err := io.ReadFull(clientConn, resp1); err != nil {
		t.Fatalf("read response 1: %v", err)
	}
	if string(resp1) != "HTTP/1.1 200 OK\r\n\r\nhello" {
		t.Fatalf("unexpected response 1: %q", resp1)
	}

	if _, err := clientConn.Write(request); err != nil {
		t.Fatalf("write request 2: %v", err)
	}
	resp2 := make([]byte, len("HTTP/1.1 200 OK\r\n\r\nhello"))
	if _, err := io.ReadFull(clientConn, resp2); err != nil {
		t.Fatalf("read response 2: %v", err)
	}
	if string(resp2) != string(resp1) {
		t.Fatalf("expected cached response to match first response, got %q", resp2)
	}

	clientConn.Close()
	<-done

	if *requestCount != 1 {
		t.Errorf("expected origin to receive exactly 1 request, got %d", *requestCount)
	}
}

// TestServeClosesOnNonGetRequest verifies a non-GET request terminates the
// session without attempting an upstream connection.
func TestServeClosesOnNonGetRequest(t *testing.T) {
	originAddr, requestCount := originServer(t, "HTTP/1.1 200 OK\r\n\r\nhello")

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	deps := newTestDeps(t, originAddr)
	sess := New(serverConn, deps)

	done := make(chan struct{})
	go func() {
		sess.Serve(context.Background())
		close(done)
	}()

	clientConn.SetDeadline(time.Now().Add(2 * time.Second))
	if _, err := clientConn.Write([]byte("POST / HTTP/1.1\r\nHost: example.com\r\n\r\n")); err != nil {
		t.Fatalf("write request: %v", err)
	}

	<-done

	if *requestCount != 0 {
		t.Errorf("expected no origin requests for a non-GET session, got %d", *requestCount)
	}
}
