package upstream

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"
)

type fakeResolver struct {
	candidates []*Candidate
	err        error
}

func (f *fakeResolver) Resolve(ctx context.Context, host string) ([]*Candidate, error) {
	return f.candidates, f.err
}

// TestConnectSkipsUnreachableCandidates verifies the selector tries
// candidates in resolver order and returns the first one that accepts a
// connection, leaving earlier failed candidates behind.
func TestConnectSkipsUnreachableCandidates(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan struct{}, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- struct{}{}
			conn.Close()
		}
	}()

	port := strconv.Itoa(ln.Addr().(*net.TCPAddr).Port)

	// Pick an unused loopback port as the "unreachable" candidate so the
	// dial fails fast with connection-refused rather than timing out.
	deadLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	deadPort := strconv.Itoa(deadLn.Addr().(*net.TCPAddr).Port)
	deadLn.Close()

	unreachable := &Candidate{ip: net.ParseIP("127.0.0.1"), port: deadPort}
	reachable := &Candidate{ip: net.ParseIP("127.0.0.1"), port: port}

	sel := &FirstReachableSelector{
		resolver:    &fakeResolver{candidates: []*Candidate{unreachable, reachable}},
		dialTimeout: time.Second,
	}

	conn, candidate, err := sel.Connect(context.Background(), "example.test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer conn.Close()

	if candidate != reachable {
		t.Fatal("expected the reachable candidate to be selected")
	}
	if candidate.GetConnections() != 1 {
		t.Errorf("expected connection count 1, got %d", candidate.GetConnections())
	}

	select {
	case <-accepted:
	case <-time.After(time.Second):
		t.Fatal("expected the reachable listener to accept a connection")
	}
}

// TestConnectNoCandidates verifies a resolver returning nothing is
// session-fatal.
func TestConnectNoCandidates(t *testing.T) {
	sel := &FirstReachableSelector{
		resolver:    &fakeResolver{candidates: nil},
		dialTimeout: 50 * time.Millisecond,
	}
	_, _, err := sel.Connect(context.Background(), "example.test")
	if err == nil {
		t.Fatal("expected error when no candidates resolved")
	}
}

// TestConnectResolveError verifies resolver failures propagate.
func TestConnectResolveError(t *testing.T) {
	sel := &FirstReachableSelector{
		resolver:    &fakeResolver{err: context.DeadlineExceeded},
		dialTimeout: 50 * time.Millisecond,
	}
	_, _, err := sel.Connect(context.Background(), "example.test")
	if err == nil {
		t.Fatal("expected resolve error to propagate")
	}
}
