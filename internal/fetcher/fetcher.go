// Package fetcher implements the origin-fetch protocol: connection
// establishment over an upstream.Selector, verbatim request forwarding,
// and idle-timeout response draining. Each fetch allocates its own
// receive buffer rather than reusing a shared one, so concurrent fetches
// on different connections never race over the same memory.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/WillKirkmanM/forward-cache-proxy/internal/upstream"
)

// MaxContentLen is the response-draining ceiling.
const MaxContentLen = 2_000_000

// IdleTimeout is the receive timeout used both to bound each read and as
// the idle-gap heuristic for "response complete".
const IdleTimeout = time.Second

const readChunkSize = 32 * 1024

// Fetcher resolves, connects, forwards, and drains origin responses.
type Fetcher struct {
	selector    upstream.Selector
	idleTimeout time.Duration
	maxLen      int
}

// New builds a Fetcher over the given candidate selector.
func New(selector upstream.Selector) *Fetcher {
	return &Fetcher{
		selector:    selector,
		idleTimeout: IdleTimeout,
		maxLen:      MaxContentLen,
	}
}

// Connect resolves host and returns the first reachable upstream
// connection. Called once per session, on the first request only; the
// returned connection is reused for every subsequent request in the
// session.
func (f *Fetcher) Connect(ctx context.Context, host string) (net.Conn, error) {
	conn, _, err := f.selector.Connect(ctx, host)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Fetch writes rawRequest verbatim to conn and drains the response using
// the idle-timeout heuristic: a gap of silence as long as idleTimeout
// marks the end of the response.
func (f *Fetcher) Fetch(conn net.Conn, rawRequest []byte) ([]byte, error) {
	if err := conn.SetWriteDeadline(time.Now().Add(f.idleTimeout)); err != nil {
		return nil, fmt.Errorf("set write deadline: %w", err)
	}
	n, err := conn.Write(rawRequest)
	if err != nil {
		return nil, fmt.Errorf("write to origin: %w", err)
	}
	if n < len(rawRequest) {
		return nil, fmt.Errorf("short write to origin: wrote %d of %d bytes", n, len(rawRequest))
	}

	return f.drain(conn)
}

// drain reads into a per-fetch buffer with a 1-second receive timeout,
// treating idle silence as end-of-response.
func (f *Fetcher) drain(conn net.Conn) ([]byte, error) {
	buf := make([]byte, 0, readChunkSize)
	chunk := make([]byte, readChunkSize)
	total := 0

	for {
		if err := conn.SetReadDeadline(time.Now().Add(f.idleTimeout)); err != nil {
			return nil, fmt.Errorf("set read deadline: %w", err)
		}

		n, err := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			total += n
			if total >= f.maxLen {
				return buf[:f.maxLen], nil
			}
		}

		if err == nil {
			continue
		}

		if errors.Is(err, io.EOF) {
			if total > 0 {
				return buf, nil
			}
			return nil, fmt.Errorf("origin closed connection with no data")
		}

		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			if total > 0 {
				return buf, nil
			}
			return nil, fmt.Errorf("origin idle timeout with no data received")
		}

		return nil, fmt.Errorf("read from origin: %w", err)
	}
}
