// Package session implements the per-connection state machine: a client
// connection starts, waits for its first request, connects upstream, then
// loops serving requests until it closes. One Session is created per
// accepted client socket and runs entirely on its own goroutine; it owns
// the single upstream connection opened on the first request and reuses
// it for every subsequent request from the same client — the origin is
// resolved once per session, not once per request.
package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/WillKirkmanM/forward-cache-proxy/internal/admission"
	"github.com/WillKirkmanM/forward-cache-proxy/internal/cache"
	"github.com/WillKirkmanM/forward-cache-proxy/internal/fetcher"
	"github.com/WillKirkmanM/forward-cache-proxy/internal/logging"
	"github.com/WillKirkmanM/forward-cache-proxy/internal/metrics"
	"github.com/WillKirkmanM/forward-cache-proxy/internal/protocol"
	"github.com/WillKirkmanM/forward-cache-proxy/internal/ratelimit"
)

// Deps bundles the shared, process-wide collaborators a Session needs.
// One Deps is constructed at startup and handed to every accepted
// connection; nothing in it is mutated per-session.
type Deps struct {
	Cache           *cache.Cache
	Fetcher         *fetcher.Fetcher
	Gate            *admission.Gate
	RateLimiter     *ratelimit.Limiter
	Metrics         *metrics.Metrics
	Logger          *logging.Logger
	ReadTimeout     time.Duration
	MaxRequestBytes int
}

// Session is the transient per-client connection state.
type Session struct {
	deps Deps
	conn net.Conn

	host         string
	upstreamConn net.Conn
}

// New wraps an accepted client connection with its shared dependencies.
func New(conn net.Conn, deps Deps) *Session {
	return &Session{deps: deps, conn: conn}
}

// Serve drives the session to completion, closing the client connection
// (and upstream connection, if one was opened) before returning. It never
// returns an error: every failure mode here is session-fatal, so the
// session simply closes and the error is logged.
func (s *Session) Serve(ctx context.Context) {
	clientAddr := s.conn.RemoteAddr().String()
	ctx, endSession := s.deps.Logger.StartSession(ctx, clientAddr)

	requestsServed := 0
	var bytesServed int64
	var sessionErr error
	defer func() {
		if s.upstreamConn != nil {
			s.upstreamConn.Close()
		}
		s.conn.Close()
		endSession(requestsServed, bytesServed, sessionErr)
	}()

	if s.deps.RateLimiter != nil {
		host, _, err := net.SplitHostPort(clientAddr)
		if err != nil {
			host = clientAddr
		}
		if !s.deps.RateLimiter.Allow(host) {
			s.deps.Metrics.RecordRateLimitRejection()
			sessionErr = fmt.Errorf("client %s exceeded rate limit", host)
			return
		}
	}

	s.deps.Metrics.SessionStarted()
	defer s.deps.Metrics.SessionEnded()

	waitStart := time.Now()
	if err := s.deps.Gate.Acquire(ctx); err != nil {
		sessionErr = fmt.Errorf("admission gate: %w", err)
		return
	}
	s.deps.Metrics.RecordAdmissionWait(time.Since(waitStart))
	defer s.deps.Gate.Release()

	reader := bufio.NewReaderSize(s.conn, s.deps.MaxRequestBytes)

	for {
		raw, err := s.readRequest(reader)
		if err != nil {
			if !errors.Is(err, errClientClosed) {
				sessionErr = err
			}
			return
		}

		if !protocol.IsGetShaped(raw) {
			sessionErr = fmt.Errorf("request is not GET-shaped, closing session")
			return
		}

		if s.upstreamConn == nil {
			host, ok := protocol.Host(raw)
			if !ok {
				sessionErr = fmt.Errorf("request missing Host header, closing session")
				return
			}
			s.host = string(host)

			conn, err := s.deps.Fetcher.Connect(ctx, s.host)
			if err != nil {
				sessionErr = fmt.Errorf("connect to %s: %w", s.host, err)
				return
			}
			s.upstreamConn = conn
		}

		n, err := s.handleRequest(raw)
		if err != nil {
			sessionErr = err
			return
		}

		requestsServed++
		bytesServed += int64(n)
	}
}

var errClientClosed = errors.New("client closed connection")

// readRequest reads one whole request (request line plus headers) from the client,
// bounded by MaxRequestBytes and ReadTimeout: the client must send its
// whole request promptly or the session closes. A request is terminated
// by "\r\n\r\n"; everything up to and including that terminator is
// returned.
func (s *Session) readRequest(reader *bufio.Reader) ([]byte, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(s.deps.ReadTimeout)); err != nil {
		return nil, fmt.Errorf("set read deadline: %w", err)
	}

	var buf []byte
	for {
		line, err := reader.ReadBytes('\n')
		buf = append(buf, line...)

		if len(buf) > s.deps.MaxRequestBytes {
			return nil, fmt.Errorf("request exceeds %d byte limit", s.deps.MaxRequestBytes)
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				if len(buf) == 0 {
					return nil, errClientClosed
				}
				return nil, fmt.Errorf("client closed mid-request")
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return nil, fmt.Errorf("client read timeout")
			}
			return nil, fmt.Errorf("read from client: %w", err)
		}

		if len(line) == 2 && line[0] == '\r' && line[1] == '\n' {
			return buf, nil
		}
	}
}

// handleRequest serves one parsed request against the cache, falling back
// to the fetcher on a miss, and writes the response to the client. It
// returns the number of bytes written.
func (s *Session) handleRequest(raw []byte) (int, error) {
	key, ok := protocol.RequestKey(raw)
	if !ok {
		return 0, fmt.Errorf("malformed request line")
	}

	if payload, hit := s.deps.Cache.Lookup(key); hit {
		s.deps.Metrics.RecordCacheHit()
		return s.writeResponse(payload)
	}
	s.deps.Metrics.RecordCacheMiss()

	fetchStart := time.Now()
	payload, err := s.deps.Fetcher.Fetch(s.upstreamConn, raw)
	s.deps.Metrics.RecordFetchDuration(time.Since(fetchStart))
	if err != nil {
		return 0, fmt.Errorf("fetch %s: %w", s.host, err)
	}

	s.deps.Cache.Insert(key, payload)
	s.deps.Metrics.SetCacheBytesUsed(s.deps.Cache.LenBytes())

	return s.writeResponse(payload)
}

func (s *Session) writeResponse(payload []byte) (int, error) {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.deps.ReadTimeout)); err != nil {
		return 0, fmt.Errorf("set write deadline: %w", err)
	}
	n, err := s.conn.Write(payload)
	if err != nil {
		return n, fmt.Errorf("write to client: %w", err)
	}
	return n, nil
}
