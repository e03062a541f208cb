// Package proxy wires together the admission, cache, fetcher, rate-limit,
// metrics, logging, and session packages into the running forward caching
// proxy. The server accepts raw TCP connections and hands each to a
// session.Session, rather than driving an http.Server with a middleware
// chain and load-balanced backends.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/WillKirkmanM/forward-cache-proxy/internal/admission"
	"github.com/WillKirkmanM/forward-cache-proxy/internal/cache"
	"github.com/WillKirkmanM/forward-cache-proxy/internal/config"
	"github.com/WillKirkmanM/forward-cache-proxy/internal/fetcher"
	"github.com/WillKirkmanM/forward-cache-proxy/internal/logging"
	"github.com/WillKirkmanM/forward-cache-proxy/internal/metrics"
	"github.com/WillKirkmanM/forward-cache-proxy/internal/ratelimit"
	"github.com/WillKirkmanM/forward-cache-proxy/internal/session"
	"github.com/WillKirkmanM/forward-cache-proxy/internal/tracing"
	"github.com/WillKirkmanM/forward-cache-proxy/internal/upstream"
)

const dialTimeout = 3 * time.Second

// Server represents the main proxy server instance.
// This struct encapsulates all server dependencies using dependency
// injection.
type Server struct {
	config      *config.Config
	cache       *cache.Cache
	gate        *admission.Gate
	rateLimiter *ratelimit.Limiter
	fetcher     *fetcher.Fetcher
	metrics     *metrics.Metrics
	logger      *logging.Logger
	listener    net.Listener
	metricsHTTP *http.Server
	stopTracing func()
}

// NewServer creates a new proxy server instance using factory pattern.
// The factory encapsulates initialisation of every component the running
// proxy needs: the byte-budgeted cache, the first-reachable upstream
// selector, the admission gate, the tracing/metrics exporters, and the
// supplemental per-client rate limiter.
func NewServer(cfg *config.Config) (*Server, error) {
	m := metrics.NewMetrics()
	logger := logging.NewLogger(cfg.Tracing.ServiceName)

	stopTracing, err := tracing.InitTracing(tracing.TracingConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: cfg.Tracing.ServiceVersion,
		Environment:    cfg.Tracing.Environment,
		JaegerEndpoint: cfg.Tracing.JaegerEndpoint,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		SamplingRatio:  cfg.Tracing.SamplingRatio,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	onEvict := func(_ string, _ int64) {
		m.RecordCacheEviction()
	}
	c := cache.New(cfg.Cache.CapacityBytes, onEvict)

	selector := upstream.NewFirstReachableSelector(dialTimeout)
	f := fetcher.New(selector)

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(cfg.RateLimit.Capacity, cfg.RateLimit.RefillRate)
	}

	s := &Server{
		config:      cfg,
		cache:       c,
		gate:        admission.New(cfg.Server.MaxConcurrentSessions),
		rateLimiter: limiter,
		fetcher:     f,
		metrics:     m,
		logger:      logger,
		stopTracing: stopTracing,
	}

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		mux.HandleFunc("/healthz", s.healthzHandler)
		s.metricsHTTP = &http.Server{
			Addr:    cfg.Metrics.Addr,
			Handler: mux,
		}
	}

	return s, nil
}

// Start begins accepting client connections and serving them until ctx is
// cancelled. Each accepted connection is handed to its own session,
// running on its own goroutine for the life of the socket.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", s.config.Server.Port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", s.config.Server.Port, err)
	}
	s.listener = ln

	errChan := make(chan error, 1)

	if s.metricsHTTP != nil {
		go func() {
			if err := s.metricsHTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
	}

	go s.acceptLoop(ctx)

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// acceptLoop runs the accept-and-dispatch loop until the listener is
// closed by Shutdown or ctx is cancelled.
func (s *Server) acceptLoop(ctx context.Context) {
	deps := session.Deps{
		Cache:           s.cache,
		Fetcher:         s.fetcher,
		Gate:            s.gate,
		RateLimiter:     s.rateLimiter,
		Metrics:         s.metrics,
		Logger:          s.logger,
		ReadTimeout:     s.config.Server.ClientReadTimeout,
		MaxRequestBytes: s.config.Server.MaxRequestBytes,
	}

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				if errors.Is(err, net.ErrClosed) {
					return
				}
				s.logger.Warn(ctx, "accept failed", slog.String("error", err.Error()))
				continue
			}
		}

		sess := session.New(conn, deps)
		go sess.Serve(ctx)
	}
}

// Shutdown gracefully stops the server and all background processes.
func (s *Server) Shutdown(ctx context.Context) error {
	var firstErr error

	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			firstErr = fmt.Errorf("close listener: %w", err)
		}
	}

	if s.metricsHTTP != nil {
		if err := s.metricsHTTP.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("shutdown metrics server: %w", err)
		}
	}

	if s.stopTracing != nil {
		s.stopTracing()
	}

	return firstErr
}

func (s *Server) healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
