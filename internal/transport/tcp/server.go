package tcp

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirerelay/internal/config"
	"github.com/vovakirdan/wirerelay/internal/core"
	"github.com/vovakirdan/wirerelay/internal/utils"
)

// ErrServerClosed is returned by Serve after Shutdown.
var ErrServerClosed = errors.New("tcp: server closed")

// Server accepts raw TCP connections and runs one relay session per connection.
type Server struct {
	cfg      config.Config
	registry *core.Registry
	log      *zerolog.Logger

	mu       sync.Mutex
	listener net.Listener
	cancel   context.CancelFunc
	closed   bool

	sessions sync.WaitGroup
}

// NewServer builds a relay server bound to registry. Nothing listens until Serve.
func NewServer(registry *core.Registry, cfg config.Config, logger *zerolog.Logger) *Server {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Server{
		cfg:      cfg,
		registry: registry,
		log:      logger,
	}
}

// ListenAndServe listens on cfg.Addr and serves until ctx is done or Shutdown is called.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve runs the accept loop on ln. Each accepted connection gets its own
// goroutine; the loop itself never reads from or writes to a client.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		_ = ln.Close()
		return ErrServerClosed
	}
	s.listener = ln
	s.cancel = cancel
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	s.log.Info().Str("addr", ln.Addr().String()).Msg("relay listening")

	var backoff time.Duration
	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || s.isClosed() {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = nextBackoff(backoff)
				s.log.Warn().Err(err).Dur("retry_in", backoff).Msg("accept error")
				time.Sleep(backoff)
				continue
			}
			return err
		}
		backoff = 0

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = nc.Close()
			return ErrServerClosed
		}
		s.sessions.Add(1)
		s.mu.Unlock()

		go s.serveConn(ctx, nc)
	}
}

// Addr returns the listener address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops accepting, closes every session and waits for them to
// finish or for ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) serveConn(ctx context.Context, nc net.Conn) {
	defer s.sessions.Done()

	conn := core.NewConn(utils.NewID(), nc)
	conn.SetWriteTimeout(s.cfg.WriteTimeout)

	opts := []core.SessionOption{
		core.WithLogger(s.log),
		core.WithHandshakeTimeout(s.cfg.HandshakeTimeout),
		core.WithIdleTimeout(s.cfg.IdleTimeout),
		core.WithMaxPayload(s.cfg.MaxPayloadBytes),
	}
	if limiter := newRateLimiter(s.cfg.RateLimit); limiter != nil {
		opts = append(opts, core.WithLimiter(limiter))
	}

	s.log.Debug().Str("conn_id", conn.ID).Str("remote", conn.Remote).Msg("client connected")

	if err := core.NewSession(conn, s.registry, opts...).Run(ctx); err != nil {
		if errors.Is(err, core.ErrHandshakeFailed) {
			s.log.Warn().Err(err).Str("conn_id", conn.ID).Str("remote", conn.Remote).Msg("rejected connection")
			return
		}
		s.log.Error().Err(err).Str("conn_id", conn.ID).Msg("session ended with error")
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if d > time.Second {
		d = time.Second
	}
	return d
}
