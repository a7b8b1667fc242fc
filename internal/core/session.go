package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirerelay/internal/proto"
)

// State is a step in a session's lifecycle.
type State int

const (
	StateConnecting State = iota
	StateHandshakePending
	// StateUnnamed is registered but waiting for the first frame, which names the user.
	StateUnnamed
	// StateNamed relays every frame to the registry.
	StateNamed
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHandshakePending:
		return "handshake_pending"
	case StateUnnamed:
		return "active_unnamed"
	case StateNamed:
		return "active_named"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Limiter decides whether an inbound message may be relayed.
type Limiter interface {
	Allow() bool
}

// Session drives one connection: handshake, naming, relay loop, cleanup.
type Session struct {
	conn     *Conn
	registry *Registry
	log      zerolog.Logger
	limiter  Limiter

	handshakeTimeout time.Duration
	idleTimeout      time.Duration
	maxPayload       uint64

	state State
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithLogger sets the session logger; conn fields are added to it.
func WithLogger(logger *zerolog.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.log = *logger
		}
	}
}

// WithLimiter drops inbound messages the limiter refuses.
func WithLimiter(l Limiter) SessionOption {
	return func(s *Session) {
		s.limiter = l
	}
}

// WithHandshakeTimeout bounds how long the peer may take to send its upgrade
// request. Zero waits forever.
func WithHandshakeTimeout(d time.Duration) SessionOption {
	return func(s *Session) {
		s.handshakeTimeout = d
	}
}

// WithIdleTimeout ends the session when no frame arrives within d. Zero waits forever.
func WithIdleTimeout(d time.Duration) SessionOption {
	return func(s *Session) {
		s.idleTimeout = d
	}
}

// WithMaxPayload caps inbound frame payloads. Zero disables the cap.
func WithMaxPayload(n uint64) SessionOption {
	return func(s *Session) {
		s.maxPayload = n
	}
}

// NewSession binds conn to registry. The session does not start until Run.
func NewSession(conn *Conn, registry *Registry, opts ...SessionOption) *Session {
	s := &Session{
		conn:       conn,
		registry:   registry,
		log:        zerolog.Nop(),
		maxPayload: proto.DefaultMaxPayloadSize,
		state:      StateConnecting,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("conn_id", conn.ID).Str("remote", conn.Remote).Logger()
	return s
}

// State returns the current state. Only meaningful from the Run goroutine or after Run returns.
func (s *Session) State() State {
	return s.state
}

// Run blocks until the peer disconnects, ctx is cancelled, or an error ends
// the session. A normal disconnect returns nil. Cleanup runs exactly once
// whichever way the session ends.
func (s *Session) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.Close()
	})
	defer stop()

	registered := false
	defer func() {
		s.cleanup(registered)
	}()

	s.state = StateHandshakePending
	if err := s.handshake(); err != nil {
		s.log.Debug().Err(err).Msg("handshake failed")
		return fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}

	s.registry.Register(s.conn)
	registered = true
	s.state = StateUnnamed
	s.log.Debug().Msg("handshake complete")

	for {
		if s.idleTimeout > 0 {
			s.conn.setReadDeadline(time.Now().Add(s.idleTimeout))
		}

		frame, err := proto.ReadFrame(s.conn.reader, s.maxPayload)
		if err != nil {
			if errors.Is(err, proto.ErrConnectionClosed) || ctx.Err() != nil {
				return nil
			}
			s.log.Warn().Err(err).Str("user", s.conn.Name()).Msg("read frame")
			return err
		}
		if frame.Opcode == proto.OpClose {
			return nil
		}

		s.handle(string(frame.Payload))
	}
}

func (s *Session) handshake() error {
	if s.handshakeTimeout > 0 {
		s.conn.setReadDeadline(time.Now().Add(s.handshakeTimeout))
		defer s.conn.setReadDeadline(time.Time{})
	}
	_, err := proto.Negotiate(s.conn.reader, s.conn)
	return err
}

func (s *Session) handle(text string) {
	if s.state == StateUnnamed {
		s.conn.setName(text)
		s.state = StateNamed
		s.log.Info().Str("user", text).Msg("user joined")
		s.registry.Broadcast(proto.NoticeJoined, s.conn)
		return
	}

	if s.limiter != nil && !s.limiter.Allow() {
		s.log.Warn().Str("user", s.conn.Name()).Msg("rate limit exceeded, message dropped")
		return
	}

	s.log.Info().Str("user", s.conn.Name()).Str("text", text).Msg("message")
	s.registry.Broadcast(text, s.conn)
}

func (s *Session) cleanup(registered bool) {
	s.state = StateTerminated

	s.registry.Deregister(s.conn)
	if name, ok := s.conn.named(); ok {
		s.log.Info().Str("user", name).Msg("user left")
		s.registry.Broadcast(proto.NoticeLeft, s.conn)
	}
	if err := s.conn.Close(); err != nil {
		s.log.Debug().Err(err).Msg("close connection")
	}
	if registered {
		s.log.Debug().Msg("session closed")
	}
}
