package core

import (
	"errors"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirerelay/internal/proto"
)

// Registry is the set of live connections and the broadcaster over it.
// The zero value is not usable; use NewRegistry.
type Registry struct {
	mu    sync.RWMutex
	conns map[*Conn]struct{}

	log    *zerolog.Logger
	escape bool
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger used for delivery failures.
func WithRegistryLogger(logger *zerolog.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.log = logger
		}
	}
}

// WithEscaping makes broadcasts emit escaped JSON instead of the raw format.
func WithEscaping(enabled bool) RegistryOption {
	return func(r *Registry) {
		r.escape = enabled
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	nop := zerolog.Nop()
	r := &Registry{
		conns: make(map[*Conn]struct{}),
		log:   &nop,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds c. Registering twice has no effect.
func (r *Registry) Register(c *Conn) {
	r.mu.Lock()
	r.conns[c] = struct{}{}
	c.detached.Store(false)
	r.mu.Unlock()
}

// Deregister removes c and stops further broadcasts to it. Removing a
// connection this registry does not hold, or removing twice, has no effect.
func (r *Registry) Deregister(c *Conn) {
	r.mu.Lock()
	if _, ok := r.conns[c]; ok {
		delete(r.conns, c)
		c.detach()
	}
	r.mu.Unlock()
}

// Len reports the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Contains reports whether c is registered.
func (r *Registry) Contains(c *Conn) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[c]
	return ok
}

// Names returns the sorted display names of named connections.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.conns))
	for c := range r.conns {
		if n, ok := c.named(); ok {
			names = append(names, n)
		}
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Broadcast encodes text once as a ChatEvent attributed to sender (or to
// "Server" when sender is nil) and writes it to every registered connection
// other than sender, then to sender itself if it is still registered.
// Recipients are selected under the lock and written to after it is released,
// so a slow peer delays only the calling goroutine. Failed writes are logged
// and skipped. It returns the number of connections that received the frame.
func (r *Registry) Broadcast(text string, sender *Conn) int {
	ev := proto.ChatEvent{Sender: proto.ServerSender, Message: text}
	if sender != nil {
		ev.Sender = sender.Name()
	}

	payload := ev.Format()
	if r.escape {
		payload = ev.FormatEscaped()
	}
	frame := proto.EncodeText(payload)

	r.mu.RLock()
	recipients := make([]*Conn, 0, len(r.conns))
	echo := false
	for c := range r.conns {
		if c == sender {
			echo = true
			continue
		}
		recipients = append(recipients, c)
	}
	r.mu.RUnlock()

	if echo {
		recipients = append(recipients, sender)
	}

	delivered := 0
	for _, c := range recipients {
		if r.deliver(c, frame) {
			delivered++
		}
	}
	return delivered
}

func (r *Registry) deliver(c *Conn, frame []byte) bool {
	if _, err := c.Write(frame); err != nil {
		if !errors.Is(err, ErrDetached) {
			r.log.Warn().Err(err).
				Str("conn_id", c.ID).
				Str("user", c.Name()).
				Msg("broadcast write failed")
		}
		return false
	}
	return true
}
