package core

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Conn is a live relay connection. Its Session owns it; the Registry only
// holds a reference for broadcasting.
type Conn struct {
	ID     string
	Remote string

	rw     io.ReadWriteCloser
	reader *bufio.Reader

	nameMu  sync.RWMutex
	name    string
	hasName bool

	writeMu      sync.Mutex
	writeTimeout time.Duration
	detached     atomic.Bool

	closeOnce sync.Once
	closeErr  error
}

// NewConn wraps a byte stream. Reads go through one buffered reader so bytes
// buffered during the handshake are not lost to frame decoding.
func NewConn(id string, rw io.ReadWriteCloser) *Conn {
	c := &Conn{
		ID:     id,
		rw:     rw,
		reader: bufio.NewReader(rw),
	}
	if nc, ok := rw.(net.Conn); ok && nc.RemoteAddr() != nil {
		c.Remote = nc.RemoteAddr().String()
	}
	return c
}

// SetWriteTimeout bounds every frame write when d > 0 and the stream supports deadlines.
func (c *Conn) SetWriteTimeout(d time.Duration) {
	c.writeMu.Lock()
	c.writeTimeout = d
	c.writeMu.Unlock()
}

// Name returns the display name, or "" before the first message.
func (c *Conn) Name() string {
	c.nameMu.RLock()
	defer c.nameMu.RUnlock()
	return c.name
}

func (c *Conn) named() (string, bool) {
	c.nameMu.RLock()
	defer c.nameMu.RUnlock()
	return c.name, c.hasName
}

// setName assigns the display name once; later calls are ignored.
// An empty first message still counts as a name.
func (c *Conn) setName(name string) bool {
	c.nameMu.Lock()
	defer c.nameMu.Unlock()
	if c.hasName {
		return false
	}
	c.name = name
	c.hasName = true
	return true
}

// Write sends b as one uninterrupted write. It fails with ErrDetached once the
// connection has been removed from its registry.
func (c *Conn) Write(b []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.detached.Load() {
		return 0, ErrDetached
	}
	if c.writeTimeout > 0 {
		if d, ok := c.rw.(deadliner); ok {
			if err := d.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				return 0, fmt.Errorf("set write deadline: %w", err)
			}
			defer d.SetWriteDeadline(time.Time{})
		}
	}
	return c.rw.Write(b)
}

// detach rejects all writes that have not started yet. A write already in
// progress is left to finish or to fail when the stream is closed.
func (c *Conn) detach() {
	c.detached.Store(true)
}

// Close closes the underlying stream. Safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.rw.Close()
	})
	return c.closeErr
}

func (c *Conn) setReadDeadline(t time.Time) {
	if d, ok := c.rw.(deadliner); ok {
		_ = d.SetReadDeadline(t)
	}
}

type deadliner interface {
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}
