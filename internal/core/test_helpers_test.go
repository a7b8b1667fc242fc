package core

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/wirerelay/internal/proto"
)

// recorder is an in-memory stream that records every write.
type recorder struct {
	mu      sync.Mutex
	writes  [][]byte
	closed  bool
	failErr error
	order   *orderLog
	name    string
}

type orderLog struct {
	mu    sync.Mutex
	names []string
}

func (o *orderLog) add(name string) {
	o.mu.Lock()
	o.names = append(o.names, name)
	o.mu.Unlock()
}

func (r *recorder) Read([]byte) (int, error) { return 0, io.EOF }

func (r *recorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return 0, r.failErr
	}
	r.writes = append(r.writes, append([]byte(nil), p...))
	if r.order != nil {
		r.order.add(r.name)
	}
	return len(p), nil
}

func (r *recorder) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

func (r *recorder) Writes() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.writes...)
}

func newRecordedConn(name string) (*Conn, *recorder) {
	rec := &recorder{name: name}
	c := NewConn(name, rec)
	c.setName(name)
	return c, rec
}

// testPeer is the client half of a net.Pipe whose server half runs a Session.
type testPeer struct {
	t      *testing.T
	conn   net.Conn
	server *Conn
	frames chan string
	done   chan error
}

const testRequest = "GET / HTTP/1.1\r\n" +
	"Host: localhost\r\n" +
	"Upgrade: websocket\r\n" +
	"Connection: Upgrade\r\n" +
	"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
	"Sec-WebSocket-Version: 13\r\n\r\n"

// startSession runs a session over a pipe without performing the handshake.
func startSession(t *testing.T, ctx context.Context, reg *Registry, id string, opts ...SessionOption) *testPeer {
	t.Helper()

	serverSide, clientSide := net.Pipe()
	conn := NewConn(id, serverSide)
	p := &testPeer{
		t:      t,
		conn:   clientSide,
		server: conn,
		frames: make(chan string, 64),
		done:   make(chan error, 1),
	}

	sess := NewSession(conn, reg, opts...)
	go func() {
		p.done <- sess.Run(ctx)
	}()
	t.Cleanup(func() { _ = clientSide.Close() })
	return p
}

// connectPeer runs a session and completes the opening handshake.
func connectPeer(t *testing.T, ctx context.Context, reg *Registry, id string, opts ...SessionOption) *testPeer {
	t.Helper()

	p := startSession(t, ctx, reg, id, opts...)
	if _, err := io.WriteString(p.conn, testRequest); err != nil {
		t.Fatalf("write request: %v", err)
	}

	br := bufio.NewReader(p.conn)
	status, err := br.ReadString('\n')
	if err != nil {
		t.Fatalf("read status line: %v", err)
	}
	if !strings.HasPrefix(status, "HTTP/1.1 101") {
		t.Fatalf("unexpected status line %q", status)
	}
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			t.Fatalf("read response header: %v", err)
		}
		if line == "\r\n" {
			break
		}
	}

	go func() {
		defer close(p.frames)
		for {
			f, err := proto.ReadFrame(br, 0)
			if err != nil {
				return
			}
			p.frames <- string(f.Payload)
		}
	}()

	waitFor(t, func() bool { return reg.Contains(p.server) })
	return p
}

func (p *testPeer) send(text string) {
	p.t.Helper()
	f := proto.Frame{Fin: true, Opcode: proto.OpText, Masked: true, Mask: [4]byte{0xa1, 0xb2, 0xc3, 0xd4}, Payload: []byte(text)}
	if _, err := p.conn.Write(f.Bytes()); err != nil {
		p.t.Fatalf("send %q: %v", text, err)
	}
}

func (p *testPeer) expect(want string) {
	p.t.Helper()
	select {
	case got, ok := <-p.frames:
		if !ok {
			p.t.Fatalf("stream closed, expected %s", want)
		}
		if got != want {
			p.t.Fatalf("frame = %s, want %s", got, want)
		}
	case <-time.After(2 * time.Second):
		p.t.Fatalf("timed out waiting for %s", want)
	}
}

func (p *testPeer) expectNothing() {
	p.t.Helper()
	select {
	case got, ok := <-p.frames:
		if ok {
			p.t.Fatalf("unexpected frame %s", got)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func (p *testPeer) wait() error {
	p.t.Helper()
	select {
	case err := <-p.done:
		return err
	case <-time.After(2 * time.Second):
		p.t.Fatalf("session did not finish")
		return nil
	}
}

func event(sender, message string) string {
	return proto.ChatEvent{Sender: sender, Message: message}.Format()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}
