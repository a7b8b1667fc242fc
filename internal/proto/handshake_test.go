package proto

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

const sampleRequest = "GET /chat HTTP/1.1\r\n" +
	"Host: server.example.com\r\n" +
	"Upgrade: websocket\r\n" +
	"Connection: Upgrade\r\n" +
	"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
	"Sec-WebSocket-Version: 13\r\n" +
	"\r\n"

func TestAcceptKeyRFCVector(t *testing.T) {
	got := AcceptKey("dGhlIHNhbXBsZSBub25jZQ==")
	if got != "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=" {
		t.Fatalf("AcceptKey = %q", got)
	}
}

func TestNegotiateWritesResponse(t *testing.T) {
	r := bufio.NewReader(strings.NewReader(sampleRequest + "\x81\x00"))
	var out bytes.Buffer

	key, err := Negotiate(r, &out)
	if err != nil {
		t.Fatalf("negotiate: %v", err)
	}
	if key != "dGhlIHNhbXBsZSBub25jZQ==" {
		t.Fatalf("key = %q", key)
	}

	want := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: s3pPLMBiTxaQ9kYGzzhZRbK+xOo=\r\n\r\n"
	if out.String() != want {
		t.Fatalf("response = %q, want %q", out.String(), want)
	}

	// The header block must be fully consumed so frames start right after it.
	text, err := DecodeText(r)
	if err != nil || text != "" {
		t.Fatalf("frame after handshake = %q, %v", text, err)
	}
}

func TestReadHandshakeKeyMissing(t *testing.T) {
	req := "GET / HTTP/1.1\r\nHost: x\r\nUpgrade: websocket\r\n\r\n"
	var out bytes.Buffer

	_, err := Negotiate(bufio.NewReader(strings.NewReader(req)), &out)
	if !errors.Is(err, ErrMissingKey) {
		t.Fatalf("err = %v, want ErrMissingKey", err)
	}
	if out.Len() != 0 {
		t.Fatalf("response written on failure: %q", out.String())
	}
}

func TestReadHandshakeKeyStreamEnds(t *testing.T) {
	req := "GET / HTTP/1.1\r\nHost: x\r\n"

	_, err := ReadHandshakeKey(bufio.NewReader(strings.NewReader(req)))
	if !errors.Is(err, ErrConnectionClosed) {
		t.Fatalf("err = %v, want ErrConnectionClosed", err)
	}
}

func TestReadHandshakeKeyStreamEndsAfterKey(t *testing.T) {
	cases := map[string]string{
		"after key line":    "GET / HTTP/1.1\r\nSec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n",
		"inside key line":   "GET / HTTP/1.1\r\nSec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==",
		"after more fields": "GET / HTTP/1.1\r\nSec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\nHost: x\r\n",
	}

	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			key, err := ReadHandshakeKey(bufio.NewReader(strings.NewReader(req)))
			if err != nil {
				t.Fatalf("read key: %v", err)
			}
			if key != "dGhlIHNhbXBsZSBub25jZQ==" {
				t.Fatalf("key = %q", key)
			}
		})
	}
}

func TestReadHandshakeKeyPrefixHandling(t *testing.T) {
	cases := []struct {
		name string
		line string
		key  string
		ok   bool
	}{
		{name: "canonical", line: "Sec-WebSocket-Key: abc==", key: "abc==", ok: true},
		{name: "go canonical casing", line: "Sec-Websocket-Key: abc==", key: "abc==", ok: true},
		{name: "value kept verbatim", line: "Sec-WebSocket-Key:  spaced ", key: " spaced ", ok: true},
		{name: "lf only", line: "Sec-WebSocket-Key: lf", key: "lf", ok: true},
		{name: "no space after colon", line: "Sec-WebSocket-Key:abc", ok: false},
		{name: "different header", line: "Sec-WebSocket-Version: 13", ok: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			term := "\r\n"
			if tc.name == "lf only" {
				term = "\n"
			}
			req := "GET / HTTP/1.1" + term + tc.line + term + term

			key, err := ReadHandshakeKey(bufio.NewReader(strings.NewReader(req)))
			if !tc.ok {
				if !errors.Is(err, ErrMissingKey) {
					t.Fatalf("err = %v, want ErrMissingKey", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("read key: %v", err)
			}
			if key != tc.key {
				t.Fatalf("key = %q, want %q", key, tc.key)
			}
		})
	}
}

func TestReadHandshakeKeyFirstWins(t *testing.T) {
	req := "GET / HTTP/1.1\r\nSec-WebSocket-Key: first\r\nSec-WebSocket-Key: second\r\n\r\n"

	key, err := ReadHandshakeKey(bufio.NewReader(strings.NewReader(req)))
	if err != nil {
		t.Fatalf("read key: %v", err)
	}
	if key != "first" {
		t.Fatalf("key = %q, want first", key)
	}
}

type countingReader struct {
	r io.Reader
	n int
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += n
	return n, err
}

func TestReadHandshakeKeyHeaderTooLarge(t *testing.T) {
	req := "GET / HTTP/1.1\r\nX-Pad: " + strings.Repeat("p", MaxHeaderBytes) + "\r\n\r\n"

	_, err := ReadHandshakeKey(bufio.NewReader(strings.NewReader(req)))
	if !errors.Is(err, ErrHeaderTooLarge) {
		t.Fatalf("err = %v, want ErrHeaderTooLarge", err)
	}
}

func TestReadHandshakeKeyBoundsLineWithoutNewline(t *testing.T) {
	const bufSize = 4096
	src := &countingReader{r: strings.NewReader(strings.Repeat("a", 8<<20))}

	_, err := ReadHandshakeKey(bufio.NewReaderSize(src, bufSize))
	if !errors.Is(err, ErrHeaderTooLarge) {
		t.Fatalf("err = %v, want ErrHeaderTooLarge", err)
	}
	if src.n > MaxHeaderBytes+bufSize {
		t.Fatalf("consumed %d bytes, want at most %d", src.n, MaxHeaderBytes+bufSize)
	}
}
