package proto

import (
	"bufio"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

// websocketGUID is fixed by RFC 6455.
const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

const (
	keyHeaderPrefix = "Sec-WebSocket-Key: "

	// MaxHeaderBytes bounds the upgrade request header block.
	MaxHeaderBytes = 8 << 10
)

var (
	// ErrMissingKey is returned when the header block ends without a key line.
	ErrMissingKey = errors.New("missing Sec-WebSocket-Key header")
	// ErrHeaderTooLarge is returned when the header block exceeds MaxHeaderBytes.
	ErrHeaderTooLarge = errors.New("handshake header too large")
)

// AcceptKey derives the Sec-WebSocket-Accept value for a client key.
func AcceptKey(key string) string {
	sum := sha1.Sum([]byte(key + websocketGUID))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// HandshakeResponse renders the 101 response for a client key.
func HandshakeResponse(key string) []byte {
	var sb strings.Builder
	sb.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	sb.WriteString("Upgrade: websocket\r\n")
	sb.WriteString("Connection: Upgrade\r\n")
	sb.WriteString("Sec-WebSocket-Accept: ")
	sb.WriteString(AcceptKey(key))
	sb.WriteString("\r\n\r\n")
	return []byte(sb.String())
}

// ReadHandshakeKey consumes the request header block up to and including the
// blank line and returns the value of the first key line. The value is
// everything after the fixed prefix; no further validation is done. If the
// stream ends after a key line but before the blank line, the key is still
// returned.
func ReadHandshakeKey(r *bufio.Reader) (string, error) {
	var (
		key   string
		found bool
		read  int
	)

	for {
		line, err := readHeaderLine(r, MaxHeaderBytes-read)
		read += len(line)
		if errors.Is(err, ErrHeaderTooLarge) {
			return "", err
		}

		trimmed := strings.TrimRight(line, "\r\n")
		if !found && hasKeyPrefix(trimmed) {
			key = trimmed[len(keyHeaderPrefix):]
			found = true
		}

		if err != nil {
			if found && errors.Is(err, io.EOF) {
				return key, nil
			}
			if errors.Is(err, io.EOF) {
				return "", fmt.Errorf("read handshake: %w", ErrConnectionClosed)
			}
			return "", fmt.Errorf("read handshake: %w", err)
		}
		if trimmed == "" {
			break
		}
	}

	if !found {
		return "", ErrMissingKey
	}
	return key, nil
}

// readHeaderLine reads one line, failing with ErrHeaderTooLarge once it
// grows past budget bytes. At most one buffer's worth is read beyond it.
func readHeaderLine(r *bufio.Reader, budget int) (string, error) {
	var line []byte
	for {
		chunk, err := r.ReadSlice('\n')
		if len(line)+len(chunk) > budget {
			return "", ErrHeaderTooLarge
		}
		line = append(line, chunk...)
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return string(line), err
	}
}

// Negotiate reads the upgrade request from r and, when it carries a key,
// writes the 101 response to w. Nothing is written on failure.
func Negotiate(r *bufio.Reader, w io.Writer) (string, error) {
	key, err := ReadHandshakeKey(r)
	if err != nil {
		return "", err
	}
	if _, err := w.Write(HandshakeResponse(key)); err != nil {
		return "", fmt.Errorf("write handshake response: %w", err)
	}
	return key, nil
}

// HTTP header names are case-insensitive; net/http clients send Sec-Websocket-Key.
func hasKeyPrefix(line string) bool {
	return len(line) >= len(keyHeaderPrefix) &&
		strings.EqualFold(line[:len(keyHeaderPrefix)], keyHeaderPrefix)
}
