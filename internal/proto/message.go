package proto

import (
	"bytes"
	"encoding/json"
)

// ServerSender is the sender name used for events not attributed to a user.
const ServerSender = "Server"

// Notices broadcast on behalf of a user when they join and leave.
const (
	NoticeJoined = "has joined the chat"
	NoticeLeft   = "has left the chat"
)

// ChatEvent is the payload carried by every outbound text frame.
type ChatEvent struct {
	Sender  string `json:"sender"`
	Message string `json:"message"`
}

// Format renders the event as {"sender":"<name>","message":"<text>"}.
// Values are inserted verbatim: quotes, backslashes and control characters
// in either field produce invalid JSON. Clients of the relay rely on this
// exact output, so FormatEscaped is opt-in.
func (e ChatEvent) Format() string {
	return `{"sender":"` + e.Sender + `","message":"` + e.Message + `"}`
}

// FormatEscaped renders the same object with JSON string escaping applied.
// HTML characters are left alone so plain text matches Format byte for byte.
func (e ChatEvent) FormatEscaped() string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(e); err != nil {
		return e.Format()
	}
	return string(bytes.TrimSuffix(buf.Bytes(), []byte("\n")))
}
