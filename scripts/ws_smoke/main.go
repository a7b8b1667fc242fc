package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vovakirdan/wirerelay/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/", "relay address")
	user := flag.String("user", "tester", "display name")
	text := flag.String("text", "hello from smoke test", "message text to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	dialer := websocket.Dialer{HandshakeTimeout: *timeout}
	conn, _, err := dialer.Dial(*addr, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	if err := conn.SetReadDeadline(time.Now().Add(*timeout)); err != nil {
		return err
	}

	for _, payload := range []string{*user, *text} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
			return fmt.Errorf("send: %w", err)
		}
	}

	expected := []proto.ChatEvent{
		{Sender: *user, Message: proto.NoticeJoined},
		{Sender: *user, Message: *text},
	}
	for len(expected) > 0 {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		fmt.Printf("Received: %s\n", data)

		var evt proto.ChatEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			return fmt.Errorf("decode %q: %w", data, err)
		}
		if evt == expected[0] {
			expected = expected[1:]
		}
	}

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	fmt.Println("Smoke test succeeded")
	return nil
}
