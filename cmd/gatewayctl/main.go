// Command gatewayctl drives a scripted handshake and one text utterance
// against a running gateway, for local smoke testing without a browser
// client.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hubenschmidt/voxgate/internal/protocol"
)

func main() {
	addr := flag.String("addr", "localhost:8000", "gateway host:port")
	token := flag.String("token", "", "connect token, sent as ?token=")
	text := flag.String("text", "hello there", "text message to send after handshake")
	flag.Parse()

	u := url.URL{Scheme: "ws", Host: *addr, Path: "/"}
	if *token != "" {
		q := u.Query()
		q.Set("token", *token)
		u.RawQuery = q.Encode()
	}

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := sendJSON(conn, protocol.Hello{Op: "hello", Features: protocol.DefaultFeatures()}); err != nil {
		log.Fatalf("send hello: %v", err)
	}

	var ready protocol.Ready
	if err := readJSON(conn, &ready); err != nil {
		log.Fatalf("read ready: %v", err)
	}
	fmt.Printf("handshake ok, server features: %+v\n", ready.Features)

	if err := sendJSON(conn, protocol.TextMessage{Op: "text", Content: *text}); err != nil {
		log.Fatalf("send text: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	var resp protocol.Response
	if err := readJSON(conn, &resp); err != nil {
		log.Fatalf("read response: %v", err)
	}
	fmt.Printf("reply: %s\n", resp.Text)
}

func sendJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, b)
}

func readJSON(conn *websocket.Conn, v any) error {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
