package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// HandshakeTimeout is the default time a server waits for the client's
// hello frame before closing with CloseHandshakeTimeout.
const HandshakeTimeout = 10 * time.Second

// ErrBadHandshakeFrame is returned when the first frame is not a well-formed
// hello (current "op" or legacy "type" form).
var ErrBadHandshakeFrame = errors.New("protocol: first frame is not a hello")

// Conn is the minimal transport the handshake needs; gorilla's
// *websocket.Conn satisfies it directly.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
}

// DefaultFeatures is advertised in the server's ready reply.
func DefaultFeatures() map[string]any {
	return map[string]any{"binary_audio": true}
}

// Handshake reads exactly one frame, requires it to be a hello (op or legacy
// type), and replies with ready. It does not enforce the 10s timeout itself;
// callers should run it under a context with that deadline via ctx and
// ReadWithContext-style cancellation at the transport layer, or a read
// deadline set directly on the underlying connection.
func Handshake(ctx context.Context, conn Conn) error {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return err
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return ErrBadHandshakeFrame
	}
	kind := env.Kind()
	if kind != "hello" {
		return ErrBadHandshakeFrame
	}

	ready := Ready{Op: "ready", Features: DefaultFeatures()}
	payload, err := json.Marshal(ready)
	if err != nil {
		return err
	}
	const textMessage = 1 // websocket.TextMessage, avoided as a direct dep here
	return conn.WriteMessage(textMessage, payload)
}
