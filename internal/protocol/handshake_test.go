package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

type fakeConn struct {
	in      [][]byte
	inIdx   int
	written [][]byte
	readErr error
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	if f.readErr != nil {
		return 0, nil, f.readErr
	}
	if f.inIdx >= len(f.in) {
		return 0, nil, errors.New("no more frames")
	}
	msg := f.in[f.inIdx]
	f.inIdx++
	return 1, msg, nil
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	f.written = append(f.written, data)
	return nil
}

func TestHandshakeAcceptsOpHello(t *testing.T) {
	hello, _ := json.Marshal(Hello{Op: "hello"})
	conn := &fakeConn{in: [][]byte{hello}}
	if err := Handshake(context.Background(), conn); err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	if len(conn.written) != 1 {
		t.Fatalf("wrote %d frames, want 1", len(conn.written))
	}
	var ready Ready
	if err := json.Unmarshal(conn.written[0], &ready); err != nil {
		t.Fatalf("unmarshal ready: %v", err)
	}
	if ready.Op != "ready" || ready.Features["binary_audio"] != true {
		t.Errorf("ready = %+v", ready)
	}
}

func TestHandshakeAcceptsLegacyTypeHello(t *testing.T) {
	hello, _ := json.Marshal(map[string]string{"type": "hello"})
	conn := &fakeConn{in: [][]byte{hello}}
	if err := Handshake(context.Background(), conn); err != nil {
		t.Fatalf("Handshake: %v", err)
	}
}

func TestHandshakeRejectsWrongFirstFrame(t *testing.T) {
	bad, _ := json.Marshal(map[string]string{"op": "start_audio_stream"})
	conn := &fakeConn{in: [][]byte{bad}}
	if err := Handshake(context.Background(), conn); err != ErrBadHandshakeFrame {
		t.Errorf("err = %v, want ErrBadHandshakeFrame", err)
	}
}

func TestHandshakeRejectsInvalidJSON(t *testing.T) {
	conn := &fakeConn{in: [][]byte{[]byte("not json")}}
	if err := Handshake(context.Background(), conn); err != ErrBadHandshakeFrame {
		t.Errorf("err = %v, want ErrBadHandshakeFrame", err)
	}
}
