package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPResponderRespond(t *testing.T) {
	var gotReq chatCompletionsRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(chatCompletionsResponse{
			Choices: []struct {
				Message chatMessage `json:"message"`
			}{{Message: chatMessage{Role: "assistant", Content: "hi there"}}},
		})
	}))
	defer srv.Close()

	c := NewHTTPResponder(srv.URL, "", "test-model", 100, 2, 0.5, 5*time.Second)
	history := []Turn{
		{Role: "user", Content: "turn1"},
		{Role: "assistant", Content: "reply1"},
		{Role: "user", Content: "turn2"},
	}
	reply, err := c.Respond(context.Background(), "be nice", history, "hello")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if reply != "hi there" {
		t.Errorf("reply = %q, want %q", reply, "hi there")
	}
	if gotReq.Model != "test-model" {
		t.Errorf("model = %q, want test-model", gotReq.Model)
	}
	// system + trailing 2 history turns + user message = 4
	if len(gotReq.Messages) != 4 {
		t.Fatalf("messages = %d, want 4: %+v", len(gotReq.Messages), gotReq.Messages)
	}
	if gotReq.Messages[0].Role != "system" {
		t.Errorf("messages[0].Role = %q, want system", gotReq.Messages[0].Role)
	}
	if gotReq.Messages[len(gotReq.Messages)-1].Content != "hello" {
		t.Errorf("last message content = %q, want hello", gotReq.Messages[len(gotReq.Messages)-1].Content)
	}
}

func TestHTTPResponderErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	c := NewHTTPResponder(srv.URL, "", "test-model", 100, 2, 0.5, 5*time.Second)
	if _, err := c.Respond(context.Background(), "", nil, "hello"); err == nil {
		t.Fatal("expected error on 500 status")
	}
}

func TestHTTPResponderTrailingHistoryTrim(t *testing.T) {
	c := &HTTPResponder{maxTurns: 2}
	history := []Turn{
		{Role: "user", Content: "a"},
		{Role: "assistant", Content: "b"},
		{Role: "user", Content: "c"},
		{Role: "assistant", Content: "d"},
	}
	trimmed := c.trailing(history)
	if len(trimmed) != 2 {
		t.Fatalf("trailing len = %d, want 2", len(trimmed))
	}
	if trimmed[0].Content != "c" || trimmed[1].Content != "d" {
		t.Errorf("trailing = %+v, want last two turns", trimmed)
	}
}
