package stream

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeOrchestrator struct {
	mu    sync.Mutex
	calls []Job
	fail  bool
}

func (f *fakeOrchestrator) Process(ctx context.Context, job Job) (Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, job)
	f.mu.Unlock()
	if f.fail {
		return Result{}, context.Canceled
	}
	return Result{StreamID: job.StreamID, Transcript: "hi", ReplyText: "hello"}, nil
}

func TestStartStreamIDFormat(t *testing.T) {
	m := NewManager(&fakeOrchestrator{}, DefaultConfig())
	id := m.StartStream("client-1", 16000, false, "piper", "de-thorsten-low", 1.0, 1.0, func(Result) {})
	if !strings.HasPrefix(id, "client-1_") {
		t.Errorf("stream id %q does not have expected prefix", id)
	}
	if len(id) != len("client-1_")+8 {
		t.Errorf("stream id %q does not have an 8-char suffix", id)
	}
}

func TestPushChunkUnknownStream(t *testing.T) {
	m := NewManager(&fakeOrchestrator{}, DefaultConfig())
	if err := m.PushChunk("nope", []byte{1, 2}, 0, 0); err != ErrStreamUnknown {
		t.Errorf("err = %v, want ErrStreamUnknown", err)
	}
}

func TestPushChunkThenFinalizeRunsOrchestrator(t *testing.T) {
	orch := &fakeOrchestrator{}
	m := NewManager(orch, DefaultConfig())

	var gotResult Result
	var gotOnce sync.Once
	done := make(chan struct{})
	id := m.StartStream("c1", 16000, false, "", "", 0, 0, func(r Result) {
		gotOnce.Do(func() {
			gotResult = r
			close(done)
		})
	})

	if err := m.PushChunk(id, []byte{1, 2, 3, 4}, 0, 0); err != nil {
		t.Fatalf("PushChunk: %v", err)
	}
	if err := m.Finalize(id); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for callback")
	}
	if gotResult.Transcript != "hi" {
		t.Errorf("Transcript = %q, want hi", gotResult.Transcript)
	}

	orch.mu.Lock()
	n := len(orch.calls)
	orch.mu.Unlock()
	if n != 1 {
		t.Errorf("orchestrator called %d times, want 1", n)
	}
}

func TestFinalizeIsIdempotent(t *testing.T) {
	orch := &fakeOrchestrator{}
	m := NewManager(orch, DefaultConfig())

	var calls int
	var mu sync.Mutex
	done := make(chan struct{}, 1)
	id := m.StartStream("c2", 16000, false, "", "", 0, 0, func(Result) {
		mu.Lock()
		calls++
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
	})

	m.PushChunk(id, []byte{1, 2}, 0, 0)
	if err := m.Finalize(id); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if err := m.Finalize(id); err != nil {
		t.Fatalf("second Finalize: %v", err)
	}

	<-done
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("callback invoked %d times, want exactly 1", calls)
	}
}

func TestPushChunkBufferOverflow(t *testing.T) {
	orch := &fakeOrchestrator{}
	cfg := DefaultConfig()
	cfg.BufferCapacity = 1
	m := NewManager(orch, cfg)

	id := m.StartStream("c3", 16000, false, "", "", 0, 0, func(Result) {})
	if err := m.PushChunk(id, []byte{1, 2}, 0, 0); err != nil {
		t.Fatalf("first push: %v", err)
	}
	if err := m.PushChunk(id, []byte{3, 4}, 1, 0); err != ErrBufferOverflow {
		t.Errorf("err = %v, want ErrBufferOverflow", err)
	}
	if !m.Active(id) {
		t.Error("expected stream to remain active after overflow")
	}
}

func TestPushChunkDurationExceeded(t *testing.T) {
	orch := &fakeOrchestrator{}
	cfg := DefaultConfig()
	cfg.MaxAudioDuration = 1 * time.Millisecond
	m := NewManager(orch, cfg)

	id := m.StartStream("c4", 16000, false, "", "", 0, 0, func(Result) {})
	time.Sleep(5 * time.Millisecond)
	if err := m.PushChunk(id, []byte{1, 2}, 0, 0); err != ErrDurationExceeded {
		t.Errorf("err = %v, want ErrDurationExceeded", err)
	}
}

func TestVADAutoStopFinalizesAsynchronously(t *testing.T) {
	orch := &fakeOrchestrator{}
	m := NewManager(orch, DefaultConfig())

	done := make(chan struct{})
	id := m.StartStream("c5", 16000, true, "", "", 0, 0, func(Result) {
		close(done)
	})

	frameBytes := m.streamFrameSize(id) * 2
	speechFrame := make([]byte, frameBytes)
	for i := 0; i < len(speechFrame); i += 2 {
		if (i/2)%2 == 0 {
			speechFrame[i+1] = 0x60
		} else {
			speechFrame[i+1] = 0xa0 // negative in little-endian int16
		}
	}
	silenceFrame := make([]byte, frameBytes)

	for i := 0; i < 15; i++ {
		m.PushChunk(id, speechFrame, uint32(i), 0)
	}
	for i := 0; i < 60; i++ {
		m.PushChunk(id, silenceFrame, uint32(15+i), 0)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected VAD auto-stop to finalize the stream")
	}
}

func TestCancelClientRemovesAllStreams(t *testing.T) {
	orch := &fakeOrchestrator{}
	m := NewManager(orch, DefaultConfig())
	id1 := m.StartStream("c6", 16000, false, "", "", 0, 0, func(Result) {})
	id2 := m.StartStream("c6", 16000, false, "", "", 0, 0, func(Result) {})

	m.CancelClient("c6")
	if m.Active(id1) || m.Active(id2) {
		t.Error("expected both streams to be removed")
	}
}

// streamFrameSize is a tiny test helper reaching into Manager internals to
// size frames identically to the stream's own VAD.
func (m *Manager) streamFrameSize(streamID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.streams[streamID]
	if s == nil || s.vad == nil {
		return 480
	}
	return s.vad.FrameSize()
}
