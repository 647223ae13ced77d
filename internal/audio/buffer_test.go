package audio

import "testing"

func TestBufferOverflow(t *testing.T) {
	b := NewBuffer(2)
	if !b.Push(Chunk{PCM16: []byte{1, 2}, Sequence: 0}) {
		t.Fatal("expected first push to succeed")
	}
	if !b.Push(Chunk{PCM16: []byte{3, 4}, Sequence: 1}) {
		t.Fatal("expected second push to succeed")
	}
	if b.Push(Chunk{PCM16: []byte{5, 6}, Sequence: 2}) {
		t.Fatal("expected third push to overflow")
	}
	if !b.Full() {
		t.Error("expected buffer to report full")
	}
}

func TestBufferDrainOrdersBySequence(t *testing.T) {
	b := NewBuffer(10)
	b.Push(Chunk{PCM16: []byte{3, 4}, Sequence: 1})
	b.Push(Chunk{PCM16: []byte{1, 2}, Sequence: 0})
	b.Push(Chunk{PCM16: []byte{5, 6}, Sequence: 2})

	got := b.Drain()
	want := []byte{1, 2, 3, 4, 5, 6}
	if len(got) != len(want) {
		t.Fatalf("Drain length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Drain()[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestBufferDrainClears(t *testing.T) {
	b := NewBuffer(10)
	b.Push(Chunk{PCM16: []byte{1, 2}, Sequence: 0})
	b.Drain()
	if b.Len() != 0 {
		t.Error("expected buffer to be empty after Drain")
	}
}

func TestBufferRecoversAfterDrain(t *testing.T) {
	b := NewBuffer(1)
	b.Push(Chunk{PCM16: []byte{1, 2}, Sequence: 0})
	if b.Push(Chunk{PCM16: []byte{3, 4}, Sequence: 1}) {
		t.Fatal("expected overflow before drain")
	}
	b.Drain()
	if !b.Push(Chunk{PCM16: []byte{3, 4}, Sequence: 1}) {
		t.Fatal("expected push to succeed after drain frees capacity")
	}
}

func TestBufferNeverYieldsUnpushedBytes(t *testing.T) {
	b := NewBuffer(5)
	pushed := [][]byte{{1, 2}, {3, 4, 5, 6}, {7}}
	seq := uint32(0)
	total := 0
	for _, p := range pushed {
		b.Push(Chunk{PCM16: p, Sequence: seq})
		seq++
		total += len(p)
	}
	if got := len(b.Drain()); got != total {
		t.Errorf("Drain length = %d, want %d", got, total)
	}
}
