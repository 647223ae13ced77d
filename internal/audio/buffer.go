package audio

import "sort"

// DefaultBufferCapacity is the default bound on chunks held per stream
// (env MAX_CHUNK_BUFFER).
const DefaultBufferCapacity = 50

// Chunk is one ingested unit of audio for a stream.
type Chunk struct {
	PCM16     []byte
	Sequence  uint32
	Timestamp float64
	ClientID  string
	StreamID  string
}

// Buffer is a bounded FIFO of Chunks. It never blocks: Push reports false on
// overflow instead of discarding silently, and the caller is expected to
// surface that as audio_stream_error. Chunks are reordered by Sequence only
// at Drain time — arrival order and sequence order may differ.
type Buffer struct {
	capacity int
	chunks   []Chunk
}

// NewBuffer constructs a Buffer bounded at capacity chunks. A non-positive
// capacity falls back to DefaultBufferCapacity.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultBufferCapacity
	}
	return &Buffer{capacity: capacity, chunks: make([]Chunk, 0, capacity)}
}

// Push appends chunk, returning false if the buffer is already at capacity.
// The chunk is not queued when Push returns false.
func (b *Buffer) Push(chunk Chunk) bool {
	if len(b.chunks) >= b.capacity {
		return false
	}
	b.chunks = append(b.chunks, chunk)
	return true
}

// Len reports the number of chunks currently queued.
func (b *Buffer) Len() int { return len(b.chunks) }

// Full reports whether the buffer is at capacity.
func (b *Buffer) Full() bool { return len(b.chunks) >= b.capacity }

// Drain returns every queued chunk's PCM16 bytes concatenated in Sequence
// order, then clears the buffer. Drained length always equals the sum of
// pushed chunk lengths.
func (b *Buffer) Drain() []byte {
	ordered := make([]Chunk, len(b.chunks))
	copy(ordered, b.chunks)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Sequence < ordered[j].Sequence
	})

	total := 0
	for _, c := range ordered {
		total += len(c.PCM16)
	}
	out := make([]byte, 0, total)
	for _, c := range ordered {
		out = append(out, c.PCM16...)
	}

	b.Clear()
	return out
}

// Clear discards every queued chunk without returning them.
func (b *Buffer) Clear() {
	b.chunks = b.chunks[:0]
}
