// Package stt defines the STT Engine contract (C8): PCM16 bytes in,
// transcript out. Transcription blocks the calling goroutine; in the gateway
// that is a Stream Manager worker, so the worker count bounds how many
// transcriptions run at once.
package stt

import "context"

// Transcript is the result of a transcription call.
type Transcript struct {
	Text      string
	LatencyMs float64
}

// Engine is the contract every STT backend implements.
type Engine interface {
	// Initialize prepares the backend, tolerating common model-naming
	// mismatches by falling back to a converted counterpart where one is
	// known.
	Initialize(ctx context.Context) error
	// Transcribe decodes pcm16 (mono, sampleRate Hz) to text. It blocks
	// until the backend answers; callers must not assume it returns quickly.
	Transcribe(ctx context.Context, pcm16 []byte, sampleRate int, language string) (Transcript, error)
}

// StreamingEngine is implemented by backends that support per-chunk
// transcription without buffering the whole utterance. Each
// ProcessBinaryAudio call transcribes only the chunk it is given; results of
// successive chunks are not concatenated and no incremental partials are
// produced.
type StreamingEngine interface {
	Engine
	ProcessBinaryAudio(ctx context.Context, pcm16 []byte, streamID string, sequence uint32) (Transcript, error)
}

// bytesToFloat32 converts little-endian PCM16 bytes to [-1, 1] float32
// samples, the preprocessing step every Engine implementation needs before
// handing audio to a model.
func bytesToFloat32(pcm16 []byte) []float32 {
	n := len(pcm16) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(uint16(pcm16[i*2]) | uint16(pcm16[i*2+1])<<8)
		out[i] = float32(v) / 32768.0
	}
	return out
}
