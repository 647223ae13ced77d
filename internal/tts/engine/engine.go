// Package engine defines the TTS engine contract and the concrete HTTP
// sidecar adapters (Piper, Kokoro, Zonos). Engine binaries themselves are
// out of scope — these adapters only speak HTTP to a running sidecar.
package engine

import (
	"context"
	"errors"
)

// Config is an immutable snapshot of per-engine synthesis parameters.
type Config struct {
	EngineType string
	Voice      string
	Speed      float64 // (0, 2]
	Volume     float64 // [0, 2]
	Language   string
	SampleRate int
	ModelDir   string
	Params     map[string]string
}

// Format names the encoding of Result.Audio.
type Format string

const (
	FormatWAV    Format = "wav"
	FormatPCMF32 Format = "pcm_f32"
	FormatPCMS16 Format = "pcm_s16"
)

// ErrorKind enumerates the engine-level failure reasons surfaced to callers.
type ErrorKind string

const (
	ErrEngineUnavailable ErrorKind = "engine_unavailable"
	ErrSynthesisFailed   ErrorKind = "tts_synthesis_failed"
	ErrVoiceNotSupported ErrorKind = "voice_engine_mismatch"
)

// Result is the outcome of a single synthesize call. Audio, when Success is
// true, MUST be PCM16 mono WAV with a header whose sample rate matches
// SampleRate — callers relying on raw PCM should use FormatPCMS16/F32.
type Result struct {
	Success         bool
	Audio           []byte
	SampleRate      int
	Format          Format
	EngineUsed      string
	VoiceUsed       string
	ProcessingTimeMs float64
	ErrorKind       ErrorKind
	ErrorMessage    string
}

// Opts carries the per-call overrides accepted by Synthesize.
type Opts struct {
	Speed    float64
	Volume   float64
	Language string
}

// Engine is the contract every TTS adapter implements. Implementations MUST
// accept ctx cancellation and abandon synthesis promptly; calls either run
// safely concurrently or document (in their own comment) that they
// serialize internally.
type Engine interface {
	// Initialize prepares the engine (load model, warm connection, ...). A
	// non-nil error always carries ErrEngineUnavailable semantics.
	Initialize(ctx context.Context) error
	// Synthesize renders text to a Result. voice, if empty, falls back to
	// the engine's configured default voice.
	Synthesize(ctx context.Context, text, voice string, opts Opts) (Result, error)
	// SupportedVoices returns the voices this engine instance knows about.
	SupportedVoices() []string
	// Info returns a small introspection blob (name, sample rate, ...).
	Info() map[string]any
	// Name is the registry key this engine is addressed by (e.g. "piper").
	Name() string
}

// ErrNotInitialized is returned by Synthesize when Initialize has not
// succeeded yet.
var ErrNotInitialized = errors.New("engine: not initialized")
