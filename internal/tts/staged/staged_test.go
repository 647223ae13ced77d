package staged

import (
	"context"
	"testing"

	"github.com/hubenschmidt/voxgate/internal/audio"
	"github.com/hubenschmidt/voxgate/internal/registry"
	"github.com/hubenschmidt/voxgate/internal/tts"
	"github.com/hubenschmidt/voxgate/internal/tts/engine"
)

// wavEngine is a test double that synthesizes a fixed-duration tone of
// alternating +/-0.3 samples as real PCM16 WAV, so the pipeline's decode/resample/crossfade steps
// exercise real audio data.
type wavEngine struct {
	name       string
	sampleRate int
	fail       bool
	delay      func()
}

func (e *wavEngine) Name() string { return e.name }
func (e *wavEngine) Initialize(ctx context.Context) error {
	if e.fail {
		return engine.ErrNotInitialized
	}
	return nil
}
func (e *wavEngine) Synthesize(ctx context.Context, text, voice string, opts engine.Opts) (engine.Result, error) {
	if e.delay != nil {
		e.delay()
	}
	select {
	case <-ctx.Done():
		return engine.Result{}, ctx.Err()
	default:
	}
	n := e.sampleRate / 2 // 500ms of audio
	samples := make([]float32, n)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = 0.3
		} else {
			samples[i] = -0.3
		}
	}
	wavData := audio.SamplesToWAV(samples, e.sampleRate)
	return engine.Result{
		Success:    true,
		Audio:      wavData,
		SampleRate: e.sampleRate,
		EngineUsed: e.name,
		VoiceUsed:  voice,
	}, nil
}
func (e *wavEngine) SupportedVoices() []string { return nil }
func (e *wavEngine) Info() map[string]any      { return map[string]any{"name": e.name} }

type recordingEmitter struct {
	chunks     []Chunk
	ended      []string
	errorCodes []string
}

func (r *recordingEmitter) EmitChunk(c Chunk) error {
	r.chunks = append(r.chunks, c)
	return nil
}
func (r *recordingEmitter) EmitSequenceEnd(sequenceID string) error {
	r.ended = append(r.ended, sequenceID)
	return nil
}
func (r *recordingEmitter) EmitError(sequenceID, code, message string) error {
	r.errorCodes = append(r.errorCodes, code)
	return nil
}

func newTestPipeline(t *testing.T, policy Policy) (*Pipeline, *recordingEmitter) {
	t.Helper()
	reg, err := registry.New()
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	m := tts.NewManager(reg, tts.WithBypassVoiceGate())
	piper := &wavEngine{name: "piper", sampleRate: 22050}
	zonos := &wavEngine{name: "zonos", sampleRate: 24000}
	if err := m.Initialize(context.Background(), []engine.Engine{piper, zonos}, "zonos"); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	p := NewPipeline(m, policy)
	return p, &recordingEmitter{}
}

func TestSynthesizeEmitsIntroAndMainChunksThenSequenceEnd(t *testing.T) {
	policy := DefaultPolicy()
	p, emit := newTestPipeline(t, policy)

	err := p.Synthesize(context.Background(), "seq-1", "Hello there, this is a test reply.", "de-thorsten-low", engine.Opts{}, emit)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	// Both piper (intro) and zonos (main) are registered, so the intro chunk
	// is emitted separately from the crossfaded main chunk.
	if len(emit.chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(emit.chunks))
	}
	if len(emit.ended) != 1 || emit.ended[0] != "seq-1" {
		t.Fatalf("ended = %v, want [seq-1]", emit.ended)
	}
	if emit.chunks[0].Engine != "piper" || emit.chunks[0].Index != 0 || emit.chunks[0].Total != 2 {
		t.Errorf("chunk[0] = %+v, want engine=piper index=0 total=2", emit.chunks[0])
	}
	if emit.chunks[1].Engine != "zonos" || emit.chunks[1].Index != 1 || emit.chunks[1].Total != 2 {
		t.Errorf("chunk[1] = %+v, want engine=zonos index=1 total=2", emit.chunks[1])
	}
	for _, c := range emit.chunks {
		if c.Format != "s16" {
			t.Errorf("Format = %q, want s16", c.Format)
		}
		if len(c.PCM) == 0 {
			t.Error("expected non-empty PCM")
		}
	}
}

func TestSynthesizeNoIntroEngineFallsBackToMainOnly(t *testing.T) {
	policy := DefaultPolicy()
	policy.IntroEngine = ""
	p, emit := newTestPipeline(t, policy)

	err := p.Synthesize(context.Background(), "seq-2", "short", "de-thorsten-low", engine.Opts{}, emit)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(emit.chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(emit.chunks))
	}
	if emit.chunks[0].Engine != "zonos" || emit.chunks[0].Index != 0 || emit.chunks[0].Total != 1 {
		t.Errorf("chunk[0] = %+v, want engine=zonos index=0 total=1", emit.chunks[0])
	}
}

func TestSynthesizeMainEngineFallsBackToPiper(t *testing.T) {
	reg, _ := registry.New()
	m := tts.NewManager(reg, tts.WithBypassVoiceGate())
	_ = m.Initialize(context.Background(), []engine.Engine{&wavEngine{name: "piper", sampleRate: 22050}}, "piper")

	policy := DefaultPolicy()
	policy.IntroEngine = ""
	policy.MainEngine = "zonos" // not registered; falls back to piper, which IS registered

	p := NewPipeline(m, policy)
	emit := &recordingEmitter{}
	err := p.Synthesize(context.Background(), "seq-3", "hello", "de-thorsten-low", engine.Opts{}, emit)
	// zonos unavailable falls back to piper, which is present, so this should succeed.
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(emit.chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(emit.chunks))
	}
}

func TestSynthesizeNoEngineAtAllEmitsError(t *testing.T) {
	reg, _ := registry.New()
	m := tts.NewManager(reg, tts.WithBypassVoiceGate())
	_ = m.Initialize(context.Background(), []engine.Engine{&wavEngine{name: "kokoro", sampleRate: 24000}}, "kokoro")

	policy := DefaultPolicy()
	policy.IntroEngine = ""
	policy.MainEngine = "zonos" // not registered, and fallback "piper" is also not registered

	p := NewPipeline(m, policy)
	emit := &recordingEmitter{}
	err := p.Synthesize(context.Background(), "seq-4", "hello", "de-thorsten-low", engine.Opts{}, emit)
	if err == nil {
		t.Fatal("expected error when no engine resolves")
	}
	if len(emit.errorCodes) != 1 || emit.errorCodes[0] != "tts_no_engine" {
		t.Errorf("errorCodes = %v, want [tts_no_engine]", emit.errorCodes)
	}
	if len(emit.ended) != 1 {
		t.Error("expected sequence_end even on failure")
	}
}

func TestIntroTextSplitsOnWordBoundary(t *testing.T) {
	got := introText("The quick brown fox jumps over the lazy dog", 12)
	if got != "The quick" {
		t.Errorf("introText = %q, want %q", got, "The quick")
	}
}

func TestIntroTextShorterThanMaxReturnsWhole(t *testing.T) {
	got := introText("short text", 100)
	if got != "short text" {
		t.Errorf("introText = %q, want unchanged", got)
	}
}

func TestCrossfadeLengthPreservesTotalMinusOverlap(t *testing.T) {
	intro := make([]float32, 1000)
	main := make([]float32, 1000)
	for i := range intro {
		intro[i] = 0.5
	}
	for i := range main {
		main[i] = -0.5
	}
	out := crossfade(intro, main, 16000, 10) // 160-sample overlap
	want := len(intro) + len(main) - 160
	if len(out) != want {
		t.Errorf("len(out) = %d, want %d", len(out), want)
	}
}

func TestCrossfadeNoOverlapConcatenates(t *testing.T) {
	intro := []float32{0.1, 0.2}
	main := []float32{0.3, 0.4}
	out := crossfade(intro, main, 16000, 0)
	if len(out) != 4 {
		t.Fatalf("len(out) = %d, want 4", len(out))
	}
}

func TestFloatsToPCM16Clips(t *testing.T) {
	samples := []float32{2.0, -2.0, 0.0}
	pcm := floatsToPCM16(samples)
	if len(pcm) != 6 {
		t.Fatalf("len(pcm) = %d, want 6", len(pcm))
	}
	v0 := int16(uint16(pcm[0]) | uint16(pcm[1])<<8)
	if v0 != 32767 {
		t.Errorf("v0 = %d, want 32767 (clipped)", v0)
	}
	v1 := int16(uint16(pcm[2]) | uint16(pcm[3])<<8)
	if v1 != -32767 {
		t.Errorf("v1 = %d, want -32767 (clipped)", v1)
	}
}

func TestLRUCacheEvicts(t *testing.T) {
	c := newLRUCache(2)
	c.Put("a", engine.Result{EngineUsed: "a"})
	c.Put("b", engine.Result{EngineUsed: "b"})
	c.Put("c", engine.Result{EngineUsed: "c"}) // evicts "a"
	if _, ok := c.Get("a"); ok {
		t.Error("expected a to be evicted")
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("expected b to remain")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("expected c to remain")
	}
}
