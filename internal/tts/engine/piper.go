package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/hubenschmidt/voxgate/internal/httputil"
)

// Piper wraps a Piper TTS HTTP sidecar: one ONNX model per voice, always
// emits a PCM16 mono WAV. Its sample rate comes from the model's sidecar
// metadata, fetched once during Initialize; a missing/unreachable metadata
// endpoint fails initialization rather than guessing a rate.
type Piper struct {
	url          string
	client       *http.Client
	defaultVoice string

	mu          sync.Mutex
	initialized bool
	sampleRate  int
	voices      []string
}

// NewPiper builds a Piper adapter pointed at an HTTP sidecar.
func NewPiper(url, defaultVoice string, poolSize int) *Piper {
	return &Piper{
		url:          url,
		client:       httputil.NewPooledClient(poolSize, 30*time.Second),
		defaultVoice: defaultVoice,
	}
}

func (p *Piper) Name() string { return "piper" }

func (p *Piper) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url+"/voices", nil)
	if err != nil {
		return fmt.Errorf("%s: %w", ErrEngineUnavailable, err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: piper sidecar unreachable: %w", ErrEngineUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: piper sidecar status %d", ErrEngineUnavailable, resp.StatusCode)
	}

	var meta struct {
		SampleRate int      `json:"sample_rate"`
		Voices     []string `json:"voices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return fmt.Errorf("%s: decode piper metadata: %w", ErrEngineUnavailable, err)
	}
	if meta.SampleRate == 0 {
		return fmt.Errorf("%s: piper model missing sample_rate metadata", ErrEngineUnavailable)
	}

	p.sampleRate = meta.SampleRate
	p.voices = meta.Voices
	p.initialized = true
	return nil
}

func (p *Piper) Synthesize(ctx context.Context, text, voice string, opts Opts) (Result, error) {
	start := time.Now()
	p.mu.Lock()
	initialized := p.initialized
	sampleRate := p.sampleRate
	p.mu.Unlock()
	if !initialized {
		return Result{}, ErrNotInitialized
	}
	if voice == "" {
		voice = p.defaultVoice
	}

	body, err := json.Marshal(map[string]any{
		"text":  text,
		"voice": voice,
		"speed": opts.Speed,
	})
	if err != nil {
		return Result{}, fmt.Errorf("piper: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url+"/synthesize", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("piper: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return Result{Success: false, ErrorKind: ErrSynthesisFailed, ErrorMessage: err.Error()}, nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Result{Success: false, ErrorKind: ErrSynthesisFailed, ErrorMessage: fmt.Sprintf("status %d", resp.StatusCode)}, nil
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{Success: false, ErrorKind: ErrSynthesisFailed, ErrorMessage: err.Error()}, nil
	}

	return Result{
		Success:          true,
		Audio:            audio,
		SampleRate:       sampleRate,
		Format:           FormatWAV,
		EngineUsed:       "piper",
		VoiceUsed:        voice,
		ProcessingTimeMs: float64(time.Since(start).Milliseconds()),
	}, nil
}

func (p *Piper) SupportedVoices() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.voices...)
}

func (p *Piper) Info() map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return map[string]any{
		"name":        "piper",
		"sample_rate": p.sampleRate,
		"initialized": p.initialized,
	}
}
