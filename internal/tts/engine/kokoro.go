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

const kokoroSampleRate = 24000

// Kokoro wraps a single multi-voice quantized ONNX model served behind an
// HTTP sidecar. Unlike Piper, one model instance serves every voice via a
// voice-embeddings file, so initialization doesn't need a per-voice rate
// lookup — the rate is fixed at 24 kHz.
type Kokoro struct {
	url          string
	client       *http.Client
	defaultVoice string

	mu          sync.Mutex
	initialized bool
	voices      []string
}

func NewKokoro(url, defaultVoice string, poolSize int) *Kokoro {
	return &Kokoro{
		url:          url,
		client:       httputil.NewPooledClient(poolSize, 30*time.Second),
		defaultVoice: defaultVoice,
	}
}

func (k *Kokoro) Name() string { return "kokoro" }

func (k *Kokoro) Initialize(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.url+"/voices", nil)
	if err != nil {
		return fmt.Errorf("%s: %w", ErrEngineUnavailable, err)
	}
	resp, err := k.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: kokoro sidecar unreachable: %w", ErrEngineUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: kokoro sidecar status %d", ErrEngineUnavailable, resp.StatusCode)
	}

	var meta struct {
		Voices []string `json:"voices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return fmt.Errorf("%s: decode kokoro metadata: %w", ErrEngineUnavailable, err)
	}

	k.voices = meta.Voices
	k.initialized = true
	return nil
}

func (k *Kokoro) Synthesize(ctx context.Context, text, voice string, opts Opts) (Result, error) {
	start := time.Now()
	k.mu.Lock()
	initialized := k.initialized
	k.mu.Unlock()
	if !initialized {
		return Result{}, ErrNotInitialized
	}
	if voice == "" {
		voice = k.defaultVoice
	}

	body, err := json.Marshal(map[string]any{
		"text":  text,
		"voice": voice,
		"speed": opts.Speed,
	})
	if err != nil {
		return Result{}, fmt.Errorf("kokoro: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.url+"/synthesize", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("kokoro: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := k.client.Do(req)
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
		SampleRate:       kokoroSampleRate,
		Format:           FormatWAV,
		EngineUsed:       "kokoro",
		VoiceUsed:        voice,
		ProcessingTimeMs: float64(time.Since(start).Milliseconds()),
	}, nil
}

func (k *Kokoro) SupportedVoices() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]string(nil), k.voices...)
}

func (k *Kokoro) Info() map[string]any {
	k.mu.Lock()
	defer k.mu.Unlock()
	return map[string]any{
		"name":        "kokoro",
		"sample_rate": kokoroSampleRate,
		"initialized": k.initialized,
	}
}
