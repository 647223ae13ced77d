package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hubenschmidt/voxgate/internal/httputil"
)

const zonosSampleRate = 24000

// zonosLanguages normalizes a requested language code to the form the
// Zonos sidecar accepts. Unlisted codes are rejected.
var zonosLanguages = map[string]string{
	"de":    "de",
	"de-de": "de",
	"en":    "en-us",
	"en-us": "en-us",
	"en-gb": "en-gb",
}

// speakerExts are the accepted speaker-sample extensions, matched
// case-insensitively against files in spkCacheDir.
var speakerExts = []string{".wav", ".mp3", ".flac", ".ogg"}

// Zonos wraps a speaker-conditioned generative TTS sidecar. Unlike Piper and
// Kokoro, each voice is a speaker sample on disk (spk_cache/<voice>.*); the
// speaker embedding is expensive and is built once per speaker and reused
// across calls.
type Zonos struct {
	url         string
	client      *http.Client
	spkCacheDir string

	mu         sync.Mutex
	embedded   map[string]bool
	initialized bool
}

func NewZonos(url, spkCacheDir string, poolSize int) *Zonos {
	return &Zonos{
		url:         url,
		client:      httputil.NewPooledClient(poolSize, 45*time.Second),
		spkCacheDir: spkCacheDir,
		embedded:    map[string]bool{},
	}
}

func (z *Zonos) Name() string { return "zonos" }

func (z *Zonos) Initialize(ctx context.Context) error {
	z.mu.Lock()
	defer z.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, z.url+"/health", nil)
	if err != nil {
		return fmt.Errorf("%s: %w", ErrEngineUnavailable, err)
	}
	resp, err := z.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: zonos sidecar unreachable: %w", ErrEngineUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: zonos sidecar status %d", ErrEngineUnavailable, resp.StatusCode)
	}

	z.initialized = true
	return nil
}

// findSpeakerSample resolves voice to a speaker sample path, matching
// extensions case-insensitively.
func (z *Zonos) findSpeakerSample(voice string) (string, error) {
	entries, err := os.ReadDir(z.spkCacheDir)
	if err != nil {
		return "", fmt.Errorf("zonos: read spk_cache: %w", err)
	}
	wantName := strings.ToLower(voice)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := strings.ToLower(filepath.Ext(name))
		base := strings.ToLower(strings.TrimSuffix(name, filepath.Ext(name)))
		if base != wantName {
			continue
		}
		for _, want := range speakerExts {
			if ext == want {
				return filepath.Join(z.spkCacheDir, name), nil
			}
		}
	}
	return "", fmt.Errorf("zonos: no speaker sample for voice %q", voice)
}

// ensureEmbedding builds the speaker embedding once per speaker and caches
// the fact it has been built; the sidecar itself is responsible for caching
// the embedding tensor.
func (z *Zonos) ensureEmbedding(ctx context.Context, voice, samplePath string) error {
	z.mu.Lock()
	if z.embedded[voice] {
		z.mu.Unlock()
		return nil
	}
	z.mu.Unlock()

	body, err := json.Marshal(map[string]string{"voice": voice, "sample_path": samplePath})
	if err != nil {
		return fmt.Errorf("zonos: marshal embed request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, z.url+"/embed_speaker", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("zonos: build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := z.client.Do(req)
	if err != nil {
		return fmt.Errorf("zonos: embed speaker: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("zonos: embed speaker status %d", resp.StatusCode)
	}

	z.mu.Lock()
	z.embedded[voice] = true
	z.mu.Unlock()
	return nil
}

func (z *Zonos) Synthesize(ctx context.Context, text, voice string, opts Opts) (Result, error) {
	start := time.Now()
	z.mu.Lock()
	initialized := z.initialized
	z.mu.Unlock()
	if !initialized {
		return Result{}, ErrNotInitialized
	}

	lang := strings.ToLower(opts.Language)
	normLang, ok := zonosLanguages[lang]
	if !ok {
		return Result{Success: false, ErrorKind: ErrVoiceNotSupported, ErrorMessage: fmt.Sprintf("unsupported language %q", opts.Language)}, nil
	}

	samplePath, err := z.findSpeakerSample(voice)
	if err != nil {
		return Result{Success: false, ErrorKind: ErrVoiceNotSupported, ErrorMessage: err.Error()}, nil
	}
	if err := z.ensureEmbedding(ctx, voice, samplePath); err != nil {
		return Result{Success: false, ErrorKind: ErrSynthesisFailed, ErrorMessage: err.Error()}, nil
	}

	body, err := json.Marshal(map[string]any{
		"text":     text,
		"voice":    voice,
		"language": normLang,
		"speed":    opts.Speed,
	})
	if err != nil {
		return Result{}, fmt.Errorf("zonos: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, z.url+"/synthesize", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("zonos: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := z.client.Do(req)
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
		SampleRate:       zonosSampleRate,
		Format:           FormatWAV,
		EngineUsed:       "zonos",
		VoiceUsed:        voice,
		ProcessingTimeMs: float64(time.Since(start).Milliseconds()),
	}, nil
}

func (z *Zonos) SupportedVoices() []string {
	entries, err := os.ReadDir(z.spkCacheDir)
	if err != nil {
		return nil
	}
	voices := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := strings.ToLower(filepath.Ext(name))
		for _, want := range speakerExts {
			if ext == want {
				voices = append(voices, strings.TrimSuffix(name, filepath.Ext(name)))
				break
			}
		}
	}
	return voices
}

func (z *Zonos) Info() map[string]any {
	z.mu.Lock()
	defer z.mu.Unlock()
	return map[string]any{
		"name":        "zonos",
		"sample_rate": zonosSampleRate,
		"initialized": z.initialized,
	}
}
