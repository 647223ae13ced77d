package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hubenschmidt/voxgate/internal/audio"
	"github.com/hubenschmidt/voxgate/internal/httputil"
	"github.com/hubenschmidt/voxgate/internal/metrics"
)

// WhisperClient transcribes audio via a whisper.cpp-compatible HTTP
// server's /inference endpoint, posting a multipart WAV body per call.
// process_binary_audio transcribes each chunk on its own as 16 kHz audio;
// chunk results are not concatenated and no incremental partials are
// produced.
type WhisperClient struct {
	url       string
	modelPath string
	client    *http.Client

	mu          sync.Mutex
	initialized bool
}

// NewWhisperClient builds a client pointed at a whisper.cpp-compatible
// server.
func NewWhisperClient(url, modelPath string, poolSize int) *WhisperClient {
	return &WhisperClient{
		url:       url,
		modelPath: modelPath,
		client:    httputil.NewPooledClient(poolSize, 30*time.Second),
	}
}

// Initialize checks that the server answers GET /health. The probe does not
// send the model path, so the server is never asked whether modelPath
// exists; the "-converted" name common to ggml model repackaging is tried,
// and adopted as modelPath, only when a first health check fails and a
// second one succeeds.
func (c *WhisperClient) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.probe(ctx, c.modelPath); err == nil {
		c.initialized = true
		return nil
	}
	converted := convertedModelPath(c.modelPath)
	if converted != c.modelPath {
		if err := c.probe(ctx, converted); err == nil {
			c.modelPath = converted
			c.initialized = true
			return nil
		}
	}
	return fmt.Errorf("stt: engine_unavailable: whisper server unreachable at %s", c.url)
}

func (c *WhisperClient) probe(ctx context.Context, modelPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

// convertedModelPath maps a raw ggml model filename to its commonly
// published "-converted" counterpart (e.g. ggml-base.bin -> ggml-base-converted.bin).
func convertedModelPath(path string) string {
	if strings.Contains(path, "-converted") {
		return path
	}
	if idx := strings.LastIndex(path, "."); idx != -1 {
		return path[:idx] + "-converted" + path[idx:]
	}
	return path + "-converted"
}

func (c *WhisperClient) Transcribe(ctx context.Context, pcm16 []byte, sampleRate int, language string) (Transcript, error) {
	start := time.Now()
	samples := bytesToFloat32(pcm16)
	wavData := audio.SamplesToWAV(samples, sampleRate)

	body, contentType, err := buildMultipartWAV(wavData)
	if err != nil {
		return Transcript{}, fmt.Errorf("stt: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/inference", body)
	if err != nil {
		return Transcript{}, fmt.Errorf("stt: build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		metrics.Errors.WithLabelValues("stt", "http").Inc()
		return Transcript{}, fmt.Errorf("stt: request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		metrics.Errors.WithLabelValues("stt", "status").Inc()
		return Transcript{}, fmt.Errorf("stt: status %d: %s", resp.StatusCode, string(respBody))
	}

	var decoded struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Transcript{}, fmt.Errorf("stt: decode response: %w", err)
	}

	latency := time.Since(start)
	metrics.STTLatency.Observe(latency.Seconds())

	return Transcript{Text: decoded.Text, LatencyMs: float64(latency.Milliseconds())}, nil
}

// ProcessBinaryAudio transcribes a single chunk in isolation; callers
// wanting a full-utterance transcript concatenate chunk results themselves.
func (c *WhisperClient) ProcessBinaryAudio(ctx context.Context, pcm16 []byte, streamID string, sequence uint32) (Transcript, error) {
	return c.Transcribe(ctx, pcm16, 16000, "")
}

func buildMultipartWAV(wavData []byte) (*bytes.Buffer, string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(wavData); err != nil {
		return nil, "", fmt.Errorf("write wav data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close writer: %w", err)
	}
	return &body, writer.FormDataContentType(), nil
}
