// Package stream implements the Stream Manager (C9): per-stream audio
// ingestion, VAD-driven finalization, and a bounded worker queue that hands
// finalized audio to an Orchestrator (STT -> route -> TTS).
package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hubenschmidt/voxgate/internal/audio"
)

var (
	ErrStreamUnknown    = errors.New("stream: unknown stream_id")
	ErrStreamInactive   = errors.New("stream: stream is not active")
	ErrBufferOverflow   = errors.New("stream: buffer overflow")
	ErrDurationExceeded = errors.New("stream: max audio duration exceeded")
)

// Job is a finalized stream's audio handed to the Orchestrator.
type Job struct {
	StreamID   string
	ClientID   string
	Audio      []byte
	SampleRate int
	TTSEngine  string
	TTSVoice   string
	TTSSpeed   float64
	TTSVolume  float64
}

// Result is what the Orchestrator produces for a finalized Job. The two
// per-stage duration fields let callers (session trace recording) attribute
// latency to STT versus intent routing instead of one opaque job duration.
type Result struct {
	StreamID        string
	Transcript      string
	ReplyText       string
	STTDurationMs   float64
	RouteDurationMs float64
	Err             error
}

// ResultCallback receives the Result for one stream's finalized job.
type ResultCallback func(Result)

// Orchestrator runs STT -> route -> TTS for one finalized stream. Process
// must respect ctx cancellation (connection close cancels dependent work).
type Orchestrator interface {
	Process(ctx context.Context, job Job) (Result, error)
}

// Stream is one audio-ingestion session: its buffer, optional VAD state,
// and lifecycle bookkeeping.
type Stream struct {
	ID           string
	ClientID     string
	SampleRate   int
	StartTime    time.Time
	LastActivity time.Time
	IsActive     bool
	ChunkCount   int

	TTSEngine string
	TTSVoice  string
	TTSSpeed  float64
	TTSVolume float64

	VADEnabled           bool
	VADAutoStopTriggered bool

	buffer *audio.Buffer
	vad    *audio.VAD

	cb ResultCallback

	ctx          context.Context
	cancel       context.CancelFunc
	finalizeOnce sync.Once
}

// Denoiser suppresses background noise on 16 kHz float32 samples before
// they reach VAD/buffering. Optional; nil disables the stage entirely.
type Denoiser interface {
	Denoise(samples []float32) []float32
}

// Config tunes a Manager.
type Config struct {
	QueueSize        int
	Workers          int
	MaxAudioDuration time.Duration
	BufferCapacity   int
	Denoiser         Denoiser
}

// DefaultConfig returns the baseline tuning: a 1000-deep queue and a
// bounded per-stream buffer of audio.DefaultBufferCapacity chunks.
func DefaultConfig() Config {
	return Config{
		QueueSize:        1000,
		Workers:          4,
		MaxAudioDuration: 120 * time.Second,
		BufferCapacity:   audio.DefaultBufferCapacity,
	}
}

// Manager owns every live Stream and the bounded job queue that feeds the
// Orchestrator.
type Manager struct {
	orchestrator Orchestrator
	cfg          Config

	mu      sync.Mutex
	streams map[string]*Stream

	queue chan Job
	wg    sync.WaitGroup
}

// NewManager constructs a Manager and starts cfg.Workers worker goroutines.
func NewManager(orchestrator Orchestrator, cfg Config) *Manager {
	m := &Manager{
		orchestrator: orchestrator,
		cfg:          cfg,
		streams:      map[string]*Stream{},
		queue:        make(chan Job, cfg.QueueSize),
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		m.wg.Add(1)
		go m.worker()
	}
	return m
}

// StartStream creates a Stream for clientID and returns its stream_id
// ("<client>_<rand8>"). cb is invoked at most once, with the finalized job's
// Result: normally from a worker goroutine, from Finalize's caller when the
// job queue is full, and not at all when the stream is cancelled.
func (m *Manager) StartStream(clientID string, sampleRate int, vadEnabled bool, ttsEngine, ttsVoice string, ttsSpeed, ttsVolume float64, cb ResultCallback) string {
	id := clientID + "_" + uuid.NewString()[:8]
	ctx, cancel := context.WithCancel(context.Background())

	s := &Stream{
		ID:           id,
		ClientID:     clientID,
		SampleRate:   sampleRate,
		StartTime:    time.Now(),
		LastActivity: time.Now(),
		IsActive:     true,
		TTSEngine:    ttsEngine,
		TTSVoice:     ttsVoice,
		TTSSpeed:     ttsSpeed,
		TTSVolume:    ttsVolume,
		VADEnabled:   vadEnabled,
		buffer:       audio.NewBuffer(m.cfg.BufferCapacity),
		cb:           cb,
		ctx:          ctx,
		cancel:       cancel,
	}
	if vadEnabled {
		s.vad = audio.New(audio.DefaultConfig(sampleRate))
	}

	m.mu.Lock()
	m.streams[id] = s
	m.mu.Unlock()
	return id
}

// PushChunk appends pcm to stream_id's buffer, runs VAD over it if enabled,
// and asynchronously finalizes on VAD auto-stop. Duplicate/out-of-order
// sequence numbers are accepted; ordering happens at Drain time inside
// Finalize.
func (m *Manager) PushChunk(streamID string, pcm []byte, sequence uint32, timestamp float64) error {
	m.mu.Lock()
	s, ok := m.streams[streamID]
	m.mu.Unlock()
	if !ok {
		return ErrStreamUnknown
	}

	m.mu.Lock()
	active := s.IsActive
	m.mu.Unlock()
	if !active {
		return ErrStreamInactive
	}

	if m.cfg.MaxAudioDuration > 0 && time.Since(s.StartTime) > m.cfg.MaxAudioDuration {
		slog.Warn("stream duration exceeded, no longer accepting audio", "stream_id", streamID)
		return ErrDurationExceeded
	}

	pcm = m.maybeDenoise(s, pcm)

	if !s.buffer.Push(audio.Chunk{PCM16: pcm, Sequence: sequence, Timestamp: timestamp, ClientID: s.ClientID, StreamID: streamID}) {
		return ErrBufferOverflow
	}

	m.mu.Lock()
	s.ChunkCount++
	s.LastActivity = time.Now()
	m.mu.Unlock()

	if s.VADEnabled && s.vad != nil {
		m.runVAD(streamID, s, pcm)
	}
	return nil
}

func (m *Manager) runVAD(streamID string, s *Stream, pcm []byte) {
	samples := pcm16ToFloat32(pcm)
	frameSize := s.vad.FrameSize()
	for i := 0; i+frameSize <= len(samples); i += frameSize {
		res := s.vad.Process(samples[i : i+frameSize])
		if res.AutoStop {
			m.mu.Lock()
			already := s.VADAutoStopTriggered
			s.VADAutoStopTriggered = true
			m.mu.Unlock()
			if !already {
				go func() {
					if err := m.Finalize(streamID); err != nil {
						slog.Warn("vad auto-stop finalize failed", "stream_id", streamID, "error", err)
					}
				}()
			}
		}
	}
}

// Finalize marks streamID inactive, drains its buffer in sequence order,
// and enqueues a Job. Concurrent or repeated calls for an already-finalized
// stream are a no-op.
func (m *Manager) Finalize(streamID string) error {
	m.mu.Lock()
	s, ok := m.streams[streamID]
	m.mu.Unlock()
	if !ok {
		return ErrStreamUnknown
	}

	s.finalizeOnce.Do(func() {
		m.mu.Lock()
		s.IsActive = false
		m.mu.Unlock()

		audioBytes := s.buffer.Drain()
		job := Job{
			StreamID:   streamID,
			ClientID:   s.ClientID,
			Audio:      audioBytes,
			SampleRate: s.SampleRate,
			TTSEngine:  s.TTSEngine,
			TTSVoice:   s.TTSVoice,
			TTSSpeed:   s.TTSSpeed,
			TTSVolume:  s.TTSVolume,
		}

		select {
		case m.queue <- job:
		default:
			// Queue saturated: fail this job immediately rather than block
			// the caller (which may be a VAD goroutine or the reader task).
			slog.Warn("stream queue saturated, dropping job", "stream_id", streamID)
			m.deliver(streamID, Result{StreamID: streamID, Err: errors.New("stream: processing queue full")})
			m.cleanup(streamID)
		}
	})
	return nil
}

// CancelStream cancels a stream's context and removes it without running an
// Orchestrator job, used when a connection closes before finalize.
func (m *Manager) CancelStream(streamID string) {
	m.mu.Lock()
	s, ok := m.streams[streamID]
	if ok {
		delete(m.streams, streamID)
	}
	m.mu.Unlock()
	if ok {
		s.cancel()
	}
}

// CancelClient cancels and removes every stream owned by clientID.
func (m *Manager) CancelClient(clientID string) {
	m.mu.Lock()
	var ids []string
	for id, s := range m.streams {
		if s.ClientID == clientID {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.CancelStream(id)
	}
}

// Active reports whether streamID exists and is still accepting audio.
func (m *Manager) Active(streamID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.streams[streamID]
	return ok && s.IsActive
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for job := range m.queue {
		m.mu.Lock()
		s := m.streams[job.StreamID]
		m.mu.Unlock()

		ctx := context.Background()
		if s != nil {
			ctx = s.ctx
		}

		result, err := m.orchestrator.Process(ctx, job)
		if err != nil {
			result.Err = err
			result.StreamID = job.StreamID
		}
		m.deliver(job.StreamID, result)
		m.cleanup(job.StreamID)
	}
}

func (m *Manager) deliver(streamID string, result Result) {
	m.mu.Lock()
	s, ok := m.streams[streamID]
	m.mu.Unlock()
	if !ok || s.cb == nil {
		return
	}
	s.cb(result)
}

func (m *Manager) cleanup(streamID string) {
	m.mu.Lock()
	if s, ok := m.streams[streamID]; ok {
		s.cancel()
		delete(m.streams, streamID)
	}
	m.mu.Unlock()
}

// maybeDenoise runs pcm through the configured Denoiser, if any. The
// denoiser is RNNoise-based and tuned for 16 kHz input, so streams at other
// sample rates pass through untouched.
func (m *Manager) maybeDenoise(s *Stream, pcm []byte) []byte {
	if m.cfg.Denoiser == nil || s.SampleRate != 16000 {
		return pcm
	}
	samples := pcm16ToFloat32(pcm)
	denoised := m.cfg.Denoiser.Denoise(samples)
	return float32ToPCM16(denoised)
}

func float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, f := range samples {
		v := int16(f * 32768.0)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

func pcm16ToFloat32(pcm16 []byte) []float32 {
	n := len(pcm16) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(uint16(pcm16[i*2]) | uint16(pcm16[i*2+1])<<8)
		out[i] = float32(v) / 32768.0
	}
	return out
}
