// Package metrics exposes the gateway's Prometheus counters, gauges, and
// histograms via promauto, so every metric is registered exactly once and
// concurrency-safe for free.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesTotal counts inbound/outbound protocol messages by direction
	// and protocol framing ("text"/"binary").
	MessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_messages_total",
		Help: "Protocol messages processed, labeled by direction and protocol",
	}, []string{"direction", "protocol"})

	// Errors counts errors by stage and error kind (the codes in §6/§7).
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_errors_total",
		Help: "Error counts by stage and error kind",
	}, []string{"stage", "error_type"})

	TTSCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_tts_cache_hits_total",
		Help: "Staged TTS chunk cache hits",
	})

	TTSCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_tts_cache_misses_total",
		Help: "Staged TTS chunk cache misses",
	})

	TTSChunksEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_tts_chunks_emitted_total",
		Help: "TTS chunks emitted, labeled by engine",
	}, []string{"engine"})

	TTSSequenceTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_tts_sequence_timeouts_total",
		Help: "TTS sequence stage timeouts, labeled by engine",
	}, []string{"engine"})

	EngineUnavailable = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_engine_unavailable_total",
		Help: "Engine-unavailable events, labeled by engine",
	}, []string{"engine"})

	AudioBytesIn = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_audio_bytes_in_total",
		Help: "Audio bytes received from clients",
	})

	AudioBytesOut = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_audio_bytes_out_total",
		Help: "Audio bytes sent to clients",
	})

	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_active_connections",
		Help: "Currently open WebSocket connections",
	})

	STTLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gateway_stt_latency_seconds",
		Help:    "STT transcription latency",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	})

	TTSLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_tts_latency_seconds",
		Help:    "TTS synthesis latency, labeled by engine",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"engine"})

	AudioChunks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_audio_chunks_processed_total",
		Help: "Total audio chunks accepted into a stream buffer",
	})

	SpeechSegments = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_vad_speech_segments_total",
		Help: "Speech segments detected by VAD",
	})
)
