package main

import (
	"time"

	"github.com/hubenschmidt/voxgate/internal/env"
	"github.com/hubenschmidt/voxgate/internal/prompts"
	"github.com/hubenschmidt/voxgate/internal/tts/staged"
)

// config holds every environment-driven knob the gateway is wired from,
// grouped by the transport/audio/STT/VAD/TTS/staged/LLM/auth env var sets.
type config struct {
	// Transport
	wsHost         string
	wsPort         string
	metricsPort    string
	allowedIPs     []string
	pingInterval   time.Duration
	pingTimeout    time.Duration
	maxConnections int

	// Audio
	sampleRate     int
	audioChannels  int
	maxChunkBuffer int
	maxAudioDur    time.Duration

	// STT
	sttBackendURL string
	sttModelPath  string
	sttPoolSize   int

	// VAD
	vadEnabled bool

	// TTS
	ttsEngine       string
	ttsVoice        string
	ttsSpeed        float64
	ttsVolume       float64
	enableTTSSwitch bool
	piperURL         string
	kokoroURL        string
	zonosURL         string
	zonosSpkCacheDir string
	ttsPoolSize      int

	// Staged TTS
	staged staged.Policy

	// LLM
	llmEnabled      bool
	llmAPIBase      string
	llmAPIKey       string
	llmDefaultModel string
	llmTemperature  float64
	llmMaxTokens    int
	llmMaxTurns     int
	llmTimeout      time.Duration
	systemPrompt    string

	// External workflow / classifier collaborators
	workflowURL   string
	classifierURL string

	// Auth
	jwtSecret     string
	jwtBypass     bool
	jwtAllowPlain bool

	// Trace store (ADD component)
	tracePostgresURL string

	// Logging
	logLevel string
	logJSON  bool
}

func loadConfig() config {
	return config{
		wsHost:         env.Str("WS_HOST", "0.0.0.0"),
		wsPort:         env.Str("WS_PORT", "8000"),
		metricsPort:    env.Str("METRICS_PORT", "9100"),
		allowedIPs:     splitCSV(env.Str("ALLOWED_IPS", "")),
		pingInterval:   env.Duration("PING_INTERVAL", 20*time.Second),
		pingTimeout:    env.Duration("PING_TIMEOUT", 10*time.Second),
		maxConnections: env.Int("MAX_CONNECTIONS", 500),

		sampleRate:     env.Int("SAMPLE_RATE", 16000),
		audioChannels:  env.Int("AUDIO_CHANNELS", 1),
		maxChunkBuffer: env.Int("MAX_CHUNK_BUFFER", 50),
		maxAudioDur:    env.Duration("MAX_AUDIO_DURATION", 120*time.Second),

		sttBackendURL: env.Str("STT_BACKEND_URL", ""),
		sttModelPath:  env.Str("STT_MODEL_PATH", ""),
		sttPoolSize:   env.Int("STT_WORKERS", 4),

		vadEnabled: env.Bool("VAD_ENABLED", true),

		ttsEngine:       env.Str("TTS_ENGINE", "zonos"),
		ttsVoice:        env.Str("TTS_VOICE", "en-amy-medium"),
		ttsSpeed:        env.Float("TTS_SPEED", 1.0),
		ttsVolume:       env.Float("TTS_VOLUME", 1.0),
		enableTTSSwitch: env.Bool("ENABLE_TTS_SWITCHING", true),
		piperURL:         env.Str("TTS_PIPER_URL", ""),
		kokoroURL:        env.Str("TTS_KOKORO_URL", ""),
		zonosURL:         env.Str("TTS_ZONOS_URL", ""),
		zonosSpkCacheDir: env.Str("TTS_MODEL_DIR", "/models") + "/zonos-speakers",
		ttsPoolSize:      env.Int("TTS_POOL_SIZE", 20),

		staged: loadStagedPolicy(),

		llmEnabled:      env.Bool("LLM_ENABLED", true),
		llmAPIBase:      env.Str("LLM_API_BASE", "http://localhost:11434"),
		llmAPIKey:       env.Str("LLM_API_KEY", ""),
		llmDefaultModel: env.Str("LLM_DEFAULT_MODEL", "llama3.2:3b"),
		llmTemperature:  env.Float("LLM_TEMPERATURE", 0.7),
		llmMaxTokens:    env.Int("LLM_MAX_TOKENS", 512),
		llmMaxTurns:     env.Int("LLM_MAX_TURNS", 10),
		llmTimeout:      env.Duration("LLM_TIMEOUT_SECONDS", 30*time.Second),
		systemPrompt:    prompts.ForSession(env.Str("LLM_SYSTEM_PROMPT", "")),

		workflowURL:   env.Str("EXTERNAL_WORKFLOW_URL", ""),
		classifierURL: env.Str("CLASSIFY_URL", ""),

		jwtSecret:     env.Str("JWT_SECRET", ""),
		jwtBypass:     env.Bool("JWT_BYPASS", false),
		jwtAllowPlain: env.Bool("JWT_ALLOW_PLAIN", true),

		tracePostgresURL: env.Str("TRACE_POSTGRES_URL", ""),

		logLevel: env.Str("GATEWAY_LOG_LEVEL", "info"),
		logJSON:  env.Bool("GATEWAY_LOG_JSON", true),
	}
}

func loadStagedPolicy() staged.Policy {
	p := staged.DefaultPolicy()
	p.IntroEngine = env.Str("STAGED_TTS_INTRO_ENGINE", p.IntroEngine)
	p.MainEngine = env.Str("STAGED_TTS_MAIN_ENGINE", p.MainEngine)
	p.MaxIntroLength = env.Int("STAGED_TTS_MAX_INTRO_LENGTH", p.MaxIntroLength)
	p.IntroTimeoutMs = env.Int("STAGED_TTS_INTRO_TIMEOUT_MS", p.IntroTimeoutMs)
	p.MainTimeoutMs = env.Int("STAGED_TTS_MAIN_TIMEOUT_MS", p.MainTimeoutMs)
	p.FirstCallFactor = env.Float("STAGED_TTS_FIRST_CALL_FACTOR", p.FirstCallFactor)
	p.CrossfadeMs = env.Int("STAGED_TTS_CROSSFADE_MS", p.CrossfadeMs)
	p.IgnoreVoiceCaps = env.Bool("STAGED_TTS_IGNORE_VOICE_CAPS", p.IgnoreVoiceCaps)
	p.MaxChunks = env.Int("STAGED_TTS_MAX_CHUNKS", p.MaxChunks)
	p.EnableCaching = env.Bool("STAGED_TTS_ENABLE_CACHING", p.EnableCaching)
	p.CacheSize = env.Int("STAGED_TTS_CACHE_SIZE", p.CacheSize)
	p.TargetSampleRate = env.Int("TTS_TARGET_SR", p.TargetSampleRate)
	return p
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
