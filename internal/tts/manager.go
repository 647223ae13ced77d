// Package tts implements the TTS Manager (C4): a registry of engines with
// per-voice gating and single-shot synthesis dispatch.
package tts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hubenschmidt/voxgate/internal/dispatch"
	"github.com/hubenschmidt/voxgate/internal/metrics"
	"github.com/hubenschmidt/voxgate/internal/registry"
	"github.com/hubenschmidt/voxgate/internal/sanitize"
	"github.com/hubenschmidt/voxgate/internal/tts/engine"
)

// ErrNoEngine is returned when no engine could be resolved or all
// configured engines failed to initialize.
var ErrNoEngine = fmt.Errorf("tts: %s", engine.ErrEngineUnavailable)

// ErrVoiceEngineMismatch is returned when the resolved engine is not gated
// in for the requested voice.
var ErrVoiceEngineMismatch = fmt.Errorf("tts: %s", engine.ErrVoiceNotSupported)

// Manager holds the engine registry, tracks which engines initialized
// successfully, and dispatches single-shot synthesis calls.
type Manager struct {
	registry *registry.Registry

	mu               sync.RWMutex
	engines          map[string]engine.Engine
	unavailable      map[string]string // engine name -> reason
	defaultEngine    string
	switchingEnabled bool
	bypassVoiceGate  bool
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithSwitchingEnabled allows SwitchEngine to change the manager default at
// runtime (env ENABLE_TTS_SWITCHING).
func WithSwitchingEnabled(enabled bool) Option {
	return func(m *Manager) { m.switchingEnabled = enabled }
}

// WithBypassVoiceGate disables engine_allowed_for_voice checks. Intended for
// testing only; the gateway binary never applies it, and
// STAGED_TTS_IGNORE_VOICE_CAPS only relaxes the staged pipeline's own engine
// planning, not this gate.
func WithBypassVoiceGate() Option {
	return func(m *Manager) { m.bypassVoiceGate = true }
}

// NewManager constructs a Manager bound to reg.
func NewManager(reg *registry.Registry, opts ...Option) *Manager {
	m := &Manager{
		registry:    reg,
		engines:     map[string]engine.Engine{},
		unavailable: map[string]string{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Initialize initializes every engine in engines, recording failures as
// unavailable rather than aborting. At least one engine must succeed.
// defaultEngine becomes the manager's default when no explicit/voice-bound
// engine resolves a request.
func (m *Manager) Initialize(ctx context.Context, engines []engine.Engine, defaultEngine string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	succeeded := 0
	for _, e := range engines {
		if err := e.Initialize(ctx); err != nil {
			m.unavailable[e.Name()] = err.Error()
			metrics.EngineUnavailable.WithLabelValues(e.Name()).Inc()
			continue
		}
		m.engines[e.Name()] = e
		succeeded++
	}
	if succeeded == 0 {
		return ErrNoEngine
	}
	m.defaultEngine = defaultEngine
	return nil
}

func (m *Manager) router() *dispatch.Router[engine.Engine] {
	m.mu.RLock()
	defer m.mu.RUnlock()
	backends := make(map[string]engine.Engine, len(m.engines))
	for k, v := range m.engines {
		backends[k] = v
	}
	return dispatch.NewRouter(backends, m.defaultEngine)
}

// resolveEngine implements the precedence in spec: explicit engine arg ->
// voice-bound default (first allowed engine for the voice) -> manager
// default.
func (m *Manager) resolveEngine(explicit, voice string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if explicit != "" {
		if _, ok := m.engines[explicit]; ok {
			return explicit, true
		}
	}
	for _, candidate := range m.registry.EnginesFor(voice) {
		if _, ok := m.engines[candidate]; ok {
			return candidate, true
		}
	}
	if _, ok := m.engines[m.defaultEngine]; ok {
		return m.defaultEngine, true
	}
	return "", false
}

// EngineAllowedForVoice looks up the registry gate for (engine, voice).
func (m *Manager) EngineAllowedForVoice(engineName, voice string) bool {
	if m.bypassVoiceGate {
		return true
	}
	return m.registry.Allowed(voice, engineName)
}

// Synthesize picks an engine per the precedence above, canonicalizes and
// re-sanitizes the text as a final guard, validates the voice/engine gate,
// and dispatches. An explicit engineName that the gate rejects for voice
// fails with ErrVoiceEngineMismatch even when that engine is not loaded. Latency and per-engine counters are recorded regardless
// of outcome.
func (m *Manager) Synthesize(ctx context.Context, text, engineName, voice string, opts engine.Opts) (engine.Result, error) {
	canonVoice := m.registry.Canonicalize(voice)
	text = sanitize.Sanitize(text)

	if engineName != "" && !m.EngineAllowedForVoice(engineName, canonVoice) {
		metrics.Errors.WithLabelValues("tts_manager", "voice_engine_mismatch").Inc()
		return engine.Result{Success: false, ErrorKind: engine.ErrVoiceNotSupported, ErrorMessage: fmt.Sprintf("engine %q not allowed for voice %q", engineName, canonVoice)}, ErrVoiceEngineMismatch
	}

	resolved, ok := m.resolveEngine(engineName, canonVoice)
	if !ok {
		return engine.Result{}, ErrNoEngine
	}

	if !m.EngineAllowedForVoice(resolved, canonVoice) {
		metrics.Errors.WithLabelValues("tts_manager", "voice_engine_mismatch").Inc()
		return engine.Result{Success: false, ErrorKind: engine.ErrVoiceNotSupported, ErrorMessage: fmt.Sprintf("engine %q not allowed for voice %q", resolved, canonVoice)}, ErrVoiceEngineMismatch
	}

	eng, err := m.router().Route(resolved)
	if err != nil {
		return engine.Result{}, ErrNoEngine
	}

	start := time.Now()
	result, err := eng.Synthesize(ctx, text, canonVoice, opts)
	metrics.TTSLatency.WithLabelValues(resolved).Observe(time.Since(start).Seconds())
	if err != nil || !result.Success {
		metrics.Errors.WithLabelValues("tts_manager", string(engine.ErrSynthesisFailed)).Inc()
	}
	return result, err
}

// SwitchEngine flips the manager default, when switching is enabled.
func (m *Manager) SwitchEngine(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.switchingEnabled {
		return fmt.Errorf("tts: engine switching disabled")
	}
	if _, ok := m.engines[name]; !ok {
		return fmt.Errorf("tts: engine %q not available", name)
	}
	m.defaultEngine = name
	return nil
}

// AvailableEngines returns the names of every successfully initialized
// engine.
func (m *Manager) AvailableEngines() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.engines))
	for k := range m.engines {
		names = append(names, k)
	}
	return names
}

// Unavailable returns engine name -> failure reason for engines that did
// not successfully initialize.
func (m *Manager) Unavailable() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.unavailable))
	for k, v := range m.unavailable {
		out[k] = v
	}
	return out
}

// DefaultEngine returns the manager's current default engine name.
func (m *Manager) DefaultEngine() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defaultEngine
}

// Has reports whether engine name initialized successfully.
func (m *Manager) Has(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.engines[name]
	return ok
}
