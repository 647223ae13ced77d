// Package registry implements the voice alias registry: canonicalization of
// voice identifiers and per-engine binding lookup with gating.
package registry

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed voices.json
var defaultVoicesJSON []byte

// canonicalForm matches a fully canonical voice identifier: xx-name-quality.
var canonicalForm = regexp.MustCompile(`^[a-z]{2}-[a-z0-9_]+-(low|medium|high)$`)

// localeForm matches a locale-tagged voice identifier: xx_YY-name-quality.
var localeForm = regexp.MustCompile(`^([a-z]{2})_[A-Z]{2}-(.+)$`)

// EngineVoice is the per-engine binding of a canonical voice.
type EngineVoice struct {
	Engine     string `json:"-" yaml:"-"`
	VoiceID    string `json:"voice_id" yaml:"voice_id"`
	ModelPath  string `json:"model_path,omitempty" yaml:"model_path,omitempty"`
	Language   string `json:"language" yaml:"language"`
	SampleRate int    `json:"sample_rate" yaml:"sample_rate"`
}

// Registry canonicalizes voice identifiers and resolves (voice, engine) to
// an EngineVoice binding. A missing binding means the engine is not allowed
// for that voice — this is the gate referenced throughout TTS Manager.
type Registry struct {
	bindings    map[string]map[string]EngineVoice // canonical voice -> engine -> binding
	aliases     map[string]string                 // alias (e.g. de_DE-thorsten-low) -> canonical
	bypassGate  bool
}

// Option configures a Registry at construction time.
type Option func(*Registry)

// WithBypassVoiceGate disables engine gating; every engine is considered
// allowed for every voice. Intended for tests only.
func WithBypassVoiceGate() Option {
	return func(r *Registry) { r.bypassGate = true }
}

// New builds a Registry from the embedded default voice table.
func New(opts ...Option) (*Registry, error) {
	return load(defaultVoicesJSON, false, opts...)
}

// LoadFile builds a Registry from an external JSON or YAML file, replacing
// the embedded default table entirely.
func LoadFile(path string, data []byte, opts ...Option) (*Registry, error) {
	isYAML := strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml")
	return load(data, isYAML, opts...)
}

func load(data []byte, isYAML bool, opts ...Option) (*Registry, error) {
	raw := map[string]map[string]EngineVoice{}
	var err error
	if isYAML {
		err = yaml.Unmarshal(data, &raw)
	} else {
		err = json.Unmarshal(data, &raw)
	}
	if err != nil {
		return nil, fmt.Errorf("registry: decode voice table: %w", err)
	}

	r := &Registry{
		bindings: map[string]map[string]EngineVoice{},
		aliases:  map[string]string{},
	}
	for voice, engines := range raw {
		perEngine := map[string]EngineVoice{}
		for engine, binding := range engines {
			binding.Engine = engine
			perEngine[engine] = binding
		}
		r.bindings[voice] = perEngine
		r.buildAliases(voice)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// buildAliases auto-generates the xx_YY-* alias for every xx-* canonical
// voice (policy: no duplication of bindings in config).
func (r *Registry) buildAliases(voice string) {
	m := canonicalForm.FindStringSubmatch(voice)
	if m == nil {
		return
	}
	lang := voice[:2]
	tail := voice[3:]
	region := strings.ToUpper(lang)
	alias := fmt.Sprintf("%s_%s-%s", lang, region, tail)
	r.aliases[alias] = voice
}

// Canonicalize normalizes a raw voice identifier to its canonical form.
// Locale-tagged input (xx_YY-tail) becomes xx-tail; already-canonical input
// is returned unchanged (canonicalize is idempotent).
func (r *Registry) Canonicalize(raw string) string {
	raw = strings.TrimSpace(raw)
	if m := localeForm.FindStringSubmatch(raw); m != nil {
		return m[1] + "-" + m[2]
	}
	return raw
}

// Resolve returns the EngineVoice binding for (voice, engine), canonicalizing
// voice first. ok is false when no binding exists — the engine is gated out
// for that voice — unless the registry was built WithBypassVoiceGate.
func (r *Registry) Resolve(voice, engine string) (EngineVoice, bool) {
	canon := r.Canonicalize(voice)
	perEngine, found := r.bindings[canon]
	if !found {
		if r.bypassGate {
			return EngineVoice{Engine: engine, VoiceID: canon}, true
		}
		return EngineVoice{}, false
	}
	binding, ok := perEngine[engine]
	if !ok {
		if r.bypassGate {
			return EngineVoice{Engine: engine, VoiceID: canon}, true
		}
		return EngineVoice{}, false
	}
	return binding, true
}

// EnginesFor returns the set of engines with an explicit binding for voice.
func (r *Registry) EnginesFor(voice string) []string {
	canon := r.Canonicalize(voice)
	perEngine, found := r.bindings[canon]
	if !found {
		return nil
	}
	engines := make([]string, 0, len(perEngine))
	for engine := range perEngine {
		engines = append(engines, engine)
	}
	return engines
}

// Allowed reports whether engine is gated-in for voice.
func (r *Registry) Allowed(voice, engine string) bool {
	_, ok := r.Resolve(voice, engine)
	return ok
}

// Voices returns every canonical voice known to the registry.
func (r *Registry) Voices() []string {
	voices := make([]string, 0, len(r.bindings))
	for v := range r.bindings {
		voices = append(voices, v)
	}
	return voices
}
