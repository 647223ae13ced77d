// Package staged implements the Staged TTS Pipeline (C5): an intro chunk
// synthesized by a fast engine while a quality engine renders the main
// chunk, the two crossfaded into one continuous stream.
package staged

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hubenschmidt/voxgate/internal/audio"
	"github.com/hubenschmidt/voxgate/internal/metrics"
	"github.com/hubenschmidt/voxgate/internal/tts"
	"github.com/hubenschmidt/voxgate/internal/tts/engine"
)

// Policy is the env-driven staged-synthesis configuration (STAGED_TTS_*).
type Policy struct {
	IntroEngine      string
	MainEngine       string
	MaxIntroLength   int
	IntroTimeoutMs   int
	MainTimeoutMs    int
	FirstCallFactor  float64
	CrossfadeMs      int
	IgnoreVoiceCaps  bool
	MaxChunks        int
	EnableCaching    bool
	CacheSize        int
	TargetSampleRate int // 0 means "use the main engine's native rate"
}

// DefaultPolicy returns the baseline staged-synthesis policy, overridable
// per field via STAGED_TTS_* environment variables.
func DefaultPolicy() Policy {
	return Policy{
		IntroEngine:     "piper",
		MainEngine:      "zonos",
		MaxIntroLength:  120,
		IntroTimeoutMs:  2000,
		MainTimeoutMs:   6000,
		FirstCallFactor: 2.0,
		CrossfadeMs:     150,
		MaxChunks:       4,
		EnableCaching:   true,
		CacheSize:       64,
	}
}

// Chunk is one emitted audio segment of a sequence.
type Chunk struct {
	SequenceID  string
	Index       int
	Total       int
	Engine      string
	SampleRate  int
	Format      string // "s16"
	PCM         []byte
	CrossfadeMs int
}

// Emitter receives ordered chunks for a sequence, terminated by exactly one
// EmitSequenceEnd call.
type Emitter interface {
	EmitChunk(Chunk) error
	EmitSequenceEnd(sequenceID string) error
	EmitError(sequenceID, code, message string) error
}

// Pipeline drives intro/main synthesis, resampling, and crossfade for one
// manager.
type Pipeline struct {
	manager *tts.Manager
	policy  Policy

	cache *lruCache

	mu        sync.Mutex
	firstCall map[string]bool // engine name -> has synthesized once
}

// NewPipeline builds a Pipeline bound to manager.
func NewPipeline(manager *tts.Manager, policy Policy) *Pipeline {
	var cache *lruCache
	if policy.EnableCaching && policy.CacheSize > 0 {
		cache = newLRUCache(policy.CacheSize)
	}
	return &Pipeline{
		manager:   manager,
		policy:    policy,
		cache:     cache,
		firstCall: map[string]bool{},
	}
}

// planResult is the resolved intro/main engine choice for one sequence.
type planResult struct {
	introEngine string // "" means no intro
	mainEngine  string
}

// plan resolves intro_engine_effective and main_engine_effective per the
// documented precedence: requested engine if available and voice-allowed,
// else fallback chain [main, piper] for main, or no intro at all.
func (p *Pipeline) plan(voice string) (planResult, error) {
	var pr planResult

	if p.policy.IntroEngine != "" && p.engineUsable(p.policy.IntroEngine, voice) {
		pr.introEngine = p.policy.IntroEngine
	}

	chain := []string{p.policy.MainEngine, "piper"}
	for _, candidate := range chain {
		if candidate == "" {
			continue
		}
		if p.engineUsable(candidate, voice) {
			pr.mainEngine = candidate
			break
		}
	}
	if pr.mainEngine == "" {
		return pr, fmt.Errorf("staged: %s", engine.ErrEngineUnavailable)
	}
	return pr, nil
}

func (p *Pipeline) engineUsable(engineName, voice string) bool {
	if !p.manager.Has(engineName) {
		return false
	}
	if p.policy.IgnoreVoiceCaps {
		return true
	}
	return p.manager.EngineAllowedForVoice(engineName, voice)
}

// introText splits reply_text at the word boundary at or before
// MaxIntroLength runes.
func introText(replyText string, maxLen int) string {
	runes := []rune(replyText)
	if maxLen <= 0 || len(runes) <= maxLen {
		return strings.TrimSpace(replyText)
	}
	cut := string(runes[:maxLen])
	if idx := strings.LastIndexAny(cut, " \n\t"); idx > 0 {
		cut = cut[:idx]
	}
	return strings.TrimSpace(cut)
}

// timeoutFor returns the timeout for engineName, multiplied by
// FirstCallFactor the first time this pipeline synthesizes with it (model
// warmup).
func (p *Pipeline) timeoutFor(engineName string, baseMs int) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	factor := 1.0
	if !p.firstCall[engineName] {
		factor = p.policy.FirstCallFactor
		if factor <= 0 {
			factor = 1.0
		}
		p.firstCall[engineName] = true
	}
	return time.Duration(float64(baseMs)*factor) * time.Millisecond
}

// cacheKey derives the chunk-cache key for (text, voice, engineName, opts).
func cacheKey(text, voice, engineName string, opts engine.Opts) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%f|%f|%s", text, voice, engineName, opts.Speed, opts.Volume, opts.Language)
	return hex.EncodeToString(h.Sum(nil))
}

func (p *Pipeline) synthesizeCached(ctx context.Context, text, engineName, voice string, opts engine.Opts) (engine.Result, error) {
	if p.cache == nil {
		return p.manager.Synthesize(ctx, text, engineName, voice, opts)
	}
	key := cacheKey(text, voice, engineName, opts)
	if cached, ok := p.cache.Get(key); ok {
		metrics.TTSCacheHits.Inc()
		return cached, nil
	}
	metrics.TTSCacheMisses.Inc()
	result, err := p.manager.Synthesize(ctx, text, engineName, voice, opts)
	if err == nil && result.Success {
		p.cache.Put(key, result)
	}
	return result, err
}

// Synthesize runs the full staged pipeline for one reply and drives emit
// with the resulting chunk(s), always terminating with EmitSequenceEnd.
func (p *Pipeline) Synthesize(ctx context.Context, sequenceID, replyText, voice string, opts engine.Opts, emit Emitter) error {
	plan, err := p.plan(voice)
	if err != nil {
		emit.EmitError(sequenceID, "tts_no_engine", err.Error())
		emit.EmitSequenceEnd(sequenceID)
		return err
	}

	var introResult, mainResult engine.Result
	var introErr error

	g, gctx := errgroup.WithContext(ctx)

	if plan.introEngine != "" {
		g.Go(func() error {
			introCtx, cancel := context.WithTimeout(gctx, p.timeoutFor(plan.introEngine, p.policy.IntroTimeoutMs))
			defer cancel()
			text := introText(replyText, p.policy.MaxIntroLength)
			res, err := p.synthesizeCached(introCtx, text, plan.introEngine, voice, opts)
			if err != nil || !res.Success {
				// Intro failure is never fatal.
				introErr = err
				slog.Warn("staged tts intro failed, continuing main-only", "engine", plan.introEngine, "error", err)
				return nil
			}
			introResult = res
			return nil
		})
	}

	g.Go(func() error {
		mainCtx, cancel := context.WithTimeout(gctx, p.timeoutFor(plan.mainEngine, p.policy.MainTimeoutMs))
		defer cancel()
		res, err := p.synthesizeCached(mainCtx, replyText, plan.mainEngine, voice, opts)
		if err != nil || !res.Success {
			return fmt.Errorf("staged: main synth failed: %w", err)
		}
		mainResult = res
		return nil
	})

	if err := g.Wait(); err != nil {
		metrics.Errors.WithLabelValues("staged_tts", "tts_synthesis_failed").Inc()
		emit.EmitError(sequenceID, "tts_synthesis_failed", err.Error())
		emit.EmitSequenceEnd(sequenceID)
		return err
	}
	_ = introErr // already logged above; surfaced only for readability here

	targetRate := p.policy.TargetSampleRate
	if targetRate <= 0 {
		targetRate = mainResult.SampleRate
	}

	mainSamples, _, err := audio.WAVToSamples(mainResult.Audio)
	if err != nil {
		emit.EmitError(sequenceID, "tts_synthesis_failed", err.Error())
		emit.EmitSequenceEnd(sequenceID)
		return fmt.Errorf("staged: decode main audio: %w", err)
	}
	mainSamples = audio.Resample(mainSamples, mainResult.SampleRate, targetRate)

	var introHead, mainTail []float32
	haveIntro := false
	if introResult.Success {
		if introSamples, _, err := audio.WAVToSamples(introResult.Audio); err == nil {
			introSamples = audio.Resample(introSamples, introResult.SampleRate, targetRate)
			introHead, mainTail = splitForCrossfade(introSamples, mainSamples, targetRate, p.policy.CrossfadeMs)
			haveIntro = true
		}
	}

	if !haveIntro {
		chunk := Chunk{
			SequenceID:  sequenceID,
			Index:       0,
			Total:       1,
			Engine:      plan.mainEngine,
			SampleRate:  targetRate,
			Format:      "s16",
			PCM:         floatsToPCM16(mainSamples),
			CrossfadeMs: p.policy.CrossfadeMs,
		}
		if err := emit.EmitChunk(chunk); err != nil {
			emit.EmitSequenceEnd(sequenceID)
			return err
		}
		return emit.EmitSequenceEnd(sequenceID)
	}

	introChunk := Chunk{
		SequenceID:  sequenceID,
		Index:       0,
		Total:       2,
		Engine:      plan.introEngine,
		SampleRate:  targetRate,
		Format:      "s16",
		PCM:         floatsToPCM16(introHead),
		CrossfadeMs: p.policy.CrossfadeMs,
	}
	mainChunk := Chunk{
		SequenceID:  sequenceID,
		Index:       1,
		Total:       2,
		Engine:      plan.mainEngine,
		SampleRate:  targetRate,
		Format:      "s16",
		PCM:         floatsToPCM16(mainTail),
		CrossfadeMs: p.policy.CrossfadeMs,
	}
	if err := emit.EmitChunk(introChunk); err != nil {
		emit.EmitSequenceEnd(sequenceID)
		return err
	}
	if err := emit.EmitChunk(mainChunk); err != nil {
		emit.EmitSequenceEnd(sequenceID)
		return err
	}
	return emit.EmitSequenceEnd(sequenceID)
}
