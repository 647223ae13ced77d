package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hubenschmidt/voxgate/internal/connmgr"
	"github.com/hubenschmidt/voxgate/internal/denoise"
	"github.com/hubenschmidt/voxgate/internal/env"
	"github.com/hubenschmidt/voxgate/internal/registry"
	"github.com/hubenschmidt/voxgate/internal/router"
	"github.com/hubenschmidt/voxgate/internal/stream"
	"github.com/hubenschmidt/voxgate/internal/stt"
	"github.com/hubenschmidt/voxgate/internal/trace"
	"github.com/hubenschmidt/voxgate/internal/tts"
	"github.com/hubenschmidt/voxgate/internal/tts/engine"
	"github.com/hubenschmidt/voxgate/internal/tts/staged"
	"github.com/hubenschmidt/voxgate/internal/ws"
)

func main() {
	cfg := loadConfig()

	level := slog.LevelInfo
	if cfg.logLevel == "debug" {
		level = slog.LevelDebug
	} else if cfg.logLevel == "warn" {
		level = slog.LevelWarn
	} else if cfg.logLevel == "error" {
		level = slog.LevelError
	}
	var handler slog.Handler
	if cfg.logJSON {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))

	reg, err := registry.New()
	if err != nil {
		slog.Error("voice registry load failed", "error", err)
		os.Exit(1)
	}

	ttsMgr := tts.NewManager(reg, tts.WithSwitchingEnabled(cfg.enableTTSSwitch))
	engines, defaultEngine := buildTTSEngines(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := ttsMgr.Initialize(ctx, engines, defaultEngine); err != nil {
		cancel()
		slog.Error("tts manager initialize failed", "error", err)
		os.Exit(1)
	}
	cancel()

	var dn *denoise.Denoiser
	if env.Bool("AUDIO_DENOISE_ENABLED", false) {
		dn = denoise.New()
		defer dn.Close()
	}

	stagedPipeline := staged.NewPipeline(ttsMgr, cfg.staged)

	sttEngine := stt.NewWhisperClient(cfg.sttBackendURL, cfg.sttModelPath, cfg.sttPoolSize)
	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := sttEngine.Initialize(initCtx); err != nil {
		slog.Warn("stt engine initialize failed, will retry lazily", "error", err)
	}
	initCancel()

	conns := connmgr.NewManager(cfg.llmMaxTurns * 2)

	routerCfg := router.Config{
		SystemPrompt: cfg.systemPrompt,
	}
	if cfg.classifierURL != "" {
		routerCfg.Classifier = router.NewHTTPClassifier(cfg.classifierURL)
	}
	if cfg.workflowURL != "" {
		routerCfg.Workflow = router.NewWorkflowClient(cfg.workflowURL)
	}
	if cfg.llmEnabled {
		routerCfg.Responder = router.NewHTTPResponder(cfg.llmAPIBase, cfg.llmAPIKey, cfg.llmDefaultModel, cfg.llmMaxTokens, cfg.llmMaxTurns, cfg.llmTemperature, cfg.llmTimeout)
	}
	intentRouter := router.New(routerCfg)

	orchestrator := ws.NewOrchestrator(sttEngine, intentRouter, conns)

	streamCfg := stream.DefaultConfig()
	streamCfg.MaxAudioDuration = cfg.maxAudioDur
	streamCfg.BufferCapacity = cfg.maxChunkBuffer
	if dn != nil {
		streamCfg.Denoiser = dn
	}
	streamMgr := stream.NewManager(orchestrator, streamCfg)

	var traceStore *trace.Store
	if cfg.tracePostgresURL != "" {
		traceStore, err = trace.Open(cfg.tracePostgresURL)
		if err != nil {
			slog.Error("trace store open failed", "error", err)
			traceStore = nil
		} else {
			slog.Info("tracing enabled")
		}
	}

	wsHandler := ws.NewHandler(ws.HandlerConfig{
		Streams:          streamMgr,
		Conns:            conns,
		TTSManager:       ttsMgr,
		Staged:           stagedPipeline,
		Router:           intentRouter,
		TraceStore:       traceStore,
		SampleRate:       cfg.sampleRate,
		Channels:         cfg.audioChannels,
		VADEnabled:       cfg.vadEnabled,
		MaxConnections:   cfg.maxConnections,
		DefaultTTSEngine: cfg.ttsEngine,
		DefaultTTSVoice:  cfg.ttsVoice,
		DefaultTTSSpeed:  cfg.ttsSpeed,
		DefaultTTSVolume: cfg.ttsVolume,
		SwitchingEnabled: cfg.enableTTSSwitch,
		SystemPrompt:     cfg.systemPrompt,
		LLMModels:        []string{cfg.llmDefaultModel},
		STTModels:        []string{cfg.sttModelPath},
		PingInterval:     cfg.pingInterval,
		PingTimeout:      cfg.pingTimeout,
	})

	authed := newAuthMiddleware(cfg, wsHandler)

	mux := http.NewServeMux()
	registerRoutes(mux, deps{
		wsHandler:  authed,
		traceStore: traceStore,
	})

	addr := cfg.wsHost + ":" + cfg.wsPort
	srv := &http.Server{Addr: addr, Handler: mux}

	go awaitShutdown(srv, traceStore)

	if cfg.metricsPort != "" && cfg.metricsPort != cfg.wsPort {
		go serveMetrics(cfg.wsHost + ":" + cfg.metricsPort)
	}

	slog.Info("gateway starting", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("gateway stopped")
}

// buildTTSEngines constructs one engine.Engine per configured sidecar URL.
// A backend with no URL configured is simply skipped; ttsMgr.Initialize
// tolerates fewer than all engines succeeding.
func buildTTSEngines(cfg config) ([]engine.Engine, string) {
	var engines []engine.Engine
	if cfg.piperURL != "" {
		engines = append(engines, engine.NewPiper(cfg.piperURL, cfg.ttsVoice, cfg.ttsPoolSize))
	}
	if cfg.kokoroURL != "" {
		engines = append(engines, engine.NewKokoro(cfg.kokoroURL, cfg.ttsVoice, cfg.ttsPoolSize))
	}
	if cfg.zonosURL != "" {
		engines = append(engines, engine.NewZonos(cfg.zonosURL, cfg.zonosSpkCacheDir, cfg.ttsPoolSize))
	}
	return engines, cfg.ttsEngine
}

// awaitShutdown blocks until SIGINT/SIGTERM, then closes the trace store
// and gives in-flight connections a grace period before exiting.
func awaitShutdown(srv *http.Server, traceStore *trace.Store) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if traceStore != nil {
		traceStore.Close()
	}

	srv.Shutdown(ctx)
}

