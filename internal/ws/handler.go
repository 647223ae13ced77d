// Package ws runs one WebSocket gateway session per connection: handshake,
// control-message dispatch, and binary audio ingestion, built around the
// hello/ready handshake and op-routed protocol this gateway uses.
package ws

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hubenschmidt/voxgate/internal/connmgr"
	"github.com/hubenschmidt/voxgate/internal/metrics"
	"github.com/hubenschmidt/voxgate/internal/protocol"
	"github.com/hubenschmidt/voxgate/internal/router"
	"github.com/hubenschmidt/voxgate/internal/stream"
	"github.com/hubenschmidt/voxgate/internal/trace"
	"github.com/hubenschmidt/voxgate/internal/tts"
	"github.com/hubenschmidt/voxgate/internal/tts/engine"
	"github.com/hubenschmidt/voxgate/internal/tts/staged"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16384,
	WriteBufferSize: 16384,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HandlerConfig holds every shared backend collaborator a session dispatches
// into. One Handler (and its HandlerConfig) is shared across every
// connection the process accepts.
type HandlerConfig struct {
	Streams    *stream.Manager
	Conns      *connmgr.Manager
	TTSManager *tts.Manager
	Staged     *staged.Pipeline
	Router     *router.Router
	TraceStore *trace.Store

	SampleRate       int
	Channels         int
	VADEnabled       bool
	MaxConnections   int
	DefaultTTSEngine string
	DefaultTTSVoice  string
	DefaultTTSSpeed  float64
	DefaultTTSVolume float64
	SwitchingEnabled bool
	SystemPrompt     string
	LLMModels        []string
	STTModels        []string

	PingInterval time.Duration
	PingTimeout  time.Duration
}

// Handler upgrades incoming requests and runs a session for each one.
type Handler struct {
	cfg    HandlerConfig
	active int64
}

// NewHandler builds a Handler sharing cfg's collaborators across sessions.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{cfg: cfg}
}

// ServeHTTP upgrades the connection and runs its session to completion.
// Returns 503 when at MaxConnections capacity.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.cfg.MaxConnections > 0 && atomic.LoadInt64(&h.active) >= int64(h.cfg.MaxConnections) {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	atomic.AddInt64(&h.active, 1)
	metrics.ActiveConnections.Inc()
	defer func() {
		atomic.AddInt64(&h.active, -1)
		metrics.ActiveConnections.Dec()
	}()

	h.runSession(conn, r)
}

func (h *Handler) runSession(conn *websocket.Conn, r *http.Request) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(protocol.HandshakeTimeout))
	if err := protocol.Handshake(ctx, conn); err != nil {
		slog.Warn("handshake failed", "error", err, "remote_addr", r.RemoteAddr)
		code := protocol.CloseBadHandshake
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			code = protocol.CloseHandshakeTimeout
		}
		conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, "handshake failed"), time.Now().Add(time.Second))
		return
	}
	conn.SetReadDeadline(time.Time{})

	connID := uuid.NewString()
	remoteAddr := r.RemoteAddr
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		remoteAddr = host
	}
	connConn := h.cfg.Conns.Register(connID, remoteAddr, conn)
	defer func() {
		h.cfg.Conns.Unregister(connID)
		h.cfg.Streams.CancelClient(connID)
	}()

	var tracer *trace.Tracer
	if h.cfg.TraceStore != nil {
		metaJSON, _ := json.Marshal(map[string]any{
			"remote_addr":       remoteAddr,
			"sample_rate":       h.cfg.SampleRate,
			"channels":          h.cfg.Channels,
			"vad_enabled":       h.cfg.VADEnabled,
			"default_tts":       h.cfg.DefaultTTSEngine,
			"switching_enabled": h.cfg.SwitchingEnabled,
		})
		_ = h.cfg.TraceStore.CreateSession(connID, string(metaJSON))
		tracer = trace.NewTracer(h.cfg.TraceStore, connID)
		defer func() {
			tracer.Close()
			_ = h.cfg.TraceStore.EndSession(connID)
		}()
	}

	if h.cfg.SystemPrompt != "" {
		connConn.AppendHistory(connmgr.ChatTurn{Role: "system", Content: h.cfg.SystemPrompt})
	}
	connConn.SetPreferredTTS(h.cfg.DefaultTTSEngine, h.cfg.DefaultTTSVoice, h.cfg.DefaultTTSSpeed, h.cfg.DefaultTTSVolume)

	s := &session{
		cfg:      h.cfg,
		connID:   connID,
		conn:     conn,
		connConn: connConn,
		tracer:   tracer,
		ctx:      ctx,
		llmModel: firstOrEmpty(h.cfg.LLMModels),
		sttModel: firstOrEmpty(h.cfg.STTModels),
	}

	slog.Info("session started", "connection_id", connID, "remote_addr", remoteAddr)
	go s.pingLoop()
	s.readLoop()
	slog.Info("session ended", "connection_id", connID)
}

func firstOrEmpty(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// session is the per-connection protocol state machine. readLoop is the
// only goroutine that reads, preserving per-connection frame order; writes
// go through connmgr.Manager.Send, which serializes and retries.
type session struct {
	cfg      HandlerConfig
	connID   string
	conn     *websocket.Conn
	connConn *connmgr.Connection
	tracer   *trace.Tracer
	ctx      context.Context

	mu       sync.Mutex
	llmModel string
	sttModel string
}

func (s *session) readLoop() {
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		s.connConn.RecordRecv()
		metrics.AudioBytesIn.Add(float64(len(data)))

		if msgType == websocket.BinaryMessage {
			metrics.MessagesTotal.WithLabelValues("in", "binary").Inc()
			s.handleBinaryFrame(data)
			continue
		}
		if msgType == websocket.TextMessage {
			metrics.MessagesTotal.WithLabelValues("in", "text").Inc()
			s.handleTextFrame(data)
		}
	}
}

// pingLoop sends periodic WS-level pings and resets the read deadline on
// every pong, closing the connection (by returning, which drops the
// deadline-expired read in readLoop) when a client goes dark for
// PingTimeout. A zero PingInterval disables the liveness check entirely.
func (s *session) pingLoop() {
	if s.cfg.PingInterval <= 0 {
		return
	}
	timeout := s.cfg.PingTimeout
	if timeout <= 0 {
		timeout = s.cfg.PingInterval
	}
	s.conn.SetReadDeadline(time.Now().Add(timeout))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(timeout))
		return nil
	})

	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
				return
			}
		}
	}
}

func (s *session) handleBinaryFrame(data []byte) {
	frame, err := protocol.ParseFrame(data, s.channels())
	if err != nil {
		code := protocol.ErrAudioFrameInvalid
		if err == protocol.ErrPCMLength {
			code = protocol.ErrPCMFrameInvalidLen
		}
		s.sendError(code, err.Error())
		return
	}
	metrics.AudioChunks.Inc()
	if err := s.cfg.Streams.PushChunk(frame.StreamID, frame.PCM, frame.Sequence, frame.Timestamp); err != nil {
		s.sendStreamError(frame.StreamID, streamErrorCode(err), err.Error())
	}
}

func (s *session) handleTextFrame(data []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.sendError(protocol.ErrInvalidJSON, err.Error())
		return
	}

	switch env.Kind() {
	case "start_audio_stream":
		s.handleStartAudioStream(data)
	case "audio_chunk":
		s.handleAudioChunkJSON(data)
	case "end_audio_stream":
		s.handleEndAudioStream(data)
	case "text":
		s.handleTextMessage(data)
	case "switch_tts_engine":
		s.handleSwitchTTSEngine(data)
	case "set_tts_voice":
		s.handleSetTTSVoice(data)
	case "get_tts_info":
		s.handleGetTTSInfo()
	case "test_tts_engines":
		s.handleTestTTSEngines(data)
	case "get_llm_models":
		s.handleGetLLMModels()
	case "switch_llm_model":
		s.handleSwitchLLMModel(data)
	case "get_stt_models":
		s.handleGetSTTModels()
	case "switch_stt_model":
		s.handleSwitchSTTModel(data)
	case "set_audio_opts":
		// VAD timing overrides apply at next start_audio_stream; a running
		// Stream's VAD config is fixed for its lifetime.
	case "set_llm_opts":
		s.handleSetLLMOpts(data)
	case "staged_tts_control":
		// Accepted for wire compatibility; per-connection engine overrides
		// already flow through start_audio_stream/text tts_* fields.
	case "ping":
		s.sendJSON(protocol.Pong{Op: "pong"})
	default:
		s.sendError(protocol.ErrInvalidJSON, "unrecognized op")
	}
}

func streamErrorCode(err error) string {
	switch err {
	case stream.ErrStreamUnknown:
		return string(protocol.ErrStreamUnknown)
	case stream.ErrBufferOverflow:
		return string(protocol.ErrBufferOverflow)
	case stream.ErrDurationExceeded:
		return string(protocol.ErrBufferOverflow)
	default:
		return string(protocol.ErrInternal)
	}
}

func (s *session) channels() int {
	if s.cfg.Channels <= 0 {
		return 1
	}
	return s.cfg.Channels
}

func (s *session) handleStartAudioStream(data []byte) {
	var req protocol.StartAudioStream
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendError(protocol.ErrInvalidJSON, err.Error())
		return
	}

	engineName, voice, speed, volume := s.connConn.PreferredTTS()
	if req.TTSEngine != "" {
		engineName = req.TTSEngine
	}
	if req.TTSVoice != "" {
		voice = req.TTSVoice
	}
	if req.TTSSpeed > 0 {
		speed = req.TTSSpeed
	}
	if req.TTSVolume > 0 {
		volume = req.TTSVolume
	}

	sampleRate := req.SampleRate
	if sampleRate <= 0 {
		sampleRate = s.cfg.SampleRate
	}
	vadEnabled := s.cfg.VADEnabled
	if req.VADEnabled != nil {
		vadEnabled = *req.VADEnabled
	}

	// Persist the resolved choice so onStreamResult (and any later text
	// message on this connection) picks up the same voice/engine.
	s.connConn.SetPreferredTTS(engineName, voice, speed, volume)

	streamID := s.cfg.Streams.StartStream(s.connID, sampleRate, vadEnabled, engineName, voice, speed, volume, s.onStreamResult)
	s.sendJSON(protocol.AudioStreamStarted{Op: "audio_stream_started", StreamID: streamID, Timestamp: nowSeconds()})
}

func (s *session) handleAudioChunkJSON(data []byte) {
	var req protocol.AudioChunkJSON
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendError(protocol.ErrInvalidJSON, err.Error())
		return
	}
	pcm, err := base64.StdEncoding.DecodeString(req.Chunk)
	if err != nil {
		s.sendStreamError(req.StreamID, string(protocol.ErrAudioFrameInvalid), err.Error())
		return
	}
	if err := s.cfg.Streams.PushChunk(req.StreamID, pcm, req.Sequence, nowSeconds()); err != nil {
		s.sendStreamError(req.StreamID, streamErrorCode(err), err.Error())
	}
}

func (s *session) handleEndAudioStream(data []byte) {
	var req protocol.EndAudioStream
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendError(protocol.ErrInvalidJSON, err.Error())
		return
	}
	if err := s.cfg.Streams.Finalize(req.StreamID); err != nil {
		s.sendJSON(protocol.AudioStreamEnded{Op: "audio_stream_ended", StreamID: req.StreamID, Success: false, Timestamp: nowSeconds()})
	}
	// On success, audio_stream_ended plus the transcript/response path is
	// reported asynchronously by onStreamResult once the job completes.
}

func (s *session) handleTextMessage(data []byte) {
	var req protocol.TextMessage
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendError(protocol.ErrInvalidJSON, err.Error())
		return
	}

	_, voice, speed, volume := s.connConn.PreferredTTS()
	if req.TTSVoice != "" {
		voice = req.TTSVoice
	}
	if req.TTSSpeed > 0 {
		speed = req.TTSSpeed
	}
	if req.TTSVolume > 0 {
		volume = req.TTSVolume
	}

	runID := s.tracer.StartRun()
	start := time.Now()
	reply := s.cfg.Router.Route(s.ctx, req.Content, s.history())
	routeDurationMs := float64(time.Since(start).Milliseconds())
	s.tracer.EndRun(runID, routeDurationMs, req.Content, reply, "ok")
	s.tracer.RecordRouteSpan(runID, routeDurationMs, req.Content, reply)
	s.appendHistory(req.Content, reply)

	s.sendJSON(protocol.Response{Op: "response", Transcript: req.Content, Text: reply, Timestamp: nowSeconds()})
	s.synthesizeAndEmit("", reply, voice, speed, volume, runID)
}

func (s *session) history() []router.Turn {
	turns := s.connConn.History()
	out := make([]router.Turn, 0, len(turns))
	for _, t := range turns {
		out = append(out, router.Turn{Role: t.Role, Content: t.Content})
	}
	return out
}

func (s *session) appendHistory(userText, replyText string) {
	s.connConn.AppendHistory(connmgr.ChatTurn{Role: "user", Content: userText})
	s.connConn.AppendHistory(connmgr.ChatTurn{Role: "assistant", Content: replyText})
}

// onStreamResult is invoked once, from a Stream Manager worker goroutine,
// when a stream's finalized audio has been transcribed and routed.
func (s *session) onStreamResult(result stream.Result) {
	if result.Err != nil {
		s.sendStreamError(result.StreamID, string(protocol.ErrInternal), result.Err.Error())
		return
	}
	s.sendJSON(protocol.AudioStreamEnded{Op: "audio_stream_ended", StreamID: result.StreamID, Success: true, Timestamp: nowSeconds()})
	if result.ReplyText == "" {
		return
	}

	runID := s.tracer.StartRun()
	totalMs := result.STTDurationMs + result.RouteDurationMs
	s.tracer.EndRun(runID, totalMs, result.Transcript, result.ReplyText, "ok")
	s.tracer.RecordSTTSpan(runID, result.STTDurationMs, result.Transcript)
	s.tracer.RecordRouteSpan(runID, result.RouteDurationMs, result.Transcript, result.ReplyText)

	_, voice, speed, volume := s.connConn.PreferredTTS()
	s.sendJSON(protocol.Response{Op: "response", StreamID: result.StreamID, Transcript: result.Transcript, Text: result.ReplyText, Timestamp: nowSeconds()})
	s.synthesizeAndEmit(result.StreamID, result.ReplyText, voice, speed, volume, runID)
}

func (s *session) synthesizeAndEmit(streamID, replyText, voice string, speed, volume float64, runID string) {
	sequenceID := uuid.NewString()
	emitter := &chunkEmitter{conns: s.cfg.Conns, connID: s.connID}
	opts := engine.Opts{Speed: speed, Volume: volume}

	start := time.Now()
	if err := s.cfg.Staged.Synthesize(s.ctx, sequenceID, replyText, voice, opts, emitter); err != nil {
		slog.Warn("staged synthesis failed", "stream_id", streamID, "error", err)
	}
	s.tracer.RecordSpan(runID, trace.SpanStagedTTS, start, float64(time.Since(start).Milliseconds()), replyText, "", "ok", "")
}

func (s *session) handleSwitchTTSEngine(data []byte) {
	var req protocol.SwitchTTSEngine
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendError(protocol.ErrInvalidJSON, err.Error())
		return
	}
	if err := s.cfg.TTSManager.SwitchEngine(req.Engine); err != nil {
		s.sendJSON(protocol.TTSSwitchError{Op: "tts_switch_error", Message: err.Error()})
		return
	}
	s.sendJSON(protocol.TTSEngineSwitched{Op: "tts_engine_switched", Engine: req.Engine})
}

func (s *session) handleSetTTSVoice(data []byte) {
	var req protocol.SetTTSVoice
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendError(protocol.ErrInvalidJSON, err.Error())
		return
	}
	engineName, _, speed, volume := s.connConn.PreferredTTS()
	if req.Engine != "" {
		engineName = req.Engine
	}
	if engineName != "" && !s.cfg.TTSManager.EngineAllowedForVoice(engineName, req.Voice) {
		s.sendJSON(protocol.TTSVoiceError{Op: "tts_voice_error", Message: "voice not allowed for engine " + engineName})
		return
	}
	s.connConn.SetPreferredTTS(engineName, req.Voice, speed, volume)
	s.sendJSON(protocol.TTSVoiceChanged{Op: "tts_voice_changed", Voice: req.Voice})
}

func (s *session) handleGetTTSInfo() {
	engineName, _, _, _ := s.connConn.PreferredTTS()
	stats := map[string]any{"unavailable": s.cfg.TTSManager.Unavailable()}
	s.sendJSON(protocol.TTSInfo{
		Op:               "tts_info",
		AvailableEngines: s.cfg.TTSManager.AvailableEngines(),
		CurrentEngine:    orDefault(engineName, s.cfg.TTSManager.DefaultEngine()),
		EngineStats:      stats,
		SwitchingEnabled: s.cfg.SwitchingEnabled,
	})
}

func (s *session) handleTestTTSEngines(data []byte) {
	var req protocol.TestTTSEngines
	_ = json.Unmarshal(data, &req)
	text := req.Text
	if text == "" {
		text = "test"
	}

	var results []protocol.TTSEngineTestResult
	for _, name := range s.cfg.TTSManager.AvailableEngines() {
		res, err := s.cfg.TTSManager.Synthesize(s.ctx, text, name, s.cfg.DefaultTTSVoice, engine.Opts{})
		result := protocol.TTSEngineTestResult{Engine: name, Success: err == nil && res.Success}
		if err != nil {
			result.Error = err.Error()
		} else if !res.Success {
			result.Error = res.ErrorMessage
		}
		results = append(results, result)
	}
	s.sendJSON(protocol.TTSEnginesTested{Op: "tts_engines_tested", Results: results})
}

func (s *session) handleGetLLMModels() {
	s.mu.Lock()
	current := s.llmModel
	s.mu.Unlock()
	s.sendJSON(protocol.LLMModels{Op: "llm_models", Models: s.cfg.LLMModels, Current: current})
}

func (s *session) handleSwitchLLMModel(data []byte) {
	var req protocol.SwitchLLMModel
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendError(protocol.ErrInvalidJSON, err.Error())
		return
	}
	s.mu.Lock()
	s.llmModel = req.Model
	s.mu.Unlock()
	s.sendJSON(protocol.LLMModelSwitched{Op: "llm_model_switched", Model: req.Model})
}

func (s *session) handleGetSTTModels() {
	s.mu.Lock()
	current := s.sttModel
	s.mu.Unlock()
	s.sendJSON(protocol.STTModels{Op: "stt_models", Models: s.cfg.STTModels, Current: current})
}

func (s *session) handleSwitchSTTModel(data []byte) {
	var req protocol.SwitchSTTModel
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendError(protocol.ErrInvalidJSON, err.Error())
		return
	}
	s.mu.Lock()
	s.sttModel = req.Model
	s.mu.Unlock()
	s.sendJSON(protocol.STTModelSwitched{Op: "stt_model_switched", Model: req.Model})
}

func (s *session) handleSetLLMOpts(data []byte) {
	var req protocol.SetLLMOpts
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendError(protocol.ErrInvalidJSON, err.Error())
		return
	}
	if req.SystemPrompt != "" {
		s.connConn.AppendHistory(connmgr.ChatTurn{Role: "system", Content: req.SystemPrompt})
	}
}

func orDefault(val, fallback string) string {
	if val != "" {
		return val
	}
	return fallback
}

func (s *session) sendJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("marshal outbound message", "error", err)
		return
	}
	metrics.MessagesTotal.WithLabelValues("out", "text").Inc()
	metrics.AudioBytesOut.Add(float64(len(data)))
	if err := s.cfg.Conns.Send(s.ctx, s.connID, websocket.TextMessage, data); err != nil {
		slog.Warn("send failed", "connection_id", s.connID, "error", err)
	}
}

func (s *session) sendError(code protocol.ErrorCode, message string) {
	metrics.Errors.WithLabelValues("protocol", string(code)).Inc()
	s.sendJSON(protocol.Error{Type: "error", Code: code, Message: message, Timestamp: nowSeconds()})
}

func (s *session) sendStreamError(streamID, code, message string) {
	metrics.Errors.WithLabelValues("stream", code).Inc()
	s.sendJSON(protocol.AudioStreamError{Op: "audio_stream_error", StreamID: streamID, Code: code, Message: message})
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// chunkEmitter adapts staged.Emitter to connmgr-mediated delivery of one
// connection's staged TTS chunks.
type chunkEmitter struct {
	conns  *connmgr.Manager
	connID string
}

func (e *chunkEmitter) EmitChunk(c staged.Chunk) error {
	metrics.TTSChunksEmitted.WithLabelValues(c.Engine).Inc()
	return e.send(protocol.StagedTTSChunk{
		Op:          "staged_tts_chunk",
		SequenceID:  c.SequenceID,
		Index:       c.Index,
		Total:       c.Total,
		Engine:      c.Engine,
		SampleRate:  c.SampleRate,
		Format:      c.Format,
		PCM:         base64.StdEncoding.EncodeToString(c.PCM),
		CrossfadeMs: c.CrossfadeMs,
	})
}

func (e *chunkEmitter) EmitSequenceEnd(sequenceID string) error {
	return e.send(protocol.StagedTTSSequenceEnd{Op: "staged_tts_sequence_end", SequenceID: sequenceID, Timestamp: nowSeconds()})
}

func (e *chunkEmitter) EmitError(sequenceID, code, message string) error {
	metrics.Errors.WithLabelValues("tts", code).Inc()
	return e.send(protocol.Error{Type: "error", Code: protocol.ErrorCode(code), Message: message, Timestamp: nowSeconds()})
}

func (e *chunkEmitter) send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	metrics.MessagesTotal.WithLabelValues("out", "text").Inc()
	return e.conns.Send(context.Background(), e.connID, websocket.TextMessage, data)
}
