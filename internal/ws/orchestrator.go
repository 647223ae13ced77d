package ws

import (
	"context"
	"fmt"
	"time"

	"github.com/hubenschmidt/voxgate/internal/connmgr"
	"github.com/hubenschmidt/voxgate/internal/metrics"
	"github.com/hubenschmidt/voxgate/internal/router"
	"github.com/hubenschmidt/voxgate/internal/stream"
	"github.com/hubenschmidt/voxgate/internal/stt"
)

// Orchestrator implements stream.Orchestrator: transcribe a finalized
// stream's audio, route the transcript, and return the reply text. Staged
// TTS synthesis of that reply happens afterward, in the session's
// ResultCallback, which runs on the same Stream Manager worker goroutine:
// that worker takes its next queued job only once synthesis returns.
type Orchestrator struct {
	stt    stt.Engine
	router *router.Router
	conns  *connmgr.Manager
}

// NewOrchestrator builds an Orchestrator bound to its collaborators.
func NewOrchestrator(sttEngine stt.Engine, r *router.Router, conns *connmgr.Manager) *Orchestrator {
	return &Orchestrator{stt: sttEngine, router: r, conns: conns}
}

// Process satisfies stream.Orchestrator. An STT failure does not abort the
// job: the transcript is replaced with a "[STT Error] ..." marker that still
// routes (typically falling through to the generic no-answer reply) rather
// than propagating the engine error to the client.
func (o *Orchestrator) Process(ctx context.Context, job stream.Job) (stream.Result, error) {
	sttStart := time.Now()
	transcript, err := o.stt.Transcribe(ctx, job.Audio, job.SampleRate, "")
	sttDurationMs := float64(time.Since(sttStart).Milliseconds())
	metrics.STTLatency.Observe(time.Since(sttStart).Seconds())
	if err != nil {
		metrics.Errors.WithLabelValues("stt", "stt_error").Inc()
		transcript.Text = fmt.Sprintf("[STT Error] %s", err.Error())
	}

	history := o.historyFor(job.ClientID)
	routeStart := time.Now()
	reply := o.router.Route(ctx, transcript.Text, history)
	routeDurationMs := float64(time.Since(routeStart).Milliseconds())
	o.appendHistory(job.ClientID, transcript.Text, reply)

	return stream.Result{
		StreamID:        job.StreamID,
		Transcript:      transcript.Text,
		ReplyText:       reply,
		STTDurationMs:   sttDurationMs,
		RouteDurationMs: routeDurationMs,
	}, nil
}

func (o *Orchestrator) historyFor(clientID string) []router.Turn {
	conn, ok := o.conns.Get(clientID)
	if !ok {
		return nil
	}
	turns := conn.History()
	out := make([]router.Turn, 0, len(turns))
	for _, t := range turns {
		out = append(out, router.Turn{Role: t.Role, Content: t.Content})
	}
	return out
}

func (o *Orchestrator) appendHistory(clientID, transcript, reply string) {
	conn, ok := o.conns.Get(clientID)
	if !ok {
		return
	}
	conn.AppendHistory(connmgr.ChatTurn{Role: "user", Content: transcript})
	conn.AppendHistory(connmgr.ChatTurn{Role: "assistant", Content: reply})
}
