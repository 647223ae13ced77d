package router

import (
	"context"
	"log/slog"

	"github.com/hubenschmidt/voxgate/internal/sanitize"
)

// ExternalIntent is the classification label that routes to the external
// workflow collaborator (Flowise/n8n) rather than local skills/LLM.
const ExternalIntent = "external_request"

// NoAnswer is the generic reply when nothing else resolves the transcript.
const NoAnswer = "Sorry, I didn't catch that. Could you say it differently?"

// Router drives the per-utterance routing order: classify → external
// workflow → skills → LLM fallback → generic no-answer. Any stage may be
// nil to disable it (e.g. no workflow configured).
type Router struct {
	classifier   Classifier
	workflow     *WorkflowClient
	skills       *SkillSet
	responder    Responder
	systemPrompt string
}

// Config bundles the optional collaborators a Router is built with.
type Config struct {
	Classifier   Classifier
	Workflow     *WorkflowClient
	Skills       *SkillSet
	Responder    Responder
	SystemPrompt string
}

// New builds a Router from cfg. Classifier, Workflow, Skills, and Responder
// may each be nil to skip that stage.
func New(cfg Config) *Router {
	skills := cfg.Skills
	if skills == nil {
		skills = NewSkillSet()
	}
	return &Router{
		classifier:   cfg.Classifier,
		workflow:     cfg.Workflow,
		skills:       skills,
		responder:    cfg.Responder,
		systemPrompt: cfg.SystemPrompt,
	}
}

// Route resolves transcript to a reply, trying each stage in order and
// falling through on a miss or error. history is the connection's rolling
// chat history, passed to the LLM fallback stage only.
func (r *Router) Route(ctx context.Context, transcript string, history []Turn) string {
	intent, confidence := r.classify(ctx, sanitize.Sanitize(transcript))

	if intent == ExternalIntent && confidence >= ClassifyThreshold && r.workflow != nil {
		if reply, err := r.workflow.Invoke(ctx, transcript); err == nil && reply != "" {
			return reply
		} else if err != nil {
			slog.Warn("router: external workflow failed, falling through", "error", err)
		}
	}

	if skill, ok := r.skills.MatchByIntent(intent); confidence >= ClassifyThreshold && ok {
		if reply, err := skill.Handle(ctx, transcript); err == nil {
			return reply
		} else {
			slog.Warn("router: skill handler failed, falling through", "intent", intent, "error", err)
		}
	} else if skill, ok := r.skills.MatchByText(transcript); ok {
		if reply, err := skill.Handle(ctx, transcript); err == nil {
			return reply
		} else {
			slog.Warn("router: skill handler failed, falling through", "intent", skill.IntentName(), "error", err)
		}
	}

	if r.responder != nil {
		if reply, err := r.responder.Respond(ctx, r.systemPrompt, history, transcript); err == nil && reply != "" {
			return capReplyLength(reply, MaxReplyLength)
		} else if err != nil {
			slog.Warn("router: llm fallback failed", "error", err)
		}
	}

	return NoAnswer
}

func (r *Router) classify(ctx context.Context, transcript string) (intent string, confidence float64) {
	if r.classifier == nil {
		return "", 0
	}
	result, err := r.classifier.Classify(ctx, transcript)
	if err != nil {
		slog.Warn("router: classify failed, skipping intent stages", "error", err)
		return "", 0
	}
	return result.Intent, result.Confidence
}
