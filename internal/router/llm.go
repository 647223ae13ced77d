package router

import (
	"context"
	"strings"
)

// Turn is one entry of the rolling chat history passed to the LLM fallback.
type Turn struct {
	Role    string
	Content string
}

// Responder is the local LLM chat collaborator: a single-shot (no
// streaming) call.
type Responder interface {
	Respond(ctx context.Context, systemPrompt string, history []Turn, userMessage string) (string, error)
}

// MaxReplyLength is the sentence-aware cap applied to LLM fallback replies.
const MaxReplyLength = 600

// capReplyLength truncates text to at most maxLen runes, cutting at the last
// complete sentence rather than mid-word.
func capReplyLength(text string, maxLen int) string {
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	cut := string(runes[:maxLen])
	lastIdx := -1
	for i := 0; i < len(cut); i++ {
		if (cut[i] == '.' || cut[i] == '!' || cut[i] == '?') && (i+1 == len(cut) || cut[i+1] == ' ') {
			lastIdx = i + 1
		}
	}
	if lastIdx > 0 {
		return strings.TrimSpace(cut[:lastIdx])
	}
	if idx := strings.LastIndexAny(cut, " \n\t"); idx > 0 {
		cut = cut[:idx]
	}
	return strings.TrimSpace(cut)
}
