package router

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type fakeClassifier struct {
	result Classification
	err    error
}

func (f *fakeClassifier) Classify(ctx context.Context, text string) (Classification, error) {
	return f.result, f.err
}

type fakeSkill struct {
	intent  string
	handles func(string) bool
	reply   string
	err     error
}

func (s *fakeSkill) IntentName() string          { return s.intent }
func (s *fakeSkill) CanHandle(text string) bool  { return s.handles != nil && s.handles(text) }
func (s *fakeSkill) Handle(ctx context.Context, text string) (string, error) {
	return s.reply, s.err
}

type fakeResponder struct {
	reply string
	err   error
}

func (f *fakeResponder) Respond(ctx context.Context, systemPrompt string, history []Turn, userMessage string) (string, error) {
	return f.reply, f.err
}

func TestRouteMatchesSkillByIntent(t *testing.T) {
	classifier := &fakeClassifier{result: Classification{Intent: "weather", Confidence: 0.9}}
	skill := &fakeSkill{intent: "weather", reply: "it's sunny"}
	r := New(Config{Classifier: classifier, Skills: NewSkillSet(skill)})

	got := r.Route(context.Background(), "what's the weather", nil)
	if got != "it's sunny" {
		t.Errorf("Route() = %q, want %q", got, "it's sunny")
	}
}

func TestRouteFallsBackToTextMatchSkill(t *testing.T) {
	classifier := &fakeClassifier{result: Classification{Intent: "", Confidence: 0}}
	skill := &fakeSkill{intent: "lights", handles: func(s string) bool { return strings.Contains(s, "light") }, reply: "lights on"}
	r := New(Config{Classifier: classifier, Skills: NewSkillSet(skill)})

	got := r.Route(context.Background(), "turn on the light", nil)
	if got != "lights on" {
		t.Errorf("Route() = %q, want %q", got, "lights on")
	}
}

func TestRouteFallsBackToLLMWhenNoSkillMatches(t *testing.T) {
	classifier := &fakeClassifier{result: Classification{Intent: "unknown", Confidence: 0.2}}
	responder := &fakeResponder{reply: "I am an LLM reply."}
	r := New(Config{Classifier: classifier, Responder: responder})

	got := r.Route(context.Background(), "tell me a story", nil)
	if got != "I am an LLM reply." {
		t.Errorf("Route() = %q, want %q", got, "I am an LLM reply.")
	}
}

func TestRouteFallsBackToGenericNoAnswer(t *testing.T) {
	r := New(Config{})
	got := r.Route(context.Background(), "anything", nil)
	if got != NoAnswer {
		t.Errorf("Route() = %q, want NoAnswer", got)
	}
}

func TestRouteSkillErrorFallsThroughToLLM(t *testing.T) {
	classifier := &fakeClassifier{result: Classification{Intent: "weather", Confidence: 0.9}}
	skill := &fakeSkill{intent: "weather", reply: "", err: errors.New("boom")}
	responder := &fakeResponder{reply: "fallback reply"}
	r := New(Config{Classifier: classifier, Skills: NewSkillSet(skill), Responder: responder})

	got := r.Route(context.Background(), "weather please", nil)
	if got != "fallback reply" {
		t.Errorf("Route() = %q, want %q", got, "fallback reply")
	}
}

func TestRouteExternalWorkflowWins(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"reply":"handled externally"}`))
	}))
	defer srv.Close()

	classifier := &fakeClassifier{result: Classification{Intent: ExternalIntent, Confidence: 0.95}}
	r := New(Config{Classifier: classifier, Workflow: NewWorkflowClient(srv.URL)})

	got := r.Route(context.Background(), "external thing", nil)
	if got != "handled externally" {
		t.Errorf("Route() = %q, want %q", got, "handled externally")
	}
}

func TestCapReplyLengthCutsAtSentenceBoundary(t *testing.T) {
	text := "First sentence. Second sentence. Third sentence that is quite long and goes past the cap."
	got := capReplyLength(text, 35)
	if got != "First sentence. Second sentence." {
		t.Errorf("capReplyLength() = %q", got)
	}
}

func TestCapReplyLengthUnderLimitUnchanged(t *testing.T) {
	got := capReplyLength("short", 100)
	if got != "short" {
		t.Errorf("capReplyLength() = %q, want unchanged", got)
	}
}
