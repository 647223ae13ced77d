package router

import "context"

// Skill is a locally registered intent handler. Skills are tried in
// registration order; the first matching skill wins.
type Skill interface {
	IntentName() string
	CanHandle(text string) bool
	Handle(ctx context.Context, text string) (string, error)
}

// SkillSet holds the ordered skills for one router, matched first by
// IntentName against the classifier's result, then by CanHandle against the
// raw transcript.
type SkillSet struct {
	skills []Skill
}

// NewSkillSet builds a SkillSet from skills in priority order.
func NewSkillSet(skills ...Skill) *SkillSet {
	return &SkillSet{skills: skills}
}

// MatchByIntent returns the first skill whose IntentName equals intent.
func (s *SkillSet) MatchByIntent(intent string) (Skill, bool) {
	if intent == "" {
		return nil, false
	}
	for _, sk := range s.skills {
		if sk.IntentName() == intent {
			return sk, true
		}
	}
	return nil, false
}

// MatchByText returns the first skill whose CanHandle accepts text.
func (s *SkillSet) MatchByText(text string) (Skill, bool) {
	for _, sk := range s.skills {
		if sk.CanHandle(text) {
			return sk, true
		}
	}
	return nil, false
}
