package registry

import "testing"

func TestCanonicalize(t *testing.T) {
	r, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	cases := []struct {
		raw  string
		want string
	}{
		{"de-thorsten-low", "de-thorsten-low"},
		{"de_DE-thorsten-low", "de-thorsten-low"},
		{"en_US-lessac-low", "en-lessac-low"},
		{"  de-thorsten-low  ", "de-thorsten-low"},
	}
	for _, c := range cases {
		if got := r.Canonicalize(c.raw); got != c.want {
			t.Errorf("Canonicalize(%q) = %q, want %q", c.raw, got, c.want)
		}
	}
}

func TestCanonicalizeIdempotent(t *testing.T) {
	r, _ := New()
	for _, v := range r.Voices() {
		if got := r.Canonicalize(v); got != v {
			t.Errorf("Canonicalize(%q) = %q, want identity", v, got)
		}
	}
}

func TestResolveGate(t *testing.T) {
	r, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, ok := r.Resolve("de-thorsten-low", "kokoro"); ok {
		t.Error("expected kokoro to be gated out for de-thorsten-low")
	}
	if _, ok := r.Resolve("de-thorsten-low", "piper"); !ok {
		t.Error("expected piper to be allowed for de-thorsten-low")
	}
}

func TestResolveAliasAutoExpand(t *testing.T) {
	r, _ := New()
	binding, ok := r.Resolve("de_DE-thorsten-low", "piper")
	if !ok {
		t.Fatal("expected locale-form lookup to resolve via canonicalization")
	}
	if binding.VoiceID != "de_DE-thorsten-low" {
		t.Errorf("VoiceID = %q, want de_DE-thorsten-low", binding.VoiceID)
	}
}

func TestBypassVoiceGate(t *testing.T) {
	r, err := New(WithBypassVoiceGate())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := r.Resolve("de-thorsten-low", "kokoro"); !ok {
		t.Error("expected bypass to allow any engine")
	}
	if _, ok := r.Resolve("unknown-voice-low", "piper"); !ok {
		t.Error("expected bypass to allow unknown voices too")
	}
}

func TestEnginesFor(t *testing.T) {
	r, _ := New()
	engines := r.EnginesFor("de-thorsten-low")
	if len(engines) != 2 {
		t.Errorf("EnginesFor returned %d engines, want 2", len(engines))
	}
}
