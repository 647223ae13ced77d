package sanitize

import (
	"testing"
	"unicode"
)

func TestSanitizeNoCombiningMarks(t *testing.T) {
	inputs := []string{
		"Hallo Welt",
		"Café au ça", // NFD-composable accents
		"naïve façade",
		"Muller straße",
	}
	for _, in := range inputs {
		out := Sanitize(in)
		for _, r := range out {
			if unicode.Is(unicode.Mn, r) {
				t.Errorf("Sanitize(%q) = %q still contains Mn rune %q", in, out, r)
			}
		}
	}
}

func TestSanitizeIdempotent(t *testing.T) {
	inputs := []string{"Hallo — Welt…", "naïve façade", "€100 ist viel"}
	for _, in := range inputs {
		once := Sanitize(in)
		twice := Sanitize(once)
		if once != twice {
			t.Errorf("Sanitize not idempotent for %q: %q vs %q", in, once, twice)
		}
	}
}

func TestSanitizeFallbacks(t *testing.T) {
	cases := map[string]string{
		"ça":     "ca",
		"ø":      "o",
		"ðð":     "dd",
		"straße": "straße",
	}
	for in, want := range cases {
		if got := Sanitize(in); got != want {
			t.Errorf("Sanitize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSanitizeTypographic(t *testing.T) {
	if got := Sanitize("a—b"); got != "a-b" {
		t.Errorf("em dash mapping: got %q", got)
	}
	if got := Sanitize("Warte…"); got != "Warte..." {
		t.Errorf("ellipsis mapping: got %q", got)
	}
}

func TestSanitizeCollapsesWhitespace(t *testing.T) {
	if got := Sanitize("a   b\tc\n\nd"); got != "a b c d" {
		t.Errorf("whitespace collapse: got %q", got)
	}
}

func TestContainsCombiningMarks(t *testing.T) {
	if !ContainsCombiningMarks("café") {
		t.Error("expected combining marks to be detected pre-sanitize")
	}
	if ContainsCombiningMarks(Sanitize("café")) {
		t.Error("sanitized text must never contain combining marks")
	}
}
