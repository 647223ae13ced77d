// Package sanitize strips combining marks and disallowed codepoints from
// text before it is handed to a TTS engine. The transform is deterministic
// and idempotent: sanitize(sanitize(x)) == sanitize(x).
package sanitize

import (
	"log/slog"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// fallbacks maps known non-ASCII letters to an ASCII equivalent, applied
// after combining marks have already been stripped by NFD decomposition.
var fallbacks = map[rune]rune{
	'ł': 'l', 'Ł': 'L',
	'ç': 'c', 'Ç': 'C',
	'ø': 'o', 'Ø': 'O',
	'ð': 'd', 'Ð': 'D',
	'æ': 'e', 'Æ': 'E',
	'œ': 'e', 'Œ': 'E',
}

// typographic maps punctuation that survives NFKC/NFD to plain ASCII.
var typographic = map[rune]string{
	'—': "-",  // em dash
	'–': "-",  // en dash
	'‑': "-",  // non-breaking hyphen
	'…': "...", // horizontal ellipsis
	'“': "\"", // left double quotation mark
	'”': "\"", // right double quotation mark
	'„': "\"", // double low-9 quotation mark
	'‘': "'",  // left single quotation mark
	'’': "'",  // right single quotation mark
	'‚': "'",  // single low-9 quotation mark
	'«': "\"", // left-pointing double angle quotation mark
	'»': "\"", // right-pointing double angle quotation mark
	'€': "Euro",
}

// allowed reports whether r may appear in sanitized output: German letters,
// digits, spaces, and basic punctuation.
func allowed(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	case unicode.IsSpace(r):
		return true
	}
	switch r {
	case 'ß':
		// ß has no canonical NFD decomposition, so it survives the
		// combining-mark strip unlike ä/ö/ü (which decompose to a
		// base vowel plus a dropped Mn diaeresis).
		return true
	case '.', ',', '!', '?', ':', ';', '-', '\'', '"', '(', ')', '/':
		return true
	}
	return false
}

var (
	seenDropped   = map[rune]bool{}
	seenDroppedMu sync.Mutex
)

// Sanitize applies the full pipeline: NFKC -> NFD -> drop Mn -> typographic
// mapping -> fallback mapping -> allowed-charset filter -> collapse
// whitespace -> NFC. The result contains no codepoints in Unicode category
// Mn (combining marks).
func Sanitize(text string) string {
	text = norm.NFKC.String(text)
	text = norm.NFD.String(text)

	var sb strings.Builder
	sb.Grow(len(text))
	for _, r := range text {
		if unicode.Is(unicode.Mn, r) {
			logDropped(r)
			continue
		}
		if repl, ok := typographic[r]; ok {
			sb.WriteString(repl)
			continue
		}
		if repl, ok := fallbacks[r]; ok {
			r = repl
		}
		if !allowed(r) {
			logDropped(r)
			continue
		}
		sb.WriteRune(r)
	}

	collapsed := collapseWhitespace(sb.String())
	return norm.NFC.String(collapsed)
}

func collapseWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

// logDropped emits a one-shot warning per distinct dropped codepoint.
func logDropped(r rune) {
	seenDroppedMu.Lock()
	defer seenDroppedMu.Unlock()
	if seenDropped[r] {
		return
	}
	seenDropped[r] = true
	slog.Warn("sanitize: dropped codepoint", "rune", string(r), "codepoint", r)
}

// ContainsCombiningMarks reports whether s contains any Mn codepoint once
// NFD-decomposed, so accents carried by precomposed letters count too.
func ContainsCombiningMarks(s string) bool {
	decomposed := norm.NFD.String(s)
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			return true
		}
	}
	return false
}
