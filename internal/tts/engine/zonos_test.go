package engine

import (
	"os"
	"path/filepath"
	"testing"
)

func TestZonosFindSpeakerSampleCaseInsensitive(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "Thorsten.WAV"), []byte("fake"), 0o644); err != nil {
		t.Fatalf("write sample: %v", err)
	}
	z := NewZonos("http://unused", dir, 1)

	path, err := z.findSpeakerSample("thorsten")
	if err != nil {
		t.Fatalf("findSpeakerSample: %v", err)
	}
	if filepath.Base(path) != "Thorsten.WAV" {
		t.Errorf("resolved path = %q, want Thorsten.WAV", path)
	}
}

func TestZonosFindSpeakerSampleMissing(t *testing.T) {
	dir := t.TempDir()
	z := NewZonos("http://unused", dir, 1)
	if _, err := z.findSpeakerSample("nobody"); err == nil {
		t.Error("expected error for missing speaker sample")
	}
}

func TestZonosSupportedVoicesListsOnlyAudioFiles(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "thorsten.wav"), []byte("fake"), 0o644)
	os.WriteFile(filepath.Join(dir, "kerstin.mp3"), []byte("fake"), 0o644)
	os.WriteFile(filepath.Join(dir, "README.md"), []byte("not audio"), 0o644)
	z := NewZonos("http://unused", dir, 1)

	voices := z.SupportedVoices()
	if len(voices) != 2 {
		t.Errorf("SupportedVoices returned %d entries, want 2: %v", len(voices), voices)
	}
}

func TestZonosLanguageNormalization(t *testing.T) {
	cases := map[string]string{
		"de":    "de",
		"de-de": "de",
		"en":    "en-us",
		"en-us": "en-us",
	}
	for in, want := range cases {
		got, ok := zonosLanguages[in]
		if !ok || got != want {
			t.Errorf("zonosLanguages[%q] = %q, %v; want %q, true", in, got, ok, want)
		}
	}
	if _, ok := zonosLanguages["xx-unsupported"]; ok {
		t.Error("expected unsupported language to be rejected")
	}
}
