package audio

import "testing"

func speechFrame(n int) []float32 {
	frame := make([]float32, n)
	for i := range frame {
		// Alternating +/- values give nonzero RMS and nonzero stddev so the
		// frame registers as both energetic and "voice-like".
		if i%2 == 0 {
			frame[i] = 0.6
		} else {
			frame[i] = -0.6
		}
	}
	return frame
}

func silenceFrame(n int) []float32 {
	return make([]float32, n) // all zero: no energy, no speech
}

func TestVADAutoStopFiresOnceAfterSilence(t *testing.T) {
	cfg := DefaultConfig(16000)
	cfg.MinSpeechDurationMs = 150 // ~5 frames at 30ms
	cfg.SilenceDurationMs = 1500  // ~50 frames at 30ms
	v := New(cfg)
	n := cfg.frameSize()

	var stops int
	for i := 0; i < 15; i++ {
		if v.Process(speechFrame(n)).AutoStop {
			stops++
		}
	}
	for i := 0; i < 50; i++ {
		if v.Process(silenceFrame(n)).AutoStop {
			stops++
		}
	}
	if stops != 1 {
		t.Errorf("AutoStop fired %d times, want exactly 1", stops)
	}

	// Further silence must not re-fire without a Reset.
	if v.Process(silenceFrame(n)).AutoStop {
		t.Error("AutoStop fired a second time without Reset")
	}
}

func TestVADNeverAutoStopsWithoutSpeechStart(t *testing.T) {
	cfg := DefaultConfig(16000)
	v := New(cfg)
	n := cfg.frameSize()
	for i := 0; i < 100; i++ {
		if v.Process(silenceFrame(n)).AutoStop {
			t.Fatal("AutoStop fired without speech ever starting")
		}
	}
}

func TestVADResetAllowsRefire(t *testing.T) {
	cfg := DefaultConfig(16000)
	cfg.MinSpeechDurationMs = 60
	cfg.SilenceDurationMs = 60
	v := New(cfg)
	n := cfg.frameSize()

	fired := false
	for i := 0; i < 10; i++ {
		if v.Process(speechFrame(n)).AutoStop {
			fired = true
		}
	}
	for i := 0; i < 10; i++ {
		if v.Process(silenceFrame(n)).AutoStop {
			fired = true
		}
	}
	if !fired {
		t.Fatal("expected AutoStop before Reset")
	}

	v.Reset()
	fired = false
	for i := 0; i < 10; i++ {
		v.Process(speechFrame(n))
	}
	for i := 0; i < 10; i++ {
		if v.Process(silenceFrame(n)).AutoStop {
			fired = true
		}
	}
	if !fired {
		t.Error("expected AutoStop to be able to fire again after Reset")
	}
}

func TestMedian(t *testing.T) {
	if got := median([]float64{1, 2, 3}); got != 2 {
		t.Errorf("median odd = %v, want 2", got)
	}
	if got := median([]float64{1, 2, 3, 4}); got != 2.5 {
		t.Errorf("median even = %v, want 2.5", got)
	}
	if got := median(nil); got != 0 {
		t.Errorf("median empty = %v, want 0", got)
	}
}
