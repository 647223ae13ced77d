package staged

import "math"

// crossfadeHeadroom attenuates only the crossfaded region to avoid clipping
// where the two signals overlap; the rest of the signal is untouched.
const crossfadeHeadroom = 0.97

// crossfadeLen computes n = min(sampleRate*crossfadeMs/1000, len(intro), len(main)).
func crossfadeLen(introLen, mainLen, sampleRate, crossfadeMs int) int {
	n := sampleRate * crossfadeMs / 1000
	if n > introLen {
		n = introLen
	}
	if n > mainLen {
		n = mainLen
	}
	if n < 0 {
		n = 0
	}
	return n
}

// blend computes the n-sample equal-power crossfade of introTail against
// mainHead (both length n), with crossfadeHeadroom applied to the blended
// region only.
func blend(introTail, mainHead []float32) []float32 {
	n := len(introTail)
	out := make([]float32, n)
	denom := float64(n - 1)
	if denom <= 0 {
		denom = 1
	}
	for i := 0; i < n; i++ {
		t := float64(i) / denom * (math.Pi / 2)
		winOut := math.Cos(t) * math.Cos(t)
		winIn := math.Sin(t) * math.Sin(t)
		out[i] = float32((float64(introTail[i])*winOut + float64(mainHead[i])*winIn) * crossfadeHeadroom)
	}
	return out
}

// crossfade joins intro and main into one continuous buffer via an
// equal-power crossfade over their shared boundary:
// intro[:-n] ++ blend(intro[-n:], main[:n]) ++ main[n:].
func crossfade(intro, main []float32, sampleRate, crossfadeMs int) []float32 {
	n := crossfadeLen(len(intro), len(main), sampleRate, crossfadeMs)
	if n == 0 {
		out := make([]float32, 0, len(intro)+len(main))
		out = append(out, intro...)
		out = append(out, main...)
		return out
	}
	out := make([]float32, 0, len(intro)+len(main)-n)
	out = append(out, intro[:len(intro)-n]...)
	out = append(out, blend(intro[len(intro)-n:], main[:n])...)
	out = append(out, main[n:]...)
	return out
}

// splitForCrossfade computes the same equal-power join as crossfade, but
// returns it split into two pieces for separate emission: introHead
// (intro[:-n], unblended) and mainTail (the blended boundary concatenated
// with main[n:]). Synthesize emits both only after intro and main synthesis
// have finished.
func splitForCrossfade(intro, main []float32, sampleRate, crossfadeMs int) (introHead, mainTail []float32) {
	n := crossfadeLen(len(intro), len(main), sampleRate, crossfadeMs)
	if n == 0 {
		return intro, main
	}
	introHead = intro[:len(intro)-n]
	mainTail = make([]float32, 0, n+len(main)-n)
	mainTail = append(mainTail, blend(intro[len(intro)-n:], main[:n])...)
	mainTail = append(mainTail, main[n:]...)
	return introHead, mainTail
}

// floatsToPCM16 converts [-1, 1] float32 samples to little-endian PCM16
// bytes by clip([-1,1])*32767, with no AGC.
func floatsToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		clamped := s
		if clamped > 1 {
			clamped = 1
		}
		if clamped < -1 {
			clamped = -1
		}
		v := int16(clamped * 32767)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}
