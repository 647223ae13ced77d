package audio

import "math"

// lanczosTaps is the kernel half-width (in output-rate sample units) used by
// Resample. A value of 4 balances anti-alias quality against cost; bigger
// values sharpen the roll-off further but cost more per output sample.
const lanczosTaps = 4

// Resample converts samples from srcRate to dstRate using a windowed-sinc
// (Lanczos) rational resampler. When downsampling, the kernel is widened by
// srcRate/dstRate so high frequencies above the new Nyquist are attenuated
// before decimation — listening-test parity with a reference integer ratecv
// pipeline, without requiring srcRate/dstRate to be small integers.
// Returns the input unchanged if rates already match.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate == dstRate || len(samples) == 0 {
		return samples
	}

	ratio := float64(dstRate) / float64(srcRate)
	outLen := int(math.Round(float64(len(samples)) * ratio))
	if outLen <= 0 {
		return nil
	}

	// scale < 1 widens the kernel for downsampling (anti-alias low-pass);
	// scale == 1 for upsampling, where no pre-filtering is needed.
	scale := ratio
	if scale > 1 {
		scale = 1
	}

	out := make([]float32, outLen)
	for i := 0; i < outLen; i++ {
		srcPos := float64(i) / ratio
		center := int(math.Floor(srcPos))
		span := int(math.Ceil(float64(lanczosTaps) / scale))

		var sum, weightSum float64
		for j := center - span; j <= center+span; j++ {
			if j < 0 || j >= len(samples) {
				continue
			}
			d := (srcPos - float64(j)) * scale
			w := lanczosKernel(d, lanczosTaps)
			if w == 0 {
				continue
			}
			sum += float64(samples[j]) * w
			weightSum += w
		}
		if weightSum != 0 {
			out[i] = float32(sum / weightSum)
		}
	}
	return out
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	px := math.Pi * x
	return math.Sin(px) / px
}

// lanczosKernel is the Lanczos windowed-sinc kernel with window half-width a.
func lanczosKernel(x float64, a int) float64 {
	fa := float64(a)
	if x <= -fa || x >= fa {
		return 0
	}
	return sinc(x) * sinc(x/fa)
}
