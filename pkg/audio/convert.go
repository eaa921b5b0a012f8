package audio

// ResampleSamples resamples mono float samples from srcRate to dstRate using
// linear interpolation. If the rates match, or either is non-positive, the
// input is returned unchanged.
func ResampleSamples(in []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(in) == 0 {
		return in
	}
	n := int(int64(len(in)) * int64(dstRate) / int64(srcRate))
	if n == 0 {
		return nil
	}
	out := make([]float32, n)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := float32(pos - float64(idx))
		s0 := in[idx]
		s1 := s0
		if idx+1 < len(in) {
			s1 = in[idx+1]
		}
		out[i] = s0*(1-frac) + s1*frac
	}
	return out
}

// MixDown averages interleaved multi-channel float samples into mono.
// channels <= 1 returns the input unchanged.
func MixDown(interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		return interleaved
	}
	frames := len(interleaved) / channels
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			sum += interleaved[i*channels+ch]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// Resampler converts a stream of mono blocks from one rate to another with
// linear interpolation. Unlike [ResampleSamples] it keeps the interpolation
// phase and the last input sample between calls, so block boundaries neither
// drop samples nor restart the waveform.
//
// A Resampler is not safe for concurrent use.
type Resampler struct {
	srcRate int
	dstRate int
	ratio   float64

	// pos is the next output position, in input samples, relative to the
	// carried sample (or to the first sample before any input was seen).
	pos    float64
	last   float32
	primed bool
}

// NewResampler returns a Resampler from srcRate to dstRate. Non-positive or
// equal rates make Process a passthrough.
func NewResampler(srcRate, dstRate int) *Resampler {
	r := &Resampler{srcRate: srcRate, dstRate: dstRate}
	if srcRate > 0 && dstRate > 0 {
		r.ratio = float64(srcRate) / float64(dstRate)
	}
	return r
}

// Process resamples the next block of the stream.
func (r *Resampler) Process(in []float32) []float32 {
	if r.ratio == 0 || r.srcRate == r.dstRate || len(in) == 0 {
		return in
	}

	// The virtual input is the carried sample followed by in.
	off := 0
	if r.primed {
		off = 1
	}
	n := len(in) + off
	at := func(i int) float32 {
		if i < off {
			return r.last
		}
		return in[i-off]
	}

	out := make([]float32, 0, int(float64(n)/r.ratio)+1)
	for {
		idx := int(r.pos)
		if idx+1 >= n {
			break
		}
		frac := float32(r.pos - float64(idx))
		out = append(out, at(idx)*(1-frac)+at(idx+1)*frac)
		r.pos += r.ratio
	}

	r.pos -= float64(n - 1)
	r.last = in[len(in)-1]
	r.primed = true
	return out
}
