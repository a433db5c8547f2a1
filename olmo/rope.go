package olmo

import "math"

// RoPECache holds precomputed rotary position buffers. These are buffers,
// not parameters: they are rebuilt deterministically at init from the max
// sequence length and never counted by the sizing oracle.
type RoPECache struct {
	Cos       *Tensor // [max_seq_len, head_dim]
	Sin       *Tensor // [max_seq_len, head_dim]
	HeadDim   int
	MaxSeqLen int
	Theta     float64
}

// newRoPECache precomputes cos/sin for all positions up to maxSeqLen,
// applying long-context frequency scaling when configured.
func newRoPECache(cfg *RoPEConfig, headDim, maxSeqLen int) *RoPECache {
	theta := float64(cfg.Theta)
	cache := &RoPECache{
		HeadDim:   headDim,
		MaxSeqLen: maxSeqLen,
		Theta:     theta,
		Cos:       NewTensor(maxSeqLen, headDim),
		Sin:       NewTensor(maxSeqLen, headDim),
	}

	for pos := 0; pos < maxSeqLen; pos++ {
		for i := 0; i < headDim/2; i++ {
			freq := 1.0 / math.Pow(theta, float64(2*i)/float64(headDim))
			if cfg.Scaling != nil {
				freq = cfg.Scaling.scale(freq)
			}
			angle := float64(pos) * freq

			cache.Cos.Data[pos*headDim+2*i] = float32(math.Cos(angle))
			cache.Cos.Data[pos*headDim+2*i+1] = float32(math.Cos(angle))
			cache.Sin.Data[pos*headDim+2*i] = float32(math.Sin(angle))
			cache.Sin.Data[pos*headDim+2*i+1] = float32(math.Sin(angle))
		}
	}
	return cache
}

// scale applies Llama3-style frequency scaling: low frequencies are
// stretched by the factor, high frequencies pass through, and the band in
// between is interpolated.
func (s *RoPEScalingConfig) scale(freq float64) float64 {
	oldContext := float64(s.OldContextLen)
	if oldContext == 0 {
		oldContext = 8192
	}
	wavelen := 2 * math.Pi / freq
	lowFreqWavelen := oldContext / s.LowFreqFactor
	highFreqWavelen := oldContext / s.HighFreqFactor

	switch {
	case wavelen < highFreqWavelen:
		return freq
	case wavelen > lowFreqWavelen:
		return freq / s.Factor
	default:
		smooth := (oldContext/wavelen - s.LowFreqFactor) / (s.HighFreqFactor - s.LowFreqFactor)
		return (1-smooth)*freq/s.Factor + smooth*freq
	}
}
