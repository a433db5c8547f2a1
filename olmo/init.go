package olmo

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/cespare/xxhash/v2"
)

// InitWeights populates every rank-local parameter shard deterministically
// from the config's init seed and init method. The model must be
// materialized first. maxSeqLen sizes the rotary position buffers; pass 0
// to skip building them.
//
// Determinism: each parameter draws from its own stream seeded by
// hash(init_seed, parameter path), and sharded parameters slice their local
// range out of the full deterministic tensor. The same seed, descriptor and
// shard assignment therefore always produce the same values, and shards
// across any world size agree with the unsharded model.
func (m *Transformer) InitWeights(maxSeqLen int) error {
	return m.initWeights(maxSeqLen, nil)
}

func (m *Transformer) initWeights(maxSeqLen int, onParam func()) error {
	if m.device.IsMeta() {
		return configErrorf("cannot initialize weights on the meta device; materialize first")
	}

	cfg := m.config
	for _, p := range NamedParameters(m) {
		if !p.Data.IsMaterialized() {
			return fmt.Errorf("parameter %s is not materialized", p.Name)
		}
		initParameter(p, cfg)
		if onParam != nil {
			onParam()
		}
	}

	if maxSeqLen > 0 {
		if rope := cfg.Block.Attention.Rope; rope != nil && rope.Name != RoPENone {
			headDim := cfg.DModel / cfg.Block.Attention.NHeads
			m.RopeCache = newRoPECache(rope, headDim, maxSeqLen)
		}
	}
	return nil
}

func initParameter(p *Parameter, cfg *TransformerConfig) {
	switch p.initKind {
	case initKindBias, initKindNormBias:
		fillConst(p, 0)
	case initKindNormWeight:
		fillConst(p, 1)
	case initKindScale:
		// nGPT residual scales start small so early residual updates stay
		// close to the sphere.
		fillConst(p, 1/float32(cfg.NLayers))
	default:
		std := 0.02
		if cfg.InitMethod == InitNormalized {
			std = 1 / math.Sqrt(float64(cfg.DModel))
		}
		fillTruncNormal(p, cfg.InitSeed, std)
	}
}

func fillConst(p *Parameter, v float32) {
	for i := range p.Data.Data {
		p.Data.Data[i] = v
	}
}

// paramSeed derives a per-parameter seed from the model seed and the
// parameter's path, so streams never collide across parameters.
func paramSeed(initSeed uint64, name string) int64 {
	h := xxhash.New()
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(initSeed >> (8 * i))
	}
	h.Write(buf[:])
	h.WriteString(name)
	return int64(h.Sum64())
}

// fillTruncNormal fills the rank-local shard with values from the full
// parameter's deterministic truncated-normal stream. For sharded parameters
// the full tensor is generated and the local slice copied out, so every
// world size sees identical weights.
func fillTruncNormal(p *Parameter, initSeed uint64, std float64) {
	rng := rand.New(rand.NewSource(paramSeed(initSeed, p.Name)))

	if !p.IsSharded() {
		for i := range p.Data.Data {
			p.Data.Data[i] = truncNormal(rng, std)
		}
		return
	}

	full := make([]float32, p.FullNumel())
	for i := range full {
		full[i] = truncNormal(rng, std)
	}
	copyShard(p, full)
}

// truncNormal draws a normal value with the given std, re-drawing values
// outside three standard deviations.
func truncNormal(rng *rand.Rand, std float64) float32 {
	for {
		v := rng.NormFloat64() * std
		if math.Abs(v) <= 3*std {
			return float32(v)
		}
	}
}

// copyShard copies this rank's slice of the full tensor into the local
// shard, walking the per-dimension ranges.
func copyShard(p *Parameter, full []float32) {
	nd := len(p.FullShape)
	strides := make([]int, nd)
	stride := 1
	for i := nd - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= p.FullShape[i]
	}

	idx := make([]int, nd)
	for i := range idx {
		idx[i] = p.ranges[i][0]
	}
	for out := 0; out < len(p.Data.Data); out++ {
		flat := 0
		for d := 0; d < nd; d++ {
			flat += idx[d] * strides[d]
		}
		p.Data.Data[out] = full[flat]

		for d := nd - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < p.ranges[d][1] {
				break
			}
			idx[d] = p.ranges[d][0]
		}
	}
}
