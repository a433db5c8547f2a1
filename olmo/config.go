package olmo

// TransformerType selects the transformer implementation.
type TransformerType string

const (
	TransformerDefault    TransformerType = "default"
	TransformerNormalized TransformerType = "normalized" // nGPT
)

// TransformerBlockType selects the block recipe.
type TransformerBlockType string

const (
	BlockDefault       TransformerBlockType = "default"
	BlockReorderedNorm TransformerBlockType = "reordered_norm" // norm applied after attn/ffn (OLMo2)
	BlockNormalized    TransformerBlockType = "normalized"     // nGPT block with learnable residual scales
)

// AttentionType selects the attention implementation.
type AttentionType string

const (
	AttentionDefault    AttentionType = "default"
	AttentionFused      AttentionType = "fused"
	AttentionNormalized AttentionType = "normalized"
)

// LayerNormType selects the normalization implementation.
type LayerNormType string

const (
	LayerNormDefault  LayerNormType = "default"
	LayerNormRMS      LayerNormType = "rms"
	LayerNormFusedRMS LayerNormType = "fused_rms"
	LayerNormL2       LayerNormType = "l2_norm" // parameterless
)

// FeedForwardType selects the feed-forward implementation.
type FeedForwardType string

const (
	FeedForwardDefault    FeedForwardType = "default"
	FeedForwardNormalized FeedForwardType = "normalized"
)

// LMHeadType selects the output-head implementation.
type LMHeadType string

const (
	LMHeadDefault    LMHeadType = "default"
	LMHeadNormalized LMHeadType = "normalized"
)

// RoPEType selects the rotary position embedding implementation.
type RoPEType string

const (
	RoPEDefault RoPEType = "default"
	RoPEFused   RoPEType = "fused"
	RoPENone    RoPEType = "none"
)

// InitMethod selects the weight initialization scheme.
type InitMethod string

const (
	InitNormal     InitMethod = "normal"
	InitNormalized InitMethod = "normalized"
)

// LayerNormConfig describes a normalization layer.
type LayerNormConfig struct {
	Name  LayerNormType
	Eps   float64
	Bias  bool
	DType DType
}

// NumParams returns the number of parameters a norm of the given size has.
func (c *LayerNormConfig) NumParams(size int) int {
	if c.Name == LayerNormL2 {
		return 0
	}
	n := size
	if c.Bias {
		n += size
	}
	return n
}

// RoPEScalingConfig describes long-context rotary frequency scaling.
type RoPEScalingConfig struct {
	Factor         float64
	LowFreqFactor  float64
	HighFreqFactor float64
	OldContextLen  int
}

// RoPEConfig describes rotary position embeddings. RoPE caches are buffers,
// not parameters, so this config contributes nothing to parameter counts.
type RoPEConfig struct {
	Name    RoPEType
	Theta   int
	Scaling *RoPEScalingConfig
}

// AttentionConfig describes the attention recipe of a block.
type AttentionConfig struct {
	Name     AttentionType
	NHeads   int
	NKVHeads int // 0 means same as NHeads
	Bias     bool
	Rope     *RoPEConfig
	QKNorm   *LayerNormConfig
	UseFlash bool
	DType    DType
}

// EffectiveKVHeads returns the number of key/value heads.
func (c *AttentionConfig) EffectiveKVHeads() int {
	if c.NKVHeads > 0 {
		return c.NKVHeads
	}
	return c.NHeads
}

// NumParams returns the attention parameter count for the given model size.
func (c *AttentionConfig) NumParams(dModel int) int {
	headDim := dModel / c.NHeads
	kvDim := c.EffectiveKVHeads() * headDim

	n := 0
	n += dModel * dModel // w_q
	n += kvDim * dModel  // w_k
	n += kvDim * dModel  // w_v
	n += dModel * dModel // w_out
	if c.Bias {
		n += dModel + kvDim + kvDim + dModel
	}
	if c.QKNorm != nil {
		n += c.QKNorm.NumParams(dModel)
		n += c.QKNorm.NumParams(kvDim)
	}
	return n
}

// FeedForwardConfig describes the (SwiGLU-style) feed-forward recipe.
type FeedForwardConfig struct {
	Name       FeedForwardType
	HiddenSize int
	Bias       bool
	DType      DType
}

// NumParams returns the feed-forward parameter count for the given model size.
func (c *FeedForwardConfig) NumParams(dModel int) int {
	n := 3 * dModel * c.HiddenSize // w1, w2, w3
	if c.Bias {
		n += c.HiddenSize + dModel + c.HiddenSize
	}
	return n
}

// LMHeadConfig describes the output head recipe.
type LMHeadConfig struct {
	Name      LMHeadType
	LayerNorm *LayerNormConfig
	Bias      bool
	DType     DType
}

// NumParams returns the head parameter count.
func (c *LMHeadConfig) NumParams(dModel, vocabSize int) int {
	n := 0
	if c.LayerNorm != nil {
		n += c.LayerNorm.NumParams(dModel)
	}
	n += dModel * vocabSize
	if c.Bias {
		n += vocabSize
	}
	return n
}

// TransformerBlockConfig describes one transformer block.
type TransformerBlockConfig struct {
	Name        TransformerBlockType
	Attention   AttentionConfig
	FeedForward *FeedForwardConfig
	LayerNorm   *LayerNormConfig
}

// NumParams returns the per-block parameter count for the given model size.
func (c *TransformerBlockConfig) NumParams(dModel int) int {
	n := 0

	// Learnable residual scale terms.
	if c.Name == BlockNormalized {
		n += 2 * dModel
	}

	n += c.Attention.NumParams(dModel)
	if c.LayerNorm != nil {
		n += 2 * c.LayerNorm.NumParams(dModel) // attention norm + feed-forward norm
	}
	if c.FeedForward != nil {
		n += c.FeedForward.NumParams(dModel)
	}
	return n
}
