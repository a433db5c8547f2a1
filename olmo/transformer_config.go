package olmo

// TransformerConfig is the immutable, declarative description of a
// transformer variant plus the optional parallel/precision strategies to
// apply when building it. All derived quantities (parameter counts, flops)
// are pure functions of the config.
type TransformerConfig struct {
	Name      TransformerType
	DModel    int
	VocabSize int
	NLayers   int
	Block     TransformerBlockConfig
	LMHead    LMHeadConfig

	DType      DType
	InitMethod InitMethod
	InitSeed   uint64

	// Compile marks the model for just-in-time fused execution. It also
	// biases the float8 compile interaction when that is left unset.
	Compile bool

	DP     *DataParallelConfig
	TP     *TensorParallelConfig
	AC     *ActivationCheckpointConfig
	Float8 *Float8Config
}

// Validate checks the architecture descriptor for structural validity.
func (c *TransformerConfig) Validate() error {
	if c.DModel <= 0 {
		return configErrorf("d_model must be positive, got %d", c.DModel)
	}
	if c.VocabSize <= 0 {
		return configErrorf("vocab_size must be positive, got %d", c.VocabSize)
	}
	if c.NLayers <= 0 {
		return configErrorf("n_layers must be positive, got %d", c.NLayers)
	}
	if c.Block.Attention.NHeads <= 0 {
		return configErrorf("n_heads must be positive, got %d", c.Block.Attention.NHeads)
	}
	if c.DModel%c.Block.Attention.NHeads != 0 {
		return configErrorf("n_heads (%d) must divide d_model (%d)",
			c.Block.Attention.NHeads, c.DModel)
	}
	if kv := c.Block.Attention.EffectiveKVHeads(); c.Block.Attention.NHeads%kv != 0 {
		return configErrorf("n_kv_heads (%d) must divide n_heads (%d)",
			kv, c.Block.Attention.NHeads)
	}
	switch c.Block.Name {
	case BlockDefault, BlockReorderedNorm, BlockNormalized, "":
	default:
		return notImplemented("transformer block type %q", c.Block.Name)
	}
	switch c.Block.Attention.Name {
	case AttentionDefault, AttentionFused, AttentionNormalized, "":
	default:
		return notImplemented("attention type %q", c.Block.Attention.Name)
	}
	if c.AC != nil {
		if err := c.AC.Validate(); err != nil {
			return err
		}
	}
	if c.DP != nil {
		if err := c.DP.Validate(); err != nil {
			return err
		}
	}
	if c.TP != nil {
		if err := c.TP.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// NumParams returns the total number of parameters a model built from this
// config will have. Build cross-checks this against the instantiated model.
func (c *TransformerConfig) NumParams() int {
	n := c.DModel * c.VocabSize // embedding
	n += c.NLayers * c.Block.NumParams(c.DModel)
	n += c.LMHead.NumParams(c.DModel, c.VocabSize)
	return n
}

// NumNonEmbeddingParams returns the parameter count excluding the token
// embedding.
func (c *TransformerConfig) NumNonEmbeddingParams() int {
	return c.NumParams() - c.DModel*c.VocabSize
}

// NumFlopsPerToken returns the approximate forward+backward flops per token
// at the given sequence length.
//
// The attention term uses a fixed factor of 12: each self-attention has 2
// matmuls forward and 4 backward, each matmul counts a multiply and an add,
// and by convention recomputation and causal-mask sparsity are not
// accounted for. This is an approximation with a specific accounting
// convention; downstream capacity planning compares against the same
// convention, so the constants are deliberate.
func (c *TransformerConfig) NumFlopsPerToken(seqLen int) int {
	n := c.NLayers
	h := c.Block.Attention.NHeads
	q := c.DModel / h
	t := seqLen
	return 6*c.NumNonEmbeddingParams() + 12*n*h*q*t
}

// llamaOptions carries the knobs of NewLlamaLikeConfig. Zero values select
// the defaults used by the preset catalog.
type llamaOptions struct {
	nKVHeads             int
	qkNorm               bool
	layerNormEps         float64
	ropeTheta            int
	ropeScaling          *RoPEScalingConfig
	hiddenSizeMultipleOf int
	hiddenSizeMultiplier float64
	fusedOps             bool
	useFlash             bool
	blockName            TransformerBlockType
	lmHeadName           LMHeadType
	dtype                DType
}

// LlamaOption configures NewLlamaLikeConfig.
type LlamaOption func(*llamaOptions)

// WithKVHeads sets the number of key/value heads (grouped-query attention).
func WithKVHeads(n int) LlamaOption { return func(o *llamaOptions) { o.nKVHeads = n } }

// WithQKNorm enables query/key normalization.
func WithQKNorm() LlamaOption { return func(o *llamaOptions) { o.qkNorm = true } }

// WithLayerNormEps sets the normalization epsilon.
func WithLayerNormEps(eps float64) LlamaOption {
	return func(o *llamaOptions) { o.layerNormEps = eps }
}

// WithRopeTheta sets the rotary base frequency.
func WithRopeTheta(theta int) LlamaOption { return func(o *llamaOptions) { o.ropeTheta = theta } }

// WithRopeScaling sets long-context rotary scaling.
func WithRopeScaling(s *RoPEScalingConfig) LlamaOption {
	return func(o *llamaOptions) { o.ropeScaling = s }
}

// WithHiddenSizeMultipleOf rounds the FFN hidden size up to a multiple.
func WithHiddenSizeMultipleOf(n int) LlamaOption {
	return func(o *llamaOptions) { o.hiddenSizeMultipleOf = n }
}

// WithHiddenSizeMultiplier scales the FFN hidden size before rounding.
func WithHiddenSizeMultiplier(m float64) LlamaOption {
	return func(o *llamaOptions) { o.hiddenSizeMultiplier = m }
}

// WithFusedOps requests fused attention/rope kernels where the recipe
// allows them.
func WithFusedOps() LlamaOption { return func(o *llamaOptions) { o.fusedOps = true } }

// WithFlash requests flash attention.
func WithFlash() LlamaOption { return func(o *llamaOptions) { o.useFlash = true } }

// WithBlockName overrides the block recipe.
func WithBlockName(name TransformerBlockType) LlamaOption {
	return func(o *llamaOptions) { o.blockName = name }
}

// WithDType sets the default parameter dtype.
func WithDType(d DType) LlamaOption { return func(o *llamaOptions) { o.dtype = d } }

// NewLlamaLikeConfig creates a Llama-like model configuration. The FFN
// hidden size starts from 8*d_model/3, is scaled by the optional
// multiplier, and is rounded up to the configured multiple.
func NewLlamaLikeConfig(dModel, vocabSize, nLayers, nHeads int, opts ...LlamaOption) *TransformerConfig {
	o := llamaOptions{
		layerNormEps:         1e-5,
		ropeTheta:            500_000,
		hiddenSizeMultipleOf: 256,
		blockName:            BlockDefault,
		lmHeadName:           LMHeadDefault,
		dtype:                Float32,
	}
	for _, opt := range opts {
		opt(&o)
	}

	hiddenSize := 8 * dModel / 3
	if o.hiddenSizeMultiplier != 0 {
		hiddenSize = int(o.hiddenSizeMultiplier * float64(hiddenSize))
	}
	hiddenSize = o.hiddenSizeMultipleOf *
		((hiddenSize + o.hiddenSizeMultipleOf - 1) / o.hiddenSizeMultipleOf)

	layerNorm := &LayerNormConfig{
		Name:  LayerNormRMS,
		Eps:   o.layerNormEps,
		Bias:  false,
		DType: o.dtype,
	}
	if o.fusedOps {
		layerNorm.Name = LayerNormFusedRMS
	}

	// Fused attention is only compatible with plain multi-head attention.
	attType := AttentionDefault
	ropeType := RoPEDefault
	if o.fusedOps && o.nKVHeads == 0 {
		attType = AttentionFused
		ropeType = RoPEFused
	}

	var qkNorm *LayerNormConfig
	if o.qkNorm {
		qkNorm = layerNorm
	}

	return &TransformerConfig{
		Name:      TransformerDefault,
		DModel:    dModel,
		VocabSize: vocabSize,
		NLayers:   nLayers,
		Block: TransformerBlockConfig{
			Name: o.blockName,
			Attention: AttentionConfig{
				Name:     attType,
				NHeads:   nHeads,
				NKVHeads: o.nKVHeads,
				Bias:     false,
				Rope:     &RoPEConfig{Name: ropeType, Theta: o.ropeTheta, Scaling: o.ropeScaling},
				QKNorm:   qkNorm,
				UseFlash: o.useFlash,
				DType:    o.dtype,
			},
			FeedForward: &FeedForwardConfig{HiddenSize: hiddenSize, Bias: false, DType: o.dtype},
			LayerNorm:   layerNorm,
		},
		LMHead: LMHeadConfig{
			Name:      o.lmHeadName,
			LayerNorm: layerNorm,
			Bias:      false,
			DType:     o.dtype,
		},
		DType:      o.dtype,
		InitMethod: InitNormal,
	}
}

// NewNGPTLikeConfig creates an nGPT-like (normalized) model configuration.
func NewNGPTLikeConfig(dModel, vocabSize, nLayers, nHeads int, opts ...LlamaOption) *TransformerConfig {
	o := llamaOptions{
		ropeTheta:            500_000,
		hiddenSizeMultipleOf: 256,
		dtype:                Float32,
		qkNorm:               true,
	}
	for _, opt := range opts {
		opt(&o)
	}

	hiddenSize := 8 * dModel / 3
	if o.hiddenSizeMultiplier != 0 {
		hiddenSize = int(o.hiddenSizeMultiplier * float64(hiddenSize))
	}
	hiddenSize = o.hiddenSizeMultipleOf *
		((hiddenSize + o.hiddenSizeMultipleOf - 1) / o.hiddenSizeMultipleOf)

	var qkNorm *LayerNormConfig
	if o.qkNorm {
		qkNorm = &LayerNormConfig{Name: LayerNormL2}
	}

	return &TransformerConfig{
		Name:      TransformerNormalized,
		DModel:    dModel,
		VocabSize: vocabSize,
		NLayers:   nLayers,
		Block: TransformerBlockConfig{
			Name: BlockNormalized,
			Attention: AttentionConfig{
				Name:     AttentionNormalized,
				NHeads:   nHeads,
				NKVHeads: o.nKVHeads,
				Rope:     &RoPEConfig{Name: RoPEDefault, Theta: o.ropeTheta},
				QKNorm:   qkNorm,
				UseFlash: o.useFlash,
				DType:    o.dtype,
			},
			FeedForward: &FeedForwardConfig{
				Name:       FeedForwardNormalized,
				HiddenSize: hiddenSize,
				DType:      o.dtype,
			},
		},
		LMHead:     LMHeadConfig{Name: LMHeadNormalized, DType: o.dtype},
		DType:      o.dtype,
		InitMethod: InitNormalized,
	}
}

// NewLlama2Config creates a Llama2-like config for a named size. Unknown
// sizes are a hard error.
func NewLlama2Config(size string, vocabSize int) (*TransformerConfig, error) {
	switch size {
	case "271M":
		return NewLlamaLikeConfig(1024, vocabSize, 16, 8, WithRopeTheta(10_000)), nil
	case "1B":
		return NewLlamaLikeConfig(2048, vocabSize, 18, 16, WithRopeTheta(10_000)), nil
	case "7B":
		return NewLlamaLikeConfig(4096, vocabSize, 32, 32, WithRopeTheta(10_000)), nil
	case "13B":
		return NewLlamaLikeConfig(5120, vocabSize, 40, 40, WithRopeTheta(10_000)), nil
	case "26B":
		return NewLlamaLikeConfig(5120, vocabSize, 80, 40, WithRopeTheta(10_000)), nil
	case "70B":
		return NewLlamaLikeConfig(8192, vocabSize, 80, 64,
			WithKVHeads(8), WithRopeTheta(10_000),
			WithHiddenSizeMultiplier(1.3), WithHiddenSizeMultipleOf(4096)), nil
	default:
		return nil, notImplemented("llama2 size %q", size)
	}
}

// NewLlama3Config creates a Llama3-like config for a named size. Unknown
// sizes are a hard error.
func NewLlama3Config(size string, vocabSize int) (*TransformerConfig, error) {
	switch size {
	case "1B":
		return NewLlamaLikeConfig(2048, vocabSize, 16, 32,
			WithKVHeads(8), WithHiddenSizeMultiplier(1.5)), nil
	case "8B":
		return NewLlamaLikeConfig(4096, vocabSize, 32, 32,
			WithKVHeads(8), WithHiddenSizeMultiplier(1.3), WithHiddenSizeMultipleOf(1024)), nil
	case "70B":
		return NewLlamaLikeConfig(8192, vocabSize, 80, 64,
			WithKVHeads(8), WithHiddenSizeMultiplier(1.3), WithHiddenSizeMultipleOf(4096)), nil
	case "405B":
		return NewLlamaLikeConfig(16384, vocabSize, 126, 128,
			WithKVHeads(8), WithHiddenSizeMultiplier(1.2), WithHiddenSizeMultipleOf(4096)), nil
	default:
		return nil, notImplemented("llama3 size %q", size)
	}
}

// NewOLMo2Config creates an OLMo2-like config for a named size: a
// reordered-norm block with query/key normalization. Unknown sizes are a
// hard error.
func NewOLMo2Config(size string, vocabSize int) (*TransformerConfig, error) {
	olmo2 := []LlamaOption{
		WithBlockName(BlockReorderedNorm),
		WithQKNorm(),
		WithLayerNormEps(1e-6),
	}
	switch size {
	case "190M":
		return NewLlamaLikeConfig(768, vocabSize, 12, 12,
			append(olmo2, WithHiddenSizeMultiplier(1.5))...), nil
	case "370M":
		return NewLlamaLikeConfig(1024, vocabSize, 16, 16,
			append(olmo2, WithHiddenSizeMultiplier(1.4))...), nil
	case "600M":
		return NewLlamaLikeConfig(1344, vocabSize, 16, 16,
			append(olmo2, WithHiddenSizeMultiplier(1.5))...), nil
	case "760M":
		return NewLlamaLikeConfig(1536, vocabSize, 16, 16,
			append(olmo2, WithHiddenSizeMultiplier(1.5))...), nil
	case "1B":
		return NewLlamaLikeConfig(2048, vocabSize, 18, 16, olmo2...), nil
	case "3B":
		return NewLlamaLikeConfig(3328, vocabSize, 16, 16,
			append(olmo2, WithHiddenSizeMultiplier(1.4))...), nil
	case "7B":
		return NewLlamaLikeConfig(4096, vocabSize, 32, 32, olmo2...), nil
	case "13B":
		return NewLlamaLikeConfig(5120, vocabSize, 40, 40, olmo2...), nil
	case "32B":
		dModel := 5120
		return NewLlamaLikeConfig(dModel, vocabSize, 64, 40,
			append(olmo2,
				WithKVHeads(8),
				WithHiddenSizeMultipleOf(512),
				WithHiddenSizeMultiplier(27648/(8*float64(dModel)/3)))...), nil
	default:
		return nil, notImplemented("olmo2 size %q", size)
	}
}

// NewNGPTConfig creates an nGPT config for a named size. Unknown sizes are
// a hard error.
func NewNGPTConfig(size string, vocabSize int) (*TransformerConfig, error) {
	switch size {
	case "271M":
		return NewNGPTLikeConfig(1024, vocabSize, 16, 16), nil
	case "1B":
		return NewNGPTLikeConfig(2048, vocabSize, 18, 16), nil
	default:
		return nil, notImplemented("ngpt size %q", size)
	}
}
