package olmo

import "fmt"

// Module is a node in the model graph: a named sub-module owning zero or
// more parameters and zero or more children. Kernels that execute modules
// live outside this package; the graph carries structure, shapes and
// parameter storage.
type Module interface {
	// Path returns the module's dotted path within the model.
	Path() string

	// Params returns the module's direct parameters.
	Params() []*Parameter

	// Children returns the module's direct sub-modules in a stable order.
	Children() []Module
}

// Wrapper is a module that wraps exactly one other module (activation
// checkpointing, compilation, data-parallel units).
type Wrapper interface {
	Module
	Unwrap() Module
}

// paramInitKind tells the initializer what a parameter is.
type paramInitKind int

const (
	initKindWeight paramInitKind = iota
	initKindEmbedding
	initKindBias
	initKindNormWeight
	initKindNormBias
	initKindScale
)

// Parameter is a named parameter tensor. Sharding transformations narrow
// the rank-local view; FullShape always describes the logical, pre-sharding
// tensor.
type Parameter struct {
	Name      string
	Data      *Tensor
	FullShape []int

	// ranges holds, per dimension, the half-open slice of the full tensor
	// this rank owns after all sharding transformations.
	ranges [][2]int

	initKind paramInitKind
	fanIn    int // for init scaling
}

func newParameter(name string, kind paramInitKind, device Device, dtype DType, shape ...int) *Parameter {
	p := &Parameter{
		Name:      name,
		FullShape: append([]int(nil), shape...),
		initKind:  kind,
	}
	p.ranges = make([][2]int, len(shape))
	for i, s := range shape {
		p.ranges[i] = [2]int{0, s}
	}
	p.Data = Empty(device, dtype, shape...)
	return p
}

// FullNumel returns the logical (pre-sharding) element count.
func (p *Parameter) FullNumel() int {
	n := 1
	for _, s := range p.FullShape {
		n *= s
	}
	return n
}

// LocalNumel returns the element count of this rank's shard.
func (p *Parameter) LocalNumel() int {
	n := 1
	for _, r := range p.ranges {
		n *= r[1] - r[0]
	}
	return n
}

// IsSharded reports whether the local view is narrower than the full shape.
func (p *Parameter) IsSharded() bool {
	return p.LocalNumel() != p.FullNumel()
}

// Shard narrows the local view to the rank-th of n even chunks along dim.
// Applied on top of any previous sharding. The local tensor is re-declared
// with the narrowed shape; values are only assigned at initialization.
func (p *Parameter) Shard(dim, n, rank int) {
	lo, hi := p.ranges[dim][0], p.ranges[dim][1]
	length := hi - lo
	chunk := (length + n - 1) / n
	newLo := lo + rank*chunk
	newHi := newLo + chunk
	if newLo > hi {
		newLo = hi
	}
	if newHi > hi {
		newHi = hi
	}
	p.ranges[dim] = [2]int{newLo, newHi}
	p.Data = Empty(p.Data.Device, p.Data.DType, p.localShape()...)
}

func (p *Parameter) localShape() []int {
	shape := make([]int, len(p.ranges))
	for i, r := range p.ranges {
		shape[i] = r[1] - r[0]
	}
	return shape
}

// Linear is a linear projection module. Weight is [out, in].
type Linear struct {
	path   string
	Kind   LinearKind
	Weight *Parameter
	Bias   *Parameter // nil when disabled
	InDim  int
	OutDim int
}

// LinearKind distinguishes the standard projection from its low-precision
// variant.
type LinearKind string

const (
	LinearDefault LinearKind = "default"
	LinearFloat8  LinearKind = "float8"
)

func newLinear(path string, device Device, dtype DType, inDim, outDim int, bias bool) *Linear {
	l := &Linear{
		path:   path,
		Kind:   LinearDefault,
		InDim:  inDim,
		OutDim: outDim,
		Weight: newParameter(path+".weight", initKindWeight, device, dtype, outDim, inDim),
	}
	l.Weight.fanIn = inDim
	if bias {
		l.Bias = newParameter(path+".bias", initKindBias, device, dtype, outDim)
	}
	return l
}

func (l *Linear) Path() string { return l.path }

func (l *Linear) Params() []*Parameter {
	if l.Bias != nil {
		return []*Parameter{l.Weight, l.Bias}
	}
	return []*Parameter{l.Weight}
}

func (l *Linear) Children() []Module { return nil }

// Embedding is the token embedding table.
type Embedding struct {
	path   string
	Weight *Parameter
}

func newEmbedding(path string, device Device, dtype DType, vocabSize, dModel int) *Embedding {
	return &Embedding{
		path:   path,
		Weight: newParameter(path+".weight", initKindEmbedding, device, dtype, vocabSize, dModel),
	}
}

func (e *Embedding) Path() string         { return e.path }
func (e *Embedding) Params() []*Parameter { return []*Parameter{e.Weight} }
func (e *Embedding) Children() []Module   { return nil }

// LayerNorm is a normalization module. The l2_norm variant is
// parameterless.
type LayerNorm struct {
	path   string
	Kind   LayerNormType
	Eps    float64
	Weight *Parameter // nil for l2_norm
	Bias   *Parameter // nil unless configured
}

func newLayerNorm(path string, cfg *LayerNormConfig, device Device, size int) *LayerNorm {
	n := &LayerNorm{path: path, Kind: cfg.Name, Eps: cfg.Eps}
	if cfg.Name == LayerNormL2 {
		return n
	}
	n.Weight = newParameter(path+".weight", initKindNormWeight, device, cfg.DType, size)
	if cfg.Bias {
		n.Bias = newParameter(path+".bias", initKindNormBias, device, cfg.DType, size)
	}
	return n
}

func (n *LayerNorm) Path() string { return n.path }

func (n *LayerNorm) Params() []*Parameter {
	var ps []*Parameter
	if n.Weight != nil {
		ps = append(ps, n.Weight)
	}
	if n.Bias != nil {
		ps = append(ps, n.Bias)
	}
	return ps
}

func (n *LayerNorm) Children() []Module { return nil }

// Attention is the attention module of one block.
type Attention struct {
	path     string
	Kind     AttentionType
	NHeads   int
	NKVHeads int
	HeadDim  int
	UseFlash bool
	Rope     *RoPEConfig

	WQ, WK, WV, WOut *Linear
	QNorm, KNorm     *LayerNorm // nil unless qk-norm is configured
}

func newAttention(path string, cfg *AttentionConfig, device Device, dModel int) *Attention {
	headDim := dModel / cfg.NHeads
	kvHeads := cfg.EffectiveKVHeads()
	kvDim := kvHeads * headDim

	a := &Attention{
		path:     path,
		Kind:     cfg.Name,
		NHeads:   cfg.NHeads,
		NKVHeads: kvHeads,
		HeadDim:  headDim,
		UseFlash: cfg.UseFlash,
		Rope:     cfg.Rope,
		WQ:       newLinear(path+".w_q", device, cfg.DType, dModel, dModel, cfg.Bias),
		WK:       newLinear(path+".w_k", device, cfg.DType, dModel, kvDim, cfg.Bias),
		WV:       newLinear(path+".w_v", device, cfg.DType, dModel, kvDim, cfg.Bias),
		WOut:     newLinear(path+".w_out", device, cfg.DType, dModel, dModel, cfg.Bias),
	}
	if cfg.QKNorm != nil {
		a.QNorm = newLayerNorm(path+".q_norm", cfg.QKNorm, device, dModel)
		a.KNorm = newLayerNorm(path+".k_norm", cfg.QKNorm, device, kvDim)
	}
	return a
}

func (a *Attention) Path() string         { return a.path }
func (a *Attention) Params() []*Parameter { return nil }

func (a *Attention) Children() []Module {
	ms := []Module{a.WQ, a.WK, a.WV, a.WOut}
	if a.QNorm != nil {
		ms = append(ms, a.QNorm, a.KNorm)
	}
	return ms
}

// FeedForward is the (SwiGLU-style) feed-forward module of one block.
type FeedForward struct {
	path       string
	Kind       FeedForwardType
	HiddenSize int

	W1, W2, W3 *Linear
}

func newFeedForward(path string, cfg *FeedForwardConfig, device Device, dModel int) *FeedForward {
	return &FeedForward{
		path:       path,
		Kind:       cfg.Name,
		HiddenSize: cfg.HiddenSize,
		W1:         newLinear(path+".w1", device, cfg.DType, dModel, cfg.HiddenSize, cfg.Bias),
		W2:         newLinear(path+".w2", device, cfg.DType, cfg.HiddenSize, dModel, cfg.Bias),
		W3:         newLinear(path+".w3", device, cfg.DType, dModel, cfg.HiddenSize, cfg.Bias),
	}
}

func (f *FeedForward) Path() string         { return f.path }
func (f *FeedForward) Params() []*Parameter { return nil }
func (f *FeedForward) Children() []Module   { return []Module{f.W1, f.W2, f.W3} }

// LMHead is the output head.
type LMHead struct {
	path string
	Kind LMHeadType
	Norm *LayerNorm // nil for the normalized variant
	WOut *Linear
}

func newLMHead(path string, cfg *LMHeadConfig, device Device, dModel, vocabSize int) *LMHead {
	h := &LMHead{
		path: path,
		Kind: cfg.Name,
		WOut: newLinear(path+".w_out", device, cfg.DType, dModel, vocabSize, cfg.Bias),
	}
	if cfg.LayerNorm != nil {
		h.Norm = newLayerNorm(path+".norm", cfg.LayerNorm, device, dModel)
	}
	return h
}

func (h *LMHead) Path() string         { return h.path }
func (h *LMHead) Params() []*Parameter { return nil }

func (h *LMHead) Children() []Module {
	if h.Norm != nil {
		return []Module{h.Norm, h.WOut}
	}
	return []Module{h.WOut}
}

// TransformerBlock is one transformer layer.
type TransformerBlock struct {
	path  string
	Kind  TransformerBlockType
	Index int

	AttentionNorm   *LayerNorm // nil for normalized blocks
	Attention       *Attention
	FeedForwardNorm *LayerNorm
	FeedForward     *FeedForward

	// Learnable residual scale terms, normalized blocks only.
	AttnAlpha *Parameter
	MLPAlpha  *Parameter
}

func newTransformerBlock(path string, index int, cfg *TransformerBlockConfig, device Device, dModel int) *TransformerBlock {
	b := &TransformerBlock{
		path:      path,
		Kind:      cfg.Name,
		Index:     index,
		Attention: newAttention(path+".attention", &cfg.Attention, device, dModel),
	}
	if cfg.Name == BlockNormalized {
		b.AttnAlpha = newParameter(path+".attn_alpha", initKindScale, device, cfg.Attention.DType, dModel)
		b.MLPAlpha = newParameter(path+".mlp_alpha", initKindScale, device, cfg.Attention.DType, dModel)
	}
	if cfg.LayerNorm != nil {
		b.AttentionNorm = newLayerNorm(path+".attention_norm", cfg.LayerNorm, device, dModel)
		b.FeedForwardNorm = newLayerNorm(path+".feed_forward_norm", cfg.LayerNorm, device, dModel)
	}
	if cfg.FeedForward != nil {
		b.FeedForward = newFeedForward(path+".feed_forward", cfg.FeedForward, device, dModel)
	}
	return b
}

func (b *TransformerBlock) Path() string { return b.path }

func (b *TransformerBlock) Params() []*Parameter {
	var ps []*Parameter
	if b.AttnAlpha != nil {
		ps = append(ps, b.AttnAlpha, b.MLPAlpha)
	}
	return ps
}

func (b *TransformerBlock) Children() []Module {
	var ms []Module
	if b.AttentionNorm != nil {
		ms = append(ms, b.AttentionNorm)
	}
	ms = append(ms, b.Attention)
	if b.FeedForwardNorm != nil {
		ms = append(ms, b.FeedForwardNorm)
	}
	if b.FeedForward != nil {
		ms = append(ms, b.FeedForward)
	}
	return ms
}

// Transformer is the assembled model: a graph of named sub-modules plus
// parameter tensors. It is created as a shape-only shell on the init
// device, transformed in place by the strategy steps, then materialized and
// initialized.
type Transformer struct {
	Kind      TransformerType
	Embedding *Embedding
	// Blocks holds the transformer layers, each possibly wrapped for
	// activation checkpointing, compilation or per-block data parallelism.
	Blocks []Module
	LMHead *LMHead

	// RopeCache holds the rotary position buffers, built at init from the
	// max sequence length. Buffers, not parameters.
	RopeCache *RoPECache

	config   *TransformerConfig
	device   Device
	compiled bool
	float8   *Float8Config
	tpMesh   *DeviceMesh
	dp       *dataParallelState

	// acPaths records activation-checkpointed module paths, including
	// non-block selections that the external runtime wraps at execution
	// time.
	acPaths map[string]bool
}

// newTransformer constructs the uninitialized model graph on the given
// device. Dispatch over the architecture variant is closed: unknown names
// are a hard error.
func newTransformer(cfg *TransformerConfig, initDevice Device) (*Transformer, error) {
	switch cfg.Name {
	case TransformerDefault, "":
	case TransformerNormalized:
	default:
		return nil, notImplemented("transformer type %q", cfg.Name)
	}

	m := &Transformer{
		Kind:      cfg.Name,
		Embedding: newEmbedding("embeddings", initDevice, cfg.DType, cfg.VocabSize, cfg.DModel),
		LMHead:    newLMHead("lm_head", &cfg.LMHead, initDevice, cfg.DModel, cfg.VocabSize),
		config:    cfg,
		device:    initDevice,
	}
	for i := 0; i < cfg.NLayers; i++ {
		path := fmt.Sprintf("blocks.%d", i)
		m.Blocks = append(m.Blocks, newTransformerBlock(path, i, &cfg.Block, initDevice, cfg.DModel))
	}
	return m, nil
}

func (m *Transformer) Path() string         { return "" }
func (m *Transformer) Params() []*Parameter { return nil }

func (m *Transformer) Children() []Module {
	ms := []Module{m.Embedding}
	ms = append(ms, m.Blocks...)
	ms = append(ms, m.LMHead)
	return ms
}

// Config returns the descriptor the model was built from.
func (m *Transformer) Config() *TransformerConfig { return m.config }

// Device returns the device the model currently lives on.
func (m *Transformer) Device() Device { return m.device }

// Compiled reports whether the model has been marked for just-in-time
// fused execution.
func (m *Transformer) Compiled() bool { return m.compiled }

// TPMesh returns the tensor-parallel sub-mesh, or nil when tensor
// parallelism was not applied.
func (m *Transformer) TPMesh() *DeviceMesh { return m.tpMesh }

// MaterializeTo moves a shape-only model onto a real device: every
// rank-local parameter shard gets backing storage. Values remain
// unspecified until InitWeights.
func (m *Transformer) MaterializeTo(device Device) error {
	if device.IsMeta() {
		return configErrorf("cannot materialize model onto the meta device")
	}
	for _, p := range NamedParameters(m) {
		if err := p.Data.Materialize(device); err != nil {
			return fmt.Errorf("materializing %s: %w", p.Name, err)
		}
	}
	m.device = device
	return nil
}

// NamedParameters returns all parameters under the module, depth first in
// declaration order.
func NamedParameters(m Module) []*Parameter {
	var out []*Parameter
	var walk func(Module)
	walk = func(mod Module) {
		out = append(out, mod.Params()...)
		for _, child := range mod.Children() {
			walk(child)
		}
	}
	walk(m)
	return out
}

// NumParamElements returns the logical (pre-sharding) parameter element
// count of the module graph. Build cross-checks this against the sizing
// oracle.
func NumParamElements(m Module) int {
	n := 0
	for _, p := range NamedParameters(m) {
		n += p.FullNumel()
	}
	return n
}

// NumLocalParamElements returns the rank-local parameter element count,
// which is smaller than NumParamElements when sharding applied.
func NumLocalParamElements(m Module) int {
	n := 0
	for _, p := range NamedParameters(m) {
		n += p.LocalNumel()
	}
	return n
}

// findModule returns the module with the given dotted path, unwrapping
// wrapper nodes, or nil.
func findModule(root Module, path string) Module {
	var found Module
	var walk func(Module)
	walk = func(mod Module) {
		if found != nil {
			return
		}
		if mod.Path() == path {
			if _, isWrapper := mod.(Wrapper); !isWrapper {
				found = mod
				return
			}
		}
		for _, child := range mod.Children() {
			walk(child)
		}
	}
	walk(root)
	return found
}

// blockOf unwraps any wrappers around a block entry.
func blockOf(m Module) *TransformerBlock {
	for {
		if b, ok := m.(*TransformerBlock); ok {
			return b
		}
		w, ok := m.(Wrapper)
		if !ok {
			return nil
		}
		m = w.Unwrap()
	}
}
