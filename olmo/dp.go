package olmo

// dataParallelState records how the model was wrapped for data parallelism.
type dataParallelState struct {
	kind           DataParallelType
	mesh           *DeviceMesh
	paramDType     DType
	reduceDType    DType
	wrapping       DataParallelWrappingStrategy
	compileEnabled bool
}

// FSDPUnit wraps one sub-module as a separately sharded/gathered unit under
// per-block wrapping granularity.
type FSDPUnit struct {
	wrapped Module
	mesh    *DeviceMesh
}

func (u *FSDPUnit) Path() string         { return u.wrapped.Path() }
func (u *FSDPUnit) Params() []*Parameter { return nil }
func (u *FSDPUnit) Children() []Module   { return []Module{u.wrapped} }
func (u *FSDPUnit) Unwrap() Module       { return u.wrapped }

// ApplyFSDP shards every parameter across the data-parallel mesh for
// fully-sharded parameter, gradient and optimizer-state distribution. For
// an HSDP mesh only the shard axis shards; the replica axis replicates.
// paramDType and reduceDType control the sharded-parameter and
// gradient-reduction precision separately; empty keeps the model dtype.
// Wrapping granularity changes the communication/memory tradeoff, not
// numerics.
func (m *Transformer) ApplyFSDP(dpMesh *DeviceMesh, paramDType, reduceDType DType, wrapping DataParallelWrappingStrategy) error {
	if dpMesh == nil {
		return configErrorf("a data parallel mesh is required to apply FSDP")
	}
	numShards, shardRank := dpMesh.shardInfo()

	for _, p := range NamedParameters(m) {
		p.Shard(0, numShards, shardRank)
		if paramDType != "" {
			p.Data.DType = paramDType
		}
	}

	if wrapping == WrapBlocks {
		for i := range m.Blocks {
			m.Blocks[i] = &FSDPUnit{wrapped: m.Blocks[i], mesh: dpMesh}
		}
	}

	kind := DataParallelFSDP
	if dpMesh.AxisSize(MeshAxisDPReplicate) > 0 {
		kind = DataParallelHSDP
	}
	m.dp = &dataParallelState{
		kind:        kind,
		mesh:        dpMesh,
		paramDType:  paramDType,
		reduceDType: reduceDType,
		wrapping:    wrapping,
	}
	return nil
}

// ApplyDDP wraps the model for replicated data parallelism with gradient
// averaging. Parameters stay whole on every rank. compileEnabled threads
// through so the gradient-hook timing matches whether the model was
// compiled.
func (m *Transformer) ApplyDDP(dpMesh *DeviceMesh, compileEnabled bool) error {
	m.dp = &dataParallelState{
		kind:           DataParallelDDP,
		mesh:           dpMesh,
		compileEnabled: compileEnabled,
	}
	return nil
}

// DataParallelKind returns the applied data-parallel variant, or "" when
// the model is not data-parallel wrapped.
func (m *Transformer) DataParallelKind() DataParallelType {
	if m.dp == nil {
		return ""
	}
	return m.dp.kind
}

// DPMesh returns the data-parallel mesh the model was wrapped over, or nil.
func (m *Transformer) DPMesh() *DeviceMesh {
	if m.dp == nil {
		return nil
	}
	return m.dp.mesh
}
