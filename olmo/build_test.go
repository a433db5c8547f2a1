package olmo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tinyConfig() *TransformerConfig {
	return NewLlamaLikeConfig(64, 256, 4, 4)
}

func TestBuildSingleProcessCPU(t *testing.T) {
	cfg, err := NewLlama2Config("271M", 50304)
	require.NoError(t, err)
	require.Equal(t, 1024, cfg.DModel)
	require.Equal(t, 16, cfg.NLayers)
	require.Equal(t, 8, cfg.Block.Attention.NHeads)

	model, err := cfg.Build(BuildOptions{MaxSeqLen: 512})
	require.NoError(t, err)

	assert.Equal(t, cfg.NumParams(), NumParamElements(model))
	assert.Equal(t, cfg.NumParams(), NumLocalParamElements(model), "no sharding requested")
	assert.Equal(t, DeviceCPU, model.Device())

	// Materialized and initialized: storage exists and is not all zero.
	allZero := true
	for _, p := range NamedParameters(model) {
		require.True(t, p.Data.IsMaterialized(), "parameter %s not materialized", p.Name)
		for _, v := range p.Data.Data {
			if v != 0 {
				allZero = false
				break
			}
		}
	}
	assert.False(t, allZero, "initialized model should not be all zero")

	require.NotNil(t, model.RopeCache)
	assert.Equal(t, 512, model.RopeCache.MaxSeqLen)
}

func TestBuildMetaInitDevice(t *testing.T) {
	cfg := tinyConfig()

	// The shell on the meta device carries shapes but no storage; Build
	// materializes onto the target.
	shell, err := newTransformer(cfg, DeviceMeta)
	require.NoError(t, err)
	for _, p := range NamedParameters(shell) {
		assert.False(t, p.Data.IsMaterialized())
	}

	model, err := cfg.Build(BuildOptions{InitDevice: DeviceMeta, MaxSeqLen: 64})
	require.NoError(t, err)
	for _, p := range NamedParameters(model) {
		assert.True(t, p.Data.IsMaterialized())
	}
}

func TestBuildTPWithoutMeshFails(t *testing.T) {
	cfg := tinyConfig()
	cfg.TP = &TensorParallelConfig{Degree: 2}

	_, err := cfg.Build(BuildOptions{})
	var confErr *ConfigurationError
	require.ErrorAs(t, err, &confErr, "tp without mesh must fail before any structural mutation")
}

func TestBuildTPWithMeshMissingTPAxisFails(t *testing.T) {
	cfg := tinyConfig()
	cfg.TP = &TensorParallelConfig{Degree: 2}

	// A composed mesh that carries no tp axis cannot satisfy the requested
	// sharding; silently skipping it would leave every rank unsharded.
	dpOnly := &DataParallelConfig{Name: DataParallelFSDP}
	mesh, err := BuildDeviceMesh(&fakeRank{rank: 0, size: 2}, DeviceCPU, dpOnly, nil)
	require.NoError(t, err)
	require.Nil(t, mesh.TPMesh())

	_, err = cfg.Build(BuildOptions{Mesh: mesh, World: &fakeRank{rank: 0, size: 2}})
	var confErr *ConfigurationError
	require.ErrorAs(t, err, &confErr, "tp with a tp-less mesh must fail, not silently skip sharding")
}

func TestBuildUnknownDataParallelVariant(t *testing.T) {
	cfg := tinyConfig()
	cfg.DP = &DataParallelConfig{Name: "zero-redundancy"}

	_, err := cfg.Build(BuildOptions{})
	var niErr *NotImplementedError
	require.ErrorAs(t, err, &niErr)
}

func TestBuildUnknownTransformerVariant(t *testing.T) {
	cfg := tinyConfig()
	cfg.Name = "mixture"

	_, err := cfg.Build(BuildOptions{})
	var niErr *NotImplementedError
	require.ErrorAs(t, err, &niErr)
}

func TestPipelineOrderingCheckpointBeforeCompile(t *testing.T) {
	cfg := tinyConfig()
	cfg.Compile = true
	ac, err := NewActivationCheckpointConfig(CheckpointFull, 0, nil)
	require.NoError(t, err)
	cfg.AC = ac

	// Compilation only applies on an accelerator target.
	model, err := cfg.Build(BuildOptions{Device: DeviceCUDA, MaxSeqLen: 64})
	require.NoError(t, err)
	require.True(t, model.Compiled())

	// Compilation must observe the checkpoint-wrapped structure: the
	// compile wrapper sits outside the checkpoint wrapper.
	for i, entry := range model.Blocks {
		compiled, ok := entry.(*CompiledModule)
		require.Truef(t, ok, "block %d: outermost wrapper is %T, want CompiledModule", i, entry)
		_, ok = compiled.Unwrap().(*CheckpointedModule)
		require.Truef(t, ok, "block %d: compile did not observe the checkpoint wrapper", i)
		require.NotNil(t, blockOf(entry), "block %d lost under wrapping", i)
	}
}

func TestCompileSkippedOnCPU(t *testing.T) {
	cfg := tinyConfig()
	cfg.Compile = true

	// Advisory: a warning and a skip, never an error.
	model, err := cfg.Build(BuildOptions{MaxSeqLen: 64})
	require.NoError(t, err)
	assert.False(t, model.Compiled())
}

func TestCheckpointSelectedBlocks(t *testing.T) {
	cfg := tinyConfig() // 4 blocks
	ac, err := NewActivationCheckpointConfig(CheckpointSelectedBlocks, 2, nil)
	require.NoError(t, err)
	cfg.AC = ac

	model, err := cfg.Build(BuildOptions{MaxSeqLen: 64})
	require.NoError(t, err)

	for i, entry := range model.Blocks {
		_, wrapped := entry.(*CheckpointedModule)
		assert.Equal(t, i%2 == 0, wrapped, "block %d", i)
	}
}

func TestCheckpointSelectedModules(t *testing.T) {
	cfg := tinyConfig()
	ac, err := NewActivationCheckpointConfig(CheckpointSelectedModules, 0, []string{"blocks.*.feed_forward"})
	require.NoError(t, err)
	cfg.AC = ac

	model, err := cfg.Build(BuildOptions{MaxSeqLen: 64})
	require.NoError(t, err)

	assert.True(t, model.IsCheckpointed("blocks.0.feed_forward"))
	assert.True(t, model.IsCheckpointed("blocks.3.feed_forward"))
	assert.False(t, model.IsCheckpointed("blocks.0.attention"))
}

func TestModulePathLookup(t *testing.T) {
	cfg := tinyConfig()
	ac, err := NewActivationCheckpointConfig(CheckpointFull, 0, nil)
	require.NoError(t, err)
	cfg.AC = ac

	model, err := cfg.Build(BuildOptions{MaxSeqLen: 64})
	require.NoError(t, err)

	// Lookup sees through checkpoint wrappers.
	mod := findModule(model, "blocks.2.attention.w_q")
	require.NotNil(t, mod)
	lin, ok := mod.(*Linear)
	require.True(t, ok)
	assert.Equal(t, cfg.DModel, lin.OutDim)

	assert.Nil(t, findModule(model, "blocks.99.attention"))
}

func TestFloat8Conversion(t *testing.T) {
	cfg := tinyConfig()
	cfg.Float8 = &Float8Config{Enabled: true}
	cfg.Compile = true

	model, err := cfg.Build(BuildOptions{MaxSeqLen: 64})
	require.NoError(t, err)

	b := blockOf(model.Blocks[0])
	assert.Equal(t, LinearFloat8, b.Attention.WQ.Kind)
	assert.Equal(t, LinearFloat8, b.FeedForward.W2.Kind)
	assert.Equal(t, Float8E4M3, b.Attention.WQ.Weight.Data.DType)

	// The output head's final projection stays full precision by policy.
	assert.Equal(t, LinearDefault, model.LMHead.WOut.Kind)

	// Compile interaction inherited from the top-level flag.
	require.NotNil(t, model.Float8Applied())
	require.NotNil(t, model.Float8Applied().Compile)
	assert.True(t, *model.Float8Applied().Compile)
}

func TestFloat8ExclusionPatterns(t *testing.T) {
	cfg := tinyConfig()
	cfg.Float8 = &Float8Config{Enabled: true, ModulesToIgnore: []string{"blocks.0.attention.*"}}

	model, err := cfg.Build(BuildOptions{MaxSeqLen: 64})
	require.NoError(t, err)

	b0 := blockOf(model.Blocks[0])
	b1 := blockOf(model.Blocks[1])
	assert.Equal(t, LinearDefault, b0.Attention.WQ.Kind)
	assert.Equal(t, LinearFloat8, b1.Attention.WQ.Kind)
}

func TestBuildDeterminism(t *testing.T) {
	cfg := tinyConfig()
	cfg.InitSeed = 12536

	a, err := cfg.Build(BuildOptions{MaxSeqLen: 64})
	require.NoError(t, err)
	b, err := cfg.Build(BuildOptions{MaxSeqLen: 64})
	require.NoError(t, err)

	pa, pb := NamedParameters(a), NamedParameters(b)
	require.Equal(t, len(pa), len(pb))
	for i := range pa {
		require.Equal(t, pa[i].Name, pb[i].Name)
		assert.Equalf(t, pa[i].Data.Data, pb[i].Data.Data, "parameter %s differs across builds", pa[i].Name)
	}

	// A different seed produces different weights.
	cfg2 := tinyConfig()
	cfg2.InitSeed = 1
	c, err := cfg2.Build(BuildOptions{MaxSeqLen: 64})
	require.NoError(t, err)
	assert.NotEqual(t, NamedParameters(a)[0].Data.Data, NamedParameters(c)[0].Data.Data)
}

func TestBuildMeshConvenience(t *testing.T) {
	cfg := tinyConfig()
	cfg.DP = &DataParallelConfig{Name: DataParallelFSDP}

	mesh, err := cfg.BuildMesh(&fakeRank{rank: 0, size: 4}, DeviceCPU)
	require.NoError(t, err)
	require.NotNil(t, mesh)
	assert.Equal(t, 4, mesh.AxisSize(MeshAxisDP))
	assert.Nil(t, mesh.TPMesh())
}
