package olmo

// DataParallelType selects the data-parallel variant.
type DataParallelType string

const (
	DataParallelDDP  DataParallelType = "ddp"
	DataParallelFSDP DataParallelType = "fsdp"
	DataParallelHSDP DataParallelType = "hsdp"
)

// DataParallelWrappingStrategy controls wrapping granularity. It affects
// the communication/memory tradeoff, not numerics.
type DataParallelWrappingStrategy string

const (
	// WrapFull wraps the whole model as one unit.
	WrapFull DataParallelWrappingStrategy = "full"
	// WrapBlocks wraps each transformer block separately plus the root.
	WrapBlocks DataParallelWrappingStrategy = "blocks"
)

// DataParallelConfig describes the data-parallel strategy.
type DataParallelConfig struct {
	Name DataParallelType

	// ParamDType is the dtype sharded parameters are held in. Empty means
	// the model's own dtype.
	ParamDType DType
	// ReduceDType is the dtype gradients are reduced in.
	ReduceDType DType

	// NumReplicas and ShardDegree define the replica/shard shape for HSDP.
	// Zero means derive from the world size (NumReplicas defaults to the
	// world size divided by ShardDegree and vice versa).
	NumReplicas int
	ShardDegree int

	WrappingStrategy DataParallelWrappingStrategy
}

// Validate checks the descriptor for structural validity.
func (c *DataParallelConfig) Validate() error {
	switch c.Name {
	case DataParallelDDP, DataParallelFSDP, DataParallelHSDP:
	case "":
		return configErrorf("data parallel config requires a name")
	default:
		return notImplemented("data parallel type %q", c.Name)
	}
	if c.NumReplicas < 0 || c.ShardDegree < 0 {
		return configErrorf("num_replicas and shard_degree must be non-negative")
	}
	if (c.NumReplicas != 0 || c.ShardDegree != 0) && c.Name != DataParallelHSDP {
		return configErrorf("num_replicas/shard_degree only apply to hsdp")
	}
	return nil
}

// wrapping returns the effective wrapping strategy.
func (c *DataParallelConfig) wrapping() DataParallelWrappingStrategy {
	if c.WrappingStrategy == "" {
		return WrapFull
	}
	return c.WrappingStrategy
}

// TensorParallelConfig describes the tensor-parallel strategy. The shard
// degree is the size of the tensor-parallel mesh axis.
type TensorParallelConfig struct {
	Degree int

	// EnableAsync turns on asynchronous tensor-parallel communication after
	// sharding has been applied.
	EnableAsync bool
}

// Validate checks the descriptor for structural validity.
func (c *TensorParallelConfig) Validate() error {
	if c.Degree < 1 {
		return configErrorf("tensor parallel degree must be at least 1, got %d", c.Degree)
	}
	return nil
}

// MaybeEnableAsyncTP enables async tensor-parallel communication on the
// given sub-mesh if requested. Must be called after sharding: it configures
// the communication pattern of the now-sharded modules.
func (c *TensorParallelConfig) MaybeEnableAsyncTP(tpMesh *DeviceMesh) {
	if c.EnableAsync && tpMesh != nil {
		tpMesh.enableAsyncTP()
	}
}

// ActivationCheckpointingMode selects which sub-modules are wrapped for
// recompute-on-backward.
type ActivationCheckpointingMode string

const (
	// CheckpointNone disables activation checkpointing.
	CheckpointNone ActivationCheckpointingMode = "none"
	// CheckpointFull wraps every block.
	CheckpointFull ActivationCheckpointingMode = "full"
	// CheckpointSelectedBlocks wraps blocks at a configured interval.
	CheckpointSelectedBlocks ActivationCheckpointingMode = "selected_blocks"
	// CheckpointSelectedModules wraps modules whose dotted path matches one
	// of the configured globs.
	CheckpointSelectedModules ActivationCheckpointingMode = "selected_modules"
)

// ActivationCheckpointConfig describes the activation checkpointing
// strategy. Mode-specific fields are validated at construction time.
type ActivationCheckpointConfig struct {
	Mode ActivationCheckpointingMode

	// BlockInterval is required for CheckpointSelectedBlocks.
	BlockInterval int

	// Modules is required for CheckpointSelectedModules. Globs are
	// supported.
	Modules []string
}

// NewActivationCheckpointConfig creates a validated checkpoint config.
func NewActivationCheckpointConfig(mode ActivationCheckpointingMode, blockInterval int, modules []string) (*ActivationCheckpointConfig, error) {
	c := &ActivationCheckpointConfig{
		Mode:          mode,
		BlockInterval: blockInterval,
		Modules:       modules,
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks that mode-specific required fields are present.
func (c *ActivationCheckpointConfig) Validate() error {
	switch c.Mode {
	case CheckpointNone, CheckpointFull:
	case CheckpointSelectedBlocks:
		if c.BlockInterval <= 0 {
			return configErrorf("'block_interval' is required for 'selected_blocks' activation checkpointing")
		}
	case CheckpointSelectedModules:
		if len(c.Modules) == 0 {
			return configErrorf("'modules' is required for 'selected_modules' activation checkpointing")
		}
	default:
		return notImplemented("activation checkpointing mode %q", c.Mode)
	}
	return nil
}

// Float8Config describes low-precision linear-layer conversion.
type Float8Config struct {
	Enabled bool

	// Compile controls the compile interaction of the float8 kernels. When
	// nil it inherits from the model's top-level compile flag.
	Compile *bool

	// ModulesToIgnore lists dotted module paths (globs supported) excluded
	// from conversion, in addition to the output head's final projection,
	// which is always excluded: logits are precision sensitive.
	ModulesToIgnore []string
}

// resolved returns a copy with the compile interaction resolved against the
// model's compile flag. The resolution happens once, before the pipeline
// runs, never mid-pipeline.
func (c *Float8Config) resolved(modelCompile bool) Float8Config {
	out := *c
	if out.Compile == nil {
		v := modelCompile
		out.Compile = &v
	}
	return out
}
