package olmo

import (
	"fmt"
	"log/slog"

	"github.com/schollz/progressbar/v3"
)

// BuildOptions carries the per-build inputs of TransformerConfig.Build.
type BuildOptions struct {
	// InitDevice is the device the model shell is allocated on. In a
	// distributed setting this is usually the meta device, so models too
	// large to hold shape-and-value simultaneously can still be declared.
	// Defaults to the CPU.
	InitDevice Device

	// Device is the target device parameters are materialized on.
	// Defaults to the CPU.
	Device Device

	// World is the process group this rank participates in. Defaults to a
	// single-process world.
	World Collective

	// Mesh is the composed device mesh from BuildMesh. Alternatively the
	// DPMesh and TPMesh sub-meshes can be supplied directly.
	Mesh   *DeviceMesh
	DPMesh *DeviceMesh
	TPMesh *DeviceMesh

	// MaxSeqLen sizes position-dependent buffers (rotary caches).
	MaxSeqLen int

	// Progress renders a progress bar while parameters initialize.
	Progress bool
}

func (o *BuildOptions) withDefaults() BuildOptions {
	out := *o
	if out.InitDevice == "" {
		out.InitDevice = DeviceCPU
	}
	if out.Device == "" {
		out.Device = DeviceCPU
	}
	if out.World == nil {
		out.World = SingleProcess()
	}
	return out
}

// Build constructs the model corresponding to this config. It applies the
// configured strategies in a fixed order (float8 conversion, tensor
// parallelism, activation checkpointing, compilation, data-parallel
// wrapping), then materializes parameters on the target device and
// initializes them deterministically.
//
// The order is part of the contract: sharding must see the converted
// modules, checkpoint wrappers must exist before compilation inspects the
// graph, and data-parallel wrapping must come last before materialization.
// A configuration error aborts the whole call; callers must abort the
// distributed job rather than retry, or shards across ranks will disagree.
func (c *TransformerConfig) Build(opts BuildOptions) (*Transformer, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	o := opts.withDefaults()

	slog.Info("building transformer",
		"params", c.NumParams(),
		"non_embedding_params", c.NumNonEmbeddingParams(),
		"world_size", o.World.Size())

	// Allocate the shell: shape-only parameters on the init device.
	model, err := newTransformer(c, o.InitDevice)
	if err != nil {
		return nil, err
	}
	if got, want := NumParamElements(model), c.NumParams(); got != want {
		return nil, fmt.Errorf("assembled model has %d parameter elements, sizing predicts %d", got, want)
	}

	// Low-precision conversion. The compile interaction resolves against
	// the top-level compile flag once, before the pipeline runs.
	if c.Float8 != nil && c.Float8.Enabled {
		model.applyFloat8(c.Float8.resolved(c.Compile))
	}

	// Tensor-parallel sharding. A supplied mesh without a tp axis is as
	// fatal as no mesh at all: proceeding would silently skip sharding.
	tpMesh := o.TPMesh
	if tpMesh == nil && o.Mesh != nil {
		tpMesh = o.Mesh.TPMesh()
	}
	if c.TP != nil && tpMesh == nil {
		return nil, configErrorf(
			"a tensor parallel mesh is required to use tensor parallelism; " +
				"build one with BuildMesh or pass TPMesh directly")
	}
	if tpMesh != nil {
		if err := model.ApplyTP(tpMesh); err != nil {
			return nil, err
		}
		// Async communication configures the now-sharded modules, so it
		// only makes sense after sharding.
		if c.TP != nil {
			c.TP.MaybeEnableAsyncTP(tpMesh)
		}
	}

	// Activation checkpointing.
	if c.AC != nil {
		if err := model.ApplyActivationCheckpointing(c.AC); err != nil {
			return nil, err
		}
	}

	// Compilation: advisory, never an error on the wrong device.
	if c.Compile {
		if o.Device.IsAccelerator() {
			model.ApplyCompile()
		} else {
			slog.Warn("model compilation requested but the target device is not an accelerator; skipping",
				"device", string(o.Device))
		}
	}

	// Data-parallel wrapping.
	dpMesh := o.DPMesh
	if dpMesh == nil && o.Mesh != nil {
		dpMesh = o.Mesh.DPMesh()
	}
	if c.DP != nil {
		switch c.DP.Name {
		case DataParallelFSDP, DataParallelHSDP:
			if dpMesh == nil {
				// HSDP derives the replica/shard mesh from the strategy's
				// own shape; FSDP shards over the whole world.
				m, err := BuildDeviceMesh(o.World, o.Device, c.DP, nil)
				if err != nil {
					return nil, err
				}
				dpMesh = m.DPMesh()
			}
			if err := model.ApplyFSDP(dpMesh, c.DP.ParamDType, c.DP.ReduceDType, c.DP.wrapping()); err != nil {
				return nil, err
			}
		case DataParallelDDP:
			if err := model.ApplyDDP(dpMesh, c.Compile); err != nil {
				return nil, err
			}
		default:
			return nil, notImplemented("data parallel type %q", c.DP.Name)
		}
	}

	// Materialize: logical shapes become allocated storage on the target.
	if o.Device != o.InitDevice {
		if err := model.MaterializeTo(o.Device); err != nil {
			return nil, err
		}
	}

	// Initialize.
	var onParam func()
	if o.Progress {
		bar := progressbar.NewOptions(len(NamedParameters(model)),
			progressbar.OptionSetDescription("Initializing"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
		)
		onParam = func() { bar.Add(1) }
		defer bar.Finish()
	}
	if err := model.initWeights(o.MaxSeqLen, onParam); err != nil {
		return nil, err
	}

	return model, nil
}

// BuildMesh creates a device mesh suitable for this config's parallel
// strategies. The result is passed as the Mesh option to Build. Returns nil
// when no parallel strategy is configured.
func (c *TransformerConfig) BuildMesh(world Collective, device Device) (*DeviceMesh, error) {
	return BuildDeviceMesh(world, device, c.DP, c.TP)
}

// Float8Applied returns the resolved float8 config the model was converted
// with, or nil.
func (m *Transformer) Float8Applied() *Float8Config { return m.float8 }
