package olmo

import (
	"fmt"
	"strings"
)

// Mesh axis names.
const (
	MeshAxisDP          = "dp"
	MeshAxisDPReplicate = "dp_replicate"
	MeshAxisDPShard     = "dp_shard"
	MeshAxisTP          = "tp"
)

type meshAxis struct {
	name  string
	size  int
	coord int // this rank's index along the axis
}

// DeviceMesh is a logical multi-dimensional grid over the participating
// processes with named axes. It is created once per build and read-only
// afterwards; enabling async tensor parallelism is the one documented
// post-construction toggle.
type DeviceMesh struct {
	deviceType Device
	comm       Collective
	axes       []meshAxis

	// root points at the composed mesh a sub-mesh was extracted from, so
	// the async-TP toggle is shared between views.
	root    *DeviceMesh
	asyncTP bool
}

// BuildDeviceMesh builds a mesh suitable for the configured parallel
// strategies over the given world. The tensor-parallel axis takes the
// requested shard degree; the remaining ranks form the data-parallel axis,
// which HSDP further splits into replica and shard axes. Returns nil when
// neither strategy is configured.
func BuildDeviceMesh(comm Collective, deviceType Device, dp *DataParallelConfig, tp *TensorParallelConfig) (*DeviceMesh, error) {
	if dp == nil && tp == nil {
		return nil, nil
	}

	world := comm.Size()
	tpDegree := 1
	if tp != nil {
		if err := tp.Validate(); err != nil {
			return nil, err
		}
		tpDegree = tp.Degree
	}
	if world%tpDegree != 0 {
		return nil, configErrorf(
			"tensor parallel degree %d does not divide world size %d", tpDegree, world)
	}
	dpWorld := world / tpDegree

	var axes []meshAxis
	if dp != nil && dp.Name == DataParallelHSDP {
		replicas, shards, err := resolveHybridShape(dp, dpWorld)
		if err != nil {
			return nil, err
		}
		axes = append(axes,
			meshAxis{name: MeshAxisDPReplicate, size: replicas},
			meshAxis{name: MeshAxisDPShard, size: shards},
		)
	} else {
		axes = append(axes, meshAxis{name: MeshAxisDP, size: dpWorld})
	}
	if tp != nil {
		axes = append(axes, meshAxis{name: MeshAxisTP, size: tpDegree})
	}

	m := &DeviceMesh{deviceType: deviceType, comm: comm, axes: axes}
	m.assignCoords(comm.Rank())
	return m, nil
}

func resolveHybridShape(dp *DataParallelConfig, dpWorld int) (replicas, shards int, err error) {
	replicas, shards = dp.NumReplicas, dp.ShardDegree
	switch {
	case replicas == 0 && shards == 0:
		return 0, 0, configErrorf("hsdp requires num_replicas or shard_degree")
	case replicas == 0:
		if dpWorld%shards != 0 {
			return 0, 0, configErrorf(
				"hsdp shard degree %d does not divide data parallel world size %d", shards, dpWorld)
		}
		replicas = dpWorld / shards
	case shards == 0:
		if dpWorld%replicas != 0 {
			return 0, 0, configErrorf(
				"hsdp replica count %d does not divide data parallel world size %d", replicas, dpWorld)
		}
		shards = dpWorld / replicas
	}
	if replicas*shards != dpWorld {
		return 0, 0, configErrorf(
			"hsdp shape %dx%d does not cover data parallel world size %d", replicas, shards, dpWorld)
	}
	return replicas, shards, nil
}

// assignCoords decomposes the rank row-major over the axis sizes.
func (m *DeviceMesh) assignCoords(rank int) {
	stride := 1
	for i := len(m.axes) - 1; i >= 0; i-- {
		m.axes[i].coord = (rank / stride) % m.axes[i].size
		stride *= m.axes[i].size
	}
}

// DeviceType returns the device kind the mesh spans.
func (m *DeviceMesh) DeviceType() Device { return m.deviceType }

// Comm returns the underlying collective layer.
func (m *DeviceMesh) Comm() Collective { return m.comm }

// Size returns the number of ranks the mesh covers.
func (m *DeviceMesh) Size() int {
	n := 1
	for _, ax := range m.axes {
		n *= ax.size
	}
	return n
}

// AxisNames returns the mesh's axis names in order.
func (m *DeviceMesh) AxisNames() []string {
	names := make([]string, len(m.axes))
	for i, ax := range m.axes {
		names[i] = ax.name
	}
	return names
}

// AxisSize returns the size of the named axis, or 0 if absent.
func (m *DeviceMesh) AxisSize(name string) int {
	for _, ax := range m.axes {
		if ax.name == name {
			return ax.size
		}
	}
	return 0
}

// AxisCoord returns this rank's index along the named axis, or -1 if the
// axis is absent.
func (m *DeviceMesh) AxisCoord(name string) int {
	for _, ax := range m.axes {
		if ax.name == name {
			return ax.coord
		}
	}
	return -1
}

// FlatRank returns this rank's row-major index within the mesh's axes.
func (m *DeviceMesh) FlatRank() int {
	rank := 0
	for _, ax := range m.axes {
		rank = rank*ax.size + ax.coord
	}
	return rank
}

func (m *DeviceMesh) String() string {
	parts := make([]string, len(m.axes))
	for i, ax := range m.axes {
		parts[i] = fmt.Sprintf("%s=%d", ax.name, ax.size)
	}
	return "DeviceMesh(" + strings.Join(parts, ", ") + ")"
}

// DPMesh returns the data-parallel view of a composed mesh: the dp axis, or
// for HSDP the replica and shard axes. Returns nil if the mesh has no
// data-parallel axes.
func (m *DeviceMesh) DPMesh() *DeviceMesh {
	var axes []meshAxis
	for _, ax := range m.axes {
		switch ax.name {
		case MeshAxisDP, MeshAxisDPReplicate, MeshAxisDPShard:
			axes = append(axes, ax)
		}
	}
	if axes == nil {
		return nil
	}
	return m.subMesh(axes)
}

// TPMesh returns the tensor-parallel view of a composed mesh, or nil if the
// mesh has no tensor-parallel axis.
func (m *DeviceMesh) TPMesh() *DeviceMesh {
	for _, ax := range m.axes {
		if ax.name == MeshAxisTP {
			return m.subMesh([]meshAxis{ax})
		}
	}
	return nil
}

func (m *DeviceMesh) subMesh(axes []meshAxis) *DeviceMesh {
	root := m.root
	if root == nil {
		root = m
	}
	return &DeviceMesh{
		deviceType: m.deviceType,
		comm:       m.comm,
		axes:       append([]meshAxis(nil), axes...),
		root:       root,
	}
}

func (m *DeviceMesh) enableAsyncTP() {
	if m.root != nil {
		m.root.asyncTP = true
		return
	}
	m.asyncTP = true
}

// AsyncTPEnabled reports whether async tensor-parallel communication has
// been enabled on this mesh or the mesh it was extracted from.
func (m *DeviceMesh) AsyncTPEnabled() bool {
	if m.root != nil {
		return m.root.asyncTP
	}
	return m.asyncTP
}

// shardInfo returns the shard count and this rank's shard index for
// parameter sharding over the mesh's shard axes. For a flat dp mesh that is
// the dp axis; for an HSDP view only the shard axis shards, the replica
// axis replicates.
func (m *DeviceMesh) shardInfo() (numShards, shardRank int) {
	if size := m.AxisSize(MeshAxisDPShard); size > 0 {
		return size, m.AxisCoord(MeshAxisDPShard)
	}
	if size := m.AxisSize(MeshAxisDP); size > 0 {
		return size, m.AxisCoord(MeshAxisDP)
	}
	if size := m.AxisSize(MeshAxisTP); size > 0 {
		return size, m.AxisCoord(MeshAxisTP)
	}
	return 1, 0
}
