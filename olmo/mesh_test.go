package olmo

import (
	"errors"
	"testing"
)

// fakeRank is a fixed-coordinate collective for mesh shape tests.
type fakeRank struct {
	rank, size int
	Collective
}

func (f *fakeRank) Rank() int { return f.rank }
func (f *fakeRank) Size() int { return f.size }

func TestBuildDeviceMeshShapes(t *testing.T) {
	world := &fakeRank{rank: 5, size: 8}
	dp := &DataParallelConfig{Name: DataParallelFSDP}
	tp := &TensorParallelConfig{Degree: 2}

	mesh, err := BuildDeviceMesh(world, DeviceCPU, dp, tp)
	if err != nil {
		t.Fatalf("BuildDeviceMesh: %v", err)
	}
	if got := mesh.AxisSize(MeshAxisDP); got != 4 {
		t.Errorf("dp axis size = %d, want 4", got)
	}
	if got := mesh.AxisSize(MeshAxisTP); got != 2 {
		t.Errorf("tp axis size = %d, want 2", got)
	}
	if got := mesh.Size(); got != 8 {
		t.Errorf("mesh size = %d, want 8", got)
	}

	// Rank 5 decomposes row-major over (dp=4, tp=2) as (2, 1).
	if got := mesh.AxisCoord(MeshAxisDP); got != 2 {
		t.Errorf("dp coord = %d, want 2", got)
	}
	if got := mesh.AxisCoord(MeshAxisTP); got != 1 {
		t.Errorf("tp coord = %d, want 1", got)
	}
}

func TestBuildDeviceMeshIndivisible(t *testing.T) {
	world := &fakeRank{rank: 0, size: 6}
	tp := &TensorParallelConfig{Degree: 4}

	_, err := BuildDeviceMesh(world, DeviceCPU, nil, tp)
	var confErr *ConfigurationError
	if !errors.As(err, &confErr) {
		t.Fatalf("indivisible tp degree: got %v, want ConfigurationError", err)
	}
}

func TestBuildDeviceMeshHybrid(t *testing.T) {
	world := &fakeRank{rank: 0, size: 8}
	dp := &DataParallelConfig{Name: DataParallelHSDP, NumReplicas: 2}

	mesh, err := BuildDeviceMesh(world, DeviceCPU, dp, nil)
	if err != nil {
		t.Fatalf("BuildDeviceMesh: %v", err)
	}
	if got := mesh.AxisSize(MeshAxisDPReplicate); got != 2 {
		t.Errorf("replica axis size = %d, want 2", got)
	}
	if got := mesh.AxisSize(MeshAxisDPShard); got != 4 {
		t.Errorf("shard axis size = %d, want 4", got)
	}

	// Shape that does not factor the world fails.
	bad := &DataParallelConfig{Name: DataParallelHSDP, NumReplicas: 3}
	var confErr *ConfigurationError
	if _, err := BuildDeviceMesh(world, DeviceCPU, bad, nil); !errors.As(err, &confErr) {
		t.Fatalf("non-factoring hsdp shape: got %v, want ConfigurationError", err)
	}

	// No shape at all is a configuration error for hsdp.
	empty := &DataParallelConfig{Name: DataParallelHSDP}
	if _, err := BuildDeviceMesh(world, DeviceCPU, empty, nil); !errors.As(err, &confErr) {
		t.Fatalf("hsdp without shape: got %v, want ConfigurationError", err)
	}
}

func TestSubMeshExtraction(t *testing.T) {
	world := &fakeRank{rank: 3, size: 8}
	dp := &DataParallelConfig{Name: DataParallelFSDP}
	tp := &TensorParallelConfig{Degree: 2}

	mesh, err := BuildDeviceMesh(world, DeviceCPU, dp, tp)
	if err != nil {
		t.Fatalf("BuildDeviceMesh: %v", err)
	}

	dpMesh := mesh.DPMesh()
	if dpMesh == nil || dpMesh.Size() != 4 || dpMesh.AxisSize(MeshAxisTP) != 0 {
		t.Errorf("dp sub-mesh = %v, want dp-only of size 4", dpMesh)
	}
	tpMesh := mesh.TPMesh()
	if tpMesh == nil || tpMesh.Size() != 2 || tpMesh.AxisSize(MeshAxisDP) != 0 {
		t.Errorf("tp sub-mesh = %v, want tp-only of size 2", tpMesh)
	}

	// The async toggle is shared between views of the same mesh.
	tpMesh.enableAsyncTP()
	if !mesh.AsyncTPEnabled() {
		t.Errorf("async tp enabled on the sub-mesh, not visible on the composed mesh")
	}
}

func TestBuildDeviceMeshNoStrategies(t *testing.T) {
	mesh, err := BuildDeviceMesh(SingleProcess(), DeviceCPU, nil, nil)
	if err != nil {
		t.Fatalf("BuildDeviceMesh: %v", err)
	}
	if mesh != nil {
		t.Errorf("mesh without strategies = %v, want nil", mesh)
	}
}
