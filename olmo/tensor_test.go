package olmo

import "testing"

func TestTensorMetaLifecycle(t *testing.T) {
	tn := Empty(DeviceMeta, Float32, 4, 8)
	if tn.IsMaterialized() {
		t.Fatal("meta tensor should carry no storage")
	}
	if got := tn.Numel(); got != 32 {
		t.Fatalf("Numel() = %d, want 32", got)
	}

	if err := tn.Materialize(DeviceCPU); err != nil {
		t.Fatal(err)
	}
	if !tn.IsMaterialized() {
		t.Fatal("materialized tensor should carry storage")
	}
	if len(tn.Data) != 32 {
		t.Fatalf("len(Data) = %d, want 32", len(tn.Data))
	}
	if tn.Device != DeviceCPU {
		t.Fatalf("Device = %q, want cpu", tn.Device)
	}
}

func TestTensorIndexing(t *testing.T) {
	tn := Empty(DeviceCPU, Float32, 2, 3)
	tn.Set(1.5, 1, 2)
	if got := tn.At(1, 2); got != 1.5 {
		t.Fatalf("At(1,2) = %v, want 1.5", got)
	}
	if got := tn.At(0, 0); got != 0 {
		t.Fatalf("At(0,0) = %v, want 0", got)
	}
}

func TestParameterShardNarrowing(t *testing.T) {
	p := newParameter("w", initKindWeight, DeviceMeta, Float32, 8, 4)
	if p.IsSharded() {
		t.Fatal("fresh parameter should not be sharded")
	}

	p.Shard(0, 2, 1)
	if !p.IsSharded() {
		t.Fatal("parameter should be sharded")
	}
	if got := p.LocalNumel(); got != 16 {
		t.Fatalf("LocalNumel() = %d, want 16", got)
	}
	if got := p.FullNumel(); got != 32 {
		t.Fatalf("FullNumel() = %d, want 32", got)
	}

	// Successive sharding composes: halving twice leaves a quarter.
	p.Shard(1, 2, 0)
	if got := p.LocalNumel(); got != 8 {
		t.Fatalf("LocalNumel() after second shard = %d, want 8", got)
	}
	if got, want := p.Data.Shape[0], 4; got != want {
		t.Fatalf("local dim 0 = %d, want %d", got, want)
	}
	if got, want := p.Data.Shape[1], 2; got != want {
		t.Fatalf("local dim 1 = %d, want %d", got, want)
	}
}

func TestParameterShardUneven(t *testing.T) {
	// 5 rows over 2 shards: rank 0 gets 3, rank 1 gets 2.
	a := newParameter("w", initKindWeight, DeviceMeta, Float32, 5, 2)
	a.Shard(0, 2, 0)
	b := newParameter("w", initKindWeight, DeviceMeta, Float32, 5, 2)
	b.Shard(0, 2, 1)

	if got := a.LocalNumel() + b.LocalNumel(); got != 10 {
		t.Fatalf("shards cover %d elements, want 10", got)
	}
	if a.Data.Shape[0] != 3 || b.Data.Shape[0] != 2 {
		t.Fatalf("uneven split = %d/%d, want 3/2", a.Data.Shape[0], b.Data.Shape[0])
	}
}

func TestTokenizerPaddedVocabSize(t *testing.T) {
	tk := NewGPT2TokenizerConfig()
	if got := tk.PaddedVocabSize(); got != 50304 {
		t.Fatalf("PaddedVocabSize() = %d, want 50304", got)
	}
	if got := tk.PaddedVocabSizeMultipleOf(1000); got != 51000 {
		t.Fatalf("PaddedVocabSizeMultipleOf(1000) = %d, want 51000", got)
	}
	exact := &TokenizerConfig{VocabSize: 1024}
	if got := exact.PaddedVocabSizeMultipleOf(128); got != 1024 {
		t.Fatalf("exact multiple should not round up, got %d", got)
	}
}
