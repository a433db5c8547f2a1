package olmo

import (
	"errors"
	"testing"
)

func TestActivationCheckpointConfigValidation(t *testing.T) {
	// Missing mode-specific fields fail at construction, not at use.
	_, err := NewActivationCheckpointConfig(CheckpointSelectedBlocks, 0, nil)
	var confErr *ConfigurationError
	if !errors.As(err, &confErr) {
		t.Fatalf("selected_blocks without interval: got %v, want ConfigurationError", err)
	}

	_, err = NewActivationCheckpointConfig(CheckpointSelectedModules, 0, nil)
	if !errors.As(err, &confErr) {
		t.Fatalf("selected_modules without modules: got %v, want ConfigurationError", err)
	}

	if _, err := NewActivationCheckpointConfig(CheckpointSelectedBlocks, 2, nil); err != nil {
		t.Fatalf("selected_blocks with interval: %v", err)
	}
	if _, err := NewActivationCheckpointConfig(CheckpointFull, 0, nil); err != nil {
		t.Fatalf("full mode: %v", err)
	}

	_, err = NewActivationCheckpointConfig("sliding", 0, nil)
	var niErr *NotImplementedError
	if !errors.As(err, &niErr) {
		t.Fatalf("unknown mode: got %v, want NotImplementedError", err)
	}
}

func TestDataParallelConfigValidation(t *testing.T) {
	var niErr *NotImplementedError
	bad := &DataParallelConfig{Name: "zero-redundancy"}
	if err := bad.Validate(); !errors.As(err, &niErr) {
		t.Fatalf("unknown dp type: got %v, want NotImplementedError", err)
	}

	var confErr *ConfigurationError
	shapeOnFSDP := &DataParallelConfig{Name: DataParallelFSDP, NumReplicas: 2}
	if err := shapeOnFSDP.Validate(); !errors.As(err, &confErr) {
		t.Fatalf("replica shape on fsdp: got %v, want ConfigurationError", err)
	}

	ok := &DataParallelConfig{Name: DataParallelHSDP, NumReplicas: 2}
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid hsdp config rejected: %v", err)
	}
}

func TestTensorParallelConfigValidation(t *testing.T) {
	var confErr *ConfigurationError
	if err := (&TensorParallelConfig{Degree: 0}).Validate(); !errors.As(err, &confErr) {
		t.Fatalf("degree 0: got %v, want ConfigurationError", err)
	}
	if err := (&TensorParallelConfig{Degree: 4}).Validate(); err != nil {
		t.Fatalf("degree 4 rejected: %v", err)
	}
}

func TestFloat8CompileResolution(t *testing.T) {
	// Unset compile interaction inherits the model's compile flag.
	cfg := &Float8Config{Enabled: true}
	if r := cfg.resolved(true); r.Compile == nil || !*r.Compile {
		t.Errorf("unset compile should inherit true")
	}
	if r := cfg.resolved(false); r.Compile == nil || *r.Compile {
		t.Errorf("unset compile should inherit false")
	}

	// An explicit value wins.
	no := false
	explicit := &Float8Config{Enabled: true, Compile: &no}
	if r := explicit.resolved(true); *r.Compile {
		t.Errorf("explicit compile=false overridden by inheritance")
	}
	if cfg.Compile != nil {
		t.Errorf("resolution must not mutate the original config")
	}
}
