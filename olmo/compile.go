package olmo

// CompiledModule marks a sub-module for just-in-time fused execution. The
// wrapper is applied around whatever structure precedes it in the pipeline,
// so a checkpointed block stays checkpointed inside its compiled unit.
type CompiledModule struct {
	wrapped Module
}

func (m *CompiledModule) Path() string         { return m.wrapped.Path() }
func (m *CompiledModule) Params() []*Parameter { return nil }
func (m *CompiledModule) Children() []Module   { return []Module{m.wrapped} }
func (m *CompiledModule) Unwrap() Module       { return m.wrapped }

// ApplyCompile marks each block and the model for compiled execution.
// Compilation is a performance hint, not a correctness requirement; callers
// skip it on non-accelerator targets.
func (m *Transformer) ApplyCompile() {
	for i := range m.Blocks {
		m.Blocks[i] = &CompiledModule{wrapped: m.Blocks[i]}
	}
	m.compiled = true
}
