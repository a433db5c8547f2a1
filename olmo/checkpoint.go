package olmo

// CheckpointedModule wraps a sub-module for recompute-on-backward. The
// recomputation itself happens in the external training runtime; the
// wrapper records the structural decision.
type CheckpointedModule struct {
	wrapped Module
}

func (m *CheckpointedModule) Path() string         { return m.wrapped.Path() }
func (m *CheckpointedModule) Params() []*Parameter { return nil }
func (m *CheckpointedModule) Children() []Module   { return []Module{m.wrapped} }
func (m *CheckpointedModule) Unwrap() Module       { return m.wrapped }

// ApplyActivationCheckpointing wraps sub-modules per the configured mode:
// every block, blocks at the configured interval, or modules whose dotted
// path matches one of the configured globs. Matched block entries are
// wrapped in the graph; matched non-block modules are recorded and wrapped
// by the runtime.
func (m *Transformer) ApplyActivationCheckpointing(cfg *ActivationCheckpointConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Mode == CheckpointNone {
		return nil
	}
	if m.acPaths == nil {
		m.acPaths = make(map[string]bool)
	}

	switch cfg.Mode {
	case CheckpointFull:
		for i := range m.Blocks {
			m.wrapBlockForCheckpoint(i)
		}
	case CheckpointSelectedBlocks:
		for i := range m.Blocks {
			if blockOf(m.Blocks[i]).Index%cfg.BlockInterval == 0 {
				m.wrapBlockForCheckpoint(i)
			}
		}
	case CheckpointSelectedModules:
		for i := range m.Blocks {
			if matchesAny(m.Blocks[i].Path(), cfg.Modules) {
				m.wrapBlockForCheckpoint(i)
			}
		}
		var walk func(Module)
		walk = func(mod Module) {
			if _, isWrapper := mod.(Wrapper); !isWrapper {
				if mod.Path() != "" && matchesAny(mod.Path(), cfg.Modules) {
					m.acPaths[mod.Path()] = true
				}
			}
			for _, child := range mod.Children() {
				walk(child)
			}
		}
		walk(m)
	default:
		return notImplemented("activation checkpointing mode %q", cfg.Mode)
	}
	return nil
}

func (m *Transformer) wrapBlockForCheckpoint(i int) {
	if _, already := m.Blocks[i].(*CheckpointedModule); already {
		return
	}
	m.acPaths[m.Blocks[i].Path()] = true
	m.Blocks[i] = &CheckpointedModule{wrapped: m.Blocks[i]}
}

// IsCheckpointed reports whether the module at the given path was selected
// for activation checkpointing.
func (m *Transformer) IsCheckpointed(path string) bool {
	return m.acPaths[path]
}
