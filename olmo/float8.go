package olmo

import "path"

// applyFloat8 rewrites eligible linear modules to their float8 variant,
// skipping any module whose path matches an exclusion pattern. The output
// head's final projection is always excluded: logits are precision
// sensitive and must stay full precision.
func (m *Transformer) applyFloat8(cfg Float8Config) {
	ignore := append([]string{"lm_head.w_out"}, cfg.ModulesToIgnore...)

	var walk func(Module)
	walk = func(mod Module) {
		if l, ok := mod.(*Linear); ok {
			if !matchesAny(l.path, ignore) {
				l.Kind = LinearFloat8
				l.Weight.Data.DType = Float8E4M3
			}
			return
		}
		for _, child := range mod.Children() {
			walk(child)
		}
	}
	walk(m)
	m.float8 = &cfg
}

// matchesAny reports whether the dotted module path matches any of the
// given globs. Paths contain no '/', so '*' spans dots, matching the
// fnmatch semantics of module-name globs.
func matchesAny(name string, patterns []string) bool {
	for _, pat := range patterns {
		if ok, err := path.Match(pat, name); err == nil && ok {
			return true
		}
	}
	return false
}
