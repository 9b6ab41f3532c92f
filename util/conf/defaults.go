package conf

// DefaultConfig is a flat map of default values, keyed by dotted config
// paths.
type DefaultConfig map[string]any

// MergeDefaults prefixes every key of maps with ns.
func MergeDefaults[M ~map[string]V, V any](ns string, maps ...M) M {
	fullCap := 0
	for _, m := range maps {
		fullCap += len(m)
	}

	merged := make(M, fullCap)
	for _, m := range maps {
		for key, val := range m {
			merged[ns+"."+key] = val
		}
	}

	return merged
}

// Defaults joins flat default maps. Later maps win.
func Defaults(maps ...map[string]any) DefaultConfig {
	merged := DefaultConfig{}
	for _, m := range maps {
		for key, val := range m {
			merged[key] = val
		}
	}

	return merged
}
