package config

// mergeProviders merges built-in and user-defined provider specs.
// User-defined providers override built-in providers with the same name.
func mergeProviders(builtinProviders map[string]ProviderSpec, userProviders map[string]ProviderSpec) map[string]*ProviderSpec {
	result := make(map[string]*ProviderSpec)

	// First, add built-in providers
	for name, spec := range builtinProviders {
		specCopy := spec
		result[name] = &specCopy
	}

	// Then, override with user-defined providers (or add new ones)
	for name, userSpec := range userProviders {
		specCopy := userSpec
		result[name] = &specCopy
	}

	return result
}

// mergeMaskingPatterns merges built-in and user-defined masking patterns.
// User-defined patterns override built-in patterns with the same name.
func mergeMaskingPatterns(builtinPatterns map[string]MaskingPattern, userPatterns map[string]MaskingPattern) map[string]MaskingPattern {
	result := make(map[string]MaskingPattern, len(builtinPatterns)+len(userPatterns))

	for name, pattern := range builtinPatterns {
		result[name] = pattern
	}
	for name, pattern := range userPatterns {
		result[name] = pattern
	}

	return result
}
