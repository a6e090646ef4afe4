package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlab/loom/pkg/models"
)

func TestMergeProviders(t *testing.T) {
	builtin := map[string]ProviderSpec{
		"claude-cli": {Type: models.TransportCLI, Command: []string{"claude"}},
		"mock":       {Type: models.TransportMock},
	}
	user := map[string]ProviderSpec{
		"claude-cli": {Type: models.TransportCLI, Command: []string{"claude", "--custom"}},
		"extra":      {Type: models.TransportAPI, Model: "m", APIKeyEnv: "K"},
	}

	merged := mergeProviders(builtin, user)

	require.Len(t, merged, 3)
	// User spec replaces the built-in wholesale
	assert.Equal(t, []string{"claude", "--custom"}, merged["claude-cli"].Command)
	assert.Equal(t, models.TransportMock, merged["mock"].Type)
	assert.Equal(t, "m", merged["extra"].Model)
}

func TestMergeProvidersCopies(t *testing.T) {
	builtin := map[string]ProviderSpec{
		"mock": {Type: models.TransportMock},
	}

	merged := mergeProviders(builtin, nil)
	merged["mock"].Model = "mutated"

	// Source map is unaffected
	assert.Empty(t, builtin["mock"].Model)
}

func TestMergeMaskingPatterns(t *testing.T) {
	builtin := map[string]MaskingPattern{
		"api_key": {Pattern: "a", Replacement: "x"},
		"token":   {Pattern: "b", Replacement: "y"},
	}
	user := map[string]MaskingPattern{
		"api_key": {Pattern: "custom", Replacement: "z"},
		"mine":    {Pattern: "c", Replacement: "w"},
	}

	merged := mergeMaskingPatterns(builtin, user)

	require.Len(t, merged, 3)
	assert.Equal(t, "custom", merged["api_key"].Pattern)
	assert.Equal(t, "b", merged["token"].Pattern)
	assert.Equal(t, "c", merged["mine"].Pattern)
}
