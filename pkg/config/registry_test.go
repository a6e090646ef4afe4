package config

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlab/loom/pkg/models"
)

func TestProviderRegistry(t *testing.T) {
	providers := map[string]*ProviderSpec{
		"alpha": {Type: models.TransportCLI, Command: []string{"alpha"}},
		"beta":  {Type: models.TransportMock},
	}

	registry := NewProviderRegistry(providers)

	t.Run("Get existing provider", func(t *testing.T) {
		spec, err := registry.Get("alpha")
		require.NoError(t, err)
		assert.Equal(t, []string{"alpha"}, spec.Command)
	})

	t.Run("Get nonexistent provider", func(t *testing.T) {
		_, err := registry.Get("nonexistent")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrProviderNotFound)
	})

	t.Run("Has provider", func(t *testing.T) {
		assert.True(t, registry.Has("alpha"))
		assert.False(t, registry.Has("nonexistent"))
	})

	t.Run("Names sorted", func(t *testing.T) {
		assert.Equal(t, []string{"alpha", "beta"}, registry.Names())
	})

	t.Run("Len", func(t *testing.T) {
		assert.Equal(t, 2, registry.Len())
	})

	t.Run("GetAll returns copy", func(t *testing.T) {
		all := registry.GetAll()
		assert.Len(t, all, 2)

		// Modify the returned map
		all["gamma"] = &ProviderSpec{Type: models.TransportMock}

		// Original registry should be unchanged
		assert.False(t, registry.Has("gamma"))
	})
}

func TestProviderRegistryThreadSafety(_ *testing.T) {
	registry := NewProviderRegistry(map[string]*ProviderSpec{
		"alpha": {Type: models.TransportMock},
	})

	const goroutines = 100
	var wg sync.WaitGroup

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = registry.Get("alpha")
			_ = registry.Has("alpha")
			_ = registry.Names()
			_ = registry.GetAll()
		}()
	}

	wg.Wait()
	// If no panic, thread safety is good
}
