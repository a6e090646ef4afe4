package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlab/loom/pkg/config"
	"github.com/weftlab/loom/pkg/models"
)

func factoryFixtures(t *testing.T) (*models.Run, *models.Node, *config.ProviderRegistry) {
	t.Helper()
	run := &models.Run{ID: "run-1", Cwd: t.TempDir()}
	node := &models.Node{ID: "node-1", RunID: "run-1"}
	registry := config.NewProviderRegistry(map[string]*config.ProviderSpec{
		"cli": {
			Type:     models.TransportCLI,
			Protocol: models.ProtocolJSONL,
			Command:  []string{"agent", "--serve"},
		},
		"api": {
			Type:      models.TransportAPI,
			Model:     "gpt-5",
			APIKeyEnv: "LOOM_FACTORY_TEST_KEY",
		},
		"mock": {Type: models.TransportMock},
		"bad":  {Type: models.TransportType("carrier-pigeon")},
	})
	return run, node, registry
}

func TestConfigFactoryCLI(t *testing.T) {
	run, node, registry := factoryFixtures(t)
	node.Provider = "cli"

	adapter, err := NewConfigFactory(registry, nil).NewAdapter(run, node)
	require.NoError(t, err)
	cli, ok := adapter.(*CLIAdapter)
	require.True(t, ok)
	assert.Equal(t, run.Cwd, cli.cwd)
	assert.Equal(t, Identity{RunID: "run-1", NodeID: "node-1"}, cli.id)
}

func TestConfigFactoryAPI(t *testing.T) {
	t.Setenv("LOOM_FACTORY_TEST_KEY", "sk-test")
	run, node, registry := factoryFixtures(t)
	node.Provider = "api"

	defs := []models.ToolDefinition{{Name: "read_file"}}
	adapter, err := NewConfigFactory(registry, defs).NewAdapter(run, node)
	require.NoError(t, err)
	api, ok := adapter.(*APIAdapter)
	require.True(t, ok)
	require.Len(t, api.tools, 1)
	assert.Equal(t, "read_file", api.tools[0].Function.Name)
}

func TestConfigFactoryMock(t *testing.T) {
	run, node, registry := factoryFixtures(t)
	node.Provider = "mock"

	adapter, err := NewConfigFactory(registry, nil).NewAdapter(run, node)
	require.NoError(t, err)
	_, ok := adapter.(*MockAdapter)
	assert.True(t, ok)
}

func TestConfigFactoryUnknownProvider(t *testing.T) {
	run, node, registry := factoryFixtures(t)
	node.Provider = "nope"

	_, err := NewConfigFactory(registry, nil).NewAdapter(run, node)
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrProviderNotFound)
}

func TestConfigFactoryUnsupportedTransport(t *testing.T) {
	run, node, registry := factoryFixtures(t)
	node.Provider = "bad"

	_, err := NewConfigFactory(registry, nil).NewAdapter(run, node)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported transport")
}

func TestFactoryFunc(t *testing.T) {
	run, node, _ := factoryFixtures(t)

	var captured *models.Node
	factory := FactoryFunc(func(_ *models.Run, n *models.Node) (Adapter, error) {
		captured = n
		return NewMockAdapter(Identity{RunID: run.ID, NodeID: n.ID}, nil), nil
	})

	adapter, err := factory.NewAdapter(run, node)
	require.NoError(t, err)
	assert.NotNil(t, adapter)
	assert.Equal(t, node, captured)
}
