package provider

import (
	"fmt"

	"github.com/weftlab/loom/pkg/config"
	"github.com/weftlab/loom/pkg/models"
)

// Factory creates the adapter for a node. The engine owns exactly one
// factory; tests substitute a FactoryFunc to inject scripted sessions.
type Factory interface {
	NewAdapter(run *models.Run, node *models.Node) (Adapter, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(run *models.Run, node *models.Node) (Adapter, error)

// NewAdapter calls f.
func (f FactoryFunc) NewAdapter(run *models.Run, node *models.Node) (Adapter, error) {
	return f(run, node)
}

// ConfigFactory resolves node.Provider against the provider registry and
// instantiates the matching transport adapter.
type ConfigFactory struct {
	providers *config.ProviderRegistry

	// Tool catalog handed to API transports at construction so the
	// provider can advertise native function tools.
	tools []models.ToolDefinition
}

// NewConfigFactory creates a factory backed by the given provider registry.
// tools may be nil when no native function catalog is available.
func NewConfigFactory(providers *config.ProviderRegistry, tools []models.ToolDefinition) *ConfigFactory {
	return &ConfigFactory{providers: providers, tools: tools}
}

// NewAdapter instantiates the adapter for node's provider spec.
func (f *ConfigFactory) NewAdapter(run *models.Run, node *models.Node) (Adapter, error) {
	spec, err := f.providers.Get(node.Provider)
	if err != nil {
		return nil, err
	}

	id := Identity{RunID: run.ID, NodeID: node.ID}
	switch spec.Type {
	case models.TransportCLI:
		return NewCLIAdapter(spec, id, run.Cwd), nil
	case models.TransportAPI:
		return NewAPIAdapter(spec, id, f.tools)
	case models.TransportMock:
		return NewMockAdapter(id, nil), nil
	default:
		return nil, fmt.Errorf("provider %q: unsupported transport %q", node.Provider, spec.Type)
	}
}
