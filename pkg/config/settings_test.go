package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlab/loom/pkg/models"
)

func setupTestSettings(t *testing.T) (*SettingsStore, string) {
	t.Helper()

	cfg, err := Initialize(context.Background(), t.TempDir())
	require.NoError(t, err)

	dataDir := t.TempDir()
	return NewSettingsStore(dataDir, cfg), dataDir
}

func TestSettingsDefaults(t *testing.T) {
	store, _ := setupTestSettings(t)

	settings := store.Get()
	assert.Equal(t, "claude-cli", settings.DefaultProvider)
	assert.Equal(t, models.RunModeInteractive, settings.DefaultMode)
	assert.Equal(t, models.GlobalModeImplementation, settings.DefaultGlobalMode)
	assert.False(t, settings.ApprovalsRequired)
}

func TestSettingsUpdatePersists(t *testing.T) {
	store, dataDir := setupTestSettings(t)

	provider := "mock"
	approvals := true
	updated, err := store.Update(SettingsPatch{
		DefaultProvider:   &provider,
		ApprovalsRequired: &approvals,
	})
	require.NoError(t, err)

	assert.Equal(t, "mock", updated.DefaultProvider)
	assert.True(t, updated.ApprovalsRequired)
	// Fields not in the patch are unchanged
	assert.Equal(t, models.RunModeInteractive, updated.DefaultMode)

	// Reload from disk through a fresh store
	cfg, err := Initialize(context.Background(), t.TempDir())
	require.NoError(t, err)
	reloaded := NewSettingsStore(dataDir, cfg).Get()
	assert.Equal(t, "mock", reloaded.DefaultProvider)
	assert.True(t, reloaded.ApprovalsRequired)
}

func TestSettingsUpdateRejectsUnknownProvider(t *testing.T) {
	store, dataDir := setupTestSettings(t)

	provider := "nonexistent"
	_, err := store.Update(SettingsPatch{DefaultProvider: &provider})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nonexistent")

	// Current settings untouched and nothing was written
	assert.Equal(t, "claude-cli", store.Get().DefaultProvider)
	_, statErr := os.Stat(filepath.Join(dataDir, settingsFileName))
	assert.True(t, os.IsNotExist(statErr))
}

func TestSettingsUpdateRejectsInvalidMode(t *testing.T) {
	store, _ := setupTestSettings(t)

	bad := models.RunMode("turbo")
	_, err := store.Update(SettingsPatch{DefaultMode: &bad})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "turbo")
}

func TestSettingsMalformedFileIgnored(t *testing.T) {
	cfg, err := Initialize(context.Background(), t.TempDir())
	require.NoError(t, err)

	dataDir := t.TempDir()
	err = os.WriteFile(filepath.Join(dataDir, settingsFileName), []byte("{broken"), 0644)
	require.NoError(t, err)

	store := NewSettingsStore(dataDir, cfg)
	assert.Equal(t, "claude-cli", store.Get().DefaultProvider)
}
