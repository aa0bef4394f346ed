package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupUserConfig_NoConfig(t *testing.T) {
	isolate(t)

	path, err := BackupUserConfig()

	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestBackupUserConfig_CopiesContent(t *testing.T) {
	// Given: an existing user config
	xdg := isolate(t)
	content := "search:\n  max_results: 5\n"
	writeFile(t, filepath.Join(xdg, "amankb", "config.yaml"), content)

	// When: backing it up
	path, err := BackupUserConfig()

	// Then: the copy sits next to it with the same bytes
	require.NoError(t, err)
	require.NotEmpty(t, path)
	assert.Equal(t, filepath.Join(xdg, "amankb"), filepath.Dir(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, content, string(data))
}

func TestBackupUserConfig_KeepsNewest(t *testing.T) {
	// Given: more stale backups than MaxBackups
	xdg := isolate(t)
	dir := filepath.Join(xdg, "amankb")
	writeFile(t, filepath.Join(dir, "config.yaml"), "version: 1\n")
	for _, stamp := range []string{"20200101-000000.000", "20200102-000000.000", "20200103-000000.000"} {
		writeFile(t, filepath.Join(dir, "config.yaml.bak."+stamp), "old\n")
	}

	// When: taking a fresh backup
	fresh, err := BackupUserConfig()
	require.NoError(t, err)

	// Then: only the newest MaxBackups remain, newest first
	backups, err := ListUserConfigBackups()
	require.NoError(t, err)
	require.Len(t, backups, MaxBackups)
	assert.Equal(t, fresh, backups[0])
	assert.NotContains(t, backups, filepath.Join(dir, "config.yaml.bak.20200101-000000.000"))
}
