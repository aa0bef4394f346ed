package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amankb/pkg/version"
)

// testEnv isolates HOME, the user config directory and AMANKB_* variables
// and returns the data directory passed to every command.
func testEnv(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("NO_COLOR", "1")
	for _, key := range []string{
		"AMANKB_DATA_DIR", "AMANKB_BATCH_SIZE", "AMANKB_WORKERS", "AMANKB_TABLE_POLICY",
		"AMANKB_SEARCH_BACKEND", "AMANKB_MAX_RESULTS", "AMANKB_TELEMETRY", "AMANKB_LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}
	return filepath.Join(home, "kb")
}

// run executes the CLI with --data-dir and --config pointing into the test
// environment and returns combined output.
func run(t *testing.T, dataDir string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	buf := &bytes.Buffer{}
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(append([]string{"--data-dir", dataDir, "--config", filepath.Dir(dataDir)}, args...))

	err := root.Execute()
	_ = stopLogging(nil, nil)
	return buf.String(), err
}

// writeExport writes a JSON export into dir and returns its path.
func writeExport(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const breakersExport = `[
  {"entryId": "e1", "jobTitle": "Breakers", "contentMarkdown": "Circuit breaker maintenance", "position": 1},
  {"entryId": "e2", "jobTitle": "检修规程", "contentMarkdown": "主变压器检修", "position": 2}
]`

const pumpsExport = `{"fileMetadata": {"category": "pumps"}, "entries": [
  {"entryId": "p1", "jobTitle": "Pumps", "contentMarkdown": "pump seal replacement", "position": 1}
]}`

// =============================================================================
// TS01: Root and version
// =============================================================================

func TestRootCmd_HasSubcommands(t *testing.T) {
	root := NewRootCmd()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}

	for _, want := range []string{"import", "search", "show", "watch", "stats", "forget", "config", "logs", "version"} {
		assert.Contains(t, names, want)
	}
}

func TestVersionCmd_Short(t *testing.T) {
	dataDir := testEnv(t)

	out, err := run(t, dataDir, "version", "--short")

	require.NoError(t, err)
	assert.Equal(t, version.Short(), strings.TrimSpace(out))
}

func TestVersionCmd_JSON(t *testing.T) {
	dataDir := testEnv(t)

	out, err := run(t, dataDir, "version", "--json")
	require.NoError(t, err)

	var info version.BuildInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, version.Version, info.Version)
}

func TestRootCmd_InvalidConfig_FailsBeforeRunning(t *testing.T) {
	// Given: a project config with an invalid value
	dataDir := testEnv(t)
	writeExport(t, filepath.Dir(dataDir), ".amankb.yaml", "search:\n  max_results: -1\n")

	// When: running a command that needs configuration
	_, err := run(t, dataDir, "stats")

	// Then: validation fails
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_results")
}

// =============================================================================
// TS02: Config
// =============================================================================

func TestConfigCmd_InitShowPath(t *testing.T) {
	dataDir := testEnv(t)

	out, err := run(t, dataDir, "config", "path")
	require.NoError(t, err)
	path := strings.TrimSpace(out)
	assert.True(t, strings.HasSuffix(path, filepath.Join("amankb", "config.yaml")))

	out, err = run(t, dataDir, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote user configuration")
	assert.FileExists(t, path)

	// A second init without --force leaves the file alone
	out, err = run(t, dataDir, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "already exists")

	out, err = run(t, dataDir, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "# source: merged")
	assert.Contains(t, out, dataDir, "--data-dir is part of the effective config")
}

func TestConfigCmd_InitForce_BacksUpAndKeepsSettings(t *testing.T) {
	// Given: an existing user config with a custom value
	dataDir := testEnv(t)
	out, err := run(t, dataDir, "config", "path")
	require.NoError(t, err)
	path := strings.TrimSpace(out)
	writeExport(t, filepath.Dir(path), filepath.Base(path), "search:\n  max_results: 42\n")

	// When: re-initializing with --force
	out, err = run(t, dataDir, "config", "init", "--force")
	require.NoError(t, err)

	// Then: a backup exists and the setting survives
	assert.Contains(t, out, "Backup:")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "max_results: 42")
	assert.Contains(t, string(data), "batch_size: 100", "new defaults are written out")

	out, err = run(t, dataDir, "config", "show", "--source", "user", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"max_results": 42`)
}

func TestConfigCmd_ShowUnknownSource(t *testing.T) {
	dataDir := testEnv(t)

	_, err := run(t, dataDir, "config", "show", "--source", "project")

	assert.Error(t, err)
}

func TestRootCmd_ProfilingFlags(t *testing.T) {
	// Given: CPU and heap profiles requested for a command
	dataDir := testEnv(t)
	dir := t.TempDir()
	cpu := filepath.Join(dir, "cpu.prof")
	heap := filepath.Join(dir, "heap.prof")

	// When: running it
	_, err := run(t, dataDir, "--profile-cpu", cpu, "--profile-mem", heap, "config", "show")
	require.NoError(t, err)

	// Then: both files are written
	assert.FileExists(t, cpu)
	assert.FileExists(t, heap)
}
