package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var harnessScenarios = filepath.Join("..", "harness", "testdata", "scenarios")

func runTestCmd(t *testing.T, format string, args ...string) (*bytes.Buffer, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewTestCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	return buf, cmd.Execute()
}

// copyScenario copies a harness scenario into dir.
func copyScenario(t *testing.T, dir, name string) {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(harnessScenarios, name))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
}

func TestTestCommandMissingArgs(t *testing.T) {
	_, err := runTestCmd(t, "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestTestCommandNonExistentScenariosDir(t *testing.T) {
	_, err := runTestCmd(t, "text", "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scenarios directory not found")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommandEmptyScenariosDir(t *testing.T) {
	buf, err := runTestCmd(t, "text", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "No scenarios found")
}

func TestTestCommandEmptyScenariosDirJSON(t *testing.T) {
	buf, err := runTestCmd(t, "json", t.TempDir())
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 0, resp.Data.Total)
}

func TestTestCommandRunsHarnessScenarios(t *testing.T) {
	buf, err := runTestCmd(t, "text", harnessScenarios)
	require.NoError(t, err, buf.String())
	assert.Contains(t, buf.String(), "✓ account_lifecycle")
	assert.Contains(t, buf.String(), "✓ fleet_trip")
	assert.Contains(t, buf.String(), "Test Summary: 2 passed, 0 failed, 2 total")
}

func TestTestCommandFilter(t *testing.T) {
	buf, err := runTestCmd(t, "json", harnessScenarios, "--filter", "fleet_*")
	require.NoError(t, err)

	var resp struct {
		Data TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	require.Len(t, resp.Data.Scenarios, 1)
	assert.Equal(t, "fleet_trip", resp.Data.Scenarios[0].Name)
}

func TestTestCommandFailingScenario(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wrong.yaml"), []byte(`
name: wrong
description: "expects a balance the account never reaches"
flow:
  - handle: account.open
    id: a1
    data: { owner: ada }
assertions:
  - type: final_state
    actor: account
    id: a1
    expect: { balance: 10 }
`), 0o644))

	buf, err := runTestCmd(t, "text", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, buf.String(), "✗ wrong")
	assert.Contains(t, buf.String(), "1 failed")
}

func TestTestCommandGoldenRoundTrip(t *testing.T) {
	dir := t.TempDir()
	copyScenario(t, dir, "account_lifecycle.yaml")

	buf, err := runTestCmd(t, "text", dir, "--update")
	require.NoError(t, err, buf.String())

	golden := filepath.Join(dir, "golden", "account_lifecycle.golden")
	recorded, err := os.ReadFile(golden)
	require.NoError(t, err)
	assert.Contains(t, string(recorded), `"scenario_name":"account_lifecycle"`)

	_, err = runTestCmd(t, "text", dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(golden, []byte(`{"scenario_name":"account_lifecycle","trace":[]}`), 0o644))
	buf, err = runTestCmd(t, "text", dir)
	require.Error(t, err)
	assert.Contains(t, buf.String(), "trace does not match golden file")
}

func TestFindScenarioFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.yaml", "a.yml", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("name: x"), 0o644))
	}

	files, err := findScenarioFiles(dir, "")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.yml"), filepath.Join(dir, "b.yaml")}, files)

	files, err = findScenarioFiles(dir, "b*")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "b.yaml")}, files)

	_, err = findScenarioFiles(dir, "[")
	assert.Error(t, err)
}

func TestGoldenFilePath(t *testing.T) {
	assert.Equal(t,
		filepath.Join("scenarios", "golden", "account.golden"),
		goldenFilePath(filepath.Join("scenarios", "account.yaml")))
}
