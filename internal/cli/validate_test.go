package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/evactor/internal/compiler"
)

const walletManifest = `
actor: wallet: {
	searchFields: ["balance"]
	commands: deposit: "deposit"
	events: deposited: "deposited"
}
`

func writeManifest(t *testing.T, dir, name, src string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(src), 0o644))
}

func runValidateCmd(t *testing.T, format string, args ...string) (*bytes.Buffer, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	return buf, cmd.Execute()
}

func TestValidateValidManifests(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "wallet.cue", walletManifest)

	buf, err := runValidateCmd(t, "text", dir)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "✓ All manifests valid (1 actor(s))")
}

func TestValidateValidManifestsJSON(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "wallet.cue", walletManifest)

	buf, err := runValidateCmd(t, "json", dir)
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, []string{"wallet"}, resp.Data.Actors)
	assert.Empty(t, resp.Data.Warnings)
}

func TestValidateRedefinedBuiltin(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "account.cue", `
actor: account: {
	eventThreshold: 5
	commands: open: "open"
	events: opened: "opened"
}
`)

	_, err := runValidateCmd(t, "text", dir)
	require.NoError(t, err)
}

func TestValidateAggregatesFromBuiltin(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "audit.cue", `
actor: audit: {
	aggregateFrom: ["account"]
	commands: deposit: "deposit"
	events: deposited: "deposited"
}
`)

	_, err := runValidateCmd(t, "text", dir)
	require.NoError(t, err)
}

func TestValidateNonExistentDirectory(t *testing.T) {
	buf, err := runValidateCmd(t, "text", "/nonexistent/directory/path")
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrCodeNotFound)
	assert.Contains(t, buf.String(), "not found")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestValidateEmptyDirectory(t *testing.T) {
	buf, err := runValidateCmd(t, "text", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrCodeNoFiles)
	assert.Contains(t, buf.String(), "no CUE files found")
}

func TestValidateUnknownAction(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "parcel.cue", `
actor: parcel: commands: ship: "shipParcel"
`)

	buf, err := runValidateCmd(t, "text", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, buf.String(), "✗ Validation failed")
	assert.Contains(t, buf.String(), compiler.ErrUnknownAction)
	assert.Contains(t, buf.String(), "parcel.commands.ship[0]")
	assert.Contains(t, buf.String(), "shipParcel")
}

func TestValidateUnknownSourceJSON(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "audit.cue", `
actor: audit: {
	aggregateFrom: ["ledger"]
	commands: deposit: "deposit"
	events: deposited: "deposited"
}
`)

	buf, err := runValidateCmd(t, "json", dir)
	require.Error(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
		Error  *CLIError        `json:"error"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.False(t, resp.Data.Valid)
	require.NotEmpty(t, resp.Data.Errors)
	assert.Equal(t, compiler.ErrUnknownSource, resp.Data.Errors[0].Code)
	assert.Equal(t, "audit", resp.Data.Errors[0].Type)
	assert.Equal(t, compiler.ErrUnknownSource, resp.Error.Code)
}

func TestValidateSyntaxErrorKeepsOtherFiles(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "broken.cue", `actor: {`)
	writeManifest(t, dir, "wallet.cue", walletManifest)

	buf, err := runValidateCmd(t, "json", dir)
	require.Error(t, err)

	var resp struct {
		Data ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, []string{"wallet"}, resp.Data.Actors)
	require.Len(t, resp.Data.Errors, 1)
	assert.Equal(t, "load", resp.Data.Errors[0].Field)
}

func TestValidateReportsCycles(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "pair.cue", `
actor: ping: {
	aggregateFrom: ["pong"]
	commands: deposit: "deposit"
	events: deposited: "deposited"
}
actor: pong: {
	aggregateFrom: ["ping"]
	commands: deposit: "deposit"
	events: deposited: "deposited"
}
`)

	buf, err := runValidateCmd(t, "json", dir)
	require.NoError(t, err)

	var resp struct {
		Data ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	require.Len(t, resp.Data.Warnings, 1)
	assert.Contains(t, resp.Data.Warnings[0].Path, "ping")
	assert.Contains(t, resp.Data.Warnings[0].Path, "pong")
	assert.Equal(t, "warning", resp.Data.Warnings[0].Level)
}

func TestValidateActorsDir(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "wallet.cue", walletManifest)

	errs, err := ValidateActorsDir(dir)
	require.NoError(t, err)
	assert.Empty(t, errs)

	_, err = ValidateActorsDir(filepath.Join(dir, "absent"))
	require.Error(t, err)
}

func TestMapFieldToErrorCode(t *testing.T) {
	assert.Equal(t, compiler.ErrInvalidType, MapFieldToErrorCode("actor"))
	assert.Equal(t, compiler.ErrNoHandlers, MapFieldToErrorCode("commands"))
	assert.Equal(t, compiler.ErrMissingAction, MapFieldToErrorCode("commands.open[0].action"))
	assert.Equal(t, ErrCodeBuildFailed, MapFieldToErrorCode("cue"))
}
