package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cuemby/paddock/pkg/paddockerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsNilNil(t *testing.T) {
	dir := t.TempDir()

	f, err := Load(dir)

	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestLoadParsesStacksAndProcesses(t *testing.T) {
	dir := t.TempDir()
	content := `
default:
  stack: dev
  process:
    build_args: ["--locked"]
stacks:
  dev:
    processes: [api]
  full:
    inherits: [dev]
    processes: [migrator]
processes:
  api:
    args: ["--port", "${PORT:-8080}"]
    env:
      RUST_LOG: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, fileName), []byte(content), 0644))

	f, err := Load(dir)

	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, "dev", f.Default.Stack)
	assert.Equal(t, []string{"--locked"}, f.Default.Process.BuildArgs)
	assert.ElementsMatch(t, []string{"api"}, f.Stacks["dev"].Processes)
	assert.ElementsMatch(t, []string{"dev"}, f.Stacks["full"].Inherits)
	assert.Equal(t, "debug", f.Processes["api"].Env["RUST_LOG"])
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	content := "unknown_top_level_key: true\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, fileName), []byte(content), 0644))

	_, err := Load(dir)

	require.Error(t, err)
	assert.True(t, paddockerr.Is(err, paddockerr.ConfigParse))
}
