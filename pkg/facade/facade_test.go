package facade

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjectIDForIsStableAndDirSpecific(t *testing.T) {
	a := projectIDFor("/home/user/workspace-a")
	b := projectIDFor("/home/user/workspace-b")
	again := projectIDFor("/home/user/workspace-a")

	assert.Equal(t, a, again)
	assert.NotEqual(t, a, b)
}

func TestStateDirForUsesXDGStateHome(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", dir)

	stateDir, err := stateDirFor("deadbeef")

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "paddock", "deadbeef"), stateDir)
	info, err := os.Stat(stateDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestStateDirForFallsBackToHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("XDG_STATE_HOME", "")
	t.Setenv("HOME", home)

	stateDir, err := stateDirFor("cafef00d")

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".local", "state", "paddock", "cafef00d"), stateDir)
}
