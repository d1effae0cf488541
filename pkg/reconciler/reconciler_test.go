package reconciler

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/paddock/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is a minimal in-memory store.Store, enough to exercise the
// reconciler's pure rebuild logic without a real bbolt file.
type fakeStore struct {
	artifacts            []types.Artifact
	artifactsRefreshedAt time.Time
	haveArtifactsRefresh bool
	configRefreshedAt    time.Time
	haveConfigRefresh    bool
	defaultStack         *string
	processes            map[string]types.Process
	stacks               map[string]types.Stack
}

func newFakeStore() *fakeStore {
	return &fakeStore{processes: map[string]types.Process{}, stacks: map[string]types.Stack{}}
}

func (s *fakeStore) SetArtifacts(artifacts []types.Artifact) error { s.artifacts = artifacts; return nil }
func (s *fakeStore) GetArtifacts() ([]types.Artifact, error)       { return s.artifacts, nil }

func (s *fakeStore) GetArtifactsRefreshedAt() (time.Time, bool, error) {
	return s.artifactsRefreshedAt, s.haveArtifactsRefresh, nil
}
func (s *fakeStore) SetArtifactsRefreshedAt(t time.Time) error {
	s.artifactsRefreshedAt = t
	s.haveArtifactsRefresh = true
	return nil
}
func (s *fakeStore) GetConfigRefreshedAt() (time.Time, bool, error) {
	return s.configRefreshedAt, s.haveConfigRefresh, nil
}
func (s *fakeStore) SetConfigRefreshedAt(t time.Time) error {
	s.configRefreshedAt = t
	s.haveConfigRefresh = true
	return nil
}

func (s *fakeStore) GetDefaultStack() (*string, error) { return s.defaultStack, nil }
func (s *fakeStore) SetDefaultStack(name *string) error {
	s.defaultStack = name
	return nil
}

func (s *fakeStore) GetProcesses() ([]types.Process, error) {
	out := make([]types.Process, 0, len(s.processes))
	for _, p := range s.processes {
		out = append(out, p)
	}
	return out, nil
}
func (s *fakeStore) SetProcesses(processes []types.Process) error {
	s.processes = make(map[string]types.Process, len(processes))
	for _, p := range processes {
		s.processes[p.Name] = p
	}
	return nil
}
func (s *fakeStore) SetProcessState(name string, state types.ProcessState) error {
	p := s.processes[name]
	p.State = state
	s.processes[name] = p
	return nil
}
func (s *fakeStore) SetProcessPID(name string, pid *int) error {
	p := s.processes[name]
	p.PID = pid
	s.processes[name] = p
	return nil
}

func (s *fakeStore) GetStack(name string) (types.Stack, error) { return s.stacks[name], nil }
func (s *fakeStore) GetStackNames() ([]string, error) {
	out := make([]string, 0, len(s.stacks))
	for name := range s.stacks {
		out = append(out, name)
	}
	return out, nil
}
func (s *fakeStore) SetStacks(stacks map[string]types.Stack) error {
	s.stacks = stacks
	return nil
}

func (s *fakeStore) Close() error { return nil }

func TestRefreshProcessesPreservesPIDAndStateAcrossRebuild(t *testing.T) {
	dir := t.TempDir()
	st := newFakeStore()
	r := New(dir, st, nil)

	pid := 4242
	st.processes["api"] = types.Process{Name: "api", Binary: "api", State: types.ProcessRunning, PID: &pid}
	st.artifacts = []types.Artifact{{Name: "api"}, {Name: "migrator"}}

	require.NoError(t, r.refreshProcesses())

	procs, err := st.GetProcesses()
	require.NoError(t, err)
	require.Len(t, procs, 2)

	byName := map[string]types.Process{}
	for _, p := range procs {
		byName[p.Name] = p
	}
	assert.Equal(t, types.ProcessRunning, byName["api"].State)
	require.NotNil(t, byName["api"].PID)
	assert.Equal(t, pid, *byName["api"].PID)
	assert.Equal(t, types.ProcessStopped, byName["migrator"].State)
	assert.Nil(t, byName["migrator"].PID)
}

func TestRefreshProcessesAppliesConfigOverridesAndDefaultBuildArgs(t *testing.T) {
	dir := t.TempDir()
	content := `
default:
  process:
    build_args: ["--locked"]
processes:
  api:
    binary: api-server
    args: ["--port", "8080"]
    build_args: ["--release"]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "paddock.yml"), []byte(content), 0644))

	st := newFakeStore()
	st.artifacts = []types.Artifact{{Name: "api"}}
	r := New(dir, st, nil)

	require.NoError(t, r.refreshProcesses())

	procs, err := st.GetProcesses()
	require.NoError(t, err)
	require.Len(t, procs, 1)
	p := procs[0]
	assert.Equal(t, "api-server", p.Binary)
	assert.Equal(t, []string{"--port", "8080"}, p.Args)
	assert.Equal(t, []string{"--release", "--locked"}, p.BuildArgs)
}

func TestRefreshProcessesConfigExclusivelyDrivesProcessSet(t *testing.T) {
	dir := t.TempDir()
	content := `
processes:
  api: {}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "paddock.yml"), []byte(content), 0644))

	st := newFakeStore()
	st.artifacts = []types.Artifact{{Name: "api"}, {Name: "migrator"}}
	r := New(dir, st, nil)

	require.NoError(t, r.refreshProcesses())

	procs, err := st.GetProcesses()
	require.NoError(t, err)
	require.Len(t, procs, 1)
	assert.Equal(t, "api", procs[0].Name)
}

func TestRefreshStacksResolvesInheritanceAndDefault(t *testing.T) {
	dir := t.TempDir()
	content := `
default:
  stack: full
stacks:
  dev:
    processes: [api]
  full:
    inherits: [dev]
    processes: [migrator]
processes:
  api: {}
  migrator: {}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "paddock.yml"), []byte(content), 0644))

	st := newFakeStore()
	r := New(dir, st, nil)

	require.NoError(t, r.refreshStacks())

	require.Contains(t, st.stacks, "full")
	full := st.stacks["full"]
	_, hasMigrator := full.Direct["migrator"]
	_, hasAPI := full.Inherited["api"]
	assert.True(t, hasMigrator)
	assert.True(t, hasAPI)

	require.NotNil(t, st.defaultStack)
	assert.Equal(t, "full", *st.defaultStack)
}

func TestRefreshStacksRejectsUnknownDefault(t *testing.T) {
	dir := t.TempDir()
	content := `
default:
  stack: missing
stacks:
  dev:
    processes: [api]
processes:
  api: {}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "paddock.yml"), []byte(content), 0644))

	st := newFakeStore()
	r := New(dir, st, nil)

	err := r.refreshStacks()
	assert.Error(t, err)
}

func TestRefreshStacksNoConfigClearsDefault(t *testing.T) {
	dir := t.TempDir()
	st := newFakeStore()
	name := "stale"
	st.defaultStack = &name
	r := New(dir, st, nil)

	require.NoError(t, r.refreshStacks())

	assert.Nil(t, st.defaultStack)
}

func TestNeedsArtifactRefreshTrueWhenNeverRefreshed(t *testing.T) {
	dir := t.TempDir()
	st := newFakeStore()
	r := New(dir, st, nil)

	need, err := r.needsArtifactRefresh(false)

	require.NoError(t, err)
	assert.True(t, need)
}

func TestNeedsArtifactRefreshTrueWhenManifestChangedSinceLastRefresh(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Cargo.toml"), []byte("[workspace]\n"), 0644))

	st := newFakeStore()
	st.haveArtifactsRefresh = true
	st.artifactsRefreshedAt = time.Now().Add(-time.Hour)
	r := New(dir, st, nil)

	need, err := r.needsArtifactRefresh(false)

	require.NoError(t, err)
	assert.True(t, need)
}

func TestNeedsArtifactRefreshFalseWhenFreshAndUnchanged(t *testing.T) {
	dir := t.TempDir()
	st := newFakeStore()
	st.haveArtifactsRefresh = true
	st.artifactsRefreshedAt = time.Now()
	r := New(dir, st, nil)

	need, err := r.needsArtifactRefresh(false)

	require.NoError(t, err)
	assert.False(t, need)
}

func TestNeedsArtifactRefreshTrueWhenHard(t *testing.T) {
	dir := t.TempDir()
	st := newFakeStore()
	st.haveArtifactsRefresh = true
	st.artifactsRefreshedAt = time.Now()
	r := New(dir, st, nil)

	need, err := r.needsArtifactRefresh(true)

	require.NoError(t, err)
	assert.True(t, need)
}

func TestAnyModifiedSinceIgnoresMissingFiles(t *testing.T) {
	dir := t.TempDir()
	assert.False(t, anyModifiedSince(time.Now(), dir, "paddock.yml", "paddock.override.yml"))
}
