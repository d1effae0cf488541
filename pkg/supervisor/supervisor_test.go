package supervisor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/paddock/pkg/paddockerr"
	"github.com/cuemby/paddock/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is a minimal in-memory store.Store for exercising
// FilterProcesses/Ps without a real bbolt file.
type fakeStore struct {
	processes map[string]types.Process
	stacks    map[string]types.Stack
}

func newFakeStore() *fakeStore {
	return &fakeStore{processes: map[string]types.Process{}, stacks: map[string]types.Stack{}}
}

func (s *fakeStore) SetArtifacts(artifacts []types.Artifact) error { return nil }
func (s *fakeStore) GetArtifacts() ([]types.Artifact, error)       { return nil, nil }
func (s *fakeStore) GetArtifactsRefreshedAt() (time.Time, bool, error) {
	return time.Time{}, false, nil
}
func (s *fakeStore) SetArtifactsRefreshedAt(t time.Time) error { return nil }
func (s *fakeStore) GetConfigRefreshedAt() (time.Time, bool, error) {
	return time.Time{}, false, nil
}
func (s *fakeStore) SetConfigRefreshedAt(t time.Time) error { return nil }
func (s *fakeStore) GetDefaultStack() (*string, error)      { return nil, nil }
func (s *fakeStore) SetDefaultStack(name *string) error     { return nil }

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

func (s *fakeStore) GetStack(name string) (types.Stack, error) {
	st, ok := s.stacks[name]
	if !ok {
		return types.Stack{}, paddockerr.NewStackNotFound(name)
	}
	return st, nil
}
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

func TestEnvsubstMissingVarUsesDefault(t *testing.T) {
	env := map[string]string{}
	assert.Equal(t, "baz", envsubst("${FOO:-baz}", env))
}

func TestEnvsubstNoPlaceholderIsUnchanged(t *testing.T) {
	env := map[string]string{"FOO": "BAR"}
	assert.Equal(t, "FOO", envsubst("FOO", env))
}

func TestEnvsubstPresentVarWins(t *testing.T) {
	env := map[string]string{"FOO": "BAR"}
	assert.Equal(t, "BAR", envsubst("${FOO}", env))
	assert.Equal(t, "BAR", envsubst("${FOO:-baz}", env))
}

func TestEnvsubstMissingVarNoDefaultIsEmpty(t *testing.T) {
	env := map[string]string{}
	assert.Equal(t, "", envsubst("${FOO}", env))
}

func TestEnvsubstMultiplePlaceholders(t *testing.T) {
	env := map[string]string{"HOST": "localhost"}
	assert.Equal(t, "localhost:8080", envsubst("${HOST}:${PORT:-8080}", env))
}

func TestFilterProcessesExplicitNamesWin(t *testing.T) {
	st := newFakeStore()
	require.NoError(t, st.SetProcesses([]types.Process{
		{Name: "api"}, {Name: "worker"}, {Name: "migrator"},
	}))
	s := New(st, nil, t.TempDir())

	got, err := s.FilterProcesses([]string{"worker", "api"}, nil)
	require.NoError(t, err)

	names := make([]string, len(got))
	for i, p := range got {
		names[i] = p.Name
	}
	assert.ElementsMatch(t, []string{"worker", "api"}, names)
}

func TestFilterProcessesMissingNameFails(t *testing.T) {
	st := newFakeStore()
	require.NoError(t, st.SetProcesses([]types.Process{{Name: "api"}}))
	s := New(st, nil, t.TempDir())

	_, err := s.FilterProcesses([]string{"api", "ghost"}, nil)
	require.Error(t, err)
	assert.ErrorAs(t, err, new(*paddockerr.Error))
}

func TestFilterProcessesEmptyNamesUsesSelectedStack(t *testing.T) {
	st := newFakeStore()
	require.NoError(t, st.SetProcesses([]types.Process{
		{Name: "api"}, {Name: "worker"}, {Name: "migrator"},
	}))
	require.NoError(t, st.SetStacks(map[string]types.Stack{
		"web": {Name: "web", Direct: map[string]struct{}{"api": {}, "worker": {}}},
	}))
	s := New(st, nil, t.TempDir())

	stack := "web"
	got, err := s.FilterProcesses(nil, &stack)
	require.NoError(t, err)

	names := make([]string, len(got))
	for i, p := range got {
		names[i] = p.Name
	}
	assert.ElementsMatch(t, []string{"api", "worker"}, names)
}

func TestFilterProcessesEmptyNamesNoStackReturnsEverything(t *testing.T) {
	st := newFakeStore()
	require.NoError(t, st.SetProcesses([]types.Process{
		{Name: "api"}, {Name: "worker"}, {Name: "migrator"},
	}))
	s := New(st, nil, t.TempDir())

	got, err := s.FilterProcesses(nil, nil)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestPsOrdersProcessesCanonically(t *testing.T) {
	st := newFakeStore()
	require.NoError(t, st.SetProcesses([]types.Process{
		{Name: "worker", State: types.ProcessStopped},
		{Name: "api", State: types.ProcessRunning},
		{Name: "migrator", State: types.ProcessStopped},
	}))
	s := New(st, nil, t.TempDir())

	got, err := s.Ps(nil, nil)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i := 1; i < len(got); i++ {
		assert.False(t, got[i].Less(got[i-1]), "process at %d (%s) sorts before %d (%s)", i, got[i].Name, i-1, got[i-1].Name)
	}
}

func TestBuildEnvLayersHostDotenvAndProcessEnv(t *testing.T) {
	t.Setenv("PADDOCK_TEST_HOST_ONLY", "from-host")
	t.Setenv("PADDOCK_TEST_OVERRIDE_CHAIN", "from-host")

	dir := t.TempDir()
	dotenv := "PADDOCK_TEST_DOTENV_ONLY=from-dotenv\nPADDOCK_TEST_OVERRIDE_CHAIN=from-dotenv\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(dotenv), 0644))

	st := newFakeStore()
	s := New(st, nil, dir)

	env, err := s.buildEnv(types.Process{Env: map[string]string{"PADDOCK_TEST_OVERRIDE_CHAIN": "from-process"}})
	require.NoError(t, err)

	assert.Equal(t, "from-host", env["PADDOCK_TEST_HOST_ONLY"])
	assert.Equal(t, "from-dotenv", env["PADDOCK_TEST_DOTENV_ONLY"])
	assert.Equal(t, "from-process", env["PADDOCK_TEST_OVERRIDE_CHAIN"])
}

func TestBuildEnvMissingDotenvIsNotAnError(t *testing.T) {
	st := newFakeStore()
	s := New(st, nil, t.TempDir())

	env, err := s.buildEnv(types.Process{Env: map[string]string{"FOO": "bar"}})
	require.NoError(t, err)
	assert.Equal(t, "bar", env["FOO"])
}
