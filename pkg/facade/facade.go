// Package facade composes paddock's project-scoped state: the bbolt
// store, the scheduler client, the reconciler and the supervisor, all
// keyed off one workspace directory's project id.
package facade

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/cuemby/paddock/pkg/log"
	"github.com/cuemby/paddock/pkg/metrics"
	"github.com/cuemby/paddock/pkg/paddockerr"
	"github.com/cuemby/paddock/pkg/reconciler"
	"github.com/cuemby/paddock/pkg/scheduler"
	"github.com/cuemby/paddock/pkg/store"
	"github.com/cuemby/paddock/pkg/supervisor"
)

// Facade is the entry point every paddock command builds against: a
// single workspace's persisted state, scheduler connection and derived
// supervisor/reconciler.
type Facade struct {
	Store        store.Store
	Scheduler    *scheduler.Client
	Supervisor   *supervisor.Supervisor
	Reconciler   *reconciler.Reconciler
	Collector    *metrics.Collector
	ProjectID    string
	StateDir     string
	WorkspaceDir string

	currentStack *string
}

// New resolves the workspace's project id and state directory, opens
// its store, connects to (or spawns) the scheduler, runs one refresh
// cycle, and selects the current stack. stack, when non-nil, overrides
// the store's configured default stack and must already exist.
func New(ctx context.Context, hardRefresh bool, stack *string, workspaceDir string) (*Facade, error) {
	absDir, err := filepath.Abs(workspaceDir)
	if err != nil {
		return nil, paddockerr.NewStateIOError(err, "failed to resolve workspace directory")
	}
	if resolved, err := filepath.EvalSymlinks(absDir); err == nil {
		absDir = resolved
	}

	projectID := projectIDFor(absDir)
	stateDir, err := stateDirFor(projectID)
	if err != nil {
		return nil, err
	}

	st, err := store.NewBoltStore(stateDir)
	if err != nil {
		metrics.RegisterComponent("store", false, err.Error())
		return nil, err
	}
	metrics.RegisterComponent("store", true, "")

	paddockdBinary, err := resolvePaddockdBinary()
	if err != nil {
		metrics.RegisterComponent("scheduler", false, err.Error())
		st.Close()
		return nil, err
	}
	socketPath := filepath.Join(stateDir, "paddockd.sock")
	logDir := filepath.Join(stateDir, "logs")
	sched, err := scheduler.New(projectID, socketPath, logDir, paddockdBinary)
	if err != nil {
		metrics.RegisterComponent("scheduler", false, err.Error())
		st.Close()
		return nil, err
	}
	metrics.RegisterComponent("scheduler", true, "")

	rec := reconciler.New(absDir, st, sched)
	if err := rec.Refresh(ctx, hardRefresh); err != nil {
		return nil, err
	}

	coll := metrics.NewCollector(st)
	coll.Start()

	f := &Facade{
		Store:        st,
		Scheduler:    sched,
		Supervisor:   supervisor.New(st, sched, absDir),
		Reconciler:   rec,
		Collector:    coll,
		ProjectID:    projectID,
		StateDir:     stateDir,
		WorkspaceDir: absDir,
	}
	if err := f.selectStack(stack); err != nil {
		return nil, err
	}
	return f, nil
}

// CurrentStack returns the selected stack name, or nil if none is
// selected.
func (f *Facade) CurrentStack() *string {
	return f.currentStack
}

func (f *Facade) selectStack(stack *string) error {
	if stack != nil {
		if _, err := f.Store.GetStack(*stack); err != nil {
			return err
		}
		name := *stack
		f.currentStack = &name
		return nil
	}
	name, err := f.Store.GetDefaultStack()
	if err != nil {
		return err
	}
	f.currentStack = name
	return nil
}

// Clean tears down the project entirely: it resets and removes the
// scheduler's task group, then deletes the project's state directory.
// It is idempotent.
func (f *Facade) Clean() error {
	f.Collector.Stop()
	if err := f.Scheduler.Clean(); err != nil {
		return err
	}
	if err := f.Store.Close(); err != nil {
		return err
	}
	if err := os.RemoveAll(f.StateDir); err != nil {
		return paddockerr.NewStateIOError(err, "failed to remove state directory %s", f.StateDir)
	}
	return nil
}

// Close releases the store and scheduler connection without touching
// persisted state.
func (f *Facade) Close() error {
	f.Collector.Stop()
	if err := f.Scheduler.Close(); err != nil {
		metrics.RegisterComponent("scheduler", false, err.Error())
		log.Errorf("failed to close scheduler connection", err)
	}
	return f.Store.Close()
}

// projectIDFor derives a stable, filesystem-safe identifier for a
// workspace directory.
func projectIDFor(absDir string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(absDir))
	return fmt.Sprintf("%x", h.Sum64())
}

func stateDirFor(projectID string) (string, error) {
	base := os.Getenv("XDG_STATE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", paddockerr.NewStateIOError(err, "failed to resolve home directory")
		}
		base = filepath.Join(home, ".local", "state")
	}
	dir := filepath.Join(base, "paddock", projectID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", paddockerr.NewStateIOError(err, "failed to create state directory %s", dir)
	}
	return dir, nil
}

// resolvePaddockdBinary finds the paddockd binary next to the running
// executable, falling back to PATH.
func resolvePaddockdBinary() (string, error) {
	if exePath, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(exePath), "paddockd")
		if _, err := os.Stat(sibling); err == nil {
			return sibling, nil
		}
	}
	path, err := exec.LookPath("paddockd")
	if err != nil {
		return "", paddockerr.NewSchedulerUnavailable(err, "paddockd binary not found next to executable or on PATH")
	}
	return path, nil
}
