// Package reconciler keeps paddock's persisted state in sync with three
// external sources of truth: the scheduler (what's actually running), the
// workspace's Cargo manifests (what can be built), and paddock.yml (how
// it should be grouped and configured).
package reconciler

import (
	"context"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/paddock/pkg/config"
	"github.com/cuemby/paddock/pkg/discover"
	"github.com/cuemby/paddock/pkg/log"
	"github.com/cuemby/paddock/pkg/metrics"
	"github.com/cuemby/paddock/pkg/paddockerr"
	"github.com/cuemby/paddock/pkg/resolver"
	"github.com/cuemby/paddock/pkg/scheduler"
	"github.com/cuemby/paddock/pkg/store"
	"github.com/cuemby/paddock/pkg/types"
	"github.com/rs/zerolog"
)

// staleAfter is how long a successful refresh is trusted before a soft
// refresh considers it stale, independent of whether the underlying
// files changed. This bounds how rarely paddock notices a manifest edit
// whose mtime update got missed by a single narrow race.
const staleAfter = 24 * time.Hour

// Reconciler keeps a project's store in sync with the scheduler and the
// workspace's build/config files.
type Reconciler struct {
	workspaceDir string
	store        store.Store
	scheduler    *scheduler.Client
	logger       zerolog.Logger
	mu           sync.Mutex
	stopCh       chan struct{}
}

// New creates a Reconciler for the given workspace, store and scheduler
// client.
func New(workspaceDir string, st store.Store, sched *scheduler.Client) *Reconciler {
	return &Reconciler{
		workspaceDir: workspaceDir,
		store:        st,
		scheduler:    sched,
		logger:       log.WithComponent("reconciler"),
		stopCh:       make(chan struct{}),
	}
}

// Start begins a background refresh loop, useful for a long-lived watch
// command. One-shot callers should call Refresh directly instead.
func (r *Reconciler) Start() {
	go r.run()
}

// Stop stops the background refresh loop.
func (r *Reconciler) Stop() {
	close(r.stopCh)
}

func (r *Reconciler) run() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	r.logger.Info().Msg("reconciler started")

	for {
		select {
		case <-ticker.C:
			if err := r.Refresh(context.Background(), false); err != nil {
				r.logger.Error().Err(err).Msg("reconcile cycle failed")
			}
		case <-r.stopCh:
			r.logger.Info().Msg("reconciler stopped")
			return
		}
	}
}

// Refresh performs one reconcile cycle. It unconditionally syncs process
// pid/state from the scheduler, then conditionally refreshes artifacts
// (if hard, or the workspace's Cargo manifests changed since the last
// refresh) and conditionally refreshes processes/stacks (if hard, or
// paddock.yml/paddock.override.yml changed since the last refresh). A
// missing last-refresh timestamp, or one older than staleAfter, also
// triggers the corresponding refresh.
func (r *Reconciler) Refresh(ctx context.Context, hard bool) error {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.syncSchedulerState(); err != nil {
		return err
	}

	refreshArtifacts, err := r.needsArtifactRefresh(hard)
	if err != nil {
		return err
	}
	if refreshArtifacts {
		if err := r.refreshArtifacts(ctx); err != nil {
			return err
		}
	}

	refreshConfig, err := r.needsConfigRefresh(hard)
	if err != nil {
		return err
	}
	if refreshConfig {
		if err := r.refreshProcesses(); err != nil {
			return err
		}
		if err := r.refreshStacks(); err != nil {
			return err
		}
		if err := r.store.SetConfigRefreshedAt(time.Now()); err != nil {
			return err
		}
	}

	return nil
}

// syncSchedulerState copies the scheduler's current view of every task
// onto the matching stored process, resetting anything the scheduler no
// longer knows about to Stopped with no pid.
func (r *Reconciler) syncSchedulerState() error {
	reported, err := r.scheduler.Processes()
	if err != nil {
		return err
	}

	processes, err := r.store.GetProcesses()
	if err != nil {
		return err
	}

	for _, p := range processes {
		if st, ok := reported[p.Name]; ok {
			pid := st.PID
			if err := r.store.SetProcessPID(p.Name, &pid); err != nil {
				return err
			}
			if err := r.store.SetProcessState(p.Name, st.State); err != nil {
				return err
			}
		} else {
			if err := r.store.SetProcessPID(p.Name, nil); err != nil {
				return err
			}
			if err := r.store.SetProcessState(p.Name, types.ProcessStopped); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Reconciler) needsArtifactRefresh(hard bool) (bool, error) {
	if hard {
		return true, nil
	}
	last, ok, err := r.store.GetArtifactsRefreshedAt()
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	return anyModifiedSince(last, r.workspaceDir, "Cargo.toml", "Cargo.lock") || time.Since(last) > staleAfter, nil
}

func (r *Reconciler) needsConfigRefresh(hard bool) (bool, error) {
	if hard {
		return true, nil
	}
	last, ok, err := r.store.GetConfigRefreshedAt()
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	return anyModifiedSince(last, r.workspaceDir, "paddock.yml", "paddock.override.yml") || time.Since(last) > staleAfter, nil
}

func anyModifiedSince(last time.Time, workspaceDir string, names ...string) bool {
	for _, name := range names {
		info, err := os.Stat(workspaceDir + string(os.PathSeparator) + name)
		if err != nil {
			continue
		}
		if info.ModTime().After(last) {
			return true
		}
	}
	return false
}

func (r *Reconciler) refreshArtifacts(ctx context.Context) error {
	artifacts, err := discover.Discover(ctx, r.workspaceDir)
	if err != nil {
		return err
	}
	if err := r.store.SetArtifacts(artifacts); err != nil {
		return err
	}
	return r.store.SetArtifactsRefreshedAt(time.Now())
}

// refreshProcesses rebuilds the process relation from paddock.yml when
// present, otherwise from the discovered artifact set, preserving each
// surviving process's pid and state from before the rebuild.
func (r *Reconciler) refreshProcesses() error {
	artifacts, err := r.store.GetArtifacts()
	if err != nil {
		return err
	}
	cfg, err := config.Load(r.workspaceDir)
	if err != nil {
		return err
	}
	previous, err := r.store.GetProcesses()
	if err != nil {
		return err
	}
	previousByName := make(map[string]types.Process, len(previous))
	for _, p := range previous {
		previousByName[p.Name] = p
	}

	var defaultBuildArgs []string
	if cfg != nil {
		defaultBuildArgs = cfg.Default.Process.BuildArgs
	}

	// Config-driven and artifact-driven construction are mutually
	// exclusive: when paddock.yml is present, every process comes from
	// its processes map (even an artifact it omits stays unsupervised);
	// otherwise every discovered artifact becomes a process.
	built := make(map[string]types.Process)
	if cfg != nil {
		for name, cp := range cfg.Processes {
			binary := cp.Binary
			if binary == "" {
				binary = name
			}
			built[name] = types.Process{
				Name:      name,
				Binary:    binary,
				State:     types.ProcessStopped,
				Args:      cp.Args,
				BuildArgs: append(append([]string(nil), cp.BuildArgs...), defaultBuildArgs...),
				Env:       cp.Env,
			}
		}
	} else {
		for _, a := range artifacts {
			built[a.Name] = types.Process{
				Name:      a.Name,
				Binary:    a.Name,
				State:     types.ProcessStopped,
				BuildArgs: append([]string(nil), defaultBuildArgs...),
			}
		}
	}

	final := make([]types.Process, 0, len(built))
	for name, p := range built {
		if old, ok := previousByName[name]; ok {
			p.PID = old.PID
			p.State = old.State
		}
		final = append(final, p)
	}
	sort.Slice(final, func(i, j int) bool { return final[i].Name < final[j].Name })

	return r.store.SetProcesses(final)
}

// refreshStacks rebuilds the stack relation from paddock.yml, resolving
// inheritance, and revalidates the configured default stack.
func (r *Reconciler) refreshStacks() error {
	cfg, err := config.Load(r.workspaceDir)
	if cfg == nil || err != nil {
		if err != nil {
			return err
		}
		return r.store.SetDefaultStack(nil)
	}

	resolved, err := resolver.Resolve(cfg.Stacks)
	if err != nil {
		return err
	}
	if err := r.store.SetStacks(resolved); err != nil {
		return err
	}

	if cfg.Default.Stack == "" {
		return r.store.SetDefaultStack(nil)
	}
	if _, ok := resolved[cfg.Default.Stack]; !ok {
		return paddockerr.NewStackNotFound(cfg.Default.Stack)
	}
	name := cfg.Default.Stack
	return r.store.SetDefaultStack(&name)
}
