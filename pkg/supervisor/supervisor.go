// Package supervisor implements paddock's process lifecycle operations:
// building and starting, stopping, listing and streaming logs for the
// native binaries a project declares.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/cuemby/paddock/pkg/log"
	"github.com/cuemby/paddock/pkg/metrics"
	"github.com/cuemby/paddock/pkg/paddockerr"
	"github.com/cuemby/paddock/pkg/scheduler"
	"github.com/cuemby/paddock/pkg/store"
	"github.com/cuemby/paddock/pkg/types"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Supervisor drives process lifecycle operations against a project's
// store and scheduler client.
type Supervisor struct {
	store        store.Store
	scheduler    *scheduler.Client
	workspaceDir string
	logger       zerolog.Logger
}

// New creates a Supervisor for the given project.
func New(st store.Store, sched *scheduler.Client, workspaceDir string) *Supervisor {
	return &Supervisor{
		store:        st,
		scheduler:    sched,
		workspaceDir: workspaceDir,
		logger:       log.WithComponent("supervisor"),
	}
}

// FilterProcesses resolves which processes an operation should act on.
// An explicit, non-empty names list wins; a name that doesn't exist
// fails the whole call with paddockerr.ProcessNotFound. Absent that, it
// falls back to currentStack's full process set, or every process if no
// stack is selected.
func (s *Supervisor) FilterProcesses(names []string, currentStack *string) ([]types.Process, error) {
	all, err := s.store.GetProcesses()
	if err != nil {
		return nil, err
	}

	expected := names
	if len(expected) == 0 && currentStack != nil {
		stack, err := s.store.GetStack(*currentStack)
		if err != nil {
			return nil, err
		}
		for name := range stack.AllProcesses() {
			expected = append(expected, name)
		}
	}
	if len(expected) == 0 {
		return all, nil
	}

	wanted := make(map[string]struct{}, len(expected))
	for _, n := range expected {
		wanted[n] = struct{}{}
	}

	var out []types.Process
	for _, p := range all {
		if _, ok := wanted[p.Name]; ok {
			out = append(out, p)
			delete(wanted, p.Name)
		}
	}
	if len(wanted) > 0 {
		missing := make([]string, 0, len(wanted))
		for n := range wanted {
			missing = append(missing, n)
		}
		sort.Strings(missing)
		return nil, paddockerr.NewProcessNotFound(missing)
	}
	return out, nil
}

// Ps returns the filtered processes sorted by the package's canonical
// order.
func (s *Supervisor) Ps(names []string, currentStack *string) ([]types.Process, error) {
	processes, err := s.FilterProcesses(names, currentStack)
	if err != nil {
		return nil, err
	}
	sort.Slice(processes, func(i, j int) bool { return processes[i].Less(processes[j]) })
	return processes, nil
}

// Start builds then launches the filtered processes. A failed build
// reverts every targeted process to Stopped and aborts the whole call;
// a failed launch of one process is logged and does not prevent its
// siblings from starting.
func (s *Supervisor) Start(ctx context.Context, names []string, currentStack *string) error {
	processes, err := s.FilterProcesses(names, currentStack)
	if err != nil {
		return err
	}

	for _, p := range processes {
		if err := s.store.SetProcessState(p.Name, types.ProcessBuilding); err != nil {
			return err
		}
	}

	if err := s.build(ctx, processes); err != nil {
		for _, p := range processes {
			if setErr := s.store.SetProcessState(p.Name, types.ProcessStopped); setErr != nil {
				return setErr
			}
		}
		return err
	}

	for _, p := range processes {
		if p.State == types.ProcessRunning {
			s.logger.Info().Str("process", p.Name).Msg("process already running")
			continue
		}
		if err := s.run(p); err != nil {
			s.logger.Error().Err(err).Str("process", p.Name).Msg("failed to start process")
		}
	}
	return nil
}

// build invokes a single `cargo build` covering every targeted binary,
// so cargo's own incremental build cache is shared across the batch.
// cargo's stdout and stderr are streamed straight to the console.
func (s *Supervisor) build(ctx context.Context, processes []types.Process) error {
	if len(processes) == 0 {
		return nil
	}
	args := []string{"build"}
	for _, p := range processes {
		args = append(args, "--bin", p.Binary)
	}
	seen := map[string]struct{}{}
	for _, p := range processes {
		for _, a := range p.BuildArgs {
			if _, ok := seen[a]; ok {
				continue
			}
			seen[a] = struct{}{}
			args = append(args, a)
		}
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.BuildDuration)

	cmd := exec.CommandContext(ctx, "cargo", args...)
	cmd.Dir = s.workspaceDir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		metrics.BuildsFailedTotal.Inc()
		return paddockerr.NewToolchainFailure(err, "cargo build failed")
	}
	return nil
}

// run launches a single already-built process via the scheduler.
func (s *Supervisor) run(p types.Process) error {
	env, err := s.buildEnv(p)
	if err != nil {
		return err
	}

	command := []string{fmt.Sprintf("./target/debug/%s", p.Binary)}
	for _, arg := range p.Args {
		command = append(command, envsubst(arg, env))
	}

	timer := metrics.NewTimer()
	pid, err := s.scheduler.Start(p.Name, strings.Join(command, " "), s.workspaceDir, env)
	timer.ObserveDuration(metrics.ProcessStartDuration)
	if err != nil {
		metrics.ProcessStartsTotal.WithLabelValues("failure").Inc()
		return err
	}
	metrics.ProcessStartsTotal.WithLabelValues("success").Inc()

	if err := s.store.SetProcessState(p.Name, types.ProcessRunning); err != nil {
		return err
	}
	return s.store.SetProcessPID(p.Name, &pid)
}

// buildEnv layers a process's launch environment: host env at the
// bottom, overridden by the workspace dotenv file (read fresh on every
// start), overridden by the process's own declared env.
func (s *Supervisor) buildEnv(p types.Process) (map[string]string, error) {
	env := hostEnv()

	dotenv, err := s.loadDotenv()
	if err != nil {
		return nil, err
	}
	for k, v := range dotenv {
		env[k] = v
	}
	for k, v := range p.Env {
		env[k] = v
	}
	return env, nil
}

// hostEnv captures the invoking process's own environment as a map, the
// bottom layer a supervised process's env is built on.
func hostEnv() map[string]string {
	out := map[string]string{}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			out[k] = v
		}
	}
	return out
}

// loadDotenv reads the workspace's .env file, if any. A missing file is
// not an error: most processes don't declare one.
func (s *Supervisor) loadDotenv() (map[string]string, error) {
	path := filepath.Join(s.workspaceDir, ".env")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	env, err := godotenv.Read(path)
	if err != nil {
		return nil, paddockerr.NewConfigParse(err, path)
	}
	return env, nil
}

// Stop signals every filtered process concurrently, collecting errors
// without letting one process's failure block its siblings.
func (s *Supervisor) Stop(names []string, currentStack *string, kill bool) error {
	processes, err := s.FilterProcesses(names, currentStack)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(processes))
	for _, p := range processes {
		wg.Add(1)
		go func(p types.Process) {
			defer wg.Done()
			errCh <- s.stopOne(p, kill)
		}(p)
	}
	wg.Wait()
	close(errCh)

	var errs []string
	for err := range errCh {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return paddockerr.NewSchedulerUnavailable(fmt.Errorf("%s", strings.Join(errs, "; ")), "failed to stop one or more processes")
	}
	return nil
}

func (s *Supervisor) stopOne(p types.Process, kill bool) error {
	if p.State == types.ProcessStopped {
		s.logger.Info().Str("process", p.Name).Msg("process already stopped")
		return nil
	}
	if p.PID != nil {
		timer := metrics.NewTimer()
		err := s.scheduler.Stop(*p.PID, kill)
		timer.ObserveDuration(metrics.ProcessStopDuration)
		if err != nil {
			metrics.ProcessStopsTotal.WithLabelValues("failure").Inc()
			return err
		}
		metrics.ProcessStopsTotal.WithLabelValues("success").Inc()
	}
	if err := s.store.SetProcessState(p.Name, types.ProcessStopped); err != nil {
		return err
	}
	return s.store.SetProcessPID(p.Name, nil)
}

// Logs fans the filtered processes' log output into one channel, prefixed
// by their name when withPrefix is set, and closes it once every
// fetcher/follower has finished. skipHistory suppresses each process's
// already-captured output, delivering only lines written from here on.
func (s *Supervisor) Logs(names []string, currentStack *string, follow, withPrefix, skipHistory bool) (<-chan scheduler.LogLine, error) {
	processes, err := s.FilterProcesses(names, currentStack)
	if err != nil {
		return nil, err
	}

	out := make(chan scheduler.LogLine, len(processes)*2)
	var wg sync.WaitGroup
	for _, p := range processes {
		if p.PID == nil {
			s.logger.Warn().Str("process", p.Name).Msg("process has no pid, skipping logs")
			continue
		}
		prefix := ""
		if withPrefix {
			prefix = p.Name
		}
		wg.Add(1)
		go func(p types.Process, prefix string) {
			defer wg.Done()
			if err := s.scheduler.Logs(prefix, *p.PID, skipHistory, follow && p.State != types.ProcessStopped, out); err != nil {
				s.logger.Error().Err(err).Str("process", p.Name).Msg("log stream failed")
			}
		}(p, prefix)
	}

	go func() {
		wg.Wait()
		close(out)
	}()
	return out, nil
}

var envsubstRegex = regexp.MustCompile(`\$\{([a-zA-Z0-9-_:/.\[\]]*)}`)

// envsubst expands ${NAME} and ${NAME:-default} placeholders in value
// against env, leaving anything outside a placeholder untouched.
func envsubst(value string, env map[string]string) string {
	return envsubstRegex.ReplaceAllStringFunc(value, func(match string) string {
		name := match[2 : len(match)-1]
		varName, def, hasDefault := strings.Cut(name, ":-")
		if v, ok := env[varName]; ok {
			return v
		}
		if hasDefault {
			return def
		}
		return ""
	})
}
