// Package store defines the persistence interface for paddock's project
// state: artifacts, processes, stacks and the metadata singleton.
package store

import (
	"time"

	"github.com/cuemby/paddock/pkg/types"
)

// Store is the persistence boundary for a single project's state. All
// methods are safe for concurrent use.
type Store interface {
	// Artifacts replaces the full artifact set in one transaction.
	SetArtifacts(artifacts []types.Artifact) error
	GetArtifacts() ([]types.Artifact, error)

	// Metadata timestamps, stored as a singleton row.
	GetArtifactsRefreshedAt() (time.Time, bool, error)
	SetArtifactsRefreshedAt(t time.Time) error
	GetConfigRefreshedAt() (time.Time, bool, error)
	SetConfigRefreshedAt(t time.Time) error

	// GetDefaultStack returns the configured default stack name, or nil if
	// none is set.
	GetDefaultStack() (*string, error)
	// SetDefaultStack fails with paddockerr.Conflict if name is non-nil
	// and no such stack exists.
	SetDefaultStack(name *string) error

	// GetProcesses returns all processes, ordered by name.
	GetProcesses() ([]types.Process, error)
	// SetProcesses replaces the full process set in one transaction.
	SetProcesses(processes []types.Process) error
	// SetProcessState updates a single process's lifecycle state.
	SetProcessState(name string, state types.ProcessState) error
	// SetProcessPID updates a single process's scheduler handle.
	SetProcessPID(name string, pid *int) error

	// GetStack returns a stack by name, resolved with its direct and
	// inherited process sets. Fails with paddockerr.StackNotFound.
	GetStack(name string) (types.Stack, error)
	// GetStackNames returns every configured stack's name.
	GetStackNames() ([]string, error)
	// SetStacks replaces the full stack set in one transaction. Fails
	// with paddockerr.ProcessNotFound if any stack references a process
	// that doesn't exist in the process relation. Clears the default stack
	// if it is not in the new set.
	SetStacks(stacks map[string]types.Stack) error

	Close() error
}
