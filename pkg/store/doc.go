/*
Package store persists paddock's project state: the discovered artifacts,
the configured processes, the stacks that group them, and the metadata
singleton tracking refresh timestamps and the default stack.

# Schema

BoltStore keeps one bucket per relation:

  - metadata: singleton key/value pairs (artifacts_updated_at,
    config_updated_at, default_stack)
  - artifact: name -> Artifact
  - process: name -> processRecord (binary, state, pid, args, env)
  - stack: name -> presence marker
  - rel_stack_process: stack name -> sorted []string of direct members
  - rel_stack_inherited: stack name -> sorted []string of
    transitively inherited members

SetProcesses and SetStacks replace their entire relation in one
transaction ("replace all"), matching how the reconciler rebuilds state
from config on every refresh. SetProcessState and SetProcessPID are
targeted updates used by the reconciler's unconditional scheduler sync and
by the supervisor after starting or stopping a single process.

SetStacks reads the current process set with a View transaction before
opening its Update transaction, so the process-existence check never
executes while the write lock is held.
*/
package store
