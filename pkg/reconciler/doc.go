/*
Package reconciler implements one refresh cycle of paddock's project
state.

A refresh always syncs process pid/state from the scheduler: any stored
process the scheduler no longer reports is reset to Stopped with no pid.
It conditionally refreshes two more things, each gated on a hard refresh
request, a newer mtime on the files that back it, or a last refresh that
is missing or more than 24 hours old:

  - Artifacts, via pkg/discover, gated on Cargo.toml/Cargo.lock.
  - Processes and stacks, via pkg/config and pkg/resolver, gated on
    paddock.yml/paddock.override.yml.

Rebuilding the process set preserves each surviving process's pid and
state across the rebuild, keyed by name, so a config edit never drops a
process that's mid-build or running.

Reconciler also exposes a ticker-driven background loop (Start/Stop) for
long-lived commands; one-shot CLI commands should call Refresh directly
instead.
*/
package reconciler
