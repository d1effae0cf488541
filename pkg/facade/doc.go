/*
Package facade is the single construction point every paddock command
builds against.

New resolves a workspace directory to a project id (an FNV-1a hash of
its absolute path, with symlinks resolved), derives that project's state directory under
$XDG_STATE_HOME/paddock/<project_id> (or $HOME/.local/state as a
fallback), opens its bbolt store, connects to or spawns its paddockd
scheduler group, runs one reconcile cycle, and resolves the current
stack: an explicit override if given, else the store's configured
default.

Every command-line operation works against the Supervisor and Store
exposed here; no other package opens a store or scheduler connection
directly.

New also registers the store and scheduler with pkg/metrics as the
components GetReadiness checks, and starts a Collector that polls the
store into the process/artifact/stack gauges on an interval. Close and
Clean both stop the collector before releasing their connections.
*/
package facade
