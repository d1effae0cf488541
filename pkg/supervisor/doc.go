/*
Package supervisor implements the process lifecycle operations exposed
by paddock's CLI: ps, start, stop and logs.

Every operation starts by resolving which processes it targets via
FilterProcesses: an explicit name list, a stack's full process set when
none is given and a stack is selected, or every known process otherwise.

Start builds every targeted process in one `cargo build` invocation (so
cargo's incremental cache is shared across the batch) before launching
each one through the scheduler client. A build failure reverts every
targeted process to Stopped; a launch failure for one process is logged
and does not block its siblings from starting.

Stop and Logs fan out one goroutine per targeted process so a slow or
stuck process never delays its siblings.

buildEnv layers a launched process's environment: host env at the
bottom, the workspace's .env file (read fresh on every start, absent is
not an error) above it, and the process's own declared env on top.

envsubst expands ${VAR} and ${VAR:-default} placeholders in a process's
argv against that merged environment. Expansion is single-pass and
non-recursive: a default value is never itself expanded.

Logs' skipHistory parameter (CLI: -t/--tail) suppresses a process's
already-captured output so only lines written from the call onward are
delivered; it's meaningful combined with follow.
*/
package supervisor
