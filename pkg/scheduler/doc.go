/*
Package scheduler is paddock's client for paddockd, the daemon that owns
every supervised process's actual OS lifecycle.

# Architecture

paddock never forks a supervised binary itself. Instead it asks paddockd,
over a Unix domain socket, to start/stop/report on/stream logs from tasks
grouped under the current project's project_id:

	┌──────────┐   newline-delimited JSON    ┌───────────┐
	│  Client  │ ───────────────────────────▶│ paddockd  │
	│(supervisor)│◀───────────────────────────│ (daemon)  │
	└──────────┘                              └─────┬─────┘
	                                                 │ os/exec
	                                           ┌─────▼─────┐
	                                           │  process  │
	                                           └───────────┘

Client.New dials the socket; if nothing is listening it spawns paddockd
and re-dials up to 30 times, 100ms apart, before giving up with
SchedulerUnavailable. Start and Stop send a
request and then poll Processes until the daemon reports the expected
state transition, matching the blocking semantics paddock's CLI expects.

Logs uses the shared connection for one-shot reads but opens a second,
dedicated connection for follow mode, so a slow reader tailing one
process's output never head-of-line-blocks Start/Stop/Processes calls
sharing the primary connection.

# See Also

  - pkg/schedulerproto for the wire protocol
  - cmd/paddockd for the daemon implementation
  - pkg/supervisor for the caller
*/
package scheduler
