// Package scheduler is paddock's client for paddockd, the background task
// daemon that actually forks and supervises native binaries. paddock never
// calls exec.Command on a supervised process directly: it asks paddockd to,
// over a Unix domain socket, and polls or streams the result back.
package scheduler

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/paddock/pkg/log"
	"github.com/cuemby/paddock/pkg/metrics"
	"github.com/cuemby/paddock/pkg/paddockerr"
	"github.com/cuemby/paddock/pkg/schedulerproto"
	"github.com/cuemby/paddock/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	dialTimeout     = 2 * time.Second
	spawnRetries    = 30
	spawnRetryDelay = 100 * time.Millisecond
	pollInterval    = 100 * time.Millisecond
)

// ProcessStatus is a scheduler-reported task's mapped state, keyed by
// process label in Client.Processes. PID is the daemon's task id (the
// handle Start returns and Stop and Logs take), not the OS process id.
type ProcessStatus struct {
	PID   int
	State types.ProcessState
}

// Client is paddock's handle to a single project's group of tasks on
// paddockd. Each project gets its own group, named after its project_id,
// so unrelated projects sharing a daemon never see each other's tasks.
type Client struct {
	group      string
	socketPath string
	logDir     string

	mu   sync.Mutex
	conn net.Conn
	dec  *json.Decoder

	logger zerolog.Logger
}

// New dials the daemon at socketPath, spawning it via paddockdBinary if
// the socket is not reachable, then ensures the project's group exists.
func New(projectID, socketPath, logDir, paddockdBinary string) (*Client, error) {
	c := &Client{
		group:      "paddock-" + projectID,
		socketPath: socketPath,
		logDir:     logDir,
		logger:     log.WithComponent("scheduler").With().Str("group", "paddock-"+projectID).Logger(),
	}

	if err := c.dialOrSpawn(paddockdBinary); err != nil {
		return nil, err
	}
	if _, err := c.request(schedulerproto.Request{Kind: schedulerproto.RequestGroupAdd, Group: c.group}); err != nil {
		return nil, paddockerr.NewSchedulerUnavailable(err, "failed to register task group")
	}
	return c, nil
}

func (c *Client) dialOrSpawn(paddockdBinary string) error {
	if conn, err := net.DialTimeout("unix", c.socketPath, dialTimeout); err == nil {
		c.conn = conn
		c.dec = json.NewDecoder(conn)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(c.socketPath), 0755); err != nil {
		return paddockerr.NewSchedulerUnavailable(err, "failed to create socket directory")
	}

	cmd := exec.Command(paddockdBinary, "-socket", c.socketPath, "-log-dir", c.logDir)
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return paddockerr.NewSchedulerUnavailable(err, "failed to spawn paddockd")
	}
	_ = cmd.Process.Release()

	var lastErr error
	for i := 0; i < spawnRetries; i++ {
		time.Sleep(spawnRetryDelay)
		conn, err := net.DialTimeout("unix", c.socketPath, dialTimeout)
		if err == nil {
			c.conn = conn
			c.dec = json.NewDecoder(conn)
			return nil
		}
		lastErr = err
	}
	return paddockerr.NewSchedulerUnavailable(lastErr, "paddockd did not become ready")
}

// request sends req on the shared connection and reads the single
// matching response. Callers must hold no other assumptions about
// concurrent access: Client serializes all non-streaming calls.
func (c *Client) request(req schedulerproto.Request) (schedulerproto.Response, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.SchedulerRequestDuration, string(req.Kind))

	resp, err := c.doRequest(req)
	if err != nil {
		metrics.SchedulerRequestsFailedTotal.WithLabelValues(string(req.Kind)).Inc()
	}
	return resp, err
}

func (c *Client) doRequest(req schedulerproto.Request) (schedulerproto.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Group == "" {
		req.Group = c.group
	}

	if err := json.NewEncoder(c.conn).Encode(req); err != nil {
		return schedulerproto.Response{}, fmt.Errorf("send request: %w", err)
	}
	var resp schedulerproto.Response
	if err := c.dec.Decode(&resp); err != nil {
		return schedulerproto.Response{}, fmt.Errorf("read response: %w", err)
	}
	if resp.Error != "" {
		return resp, fmt.Errorf("%s", resp.Error)
	}
	return resp, nil
}

func mapState(s schedulerproto.TaskStatus) types.ProcessState {
	switch s {
	case schedulerproto.TaskRunning:
		return types.ProcessRunning
	case schedulerproto.TaskPaused, schedulerproto.TaskDone:
		return types.ProcessStopped
	default:
		return types.ProcessUnknown
	}
}

// Start launches command in path with env, and blocks polling until
// paddockd reports the task running. Returns the scheduler-assigned pid.
// There is no timeout: Start waits however long the binary takes to come
// up, matching Stop's unbounded wait on the way down.
func (c *Client) Start(name, command, path string, env map[string]string) (int, error) {
	resp, err := c.request(schedulerproto.Request{
		Kind: schedulerproto.RequestAdd,
		Add:  &schedulerproto.AddPayload{Label: name, Command: command, Path: path, Env: env},
	})
	if err != nil {
		return 0, paddockerr.NewSchedulerUnavailable(err, "failed to start %s", name)
	}
	id := resp.TaskID

	for {
		procs, err := c.Processes()
		if err != nil {
			return 0, err
		}
		if st, ok := procs[name]; ok && st.PID == id && st.State == types.ProcessRunning {
			return id, nil
		}
		time.Sleep(pollInterval)
	}
}

// Processes returns the current scheduler-reported state of every task in
// the project's group, keyed by label.
func (c *Client) Processes() (map[string]ProcessStatus, error) {
	resp, err := c.request(schedulerproto.Request{Kind: schedulerproto.RequestStatus})
	if err != nil {
		return nil, paddockerr.NewSchedulerUnavailable(err, "failed to query task status")
	}
	out := make(map[string]ProcessStatus, len(resp.Tasks))
	for _, t := range resp.Tasks {
		out[t.Label] = ProcessStatus{PID: t.ID, State: mapState(t.Status)}
	}
	return out, nil
}

// Stop signals the task with the given pid (term, or kill if requested)
// and blocks polling until paddockd reports it done. There is no
// timeout: a soft stop (kill=false) waits however long the process
// takes to notice SIGTERM and exit, and is never escalated to SIGKILL
// automatically.
func (c *Client) Stop(pid int, kill bool) error {
	sig := schedulerproto.SignalTerm
	if kill {
		sig = schedulerproto.SignalKill
	}
	if _, err := c.request(schedulerproto.Request{Kind: schedulerproto.RequestKill, TaskID: pid, Signal: sig}); err != nil {
		return paddockerr.NewSchedulerUnavailable(err, "failed to stop pid %d", pid)
	}

	for {
		resp, err := c.request(schedulerproto.Request{Kind: schedulerproto.RequestStatus})
		if err != nil {
			return paddockerr.NewSchedulerUnavailable(err, "failed to poll stop")
		}
		found := false
		for _, t := range resp.Tasks {
			if t.ID == pid {
				found = true
				if t.Status == schedulerproto.TaskDone {
					return nil
				}
			}
		}
		if !found {
			return nil
		}
		time.Sleep(pollInterval)
	}
}

// LogLine is one line of output from a supervised process, prefixed by
// the caller-chosen label.
type LogLine struct {
	Prefix string
	Text   string
}

// Logs writes the task's captured output to out. When follow is false it
// returns after delivering the current log (or nothing at all, when
// skipHistory is set). When follow is true it opens a dedicated
// connection and streams new lines until the task exits, so a slow or
// stalled follower never blocks other scheduler calls sharing the
// primary connection; skipHistory there seeks past the existing log
// before streaming, so only lines written after this call are delivered.
func (c *Client) Logs(prefix string, pid int, skipHistory, follow bool, out chan<- LogLine) error {
	if !follow {
		resp, err := c.request(schedulerproto.Request{Kind: schedulerproto.RequestLog, TaskID: pid, SkipHistory: skipHistory})
		if err != nil {
			return paddockerr.NewSchedulerUnavailable(err, "failed to fetch logs for pid %d", pid)
		}
		emitLines(out, prefix, resp.LogChunk)
		return nil
	}

	conn, err := net.DialTimeout("unix", c.socketPath, dialTimeout)
	if err != nil {
		return paddockerr.NewSchedulerUnavailable(err, "failed to open log stream for pid %d", pid)
	}
	defer conn.Close()

	enc := json.NewEncoder(conn)
	dec := json.NewDecoder(conn)
	reqID := uuid.NewString()
	if err := enc.Encode(schedulerproto.Request{ID: reqID, Kind: schedulerproto.RequestStream, TaskID: pid, SkipHistory: skipHistory}); err != nil {
		return fmt.Errorf("send stream request: %w", err)
	}

	for {
		var resp schedulerproto.Response
		if err := dec.Decode(&resp); err != nil {
			return nil
		}
		if resp.Error != "" {
			return paddockerr.NewSchedulerUnavailable(fmt.Errorf("%s", resp.Error), "log stream failed for pid %d", pid)
		}
		if resp.Closed {
			return nil
		}
		emitLines(out, prefix, resp.LogChunk)
	}
}

func emitLines(out chan<- LogLine, prefix, chunk string) {
	scanner := bufio.NewScanner(strings.NewReader(chunk))
	for scanner.Scan() {
		out <- LogLine{Prefix: prefix, Text: scanner.Text()}
	}
}

// Clean resets the project's group (killing and discarding every task)
// and removes the group itself. Idempotent: calling it with no tasks
// running is a no-op.
func (c *Client) Clean() error {
	if _, err := c.request(schedulerproto.Request{Kind: schedulerproto.RequestReset}); err != nil {
		return paddockerr.NewSchedulerUnavailable(err, "failed to reset task group")
	}
	if _, err := c.request(schedulerproto.Request{Kind: schedulerproto.RequestGroupRemove}); err != nil {
		return paddockerr.NewSchedulerUnavailable(err, "failed to remove task group")
	}
	return nil
}

// Close releases the client's primary connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
