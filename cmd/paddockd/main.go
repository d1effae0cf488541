// Command paddockd is the background task daemon paddock talks to over a
// Unix domain socket. It owns the actual OS processes: paddock itself
// never forks a supervised binary directly, it only asks paddockd to.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cuemby/paddock/pkg/log"
	"github.com/cuemby/paddock/pkg/schedulerproto"
	"github.com/rs/zerolog"
)

type task struct {
	mu      sync.Mutex
	id      int
	group   string
	label   string
	cmd     *exec.Cmd
	status  schedulerproto.TaskStatus
	pid     int
	logPath string
}

func (t *task) info() schedulerproto.TaskInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	return schedulerproto.TaskInfo{ID: t.id, Group: t.group, Label: t.label, Status: t.status, PID: t.pid}
}

type daemon struct {
	logger  zerolog.Logger
	logDir  string
	mu      sync.Mutex
	groups  map[string]struct{}
	tasks   map[int]*task
	nextID  atomic.Int64
	byLabel map[string]map[string]*task // group -> label -> task
}

func newDaemon(logDir string) *daemon {
	return &daemon{
		logger:  log.WithComponent("paddockd"),
		logDir:  logDir,
		groups:  make(map[string]struct{}),
		tasks:   make(map[int]*task),
		byLabel: make(map[string]map[string]*task),
	}
}

func main() {
	socketPath := flag.String("socket", "", "unix socket path to listen on")
	logDir := flag.String("log-dir", "", "directory to store per-task log files")
	flag.Parse()

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: false})

	if *socketPath == "" {
		fmt.Fprintln(os.Stderr, "paddockd: -socket is required")
		os.Exit(2)
	}
	if *logDir == "" {
		*logDir = filepath.Join(filepath.Dir(*socketPath), "logs")
	}
	if err := os.MkdirAll(*logDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "paddockd: create log dir: %v\n", err)
		os.Exit(1)
	}

	_ = os.Remove(*socketPath)
	l, err := net.Listen("unix", *socketPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "paddockd: listen: %v\n", err)
		os.Exit(1)
	}
	defer l.Close()

	d := newDaemon(*logDir)
	d.logger.Info().Str("socket", *socketPath).Msg("paddockd listening")

	for {
		conn, err := l.Accept()
		if err != nil {
			d.logger.Error().Err(err).Msg("accept failed")
			return
		}
		go d.serve(conn)
	}
}

func (d *daemon) serve(conn net.Conn) {
	defer conn.Close()
	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)

	for {
		var req schedulerproto.Request
		if err := dec.Decode(&req); err != nil {
			return
		}
		d.handle(conn, enc, req)
	}
}

func (d *daemon) handle(conn net.Conn, enc *json.Encoder, req schedulerproto.Request) {
	switch req.Kind {
	case schedulerproto.RequestGroupAdd:
		d.mu.Lock()
		d.groups[req.Group] = struct{}{}
		if d.byLabel[req.Group] == nil {
			d.byLabel[req.Group] = make(map[string]*task)
		}
		d.mu.Unlock()
		enc.Encode(schedulerproto.Response{ID: req.ID, OK: true})

	case schedulerproto.RequestGroupRemove:
		d.mu.Lock()
		delete(d.groups, req.Group)
		delete(d.byLabel, req.Group)
		d.mu.Unlock()
		enc.Encode(schedulerproto.Response{ID: req.ID, OK: true})

	case schedulerproto.RequestAdd:
		id, err := d.add(req.Group, req.Add)
		if err != nil {
			enc.Encode(schedulerproto.Response{ID: req.ID, Error: err.Error()})
			return
		}
		enc.Encode(schedulerproto.Response{ID: req.ID, OK: true, TaskID: id})

	case schedulerproto.RequestStatus:
		enc.Encode(schedulerproto.Response{ID: req.ID, OK: true, Tasks: d.status(req.Group)})

	case schedulerproto.RequestKill:
		err := d.kill(req.TaskID, req.Signal)
		if err != nil {
			enc.Encode(schedulerproto.Response{ID: req.ID, Error: err.Error()})
			return
		}
		enc.Encode(schedulerproto.Response{ID: req.ID, OK: true})

	case schedulerproto.RequestReset:
		d.reset(req.Group)
		enc.Encode(schedulerproto.Response{ID: req.ID, OK: true})

	case schedulerproto.RequestLog:
		chunk, err := d.readLog(req.TaskID, req.SkipHistory)
		if err != nil {
			enc.Encode(schedulerproto.Response{ID: req.ID, Error: err.Error()})
			return
		}
		enc.Encode(schedulerproto.Response{ID: req.ID, OK: true, LogChunk: chunk})

	case schedulerproto.RequestStream:
		d.stream(req.ID, req.TaskID, req.SkipHistory, enc)

	default:
		enc.Encode(schedulerproto.Response{ID: req.ID, Error: "unknown request kind"})
	}
}

func (d *daemon) add(group string, p *schedulerproto.AddPayload) (int, error) {
	if p == nil {
		return 0, fmt.Errorf("missing add payload")
	}
	id := int(d.nextID.Add(1))
	logPath := filepath.Join(d.logDir, fmt.Sprintf("%d.log", id))
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return 0, fmt.Errorf("open log file: %w", err)
	}

	cmd := exec.Command("sh", "-c", p.Command)
	cmd.Dir = p.Path
	env := os.Environ()
	for k, v := range p.Env {
		env = append(env, k+"="+v)
	}
	cmd.Env = env
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return 0, fmt.Errorf("start process: %w", err)
	}

	t := &task{id: id, group: group, label: p.Label, cmd: cmd, status: schedulerproto.TaskRunning, pid: cmd.Process.Pid, logPath: logPath}

	d.mu.Lock()
	d.tasks[id] = t
	if d.byLabel[group] == nil {
		d.byLabel[group] = make(map[string]*task)
	}
	d.byLabel[group][p.Label] = t
	d.mu.Unlock()

	go func() {
		_ = cmd.Wait()
		logFile.Close()
		t.mu.Lock()
		t.status = schedulerproto.TaskDone
		t.mu.Unlock()
	}()

	return id, nil
}

func (d *daemon) status(group string) []schedulerproto.TaskInfo {
	d.mu.Lock()
	tasks := make([]*task, 0, len(d.tasks))
	for _, t := range d.tasks {
		tasks = append(tasks, t)
	}
	d.mu.Unlock()

	var out []schedulerproto.TaskInfo
	for _, t := range tasks {
		info := t.info()
		if group == "" || info.Group == group {
			out = append(out, info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (d *daemon) kill(id int, sig schedulerproto.Signal) error {
	d.mu.Lock()
	t, ok := d.tasks[id]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("task %d not found", id)
	}
	t.mu.Lock()
	pid := t.pid
	done := t.status == schedulerproto.TaskDone
	t.mu.Unlock()
	if done {
		return nil
	}

	signal := syscall.SIGTERM
	if sig == schedulerproto.SignalKill {
		signal = syscall.SIGKILL
	}
	// Negative pid delivers to the whole process group started with Setpgid.
	return syscall.Kill(-pid, signal)
}

func (d *daemon) reset(group string) {
	d.mu.Lock()
	var ids []int
	for id, t := range d.tasks {
		if t.group == group {
			ids = append(ids, id)
		}
	}
	d.mu.Unlock()

	for _, id := range ids {
		_ = d.kill(id, schedulerproto.SignalKill)
	}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		allDone := true
		for _, id := range ids {
			d.mu.Lock()
			t := d.tasks[id]
			d.mu.Unlock()
			if t == nil {
				continue
			}
			t.mu.Lock()
			done := t.status == schedulerproto.TaskDone
			t.mu.Unlock()
			if !done {
				allDone = false
				break
			}
		}
		if allDone {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	d.mu.Lock()
	for _, id := range ids {
		delete(d.tasks, id)
	}
	if byLabel := d.byLabel[group]; byLabel != nil {
		for label, t := range byLabel {
			for _, id := range ids {
				if t.id == id {
					delete(byLabel, label)
				}
			}
		}
	}
	d.mu.Unlock()
}

// readLog returns the task's captured output so far, or "" when
// skipHistory suppresses it (the caller only wants newly written lines,
// which a non-follow log fetch by definition can never see).
func (d *daemon) readLog(id int, skipHistory bool) (string, error) {
	d.mu.Lock()
	t, ok := d.tasks[id]
	d.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("task %d not found", id)
	}
	if skipHistory {
		return "", nil
	}

	data, err := os.ReadFile(t.logPath)
	if err != nil {
		return "", fmt.Errorf("read log: %w", err)
	}
	return string(data), nil
}

func (d *daemon) stream(reqID string, id int, skipHistory bool, enc *json.Encoder) {
	d.mu.Lock()
	t, ok := d.tasks[id]
	d.mu.Unlock()
	if !ok {
		enc.Encode(schedulerproto.Response{ID: reqID, Error: fmt.Sprintf("task %d not found", id)})
		return
	}

	f, err := os.Open(t.logPath)
	if err != nil {
		enc.Encode(schedulerproto.Response{ID: reqID, Error: err.Error()})
		return
	}
	defer f.Close()

	if skipHistory {
		if _, err := f.Seek(0, io.SeekEnd); err != nil {
			enc.Encode(schedulerproto.Response{ID: reqID, Error: err.Error()})
			return
		}
	}

	r := bufio.NewReader(f)
	for {
		line, err := r.ReadString('\n')
		if len(line) > 0 {
			if encErr := enc.Encode(schedulerproto.Response{ID: reqID, OK: true, LogChunk: line}); encErr != nil {
				return
			}
		}
		if err != nil {
			t.mu.Lock()
			done := t.status == schedulerproto.TaskDone
			t.mu.Unlock()
			if done {
				enc.Encode(schedulerproto.Response{ID: reqID, OK: true, Closed: true})
				return
			}
			time.Sleep(100 * time.Millisecond)
		}
	}
}
