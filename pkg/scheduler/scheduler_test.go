package scheduler

import (
	"testing"

	"github.com/cuemby/paddock/pkg/schedulerproto"
	"github.com/cuemby/paddock/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestMapState(t *testing.T) {
	tests := []struct {
		name     string
		status   schedulerproto.TaskStatus
		expected types.ProcessState
	}{
		{"running maps to running", schedulerproto.TaskRunning, types.ProcessRunning},
		{"paused maps to stopped", schedulerproto.TaskPaused, types.ProcessStopped},
		{"done maps to stopped", schedulerproto.TaskDone, types.ProcessStopped},
		{"unrecognized status maps to unknown", schedulerproto.TaskStatus("queued"), types.ProcessUnknown},
		{"empty status maps to unknown", schedulerproto.TaskStatus(""), types.ProcessUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, mapState(tt.status))
		})
	}
}

func TestProcessesMapsByLabel(t *testing.T) {
	resp := []schedulerproto.TaskInfo{
		{ID: 1, Label: "api", Status: schedulerproto.TaskRunning, PID: 1},
		{ID: 2, Label: "worker", Status: schedulerproto.TaskDone, PID: 2},
	}

	out := make(map[string]ProcessStatus, len(resp))
	for _, task := range resp {
		out[task.Label] = ProcessStatus{PID: task.ID, State: mapState(task.Status)}
	}

	assert.Equal(t, ProcessStatus{PID: 1, State: types.ProcessRunning}, out["api"])
	assert.Equal(t, ProcessStatus{PID: 2, State: types.ProcessStopped}, out["worker"])
}

func TestEmitLinesSplitsOnNewlines(t *testing.T) {
	out := make(chan LogLine, 8)
	emitLines(out, "api > ", "line one\nline two\n")
	close(out)

	var lines []LogLine
	for l := range out {
		lines = append(lines, l)
	}

	assert.Len(t, lines, 2)
	assert.Equal(t, "api > ", lines[0].Prefix)
	assert.Equal(t, "line one", lines[0].Text)
	assert.Equal(t, "line two", lines[1].Text)
}
