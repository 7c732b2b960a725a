package server

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stepguard-dev/stepguard/pkg/core"
	"github.com/stepguard-dev/stepguard/pkg/scenario"
)

// runState tracks one accepted run: its lifecycle, its result, and the
// log lines handed to SSE subscribers.
type runState struct {
	id        string
	goal      string
	startedAt time.Time

	mu     sync.Mutex
	status string // running, passed, failed, errored
	result *core.RunResult
	err    string
	lines  []string
	subs   map[chan string]struct{}
	done   bool
}

func newRunState(plan *scenario.Plan) *runState {
	return &runState{
		id:        uuid.NewString(),
		goal:      plan.Goal,
		startedAt: time.Now(),
		status:    "running",
		subs:      make(map[chan string]struct{}),
	}
}

// appendLog records a line and fans it out to live subscribers. Slow
// subscribers lose lines rather than blocking the run.
func (st *runState) appendLog(line string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.done {
		return
	}
	stamped := fmt.Sprintf("%s %s", time.Now().Format(time.RFC3339), line)
	st.lines = append(st.lines, stamped)
	for ch := range st.subs {
		select {
		case ch <- stamped:
		default:
		}
	}
}

// finish resolves the run and closes every subscriber channel.
func (st *runState) finish(result *core.RunResult, err error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.done {
		return
	}
	st.result = result

	switch {
	case err != nil:
		st.status = "errored"
		st.err = err.Error()
	case result != nil && result.Success():
		st.status = "passed"
	default:
		st.status = "failed"
	}

	line := fmt.Sprintf("%s run finished: %s", time.Now().Format(time.RFC3339), st.status)
	st.lines = append(st.lines, line)
	for ch := range st.subs {
		select {
		case ch <- line:
		default:
		}
		close(ch)
	}
	st.subs = make(map[chan string]struct{})
	st.done = true
}

// subscribe returns the log history so far plus a live channel. The
// channel is closed when the run finishes; done reports a run that
// already has.
func (st *runState) subscribe() (history []string, ch chan string, done bool, unsubscribe func()) {
	st.mu.Lock()
	defer st.mu.Unlock()

	history = make([]string, len(st.lines))
	copy(history, st.lines)

	if st.done {
		return history, nil, true, func() {}
	}

	ch = make(chan string, 64)
	st.subs[ch] = struct{}{}
	return history, ch, false, func() {
		st.mu.Lock()
		defer st.mu.Unlock()
		if _, ok := st.subs[ch]; ok {
			delete(st.subs, ch)
		}
	}
}

// RunView is the status document served for one run.
type RunView struct {
	RunID     string          `json:"run_id"`
	Goal      string          `json:"goal"`
	Status    string          `json:"status"`
	StartedAt time.Time       `json:"started_at"`
	Error     string          `json:"error,omitempty"`
	Result    *core.RunResult `json:"result,omitempty"`
}

func (st *runState) view() RunView {
	st.mu.Lock()
	defer st.mu.Unlock()
	return RunView{
		RunID:     st.id,
		Goal:      st.goal,
		Status:    st.status,
		StartedAt: st.startedAt,
		Error:     st.err,
		Result:    st.result,
	}
}
