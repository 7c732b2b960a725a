package device

import (
	"sync"

	"github.com/stepguard-dev/stepguard/pkg/core"
)

// Fake is a scripted in-memory session for tests and dry runs. Snapshots
// are served from a queue, repeating the last entry once drained.
type Fake struct {
	mu         sync.Mutex
	snapshots  []string
	shot       string
	width      int
	height     int
	alert      bool
	dispatched []core.ResolvedAction
	restarts   int
	closed     bool
}

// NewFake builds a fake session with the given screen size and snapshot
// script.
func NewFake(width, height int, snapshots ...string) *Fake {
	return &Fake{width: width, height: height, snapshots: snapshots}
}

// SetScreenshotPath sets the path Screenshot returns.
func (f *Fake) SetScreenshotPath(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shot = path
}

// SetAlert toggles the system alert flag.
func (f *Fake) SetAlert(present bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alert = present
}

// Dispatched returns a copy of every action dispatched so far.
func (f *Fake) Dispatched() []core.ResolvedAction {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]core.ResolvedAction, len(f.dispatched))
	copy(out, f.dispatched)
	return out
}

// Restarts returns how many times the session was restarted.
func (f *Fake) Restarts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.restarts
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *Fake) Snapshot() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.snapshots) == 0 {
		return "", nil
	}
	xml := f.snapshots[0]
	if len(f.snapshots) > 1 {
		f.snapshots = f.snapshots[1:]
	}
	return xml, nil
}

func (f *Fake) Screenshot() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.shot, nil
}

func (f *Fake) ScreenSize() (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.width, f.height, nil
}

func (f *Fake) Dispatch(a core.ResolvedAction) core.DispatchResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatched = append(f.dispatched, a)
	return core.DispatchResult{Status: core.DispatchSuccess, Action: a, Attempts: 1}
}

func (f *Fake) HasSystemAlert() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alert
}

func (f *Fake) RestartSession() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarts++
	return nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
