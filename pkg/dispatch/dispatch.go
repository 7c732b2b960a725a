package dispatch

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/stepguard-dev/stepguard/pkg/coords"
	"github.com/stepguard-dev/stepguard/pkg/core"
	"github.com/stepguard-dev/stepguard/pkg/logger"
)

// Options control retry cadence, gating, and fuzzy click sampling.
type Options struct {
	// Retries is the attempt budget per dispatched action.
	Retries int

	// RetryDelay is the pause between failed attempts.
	RetryDelay time.Duration

	// GateWait is the substitute wait issued in place of a blocked
	// action, and the default pause for wait actions that carry no
	// duration.
	GateWait time.Duration

	// FuzzySamples is how many random points are drawn inside the
	// click box before falling back to the original coordinate.
	FuzzySamples int

	// FuzzyRetries is the attempt budget per sampled point.
	FuzzyRetries int

	// FuzzyDelay is the pause between sampled attempts.
	FuzzyDelay time.Duration

	// FallbackRetries is the attempt budget for the original point
	// after every sampled point has failed.
	FallbackRetries int

	// ClickBox shapes the sampling box around an approximate target.
	ClickBox coords.ClickBoxOptions
}

// DefaultOptions returns the tuned defaults.
func DefaultOptions() Options {
	return Options{
		Retries:         3,
		RetryDelay:      1500 * time.Millisecond,
		GateWait:        200 * time.Millisecond,
		FuzzySamples:    8,
		FuzzyRetries:    1,
		FuzzyDelay:      200 * time.Millisecond,
		FallbackRetries: 2,
		ClickBox:        coords.DefaultClickBoxOptions(),
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Retries <= 0 {
		o.Retries = def.Retries
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = def.RetryDelay
	}
	if o.GateWait <= 0 {
		o.GateWait = def.GateWait
	}
	if o.FuzzySamples <= 0 {
		o.FuzzySamples = def.FuzzySamples
	}
	if o.FuzzyRetries <= 0 {
		o.FuzzyRetries = def.FuzzyRetries
	}
	if o.FuzzyDelay <= 0 {
		o.FuzzyDelay = def.FuzzyDelay
	}
	if o.FallbackRetries <= 0 {
		o.FallbackRetries = def.FallbackRetries
	}
	if o.ClickBox == (coords.ClickBoxOptions{}) {
		o.ClickBox = def.ClickBox
	}
	return o
}

// Dispatcher executes resolved actions against one device session. It
// owns every retry decision; the session underneath performs exactly one
// attempt per Dispatch call.
type Dispatcher struct {
	session core.Session
	opts    Options
	log     *logger.Logger
}

// New creates a dispatcher bound to a session. Zero option fields take
// the tuned defaults.
func New(session core.Session, opts Options, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		session: session,
		opts:    opts.withDefaults(),
		log:     log.WithComponent("dispatch"),
	}
}

// Options returns the effective options after defaulting.
func (d *Dispatcher) Options() Options {
	return d.opts
}

// Gate rewrites actions that would exit or navigate away from the app
// under test into a short local wait. A step must never terminate the
// session or press back/home, since that corrupts every step after it.
func (d *Dispatcher) Gate(action core.ResolvedAction) (core.ResolvedAction, bool) {
	if !blocked(action) {
		return action, false
	}
	d.log.Warn("blocked action rewritten to wait", map[string]interface{}{
		"action": action.String(),
	})
	return core.WaitAction(d.opts.GateWait.Seconds()), true
}

var blockedButtons = map[string]bool{
	"back":     true,
	"home":     true,
	"recent":   true,
	"recents":  true,
	"overview": true,
}

func blocked(a core.ResolvedAction) bool {
	switch a.Kind {
	case core.ActionTerminate:
		return true
	case core.ActionSystemButton:
		return blockedButtons[strings.ToLower(strings.TrimSpace(a.Button))]
	default:
		return false
	}
}

// Execute dispatches one action with the configured retry budget.
func (d *Dispatcher) Execute(action core.ResolvedAction) core.DispatchResult {
	return d.ExecuteWithRetry(action, d.opts.Retries, d.opts.RetryDelay)
}

// ExecuteWithRetry dispatches one action with an explicit retry budget.
// Wait actions are served locally and never reach the device. Success is
// strictly a success status from the session; anything else burns one
// attempt. The terminal failure result carries the attempted action.
func (d *Dispatcher) ExecuteWithRetry(action core.ResolvedAction, retries int, delay time.Duration) core.DispatchResult {
	start := time.Now()

	if action.Kind == core.ActionWait {
		pause := action.WaitDuration()
		if pause <= 0 {
			pause = d.opts.GateWait
		}
		d.log.Debug("waiting locally", map[string]interface{}{"pause": pause.String()})
		time.Sleep(pause)
		return core.DispatchResult{
			Status:   core.DispatchSuccess,
			Detail:   fmt.Sprintf("waited %s locally", pause),
			Action:   action,
			Duration: time.Since(start),
		}
	}

	last := core.DispatchResult{Status: core.DispatchFailure}
	for attempt := 1; attempt <= retries; attempt++ {
		res := d.session.Dispatch(action)
		if res.OK() {
			res.Action = action
			res.Attempts = attempt
			res.Duration = time.Since(start)
			d.log.Debug("action dispatched", map[string]interface{}{
				"action":  action.String(),
				"attempt": attempt,
			})
			return res
		}
		last = res
		d.log.Warn("dispatch attempt failed", map[string]interface{}{
			"action":  action.String(),
			"attempt": attempt,
			"status":  string(res.Status),
			"detail":  res.Detail,
		})
		if attempt < retries {
			time.Sleep(delay)
		}
	}

	d.log.Error(nil, "action failed after retries", map[string]interface{}{
		"action":  action.String(),
		"retries": retries,
	})
	return core.DispatchResult{
		Status:   core.DispatchFailure,
		Detail:   last.Detail,
		Action:   action,
		Attempts: retries,
		Duration: time.Since(start),
	}
}

// FuzzyClick spreads click attempts across the target's likely bounding
// box. Touch targets have real extent, so random samples inside the
// nearest clickable box land more reliably than repeats of a single
// model-guessed pixel. Samples stop at the first success; if all fail,
// one more run at the original coordinate gets a slightly larger budget.
func (d *Dispatcher) FuzzyClick(action core.ResolvedAction, nodes []core.UINode, screenW, screenH int) core.DispatchResult {
	if action.Kind != core.ActionClick || action.Point == nil {
		return d.ExecuteWithRetry(action, d.opts.FuzzyRetries, d.opts.FuzzyDelay)
	}

	box := coords.ClickBox(*action.Point, nodes, screenW, screenH, d.opts.ClickBox)
	d.log.Debug("fuzzy click sampling", map[string]interface{}{
		"point":   action.Point.String(),
		"box":     fmt.Sprintf("(%d,%d)-(%d,%d)", box.X, box.Y, box.Right(), box.Bottom()),
		"samples": d.opts.FuzzySamples,
	})

	for i := 0; i < d.opts.FuzzySamples; i++ {
		p := samplePoint(box)
		attempt := action
		attempt.Point = &p
		res := d.ExecuteWithRetry(attempt, d.opts.FuzzyRetries, d.opts.FuzzyDelay)
		if res.OK() {
			d.log.Debug("fuzzy click landed", map[string]interface{}{"point": p.String()})
			return res
		}
	}

	d.log.Debug("sampled clicks failed, falling back to original point", map[string]interface{}{
		"point": action.Point.String(),
	})
	return d.ExecuteWithRetry(action, d.opts.FallbackRetries, d.opts.FuzzyDelay)
}

// samplePoint draws a uniform random point inside the box, inclusive of
// its edges.
func samplePoint(b core.Bounds) core.Point {
	x := b.X
	if b.Width > 0 {
		x += rand.Intn(b.Width + 1)
	}
	y := b.Y
	if b.Height > 0 {
		y += rand.Intn(b.Height + 1)
	}
	return core.Point{X: x, Y: y}
}
