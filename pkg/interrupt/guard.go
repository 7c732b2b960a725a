package interrupt

import (
	"strings"
	"time"

	"github.com/stepguard-dev/stepguard/pkg/coords"
	"github.com/stepguard-dev/stepguard/pkg/core"
	"github.com/stepguard-dev/stepguard/pkg/dispatch"
	"github.com/stepguard-dev/stepguard/pkg/hierarchy"
	"github.com/stepguard-dev/stepguard/pkg/logger"
)

// Decider is the slice of the oracle the guard consults when no
// deterministic shortcut applies.
type Decider interface {
	DecideInterruption(intr core.Interruption, goal, stepDescription, snapshotXML, screenshotPath string) (core.InterruptResolution, error)
}

// Guard turns a detected interruption into device actions: deterministic
// blocklist dismissal, allowlist shortcuts, and bounded execution of the
// oracle's suggested actions.
type Guard struct {
	session    core.Session
	detector   *Detector
	dispatcher *dispatch.Dispatcher
	decider    Decider
	opts       Options
	log        *logger.Logger
}

// NewGuard wires a guard around one device session. The guard owns its
// detector so handling can re-check the screen after acting.
func NewGuard(session core.Session, dispatcher *dispatch.Dispatcher, decider Decider, opts Options, log *logger.Logger) *Guard {
	opts = opts.withDefaults()
	return &Guard{
		session:    session,
		detector:   NewDetector(session, opts, log),
		dispatcher: dispatcher,
		decider:    decider,
		opts:       opts,
		log:        log.WithComponent("guard"),
	}
}

// Detector exposes the guard's detector for callers that only need a
// detection pass.
func (g *Guard) Detector() *Detector {
	return g.detector
}

// Decide returns the handling decision for a detected interruption. An
// allowlisted step paired with a permission/login interruption handles
// without consulting the oracle; oracle failures degrade to
// PASS_THROUGH, since acting on nothing is safer than acting blind.
func (g *Guard) Decide(intr core.Interruption, goal, stepDescription, snapshotXML, screenshotPath string) core.InterruptResolution {
	if !intr.Present {
		return core.InterruptResolution{Decision: core.DecisionPassThrough, Rationale: "no interruption"}
	}

	step := strings.ToLower(stepDescription)
	if containsAny(step, g.opts.AllowlistSteps) &&
		(intr.Kind == core.InterruptPermission || intr.Kind == core.InterruptLogin) {
		g.log.Info("allowlisted step, handling interruption without oracle", map[string]interface{}{
			"kind": string(intr.Kind),
		})
		return core.InterruptResolution{Decision: core.DecisionHandle, Rationale: "allowlisted step requires it"}
	}

	res, err := g.decider.DecideInterruption(intr, goal, stepDescription, snapshotXML, screenshotPath)
	if err != nil {
		g.log.Warn("interruption decision failed, passing through", map[string]interface{}{
			"error": err.Error(),
		})
		return core.InterruptResolution{Decision: core.DecisionPassThrough, Rationale: "decision unavailable"}
	}
	return res
}

// Resolve executes a decision against the device: blocklisted ad
// containers are dismissed deterministically first, then at most
// MaxActions of the resolution's actions run with a settle delay after
// each. A fresh detection pass reports whether the screen cleared.
// Model dimensions describe the oracle's working resolution for any
// coordinates its actions carry.
func (g *Guard) Resolve(intr core.Interruption, resolution core.InterruptResolution, modelW, modelH int) bool {
	screenW, screenH, err := g.session.ScreenSize()
	if err != nil {
		g.log.Error(err, "screen size unavailable, cannot resolve interruption")
		return false
	}

	g.dismissBlocklisted(intr.Candidates)

	nodes := g.currentNodes()
	if resolution.Decision == core.DecisionDismiss && len(resolution.Actions) == 0 {
		g.dismissByCloseText(nodes)
	}
	for i, proposed := range resolution.Actions {
		if i >= g.opts.MaxActions {
			break
		}
		g.executeProposed(proposed, nodes, screenW, screenH, modelW, modelH)
		time.Sleep(g.opts.SettleDelay)
	}

	xml, err := g.session.Snapshot()
	if err != nil {
		g.log.Warn("cannot re-check screen after handling", map[string]interface{}{
			"error": err.Error(),
		})
		return false
	}
	after, err := hierarchy.Parse(xml)
	if err != nil {
		g.log.Warn("cannot re-check screen after handling", map[string]interface{}{
			"error": err.Error(),
		})
		return false
	}
	again := g.detector.Detect(after, screenW, screenH)
	if again.Present {
		g.log.Info("interruption still present after handling", map[string]interface{}{
			"kind": string(again.Kind),
		})
	}
	return !again.Present
}

// dismissBlocklisted taps near the top-right corner of every candidate
// whose identifier matches the blocklist. Ad close buttons cluster
// there.
func (g *Guard) dismissBlocklisted(candidates []core.UINode) {
	for _, n := range candidates {
		if !g.detector.blocklisted(n.ResourceID) {
			continue
		}
		p := core.Point{
			X: n.Bounds.Right() - int(float64(n.Bounds.Width)*0.05),
			Y: n.Bounds.Y + int(float64(n.Bounds.Height)*0.08),
		}
		g.log.Info("dismissing blocklisted overlay", map[string]interface{}{
			"resource_id": n.ResourceID,
			"point":       p.String(),
		})
		g.dispatcher.ExecuteWithRetry(core.ClickAction(p), g.opts.DismissRetries, g.opts.DismissDelay)
	}
}

// dismissByCloseText taps the first clickable node whose label exactly
// matches a known dismiss control. Runs only when a DISMISS decision
// arrives without concrete actions.
func (g *Guard) dismissByCloseText(nodes []core.UINode) {
	for _, n := range nodes {
		if !n.Clickable || n.Bounds.Empty() {
			continue
		}
		label := strings.ToLower(strings.TrimSpace(n.Text))
		if label == "" {
			label = strings.ToLower(strings.TrimSpace(n.Desc))
		}
		for _, ct := range g.opts.CloseTexts {
			if label != ct {
				continue
			}
			p := n.Center()
			g.log.Info("tapping dismiss control", map[string]interface{}{
				"label": n.ShortLabel(),
				"point": p.String(),
			})
			g.dispatcher.ExecuteWithRetry(core.ClickAction(p), g.opts.DismissRetries, g.opts.DismissDelay)
			return
		}
	}
}

// executeProposed resolves one oracle-suggested action to device space
// and dispatches it. Pointer actions without a usable coordinate resolve
// their selector hints against the snapshot; if nothing resolves, the
// action is skipped.
func (g *Guard) executeProposed(proposed core.ProposedAction, nodes []core.UINode, screenW, screenH, modelW, modelH int) {
	kind := dispatch.Normalize(proposed.Name)
	action := core.ResolvedAction{
		Kind:    kind,
		Text:    proposed.Text,
		Button:  proposed.Button,
		Seconds: proposed.Seconds,
	}

	if kind.NeedsPoint() {
		if proposed.Coordinate != nil {
			p := coords.Normalize(*proposed.Coordinate, screenW, screenH, modelW, modelH)
			action.Point = &p
		} else if proposed.HasSelector() {
			sel := hierarchy.Selector{
				Text:       proposed.Text,
				Desc:       proposed.Desc,
				ResourceID: proposed.ResourceID,
			}
			if n, ok := hierarchy.FindBySelector(nodes, sel); ok {
				p := n.Center()
				action.Point = &p
			}
		}
		if proposed.Coordinate2 != nil {
			p2 := coords.Normalize(*proposed.Coordinate2, screenW, screenH, modelW, modelH)
			action.Point2 = &p2
		}
		if action.Point == nil {
			g.log.Warn("skipping unresolvable action", map[string]interface{}{
				"action": proposed.Name,
			})
			return
		}
	}

	action, _ = g.dispatcher.Gate(action)
	g.dispatcher.ExecuteWithRetry(action, g.opts.ActionRetries, g.opts.ActionDelay)
}

// currentNodes fetches and parses a fresh snapshot; failures yield an
// empty node list rather than blocking the handling pass.
func (g *Guard) currentNodes() []core.UINode {
	xml, err := g.session.Snapshot()
	if err != nil {
		g.log.Warn("snapshot unavailable during handling", map[string]interface{}{
			"error": err.Error(),
		})
		return nil
	}
	nodes, err := hierarchy.Parse(xml)
	if err != nil {
		g.log.Warn("snapshot unparseable during handling", map[string]interface{}{
			"error": err.Error(),
		})
		return nil
	}
	return nodes
}
