package stepexec

import (
	"strings"
	"time"

	"github.com/stepguard-dev/stepguard/pkg/core"
	"github.com/stepguard-dev/stepguard/pkg/hierarchy"
)

// recover dispatches on the verdict's recovery strategy. Returning true
// re-enters the loop for another cycle; false fails the step. ABORT is
// handled by the caller before recovery is reached.
func (m *Machine) recover(res *core.StepResult, goal string, step Step, v core.EvaluationVerdict, per perception) bool {
	switch v.Recovery {
	case core.RecoveryGrantPermission:
		return m.grantPermission(res, step)
	case core.RecoveryRedoStep:
		m.actionizeSuggestions(res, v.Suggestions, step.Intent())
		return true
	case core.RecoveryHandleInterrupt:
		return m.handleInterrupt(res, goal, step, v, per)
	case core.RecoveryRequireAuth:
		return m.requireAuth(res, v)
	case core.RecoveryReplan:
		return m.replan(res, step)
	default:
		// NONE or anything unrecognized: suggestions are the only
		// lead left.
		if len(v.Suggestions) > 0 {
			m.actionizeSuggestions(res, v.Suggestions, step.Intent())
			return true
		}
		return false
	}
}

// grantPermission scans the current snapshot for the configured allow
// selectors in priority order and taps the first match. Success re-runs
// the step's intent against a fresh screen and re-enters the loop;
// finding nothing to tap fails the step, since a permission gate with
// no allow control cannot be cleared here.
func (m *Machine) grantPermission(res *core.StepResult, step Step) bool {
	per, err := m.perceive()
	if err != nil {
		m.log.Error(err, "cannot perceive for permission grant")
		return false
	}

	for _, sel := range m.opts.AllowSelectors {
		n, ok := hierarchy.FindBySelector(per.nodes, sel)
		if !ok {
			continue
		}
		m.log.Info("granting permission", map[string]interface{}{
			"selector": sel.String(),
			"node":     n.ShortLabel(),
		})
		dres := m.dispatcher.Execute(core.ClickAction(n.Center()))
		res.RecordAction(dres, "recovery")
		if !dres.OK() {
			continue
		}

		time.Sleep(m.opts.RecoverySettle)
		if fresh, err := m.perceive(); err == nil {
			m.executeIntent(res, fresh, step.Intent(), "recovery")
		}
		return true
	}

	m.log.Warn("no allow control found for permission gate")
	return false
}

// handleInterrupt runs the full interruption pipeline: detect, decide,
// resolve. When detection finds nothing, or resolution fails to clear
// the screen, the verdict's suggestions are actionized; with no
// suggestions either, the blind corner closes go out. The pass always
// re-enters the loop: an overlay that survives one handling attempt may
// still fall to the next cycle's.
func (m *Machine) handleInterrupt(res *core.StepResult, goal string, step Step, v core.EvaluationVerdict, per perception) bool {
	if m.guard != nil {
		intr := m.guard.Detector().Detect(per.nodes, per.screenW, per.screenH)
		if intr.Present {
			resolution := m.guard.Decide(intr, goal, step.Description, per.xml, per.screenshotPath)
			if m.guard.Resolve(intr, resolution, m.opts.ModelWidth, m.opts.ModelHeight) {
				time.Sleep(m.opts.RecoverySettle)
				return true
			}
			m.log.Info("guard did not clear the interruption, trying fallbacks")
		}
	}

	if len(v.Suggestions) > 0 {
		m.actionizeSuggestions(res, v.Suggestions, "close ad")
	} else {
		m.tryCornerCloses(res)
	}
	return true
}

// requireAuth actionizes the verdict's suggestions, defaulting to the
// configured sign-in intent when none arrive.
func (m *Machine) requireAuth(res *core.StepResult, v core.EvaluationVerdict) bool {
	suggestions := v.Suggestions
	if len(suggestions) == 0 {
		suggestions = []string{m.opts.AuthIntent}
	}
	m.actionizeSuggestions(res, suggestions, m.opts.AuthIntent)
	time.Sleep(m.opts.RecoverySettle)
	return true
}

// replan treats UI drift as transient: one more execute pass against
// completely fresh perception.
func (m *Machine) replan(res *core.StepResult, step Step) bool {
	per, err := m.perceive()
	if err != nil {
		m.log.Error(err, "cannot perceive for replan")
		return false
	}
	m.log.Info("replanning with fresh perception", map[string]interface{}{
		"step": step.Description,
	})
	m.executeIntent(res, per, step.Intent(), "recovery")
	return true
}

// actionizeSuggestions turns the oracle's free-text suggestions into
// follow-up intents, at most MaxSuggestions of them. Blank suggestions
// fall back to the given intent.
func (m *Machine) actionizeSuggestions(res *core.StepResult, suggestions []string, fallback string) {
	per, err := m.perceive()
	if err != nil {
		m.log.Error(err, "cannot perceive for suggestions")
		return
	}

	count := 0
	for _, s := range suggestions {
		if count >= m.opts.MaxSuggestions {
			break
		}
		intent := strings.TrimSpace(s)
		if intent == "" {
			intent = fallback
		}
		if intent == "" {
			continue
		}
		count++
		m.log.Info("following suggestion", map[string]interface{}{"suggestion": intent})
		m.executeIntent(res, per, intent, "recovery")
		time.Sleep(m.opts.SuggestionDelay)
	}
}

// tryCornerCloses taps the configured likely close-button positions
// blind, stopping at the first tap the device accepts.
func (m *Machine) tryCornerCloses(res *core.StepResult) bool {
	w, h, err := m.session.ScreenSize()
	if err != nil {
		m.log.Error(err, "screen size unavailable for corner closes")
		return false
	}

	for i, c := range m.opts.CornerCloses {
		if i >= m.opts.CornerAttempts {
			break
		}
		p := core.Point{X: int(float64(w) * c.XFrac), Y: int(float64(h) * c.YFrac)}
		dres := m.dispatcher.ExecuteWithRetry(core.ClickAction(p), 1, 100*time.Millisecond)
		res.RecordAction(dres, "recovery")
		if dres.OK() {
			m.log.Debug("corner close accepted", map[string]interface{}{"point": p.String()})
			return true
		}
	}
	return false
}

// expectedHint derives what success should look like when the step does
// not say. The defaults mirror common short-video-app flows.
func expectedHint(step Step) string {
	if step.ExpectedState != "" {
		return step.ExpectedState
	}

	desc := strings.ToLower(step.Description)
	if strings.Contains(desc, "comment") {
		return "Comment UI visible (input field or comments list present)"
	}
	switch strings.ToLower(strings.TrimSpace(step.Action)) {
	case "click", "tap":
		return "Target element reflects clicked state or expected screen appears"
	case "type", "input":
		return "Text field contains newly entered text and the send/submit button is enabled"
	case "swipe", "scroll":
		return "Content position changed in scrollable region"
	default:
		return "Screen reflects successful completion of the described step"
	}
}
