package stepexec

import (
	"github.com/stepguard-dev/stepguard/pkg/coords"
	"github.com/stepguard-dev/stepguard/pkg/core"
	"github.com/stepguard-dev/stepguard/pkg/dispatch"
	"github.com/stepguard-dev/stepguard/pkg/hierarchy"
)

// executeIntent realizes one natural-language intent on the device,
// cheapest resolution first: a unique hierarchy match is tapped
// directly, several matches go to vision disambiguation, and only when
// the hierarchy has nothing does the full oracle proposal run. The
// XML-first path exists because a snapshot lookup is instant and exact
// while an oracle round trip is slow and approximate.
func (m *Machine) executeIntent(res *core.StepResult, per perception, intent, phase string) core.DispatchResult {
	if intent != "" && len(per.nodes) > 0 {
		matches := hierarchy.FindByQuery(per.nodes, intent)
		switch {
		case len(matches) == 1:
			m.log.Debug("intent resolved by hierarchy", map[string]interface{}{
				"intent": intent,
				"node":   matches[0].ShortLabel(),
			})
			return m.clickNode(res, matches[0], phase)
		case len(matches) > 1:
			idx, err := m.oracle.Disambiguate(per.screenshotPath, matches, intent)
			if err == nil && idx >= 0 && idx < len(matches) {
				m.log.Debug("intent disambiguated", map[string]interface{}{
					"intent":     intent,
					"candidates": len(matches),
					"node":       matches[idx].ShortLabel(),
				})
				return m.clickNode(res, matches[idx], phase)
			}
			m.log.Warn("disambiguation unavailable, falling back to proposal", map[string]interface{}{
				"intent": intent,
			})
		}
	}

	proposed, err := m.oracle.ProposeAction(per.screenshotPath, per.xml, intent)
	if err != nil {
		m.log.Warn("no action proposed", map[string]interface{}{
			"intent": intent,
			"error":  err.Error(),
		})
		dres := core.DispatchResult{Status: core.DispatchError, Detail: err.Error()}
		res.RecordAction(dres, phase)
		return dres
	}
	return m.dispatchProposed(res, per, proposed, phase)
}

// clickNode taps the center of a resolved element. The point lands
// inside the node's bounds by construction, so no snapping or fuzzy
// sampling is needed.
func (m *Machine) clickNode(res *core.StepResult, n core.UINode, phase string) core.DispatchResult {
	dres := m.dispatcher.Execute(core.ClickAction(n.Center()))
	res.RecordAction(dres, phase)
	return dres
}

// dispatchProposed resolves a loosely-typed oracle proposal into a
// device-space action and dispatches it. Clicks from approximate
// coordinates are snapped onto real tappable elements and then spread
// with fuzzy sampling; everything else runs under the standard retry
// budget.
func (m *Machine) dispatchProposed(res *core.StepResult, per perception, proposed core.ProposedAction, phase string) core.DispatchResult {
	kind := dispatch.Normalize(proposed.Name)
	action := core.ResolvedAction{
		Kind:    kind,
		Text:    proposed.Text,
		Button:  proposed.Button,
		Seconds: proposed.Seconds,
	}

	approximate := false
	if kind.NeedsPoint() {
		if proposed.Coordinate != nil {
			p := coords.Normalize(*proposed.Coordinate, per.screenW, per.screenH, m.opts.ModelWidth, m.opts.ModelHeight)
			action.Point = &p
			approximate = true
		} else if proposed.HasSelector() {
			sel := hierarchy.Selector{
				Text:       proposed.Text,
				Desc:       proposed.Desc,
				ResourceID: proposed.ResourceID,
			}
			if n, ok := hierarchy.FindBySelector(per.nodes, sel); ok {
				p := n.Center()
				action.Point = &p
				m.log.Debug("selector mapped to coordinate", map[string]interface{}{
					"selector": sel.String(),
					"point":    p.String(),
				})
			}
		}
		if proposed.Coordinate2 != nil {
			p2 := coords.Normalize(*proposed.Coordinate2, per.screenW, per.screenH, m.opts.ModelWidth, m.opts.ModelHeight)
			action.Point2 = &p2
		}
		if action.Point == nil {
			dres := core.DispatchResult{
				Status: core.DispatchFailure,
				Detail: "no coordinate or matching selector for " + proposed.Name,
				Action: action,
			}
			res.RecordAction(dres, phase)
			return dres
		}
	}

	if action.Kind == core.ActionClick && approximate {
		snapped := coords.Snap(*action.Point, per.nodes, per.screenW, per.screenH, m.opts.Snap)
		if snapped != *action.Point {
			m.log.Debug("click snapped to tappable element", map[string]interface{}{
				"from": action.Point.String(),
				"to":   snapped.String(),
			})
			action.Point = &snapped
		}
	}

	action, gated := m.dispatcher.Gate(action)

	var dres core.DispatchResult
	if action.Kind == core.ActionClick && approximate && !gated {
		dres = m.dispatcher.FuzzyClick(action, per.nodes, per.screenW, per.screenH)
	} else {
		dres = m.dispatcher.Execute(action)
	}
	res.RecordAction(dres, phase)
	return dres
}
