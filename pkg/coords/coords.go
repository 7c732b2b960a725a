// Package coords maps between the oracle's working resolution and the
// device screen, and snaps imprecise points onto real tappable elements.
package coords

import (
	"sort"
	"strings"

	"github.com/stepguard-dev/stepguard/pkg/core"
)

// SnapOptions tunes snap-to-tappable. The discounts are multiplicative:
// a lower score wins, so a discount below 1.0 makes a candidate more
// attractive. Defaults are tuned for short-video feed layouts with a
// right-edge action rail; override them via config for other apps.
type SnapOptions struct {
	// MaxDistPx rejects candidates whose center is farther than this
	// from the approximate point.
	MaxDistPx int `yaml:"maxDistPx" json:"maxDistPx"`

	// ClickableDiscount applies when the node is marked clickable.
	ClickableDiscount float64 `yaml:"clickableDiscount" json:"clickableDiscount"`

	// KeywordDiscount applies when the node's combined label contains
	// one of PreferKeywords.
	KeywordDiscount float64 `yaml:"keywordDiscount" json:"keywordDiscount"`

	// RailDiscount applies when the node starts inside the right rail
	// and PreferRightRail is set.
	RailDiscount float64 `yaml:"railDiscount" json:"railDiscount"`

	// PreferRightRail enables the rail discount.
	PreferRightRail bool `yaml:"preferRightRail" json:"preferRightRail"`

	// RightRailRatio is the rail width as a fraction of screen width,
	// measured from the right edge.
	RightRailRatio float64 `yaml:"rightRailRatio" json:"rightRailRatio"`

	// PreferKeywords mark nodes that are likely intended targets.
	PreferKeywords []string `yaml:"preferKeywords" json:"preferKeywords"`

	// InteractiveClassHints are lowercased class-name fragments that
	// mark a node as interactive even without flags or content.
	InteractiveClassHints []string `yaml:"interactiveClassHints" json:"interactiveClassHints"`
}

// DefaultSnapOptions returns the reference snap heuristics.
func DefaultSnapOptions() SnapOptions {
	return SnapOptions{
		MaxDistPx:         160,
		ClickableDiscount: 0.6,
		KeywordDiscount:   0.7,
		RailDiscount:      0.75,
		PreferRightRail:   true,
		RightRailRatio:    0.28,
		PreferKeywords:    []string{"comment", "comments", "like", "share", "send", "reply"},
		InteractiveClassHints: []string{
			"button", "imagebutton", "checkbox", "switch", "tab", "edittext", "imageview",
		},
	}
}

// ClickBoxOptions tunes click-box construction for fuzzy clicking.
type ClickBoxOptions struct {
	// MaxDistPx caps how far the nearest clickable node may be before
	// a synthesized box is used instead.
	MaxDistPx int `yaml:"maxDistPx" json:"maxDistPx"`

	// BoxRatio sizes the synthesized box as a fraction of screen width.
	BoxRatio float64 `yaml:"boxRatio" json:"boxRatio"`

	// MinPx is the minimum synthesized box edge in pixels.
	MinPx int `yaml:"minPx" json:"minPx"`
}

// DefaultClickBoxOptions returns the reference click-box parameters.
func DefaultClickBoxOptions() ClickBoxOptions {
	return ClickBoxOptions{
		MaxDistPx: 320,
		BoxRatio:  0.12,
		MinPx:     16,
	}
}

// Normalize rescales a point from the oracle's working resolution to
// device pixels. The point is scaled only when it plausibly lies within
// model bounds; a point outside them is assumed to be device-space
// already and passes through unchanged. Either way the result is
// clamped to the screen, so normalization is idempotent on
// device-space input.
func Normalize(p core.Point, origW, origH, modelW, modelH int) core.Point {
	shouldScale := modelW > 0 && modelH > 0 &&
		p.X >= 0 && p.X <= modelW &&
		p.Y >= 0 && p.Y <= modelH

	out := p
	if shouldScale {
		out.X = int(float64(p.X)/float64(modelW)*float64(origW) + 0.5)
		out.Y = int(float64(p.Y)/float64(modelH)*float64(origH) + 0.5)
	}
	return core.ClampPoint(out, origW, origH)
}

// Snap resolves an approximate point to the best real tappable element.
// If the point already falls inside an interactive node, the smallest
// such node wins. Otherwise interactive nodes within MaxDistPx are
// scored by distance with the configured discounts, lowest score wins.
// With no surviving candidate the original point is returned unchanged:
// vision-model guesses are frequently off by tens of pixels on small
// targets, and snapping converts close into correct, but a far-off
// guess is better left alone than dragged onto an unrelated widget.
func Snap(p core.Point, nodes []core.UINode, screenW, screenH int, opts SnapOptions) core.Point {
	cands := interactive(nodes, opts)
	if len(cands) == 0 {
		return p
	}

	// Point already inside a candidate: smallest area wins, deeper
	// node breaks ties (least likely to be a container), then
	// document order.
	var inside []core.UINode
	for _, n := range cands {
		if n.Bounds.Contains(p) {
			inside = append(inside, n)
		}
	}
	if len(inside) > 0 {
		sort.SliceStable(inside, func(i, j int) bool {
			ai, aj := inside[i].Bounds.Area(), inside[j].Bounds.Area()
			if ai != aj {
				return ai < aj
			}
			return inside[i].Depth > inside[j].Depth
		})
		return inside[0].Center()
	}

	railX0 := -1
	if opts.PreferRightRail && opts.RightRailRatio > 0 {
		railX0 = int(float64(screenW) * (1.0 - opts.RightRailRatio))
	}

	var best *core.UINode
	bestScore := 0.0
	for i := range cands {
		n := cands[i]
		d := n.Center().DistanceTo(p)
		if d > float64(opts.MaxDistPx) {
			continue
		}

		score := d
		if n.Clickable {
			score *= opts.ClickableDiscount
		}
		if hasKeyword(n.CombinedText(), opts.PreferKeywords) {
			score *= opts.KeywordDiscount
		}
		if railX0 >= 0 && n.Bounds.X >= railX0 {
			score *= opts.RailDiscount
		}

		if best == nil || score < bestScore {
			best = &cands[i]
			bestScore = score
		}
	}

	if best == nil {
		return p
	}
	return best.Center()
}

// ClickBox builds the sampling rectangle for a fuzzy click around an
// approximate point. The nearest clickable node's bounds are used when
// one is close enough; otherwise a box of BoxRatio screen widths is
// synthesized around the point, clamped to the screen with corners in
// proper order.
func ClickBox(p core.Point, nodes []core.UINode, screenW, screenH int, opts ClickBoxOptions) core.Bounds {
	var closest *core.UINode
	minDist := 0.0
	for i := range nodes {
		n := nodes[i]
		if !n.Clickable || n.Bounds.Empty() {
			continue
		}
		d := n.Center().DistanceTo(p)
		if opts.MaxDistPx > 0 && d > float64(opts.MaxDistPx) {
			continue
		}
		if closest == nil || d < minDist {
			closest = &nodes[i]
			minDist = d
		}
	}
	if closest != nil {
		return closest.Bounds
	}

	box := int(float64(screenW) * opts.BoxRatio)
	if box < opts.MinPx {
		box = opts.MinPx
	}

	x1 := clampTo(p.X-box/2, 1, screenW-2)
	x2 := clampTo(p.X+box/2, 1, screenW-2)
	y1 := clampTo(p.Y-box/2, 1, screenH-2)
	y2 := clampTo(p.Y+box/2, 1, screenH-2)
	if x1 > x2 {
		x1, x2 = x2, x1
	}
	if y1 > y2 {
		y1, y2 = y2, y1
	}
	return core.BoundsFromCorners(x1, y1, x2, y2)
}

// interactive filters nodes down to the ones worth snapping onto:
// clickable, carrying any content, or of a known interactive widget
// class. Degenerate bounds are excluded outright.
func interactive(nodes []core.UINode, opts SnapOptions) []core.UINode {
	var out []core.UINode
	for _, n := range nodes {
		if n.Bounds.Empty() {
			continue
		}
		if n.Clickable || n.HasContent() || classMatches(n.Class, opts.InteractiveClassHints) {
			out = append(out, n)
		}
	}
	return out
}

func classMatches(class string, hints []string) bool {
	c := strings.ToLower(class)
	for _, h := range hints {
		if strings.Contains(c, h) {
			return true
		}
	}
	return false
}

func hasKeyword(label string, keywords []string) bool {
	for _, k := range keywords {
		if k != "" && strings.Contains(label, k) {
			return true
		}
	}
	return false
}

func clampTo(v, lo, hi int) int {
	if hi < lo {
		hi = lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
