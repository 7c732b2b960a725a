// Package interrupt detects blocking overlays in UI snapshots and drives
// their dismissal. Detection is pure heuristics over parsed nodes;
// handling combines deterministic shortcuts with oracle decisions.
package interrupt

import (
	"strings"
	"time"

	"github.com/stepguard-dev/stepguard/pkg/core"
	"github.com/stepguard-dev/stepguard/pkg/logger"
)

// Options hold every tunable the detector and guard use. The values are
// heuristic by nature, so they live here as data rather than inline
// constants.
type Options struct {
	// ModalCoverage is the screen fraction above which a node counts as
	// a likely modal regardless of class.
	ModalCoverage float64

	// OverlayCoverage is the screen fraction above which an interactive
	// non-scrollable node intersecting the central region counts as a
	// big overlay.
	OverlayCoverage float64

	// Central region insets, as fractions of screen width/height. An
	// overlay that never enters this rectangle is unlikely to block.
	CentralLeft   float64
	CentralTop    float64
	CentralRight  float64
	CentralBottom float64

	// Cue keyword sets, matched against a node's combined lowercased
	// text/description/identifier.
	AdHints         []string
	LoginHints      []string
	PermissionHints []string

	// DialogClasses are class-name fragments that mark dialog, popup,
	// and bottom-sheet widgets.
	DialogClasses []string

	// ContainerClasses are class-name fragments of generic layout
	// containers, ignored as big overlays unless a stronger signal is
	// also present.
	ContainerClasses []string

	// BlocklistIDs are identifier fragments of known ad containers;
	// matching nodes are dismissed deterministically.
	BlocklistIDs []string

	// CloseTexts are exact labels of dismiss controls. A DISMISS
	// decision with no usable actions falls back to tapping one.
	CloseTexts []string

	// AllowlistSteps are step-description fragments that short-circuit
	// permission/login interruptions straight to HANDLE.
	AllowlistSteps []string

	// MaxActions bounds how many oracle-suggested actions one handling
	// pass may execute.
	MaxActions int

	// SettleDelay is the pause after each handling action.
	SettleDelay time.Duration

	// ActionRetries/ActionDelay budget each oracle-suggested action.
	ActionRetries int
	ActionDelay   time.Duration

	// DismissRetries/DismissDelay budget each deterministic blocklist
	// dismissal tap.
	DismissRetries int
	DismissDelay   time.Duration
}

// DefaultOptions returns the tuned defaults.
func DefaultOptions() Options {
	return Options{
		ModalCoverage:   0.60,
		OverlayCoverage: 0.33,
		CentralLeft:     0.20,
		CentralTop:      0.15,
		CentralRight:    0.80,
		CentralBottom:   0.85,
		AdHints: []string{
			"ad", "ads", "advert", "advertisement", "sponsored", "promo", "promotion",
			"offer", "sale", "discount", "upgrade", "premium", "try premium", "subscribe",
		},
		LoginHints: []string{
			"sign in", "log in", "login", "continue with", "google", "facebook",
			"apple", "phone number", "verification code", "otp",
		},
		PermissionHints: []string{
			"allow", "deny", "permission", "while using the app", "only this time",
			"don't allow", "access",
		},
		DialogClasses: []string{
			"android.app.dialog", "alertdialog", "bottomsheet", "popupwindow", "modal",
		},
		ContainerClasses: []string{
			"framelayout", "linearlayout", "relativelayout", "viewgroup",
			"recyclerview", "listview", "scrollview",
		},
		BlocklistIDs: []string{
			"ad_container", "ad_view", "banner_ad", "adview", "applovin", "admob", "ironsource",
		},
		CloseTexts: []string{
			"close", "dismiss", "skip", "not now", "no thanks", "maybe later",
			"cancel", "×", "x",
		},
		AllowlistSteps: []string{
			"login", "log in", "sign in", "camera", "photo", "microphone",
			"location", "notification",
		},
		MaxActions:     3,
		SettleDelay:    800 * time.Millisecond,
		ActionRetries:  2,
		ActionDelay:    time.Second,
		DismissRetries: 2,
		DismissDelay:   800 * time.Millisecond,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.ModalCoverage <= 0 {
		o.ModalCoverage = def.ModalCoverage
	}
	if o.OverlayCoverage <= 0 {
		o.OverlayCoverage = def.OverlayCoverage
	}
	if o.CentralRight <= 0 {
		o.CentralLeft = def.CentralLeft
		o.CentralTop = def.CentralTop
		o.CentralRight = def.CentralRight
		o.CentralBottom = def.CentralBottom
	}
	if o.AdHints == nil {
		o.AdHints = def.AdHints
	}
	if o.LoginHints == nil {
		o.LoginHints = def.LoginHints
	}
	if o.PermissionHints == nil {
		o.PermissionHints = def.PermissionHints
	}
	if o.DialogClasses == nil {
		o.DialogClasses = def.DialogClasses
	}
	if o.ContainerClasses == nil {
		o.ContainerClasses = def.ContainerClasses
	}
	if o.BlocklistIDs == nil {
		o.BlocklistIDs = def.BlocklistIDs
	}
	if o.CloseTexts == nil {
		o.CloseTexts = def.CloseTexts
	}
	if o.AllowlistSteps == nil {
		o.AllowlistSteps = def.AllowlistSteps
	}
	if o.MaxActions <= 0 {
		o.MaxActions = def.MaxActions
	}
	if o.SettleDelay <= 0 {
		o.SettleDelay = def.SettleDelay
	}
	if o.ActionRetries <= 0 {
		o.ActionRetries = def.ActionRetries
	}
	if o.ActionDelay <= 0 {
		o.ActionDelay = def.ActionDelay
	}
	if o.DismissRetries <= 0 {
		o.DismissRetries = def.DismissRetries
	}
	if o.DismissDelay <= 0 {
		o.DismissDelay = def.DismissDelay
	}
	return o
}

// Detector scans snapshots for blocking overlays. Results are computed
// fresh on every call; overlays come and go between device actions.
type Detector struct {
	session core.Session
	opts    Options
	log     *logger.Logger
}

// NewDetector creates a detector. The session is consulted only for the
// native system-alert fallback when node heuristics find nothing.
func NewDetector(session core.Session, opts Options, log *logger.Logger) *Detector {
	return &Detector{
		session: session,
		opts:    opts.withDefaults(),
		log:     log.WithComponent("interrupt"),
	}
}

// Options returns the effective options after defaulting.
func (d *Detector) Options() Options {
	return d.opts
}

// Detect scans the parsed snapshot for overlay candidates and classifies
// them. With no candidates and no native system alert, the screen is
// considered clear.
func (d *Detector) Detect(nodes []core.UINode, screenW, screenH int) core.Interruption {
	cx1 := int(float64(screenW) * d.opts.CentralLeft)
	cy1 := int(float64(screenH) * d.opts.CentralTop)
	cx2 := int(float64(screenW) * d.opts.CentralRight)
	cy2 := int(float64(screenH) * d.opts.CentralBottom)

	var candidates []core.UINode
	maxCover := 0.0

	for _, n := range nodes {
		cover := n.Bounds.Coverage(screenW, screenH)
		label := n.LabelText()

		intersectsCenter := !(n.Bounds.Right() < cx1 || n.Bounds.X > cx2 ||
			n.Bounds.Bottom() < cy1 || n.Bounds.Y > cy2)

		hasCue := d.hasCue(label, n.ResourceID)
		likelyModal := classMatches(n.Class, d.opts.DialogClasses) || cover > d.opts.ModalCoverage
		bigOverlay := cover > d.opts.OverlayCoverage &&
			(n.Clickable || n.Focusable) && !n.Scrollable && intersectsCenter
		genericContainer := classMatches(n.Class, d.opts.ContainerClasses)

		if likelyModal || hasCue || (bigOverlay && !genericContainer) {
			candidates = append(candidates, n)
			if cover > maxCover {
				maxCover = cover
			}
		}
	}

	if len(candidates) == 0 {
		if d.session != nil && d.session.HasSystemAlert() {
			d.log.Debug("native system alert present, treating as permission dialog")
			return core.Interruption{Present: true, Kind: core.InterruptPermission, Coverage: 0.6}
		}
		return core.Interruption{Present: false, Kind: core.InterruptNone}
	}

	kind := d.vote(candidates)
	d.log.Debug("interruption detected", map[string]interface{}{
		"kind":       string(kind),
		"coverage":   maxCover,
		"candidates": len(candidates),
	})
	return core.Interruption{
		Present:    true,
		Kind:       kind,
		Coverage:   maxCover,
		Candidates: candidates,
	}
}

// hasCue reports whether the label carries any keyword cue or the
// identifier matches the blocklist.
func (d *Detector) hasCue(label, resourceID string) bool {
	if containsAny(label, d.opts.AdHints) ||
		containsAny(label, d.opts.LoginHints) ||
		containsAny(label, d.opts.PermissionHints) {
		return true
	}
	return d.blocklisted(resourceID)
}

func (d *Detector) blocklisted(resourceID string) bool {
	return containsAny(strings.ToLower(resourceID), d.opts.BlocklistIDs)
}

// classify buckets one node's label, checked in priority order:
// permission beats login beats ad.
func (d *Detector) classify(label string) core.InterruptKind {
	switch {
	case containsAny(label, d.opts.PermissionHints):
		return core.InterruptPermission
	case containsAny(label, d.opts.LoginHints):
		return core.InterruptLogin
	case containsAny(label, d.opts.AdHints):
		return core.InterruptAd
	default:
		return core.InterruptUnknown
	}
}

// vote picks the majority classification across candidates; ties go to
// the earliest candidate in document order.
func (d *Detector) vote(candidates []core.UINode) core.InterruptKind {
	votes := make([]core.InterruptKind, 0, len(candidates))
	counts := make(map[core.InterruptKind]int, 4)
	for _, n := range candidates {
		k := d.classify(n.LabelText())
		votes = append(votes, k)
		counts[k]++
	}
	best := votes[0]
	for _, k := range votes {
		if counts[k] > counts[best] {
			best = k
		}
	}
	return best
}

func classMatches(class string, fragments []string) bool {
	return containsAny(strings.ToLower(class), fragments)
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
