package coords

import (
	"testing"

	"github.com/stepguard-dev/stepguard/pkg/core"
)

func TestNormalize_ScalesModelSpacePoints(t *testing.T) {
	tests := []struct {
		name           string
		p              core.Point
		origW, origH   int
		modelW, modelH int
		expected       core.Point
	}{
		{"center scales up", core.Point{X: 360, Y: 640}, 1080, 1920, 720, 1280, core.Point{X: 540, Y: 960}},
		{"origin stays", core.Point{X: 0, Y: 0}, 1080, 1920, 720, 1280, core.Point{X: 0, Y: 0}},
		{"model edge maps to screen edge", core.Point{X: 720, Y: 1280}, 1080, 1920, 720, 1280, core.Point{X: 1079, Y: 1919}},
		{"already device-space passes through", core.Point{X: 900, Y: 1500}, 1080, 1920, 720, 1280, core.Point{X: 900, Y: 1500}},
		{"negative clamps", core.Point{X: -10, Y: -10}, 1080, 1920, 720, 1280, core.Point{X: 0, Y: 0}},
		{"zero model dims pass through", core.Point{X: 500, Y: 500}, 1080, 1920, 0, 0, core.Point{X: 500, Y: 500}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.p, tt.origW, tt.origH, tt.modelW, tt.modelH)
			if got != tt.expected {
				t.Errorf("Normalize(%v) = %v, want %v", tt.p, got, tt.expected)
			}
		})
	}
}

// Normalizing with model dims equal to device dims must be a pure clamp.
func TestNormalize_IdempotentOnDeviceSpace(t *testing.T) {
	w, h := 1080, 1920
	points := []core.Point{{X: 0, Y: 0}, {X: 540, Y: 960}, {X: 1079, Y: 1919}, {X: 1200, Y: 2000}, {X: -5, Y: 40}}

	for _, p := range points {
		got := Normalize(p, w, h, w, h)
		want := core.ClampPoint(p, w, h)
		if got != want {
			t.Errorf("Normalize(%v, same dims) = %v, want clamp %v", p, got, want)
		}
		if again := Normalize(got, w, h, w, h); again != got {
			t.Errorf("second Normalize moved %v -> %v", got, again)
		}
	}
}

func snapNodes() []core.UINode {
	return []core.UINode{
		{Class: "android.widget.FrameLayout", Bounds: core.Bounds{X: 0, Y: 0, Width: 1080, Height: 1920}, Depth: 0},
		{Class: "android.widget.ImageView", Desc: "Like", ResourceID: "com.app:id/like",
			Bounds: core.Bounds{X: 980, Y: 880, Width: 80, Height: 80}, Clickable: true, Depth: 2},
		{Class: "android.widget.ImageView", Desc: "Comments", ResourceID: "com.app:id/comment",
			Bounds: core.Bounds{X: 980, Y: 1000, Width: 80, Height: 80}, Clickable: true, Depth: 2},
		{Class: "android.widget.TextView", Text: "caption text here",
			Bounds: core.Bounds{X: 40, Y: 1600, Width: 600, Height: 60}, Depth: 2},
	}
}

func TestSnap_InsideNodePicksSmallest(t *testing.T) {
	nodes := snapNodes()
	// Point inside both the full-screen frame and the comment button.
	p := core.Point{X: 1010, Y: 1030}

	got := Snap(p, nodes, 1080, 1920, DefaultSnapOptions())
	want := core.Point{X: 1020, Y: 1040} // comment button center
	if got != want {
		t.Errorf("Snap(%v) = %v, want smallest containing node center %v", p, got, want)
	}
}

func TestSnap_NearbyScoring(t *testing.T) {
	nodes := snapNodes()
	// Off-target guess between like and comment, slightly closer to
	// like but below it; both score, the keyword discount on
	// "comment" is applied via PreferKeywords.
	p := core.Point{X: 940, Y: 1005}

	got := Snap(p, nodes, 1080, 1920, DefaultSnapOptions())
	want := core.Point{X: 1020, Y: 1040}
	if got != want {
		t.Errorf("Snap(%v) = %v, want comment center %v", p, got, want)
	}
}

// A point with no interactive node within MaxDistPx must come back
// unchanged.
func TestSnap_FarPointUnchanged(t *testing.T) {
	nodes := []core.UINode{
		{Class: "android.widget.Button", Text: "OK", Clickable: true,
			Bounds: core.Bounds{X: 900, Y: 1700, Width: 100, Height: 60}},
	}
	p := core.Point{X: 100, Y: 100}

	if got := Snap(p, nodes, 1080, 1920, DefaultSnapOptions()); got != p {
		t.Errorf("Snap(%v) = %v, want original point", p, got)
	}
}

func TestSnap_NoNodes(t *testing.T) {
	p := core.Point{X: 50, Y: 50}
	if got := Snap(p, nil, 1080, 1920, DefaultSnapOptions()); got != p {
		t.Errorf("Snap with no nodes = %v, want %v", got, p)
	}
}

func TestSnap_ClickableBeatsPlainAtSameDistance(t *testing.T) {
	opts := DefaultSnapOptions()
	opts.PreferRightRail = false
	opts.PreferKeywords = nil

	nodes := []core.UINode{
		{Class: "android.widget.TextView", Text: "label",
			Bounds: core.Bounds{X: 100, Y: 200, Width: 80, Height: 40}},
		{Class: "android.widget.TextView", Text: "label2", Clickable: true,
			Bounds: core.Bounds{X: 100, Y: 360, Width: 80, Height: 40}},
	}
	// Equidistant from both centers (140,220) and (140,380): y=300.
	p := core.Point{X: 140, Y: 300}

	got := Snap(p, nodes, 1080, 1920, opts)
	want := core.Point{X: 140, Y: 380}
	if got != want {
		t.Errorf("Snap(%v) = %v, want clickable node center %v", p, got, want)
	}
}

func TestSnap_RightRailDiscount(t *testing.T) {
	opts := DefaultSnapOptions()
	opts.PreferKeywords = nil

	// Two clickable nodes equidistant from the point; only one sits in
	// the right rail (x >= 1080*0.72 = 777).
	nodes := []core.UINode{
		{Class: "android.widget.ImageView", Desc: "left", Clickable: true,
			Bounds: core.Bounds{X: 630, Y: 500, Width: 80, Height: 80}},
		{Class: "android.widget.ImageView", Desc: "rail", Clickable: true,
			Bounds: core.Bounds{X: 810, Y: 500, Width: 80, Height: 80}},
	}
	p := core.Point{X: 760, Y: 540} // centers at x=670 and x=850, both 90 away

	got := Snap(p, nodes, 1080, 1920, opts)
	if got.X != 850 {
		t.Errorf("Snap(%v) = %v, want the rail node to win", p, got)
	}

	// Without the rail preference the scores tie and the first node in
	// document order keeps the slot.
	opts.PreferRightRail = false
	got = Snap(p, nodes, 1080, 1920, opts)
	if got.X != 670 {
		t.Errorf("Snap without rail preference = %v, want the first node's center", got)
	}
}

func TestClickBox_UsesNearestClickableBounds(t *testing.T) {
	nodes := []core.UINode{
		{Class: "android.widget.Button", Text: "Send", Clickable: true,
			Bounds: core.Bounds{X: 900, Y: 1700, Width: 120, Height: 80}},
	}
	p := core.Point{X: 950, Y: 1720}

	got := ClickBox(p, nodes, 1080, 1920, DefaultClickBoxOptions())
	want := core.Bounds{X: 900, Y: 1700, Width: 120, Height: 80}
	if got != want {
		t.Errorf("ClickBox(%v) = %+v, want node bounds %+v", p, got, want)
	}
}

func TestClickBox_SynthesizesWhenNoClickable(t *testing.T) {
	p := core.Point{X: 540, Y: 960}
	opts := DefaultClickBoxOptions()

	got := ClickBox(p, nil, 1080, 1920, opts)

	// Box edge is 12% of screen width = 129px, centered on the point.
	if !got.Contains(p) {
		t.Errorf("synthesized box %+v does not contain %v", got, p)
	}
	if got.Width < opts.MinPx || got.Height < opts.MinPx {
		t.Errorf("synthesized box %+v below minimum size", got)
	}
}

func TestClickBox_ClampsToScreen(t *testing.T) {
	// Point in the extreme corner: box must stay inside [1, dim-2]
	// with properly ordered corners.
	p := core.Point{X: 0, Y: 0}
	got := ClickBox(p, nil, 1080, 1920, DefaultClickBoxOptions())

	if got.X < 1 || got.Y < 1 {
		t.Errorf("box %+v extends past the screen origin margin", got)
	}
	if got.Right() > 1078 || got.Bottom() > 1918 {
		t.Errorf("box %+v extends past the screen edge margin", got)
	}
	if got.Width < 0 || got.Height < 0 {
		t.Errorf("box %+v has inverted corners", got)
	}
}

func TestClickBox_FarClickableIgnored(t *testing.T) {
	nodes := []core.UINode{
		{Class: "android.widget.Button", Text: "far", Clickable: true,
			Bounds: core.Bounds{X: 1000, Y: 1800, Width: 60, Height: 60}},
	}
	p := core.Point{X: 50, Y: 50}

	got := ClickBox(p, nodes, 1080, 1920, DefaultClickBoxOptions())
	if got == nodes[0].Bounds {
		t.Errorf("ClickBox used a clickable node %d+ pixels away", DefaultClickBoxOptions().MaxDistPx)
	}
	if !got.Contains(p) {
		t.Errorf("synthesized fallback box %+v does not contain %v", got, p)
	}
}
