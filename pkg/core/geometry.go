package core

import (
	"encoding/json"
	"fmt"
	"math"
)

// Point is a device-space pixel coordinate.
type Point struct {
	X int
	Y int
}

// MarshalJSON encodes the point as a two-element [x, y] array, the wire
// format the oracle uses for coordinates.
func (p Point) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("[%d,%d]", p.X, p.Y)), nil
}

// UnmarshalJSON accepts [x, y] arrays. Fractional pixels are rounded to
// the nearest integer.
func (p *Point) UnmarshalJSON(data []byte) error {
	var raw []float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 2 {
		return fmt.Errorf("coordinate must be [x, y], got %d values", len(raw))
	}
	p.X = int(math.Round(raw[0]))
	p.Y = int(math.Round(raw[1]))
	return nil
}

// String returns the point as "(x, y)".
func (p Point) String() string {
	return fmt.Sprintf("(%d, %d)", p.X, p.Y)
}

// DistanceTo returns the Euclidean distance to another point.
func (p Point) DistanceTo(o Point) float64 {
	dx := float64(p.X - o.X)
	dy := float64(p.Y - o.Y)
	return math.Hypot(dx, dy)
}

// Bounds represents element position and size
type Bounds struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// BoundsFromCorners builds Bounds from the corner form "(x1,y1)(x2,y2)"
// used by UI snapshot dumps. Inverted corners yield zero width/height
// rather than negative extents.
func BoundsFromCorners(x1, y1, x2, y2 int) Bounds {
	w := x2 - x1
	h := y2 - y1
	if w < 0 {
		w = 0
	}
	if h < 0 {
		h = 0
	}
	return Bounds{X: x1, Y: y1, Width: w, Height: h}
}

// String returns the corner form "[x1,y1][x2,y2]" used by UI snapshot
// dumps.
func (b Bounds) String() string {
	return fmt.Sprintf("[%d,%d][%d,%d]", b.X, b.Y, b.Right(), b.Bottom())
}

// Center returns the center point of the bounds
func (b Bounds) Center() Point {
	return Point{X: b.X + b.Width/2, Y: b.Y + b.Height/2}
}

// Contains checks if a point is within the bounds
func (b Bounds) Contains(p Point) bool {
	return p.X >= b.X && p.X < b.X+b.Width && p.Y >= b.Y && p.Y < b.Y+b.Height
}

// Right returns the exclusive right edge (x2).
func (b Bounds) Right() int {
	return b.X + b.Width
}

// Bottom returns the exclusive bottom edge (y2).
func (b Bounds) Bottom() int {
	return b.Y + b.Height
}

// Area returns the covered pixel area. Degenerate bounds report zero.
func (b Bounds) Area() int {
	if b.Width <= 0 || b.Height <= 0 {
		return 0
	}
	return b.Width * b.Height
}

// Empty reports whether the bounds cover no pixels.
func (b Bounds) Empty() bool {
	return b.Area() == 0
}

// Intersects reports whether two bounds share any pixels.
func (b Bounds) Intersects(o Bounds) bool {
	if b.Empty() || o.Empty() {
		return false
	}
	return b.X < o.Right() && o.X < b.Right() && b.Y < o.Bottom() && o.Y < b.Bottom()
}

// Coverage returns the bounds area as a fraction of the given screen
// area, clamped to [0, 1]. A zero-sized screen reports zero coverage.
func (b Bounds) Coverage(screenW, screenH int) float64 {
	if screenW <= 0 || screenH <= 0 {
		return 0
	}
	frac := float64(b.Area()) / float64(screenW*screenH)
	if frac > 1 {
		return 1
	}
	return frac
}

// ClampPoint clamps a point into the [0, w-1] x [0, h-1] screen rectangle.
func ClampPoint(p Point, screenW, screenH int) Point {
	x := p.X
	y := p.Y
	if x < 0 {
		x = 0
	}
	if screenW > 0 && x > screenW-1 {
		x = screenW - 1
	}
	if y < 0 {
		y = 0
	}
	if screenH > 0 && y > screenH-1 {
		y = screenH - 1
	}
	return Point{X: x, Y: y}
}
