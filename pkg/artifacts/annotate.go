package artifacts

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/stepguard-dev/stepguard/pkg/core"
)

var (
	markerColor  = color.RGBA{R: 255, G: 40, B: 40, A: 255}
	boxColor     = color.RGBA{R: 40, G: 120, B: 255, A: 255}
	outlineColor = color.RGBA{R: 0, G: 0, B: 0, A: 255}
)

// AnnotateFrame draws a crosshair at the dispatched point, optionally
// the target element's bounds, and a text label onto a PNG screenshot.
// The result is written next to the source as <name>-annotated.png and
// its path returned.
func AnnotateFrame(srcPath string, point core.Point, box *core.Bounds, label string) (string, error) {
	in, err := os.Open(srcPath) //#nosec G304 -- path inside the run dir
	if err != nil {
		return "", fmt.Errorf("open frame: %w", err)
	}
	img, err := png.Decode(in)
	in.Close()
	if err != nil {
		return "", fmt.Errorf("decode frame: %w", err)
	}

	rgba := toRGBA(img)
	drawCrosshair(rgba, point)
	if box != nil {
		drawRect(rgba, image.Rect(box.X, box.Y, box.Right(), box.Bottom()), boxColor)
	}
	if label != "" {
		drawLabel(rgba, point, label)
	}

	outPath := annotatedPath(srcPath)
	out, err := os.Create(outPath) //#nosec G304 -- path inside the run dir
	if err != nil {
		return "", fmt.Errorf("create annotated frame: %w", err)
	}
	defer out.Close()
	if err := png.Encode(out, rgba); err != nil {
		return "", fmt.Errorf("encode annotated frame: %w", err)
	}
	return outPath, nil
}

func annotatedPath(srcPath string) string {
	ext := filepath.Ext(srcPath)
	return strings.TrimSuffix(srcPath, ext) + "-annotated" + ext
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	rgba := image.NewRGBA(img.Bounds())
	draw.Draw(rgba, rgba.Bounds(), img, img.Bounds().Min, draw.Src)
	return rgba
}

// drawCrosshair marks the point with a circle sized to 2% of the short
// screen edge plus full-length crosshair arms.
func drawCrosshair(img *image.RGBA, p core.Point) {
	b := img.Bounds()
	short := b.Dx()
	if b.Dy() < short {
		short = b.Dy()
	}
	radius := short / 50
	if radius < 6 {
		radius = 6
	}

	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			d2 := dx*dx + dy*dy
			r2 := radius * radius
			inner := (radius - 2) * (radius - 2)
			if d2 <= r2 && d2 >= inner {
				setPixel(img, p.X+dx, p.Y+dy, markerColor)
			}
		}
	}

	arm := radius * 2
	for d := -arm; d <= arm; d++ {
		setPixel(img, p.X+d, p.Y, markerColor)
		setPixel(img, p.X, p.Y+d, markerColor)
	}
}

// drawRect strokes a two-pixel rectangle outline, clamped to the
// image bounds.
func drawRect(img *image.RGBA, r image.Rectangle, c color.Color) {
	r = r.Intersect(img.Bounds())
	if r.Empty() {
		return
	}
	for t := 0; t < 2; t++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			setPixel(img, x, r.Min.Y+t, c)
			setPixel(img, x, r.Max.Y-1-t, c)
		}
		for y := r.Min.Y; y < r.Max.Y; y++ {
			setPixel(img, r.Min.X+t, y, c)
			setPixel(img, r.Max.X-1-t, y, c)
		}
	}
}

// drawLabel places outlined text near the marked point, nudged inside
// the frame so labels at screen edges stay readable. Face7x13 glyphs
// are 7 pixels wide and 13 tall.
func drawLabel(img *image.RGBA, p core.Point, text string) {
	b := img.Bounds()
	width := len(text) * 7

	x := p.X + 16
	y := p.Y - 16
	if x+width > b.Max.X {
		x = p.X - 16 - width
	}
	if x < b.Min.X {
		x = b.Min.X
	}
	if y-13 < b.Min.Y {
		y = p.Y + 16 + 13
	}

	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			drawString(img, x+dx, y+dy, text, outlineColor)
		}
	}
	drawString(img, x, y, text, markerColor)
}

func drawString(img *image.RGBA, x, y int, text string, c color.Color) {
	d := font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.Int26_6(x * 64), Y: fixed.Int26_6(y * 64)},
	}
	d.DrawString(text)
}

func setPixel(img *image.RGBA, x, y int, c color.Color) {
	if image.Pt(x, y).In(img.Bounds()) {
		img.Set(x, y, c)
	}
}
