package video

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sort"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	colorBox      = color.RGBA{R: 0, G: 200, B: 0, A: 255}
	colorCounted  = color.RGBA{R: 255, G: 165, B: 0, A: 255}
	colorBoundary = color.RGBA{R: 220, G: 0, B: 0, A: 255}
	colorBand     = color.RGBA{R: 255, G: 255, B: 0, A: 255}
	colorText     = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	colorLive     = color.RGBA{R: 0, G: 220, B: 0, A: 255}
	colorDown     = color.RGBA{R: 230, G: 0, B: 0, A: 255}
	colorShade    = color.RGBA{R: 0, G: 0, B: 0, A: 160}
)

// Box is a detection drawn on the overlay
type Box struct {
	Rect    image.Rectangle
	Label   string
	Counted bool
}

// Band is a horizontal counting band: Y ± Offset
type Band struct {
	Y      int
	Offset int
}

// Overlay describes everything drawn on top of a frame
type Overlay struct {
	Boxes    []Box
	Band     *Band
	Line     *[2]image.Point
	Totals   map[string]int
	Location string
	Live     bool
}

// Annotate draws the overlay onto a copy of img
func Annotate(img image.Image, ov Overlay) *image.RGBA {
	dst := ToRGBA(img)

	if ov.Band != nil {
		w := dst.Bounds().Dx()
		drawLine(dst, image.Pt(0, ov.Band.Y), image.Pt(w-1, ov.Band.Y), colorBoundary, 2)
		if ov.Band.Offset > 0 {
			drawLine(dst, image.Pt(0, ov.Band.Y-ov.Band.Offset), image.Pt(w-1, ov.Band.Y-ov.Band.Offset), colorBand, 1)
			drawLine(dst, image.Pt(0, ov.Band.Y+ov.Band.Offset), image.Pt(w-1, ov.Band.Y+ov.Band.Offset), colorBand, 1)
		}
	}
	if ov.Line != nil {
		drawLine(dst, ov.Line[0], ov.Line[1], colorBoundary, 2)
	}

	for _, b := range ov.Boxes {
		col := colorBox
		if b.Counted {
			col = colorCounted
		}
		drawRect(dst, b.Rect, col, 2)
		if b.Label != "" {
			y := b.Rect.Min.Y - 4
			if y < 13 {
				y = b.Rect.Min.Y + 13
			}
			drawLabel(dst, b.Label, image.Pt(b.Rect.Min.X, y), col)
		}
	}

	drawPanel(dst, ov)
	return dst
}

// drawPanel renders totals, location and stream status in the top-left corner
func drawPanel(dst *image.RGBA, ov Overlay) {
	lines := make([]string, 0, len(ov.Totals)+2)
	if ov.Location != "" {
		lines = append(lines, "Location: "+ov.Location)
	}

	classes := make([]string, 0, len(ov.Totals))
	total := 0
	for class, n := range ov.Totals {
		classes = append(classes, class)
		total += n
	}
	sort.Strings(classes)
	for _, class := range classes {
		lines = append(lines, fmt.Sprintf("%s: %d", class, ov.Totals[class]))
	}
	lines = append(lines, fmt.Sprintf("Total: %d", total))

	face := basicfont.Face7x13
	lineHeight := face.Metrics().Height.Ceil() + 2
	width := 0
	for _, l := range lines {
		if w := font.MeasureString(face, l).Ceil(); w > width {
			width = w
		}
	}
	panel := image.Rect(5, 5, 15+width, 10+lineHeight*len(lines))
	draw.Draw(dst, panel.Intersect(dst.Bounds()), image.NewUniform(colorShade), image.Point{}, draw.Over)
	for i, l := range lines {
		drawLabel(dst, l, image.Pt(10, 5+lineHeight*(i+1)), colorText)
	}

	status, col := "RECONNECTING", colorDown
	if ov.Live {
		status, col = "LIVE", colorLive
	}
	sx := dst.Bounds().Dx() - font.MeasureString(face, status).Ceil() - 10
	drawLabel(dst, status, image.Pt(sx, 20), col)
}

// Placeholder renders a dark frame with centered text, used when no frame
// is available yet
func Placeholder(width, height int, text string) *image.RGBA {
	if width <= 0 {
		width = 640
	}
	if height <= 0 {
		height = 480
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{R: 20, G: 20, B: 20, A: 255}), image.Point{}, draw.Src)

	face := basicfont.Face7x13
	tw := font.MeasureString(face, text).Ceil()
	drawLabel(img, text, image.Pt((width-tw)/2, height/2), colorText)
	return img
}

// PlaceholderJPEG renders and encodes a placeholder frame
func PlaceholderJPEG(width, height int, text string) ([]byte, error) {
	return EncodeJPEG(Placeholder(width, height, text), DefaultJPEGQuality)
}

func drawLabel(dst draw.Image, text string, pt image.Point, col color.Color) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(col),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(pt.X), Y: fixed.I(pt.Y)},
	}
	d.DrawString(text)
}

func drawRect(img *image.RGBA, rect image.Rectangle, col color.Color, thickness int) {
	rect = rect.Canon().Intersect(img.Bounds())
	if rect.Empty() {
		return
	}
	for i := 0; i < thickness; i++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			img.Set(x, rect.Min.Y+i, col)   // Top border
			img.Set(x, rect.Max.Y-i-1, col) // Bottom border
		}
		for y := rect.Min.Y; y < rect.Max.Y; y++ {
			img.Set(rect.Min.X+i, y, col)   // Left border
			img.Set(rect.Max.X-i-1, y, col) // Right border
		}
	}
}

// drawLine draws a line with Bresenham's algorithm; pixels outside the
// image are ignored by Set
func drawLine(img *image.RGBA, a, b image.Point, col color.Color, thickness int) {
	dx := abs(b.X - a.X)
	dy := -abs(b.Y - a.Y)
	sx, sy := 1, 1
	if a.X > b.X {
		sx = -1
	}
	if a.Y > b.Y {
		sy = -1
	}
	e := dx + dy
	x, y := a.X, a.Y
	half := thickness / 2
	for {
		for t := -half; t <= half; t++ {
			if dx > -dy {
				img.Set(x, y+t, col)
			} else {
				img.Set(x+t, y, col)
			}
		}
		if x == b.X && y == b.Y {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x += sx
		}
		if e2 <= dx {
			e += dx
			y += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
