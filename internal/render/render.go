// Package render draws the two-panel tariff view into an image.
package render

import (
	"image"
	"image/color"
	"image/draw"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/dokzlo13/tempod/internal/tempo"
)

var (
	background = color.RGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF}
	addressInk = color.RGBA{A: 0xFF}
)

// Layout is the panel geometry in pixels
type Layout struct {
	Width     int
	Height    int
	Border    int
	Separator int
}

// Bounds returns the full frame rectangle
func (l Layout) Bounds() image.Rectangle {
	return image.Rect(0, 0, l.Width, l.Height)
}

// Panels returns the today (left) and tomorrow (right) rectangles.
// The white border surrounds both and the separator sits centered on
// the vertical midline.
func (l Layout) Panels() (today, tomorrow image.Rectangle) {
	half := l.Width / 2
	sep := l.Separator / 2
	top, bottom := l.Border, l.Height-l.Border

	today = image.Rect(l.Border, top, half-sep, bottom)
	tomorrow = image.Rect(half+sep, top, l.Width-l.Border, bottom)
	return today, tomorrow
}

// Panel is one half of the view
type Panel struct {
	Color tempo.Color
	Date  string // empty when the clock is not synchronized
}

// View is everything shown on screen
type View struct {
	Today    Panel
	Tomorrow Panel
	Address  string
}

// Renderer draws views with a fixed layout
type Renderer struct {
	layout    Layout
	dateScale int
}

// New creates a renderer for the given layout
func New(layout Layout) *Renderer {
	return &Renderer{
		layout:    layout,
		dateScale: 2,
	}
}

// Layout returns the renderer geometry
func (r *Renderer) Layout() Layout {
	return r.layout
}

// Render draws v into a new frame
func (r *Renderer) Render(v View) *image.RGBA {
	frame := image.NewRGBA(r.layout.Bounds())
	draw.Draw(frame, frame.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)

	todayRect, tomorrowRect := r.layout.Panels()
	r.drawPanel(frame, todayRect, v.Today)
	r.drawPanel(frame, tomorrowRect, v.Tomorrow)

	if v.Address != "" {
		at := image.Pt(r.layout.Border, r.layout.Height-r.layout.Border-textHeight())
		drawText(frame, v.Address, at, addressInk, 1)
	}

	return frame
}

func (r *Renderer) drawPanel(dst draw.Image, rect image.Rectangle, p Panel) {
	draw.Draw(dst, rect, image.NewUniform(p.Color.RGBA()), image.Point{}, draw.Src)

	if p.Date == "" {
		return
	}

	w := textWidth(p.Date) * r.dateScale
	h := textHeight() * r.dateScale
	center := image.Pt((rect.Min.X+rect.Max.X)/2, (rect.Min.Y+rect.Max.Y)/2)
	drawText(dst, p.Date, image.Pt(center.X-w/2, center.Y-h/2), p.Color.TextRGBA(), r.dateScale)
}

func textWidth(s string) int {
	return font.MeasureString(basicfont.Face7x13, s).Ceil()
}

func textHeight() int {
	m := basicfont.Face7x13.Metrics()
	return (m.Ascent + m.Descent).Ceil()
}

// drawText renders s with its top-left corner at at, magnified by scale.
// basicfont only ships one size, so larger text is drawn once and scaled
// with nearest-neighbor to keep the bitmap edges crisp.
func drawText(dst draw.Image, s string, at image.Point, c color.Color, scale int) image.Rectangle {
	face := basicfont.Face7x13
	w, h := textWidth(s), textHeight()

	buf := image.NewRGBA(image.Rect(0, 0, w, h))
	d := font.Drawer{
		Dst:  buf,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(0, face.Metrics().Ascent.Ceil()),
	}
	d.DrawString(s)

	dr := image.Rect(at.X, at.Y, at.X+w*scale, at.Y+h*scale)
	xdraw.NearestNeighbor.Scale(dst, dr, buf, buf.Bounds(), xdraw.Over, nil)
	return dr
}
