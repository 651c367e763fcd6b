package web

import (
	"fmt"
	"io"
	"math"

	"github.com/fogleman/gg"

	"github.com/cjeanneret/abkant/internal/logic/sequence"
)

const dialSize = 320

// point returns the position at deg (0 at top, clockwise) on a circle.
func point(cx, cy, radius, deg float64) (float64, float64) {
	rad := gg.Radians(deg)
	return cx + radius*math.Sin(rad), cy - radius*math.Cos(rad)
}

// DrawDial renders a gauge of the live angle with every target marked.
// The current target is drawn thicker; the needle is green while the
// output is on.
func DrawDial(st sequence.Status, size int) *gg.Context {
	s := float64(size)
	cx, cy := s/2, s/2
	radius := s/2 - 12

	c := gg.NewContext(size, size)
	c.SetRGB(1, 1, 1)
	c.Clear()

	c.SetRGB(0.2, 0.2, 0.2)
	c.SetLineWidth(3)
	c.DrawCircle(cx, cy, radius)
	c.Stroke()

	c.SetLineWidth(1)
	for deg := 0.0; deg < 360; deg += 30 {
		x1, y1 := point(cx, cy, radius, deg)
		x2, y2 := point(cx, cy, radius-10, deg)
		c.DrawLine(x1, y1, x2, y2)
	}
	c.Stroke()

	for i, target := range st.TargetAngles {
		width := 2.0
		if st.Active && i == st.CurrentTargetIndex {
			width = 5
		}
		if i < st.CurrentTargetIndex {
			c.SetRGB(0.6, 0.6, 0.6)
		} else {
			c.SetRGB(0.85, 0.1, 0.1)
		}
		c.SetLineWidth(width)
		x1, y1 := point(cx, cy, radius+6, target)
		x2, y2 := point(cx, cy, radius-18, target)
		c.DrawLine(x1, y1, x2, y2)
		c.Stroke()
	}

	if st.OutputOn {
		c.SetRGB(0.1, 0.6, 0.2)
	} else {
		c.SetRGB(0.1, 0.2, 0.7)
	}
	c.SetLineWidth(4)
	x, y := point(cx, cy, radius-24, st.Angle)
	c.DrawLine(cx, cy, x, y)
	c.Stroke()
	c.DrawCircle(cx, cy, 6)
	c.Fill()

	c.SetRGB(0, 0, 0)
	c.DrawStringAnchored(fmt.Sprintf("%.1f°", st.Angle), cx, cy+radius/2, 0.5, 0.5)
	if st.TotalRuns > 0 {
		c.DrawStringAnchored(fmt.Sprintf("run %d/%d", st.CurrentRun, st.TotalRuns), cx, cy+radius/2+16, 0.5, 0.5)
	}
	return c
}

// WriteDial renders the dial as PNG to w.
func WriteDial(w io.Writer, st sequence.Status, size int) error {
	return DrawDial(st, size).EncodePNG(w)
}
