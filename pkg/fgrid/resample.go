package fgrid

// Interpolated resampling between pixel grids: sub-pixel sampling,
// shifts, rotation and integer-factor oversampling.

import(
	"math"
)

// Bilinear samples the grid at a fractional pixel position. Positions
// outside the grid return NaN, so callers can tell "no data" apart
// from a legitimate zero.
func (g *Grid)Bilinear(x, y float64) float64 {
	if x < 0 || y < 0 || x > float64(g.Dx()-1) || y > float64(g.Dy()-1) {
		return math.NaN()
	}
	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))
	x1, y1 := x0+1, y0+1
	if x1 > g.Dx()-1 { x1 = x0 }
	if y1 > g.Dy()-1 { y1 = y0 }
	fx := x - float64(x0)
	fy := y - float64(y0)

	v00 := g.Get(x0, y0)
	v10 := g.Get(x1, y0)
	v01 := g.Get(x0, y1)
	v11 := g.Get(x1, y1)

	return v00*(1-fx)*(1-fy) + v10*fx*(1-fy) + v01*(1-fx)*fy + v11*fx*fy
}

// Shifted returns the grid translated by (dx, dy) pixels, bilinear
// interpolated. Pixels shifted in from outside become zero.
func (g *Grid)Shifted(dx, dy float64) Grid {
	out := g.NewFromThis()
	for y:=0; y<g.Dy(); y++ {
		for x:=0; x<g.Dx(); x++ {
			v := g.Bilinear(float64(x)-dx, float64(y)-dy)
			if !isFinite(v) { v = 0 }
			out.Set(x, y, v)
		}
	}
	return out
}

// Rotated returns the grid rotated counter-clockwise about its center
// by thetaDeg. The output is grown so the rotated footprint fits; the
// fill value is zero.
func (g *Grid)Rotated(thetaDeg float64) Grid {
	w, h := g.Dx(), g.Dy()
	cosT := math.Abs(math.Cos(thetaDeg * math.Pi / 180.0))
	sinT := math.Abs(math.Sin(thetaDeg * math.Pi / 180.0))
	ow := int(math.Round(float64(w)*cosT + float64(h)*sinT))
	oh := int(math.Round(float64(w)*sinT + float64(h)*cosT))
	// preserve parity so an odd kernel keeps a well-defined central pixel
	if (ow-w)%2 != 0 { ow++ }
	if (oh-h)%2 != 0 { oh++ }

	cx := float64(w-1) / 2.0
	cy := float64(h-1) / 2.0
	ocx := float64(ow-1) / 2.0
	ocy := float64(oh-1) / 2.0

	// map output pixels back into the source grid
	inv := RotateAbout(thetaDeg, 0, 0).Invert()

	out := New(ow, oh)
	for y:=0; y<oh; y++ {
		for x:=0; x<ow; x++ {
			sx, sy := inv.Apply(float64(x)-ocx, float64(y)-ocy)
			v := g.Bilinear(sx+cx, sy+cy)
			if !isFinite(v) { v = 0 }
			out.Set(x, y, v)
		}
	}
	return out
}

// Zoomed resamples the grid onto a k-times finer grid by bilinear
// interpolation. Values are interpolated, not divided: the total
// roughly scales by k*k, and callers conserving flux divide by that
// (images) or renormalize (kernels).
func (g *Grid)Zoomed(k int) Grid {
	if k <= 1 {
		return g.Copy()
	}
	w, h := g.Dx()*k, g.Dy()*k
	out := New(w, h)
	for y:=0; y<h; y++ {
		for x:=0; x<w; x++ {
			// align pixel centers between the two grids
			sx := (float64(x)+0.5)/float64(k) - 0.5
			sy := (float64(y)+0.5)/float64(k) - 0.5
			if sx < 0 { sx = 0 }
			if sy < 0 { sy = 0 }
			v := g.Bilinear(sx, sy)
			if !isFinite(v) { v = 0 }
			out.Set(x, y, v)
		}
	}
	return out
}

// SubGrid copies out a w x h window with its top-left corner at
// (x0, y0). The second return is false if the window leaves the grid.
func (g *Grid)SubGrid(x0, y0, w, h int) (Grid, bool) {
	if x0 < 0 || y0 < 0 || x0+w > g.Dx() || y0+h > g.Dy() {
		return Grid{}, false
	}
	out := New(w, h)
	for y:=0; y<h; y++ {
		for x:=0; x<w; x++ {
			out.Set(x, y, g.Get(x0+x, y0+y))
		}
	}
	return out, true
}
