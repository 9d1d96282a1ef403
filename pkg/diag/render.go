// Package diag renders quick-look images and histograms for eyeballing
// a run: PSF stamps, fit residuals, flux-ratio distributions. Nothing
// in the measurement path depends on it.
package diag

import(
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/fogleman/gg"
	"github.com/lucasb-eyer/go-colorful"

	"github.com/mtarenghi/psfcross/pkg/fgrid"
)

// SaveGridPNG writes a grayscale rendering of the grid, stretched over
// its own value range and gamma-expanded to look normal to human
// vision.
func SaveGridPNG(g *fgrid.Grid, title, filename string) error {
	if g.Empty() {
		return fmt.Errorf("diag: nothing to render for %q", title)
	}
	min, max := g.MinMax()
	span := max - min
	if span == 0 { span = 1 }

	img := image.NewRGBA64(image.Rectangle{Max: image.Point{g.Dx(), g.Dy()}})
	for y:=0; y<g.Dy(); y++ {
		for x:=0; x<g.Dx(); x++ {
			v := g.Get(x, y)
			if math.IsNaN(v) { v = min }
			gray := gammaExpand((v - min) / span)
			c := color.RGBA64{uint16(gray * 65535.0), uint16(gray * 65535.0), uint16(gray * 65535.0), 0xFFFF}
			img.Set(x, y, c)
		}
	}

	dc := gg.NewContextForImage(img)
	dc.SetRGB(1, 1, 1)
	dc.DrawString(title, 10, 20)
	return dc.SavePNG(filename)
}

// SaveResidualPNG writes a diverging blue/white/red rendering of a
// signed grid, symmetric about zero so over- and under-subtraction
// read as opposite colors.
func SaveResidualPNG(g *fgrid.Grid, title, filename string) error {
	if g.Empty() {
		return fmt.Errorf("diag: nothing to render for %q", title)
	}
	limit := 0.0
	for _, v := range g.Values() {
		if a := math.Abs(v); a > limit && !math.IsNaN(a) {
			limit = a
		}
	}
	if limit == 0 { limit = 1 }

	neg := colorful.Color{R: 0.16, G: 0.33, B: 0.73}
	mid := colorful.Color{R: 1, G: 1, B: 1}
	pos := colorful.Color{R: 0.81, G: 0.17, B: 0.19}

	img := image.NewRGBA64(image.Rectangle{Max: image.Point{g.Dx(), g.Dy()}})
	for y:=0; y<g.Dy(); y++ {
		for x:=0; x<g.Dx(); x++ {
			v := g.Get(x, y)
			if math.IsNaN(v) { v = 0 }
			t := v / limit
			var c colorful.Color
			if t < 0 {
				c = mid.BlendLab(neg, -t)
			} else {
				c = mid.BlendLab(pos, t)
			}
			r, gg16, b := c.Clamped().RGB255()
			img.Set(x, y, color.RGBA64{uint16(r) * 257, uint16(gg16) * 257, uint16(b) * 257, 0xFFFF})
		}
	}

	dc := gg.NewContextForImage(img)
	dc.SetRGB(0, 0, 0)
	dc.DrawString(title, 10, 20)
	return dc.SavePNG(filename)
}

// SavePSFMontage writes the PSF stamp and its residual side by side,
// scaled up so structure is visible at a glance.
func SavePSFMontage(psf, residual *fgrid.Grid, filename string) error {
	const zoom = 8
	const pad = 10
	w := (psf.Dx() + residual.Dx()) * zoom + 3*pad
	h := maxInt(psf.Dy(), residual.Dy())*zoom + 2*pad + 20

	dc := gg.NewContext(w, h)
	dc.SetRGB(0.1, 0.1, 0.1)
	dc.Clear()

	drawPanel(dc, psf, pad, pad, zoom, false)
	drawPanel(dc, residual, 2*pad+psf.Dx()*zoom, pad, zoom, true)

	dc.SetRGB(1, 1, 1)
	dc.DrawString("psf", float64(pad), float64(h-6))
	dc.DrawString("residual", float64(2*pad+psf.Dx()*zoom), float64(h-6))
	return dc.SavePNG(filename)
}

func drawPanel(dc *gg.Context, g *fgrid.Grid, x0, y0, zoom int, diverging bool) {
	min, max := g.MinMax()
	span := max - min
	if span == 0 { span = 1 }
	limit := math.Max(math.Abs(min), math.Abs(max))
	if limit == 0 { limit = 1 }

	neg := colorful.Color{R: 0.16, G: 0.33, B: 0.73}
	mid := colorful.Color{R: 1, G: 1, B: 1}
	pos := colorful.Color{R: 0.81, G: 0.17, B: 0.19}

	for y:=0; y<g.Dy(); y++ {
		for x:=0; x<g.Dx(); x++ {
			v := g.Get(x, y)
			if math.IsNaN(v) { v = min }
			if diverging {
				t := v / limit
				var c colorful.Color
				if t < 0 {
					c = mid.BlendLab(neg, -t)
				} else {
					c = mid.BlendLab(pos, t)
				}
				dc.SetColor(c.Clamped())
			} else {
				gray := gammaExpand((v - min) / span)
				dc.SetRGB(gray, gray, gray)
			}
			dc.DrawRectangle(float64(x0+x*zoom), float64(y0+y*zoom), float64(zoom), float64(zoom))
			dc.Fill()
		}
	}
}

func maxInt(a, b int) int {
	if a > b { return a }
	return b
}

// sRGB-ish expansion; exact colorimetry doesn't matter for a
// diagnostic stamp
func gammaExpand(v float64) float64 {
	if v <= 0 { return 0 }
	if v >= 1 { return 1 }
	return math.Pow(v, 1.0/2.2)
}
