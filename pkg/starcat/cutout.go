package starcat

import(
	"math"

	"github.com/mtarenghi/psfcross/pkg/fgrid"
	"github.com/mtarenghi/psfcross/pkg/wcs"
)

// A Cutout is a small square patch around one catalog star, recentered
// on the measured intensity peak. CX/CY locate that peak inside the
// patch; X/Y and Pos locate it in the full frame, in pixel and sky
// coordinates.
type Cutout struct {
	Data   fgrid.Grid
	CX, CY float64
	X, Y   float64
	Pos    wcs.Sky
}

type ExtractOptions struct {
	MaxInvalid    int     // masked pixels tolerated per cutout
	PeakThreshold float64 // relative to the cutout maximum
}

func DefaultExtractOptions() ExtractOptions {
	return ExtractOptions{
		MaxInvalid:    5,
		PeakThreshold: 0.05,
	}
}

// ExtractCutouts cuts an angularSize x angularSize patch around each
// catalog entry in the native grid of the supplied image, refines the
// star's position by 2-D peak detection, and emits an npix x npix
// cutout centered on the refined position.
//
// Entries are skipped (never an error - one bad star must not sink the
// batch) when the patch leaves the image, contains non-finite pixels,
// has too many masked pixels, or shows more than one peak. When no
// peak clears the threshold, the global maximum is used instead.
func ExtractCutouts(cat Catalog, data *fgrid.Grid, tr wcs.Transform, angularSize float64, npix int, mask *fgrid.Grid, opts ExtractOptions) []Cutout {
	zpix := int(math.Round(angularSize / tr.PixelScale()))
	if zpix < 3 { zpix = 3 }

	cutouts := []Cutout{}
	for _, e := range cat.Entries {
		nx, ny := tr.SkyToPixel(e.Pos)
		x0 := int(math.Round(nx)) - zpix/2
		y0 := int(math.Round(ny)) - zpix/2

		patch, ok := data.SubGrid(x0, y0, zpix, zpix)
		if !ok {
			continue
		}
		if patch.CountNonFinite() > 0 {
			continue
		}
		if mask != nil && countMasked(mask, x0, y0, zpix, zpix) >= opts.MaxInvalid {
			continue
		}

		peaks := FindPeaks(&patch, opts.PeakThreshold*patch.Max())
		if len(peaks) > 1 {
			continue // blended or confused - do not guess
		}
		px, py := globalMax(&patch)
		if len(peaks) == 1 {
			px, py = peaks[0].X, peaks[0].Y
		}

		// back out to sky via the patch's own corner of the transform,
		// then into full-frame pixels
		pos := tr.PixelToSky(float64(x0+px), float64(y0+py))
		rx, ry := tr.SkyToPixel(pos)

		cx0 := int(math.Round(rx)) - npix/2
		cy0 := int(math.Round(ry)) - npix/2
		cut, ok := data.SubGrid(cx0, cy0, npix, npix)
		if !ok {
			continue
		}

		cutouts = append(cutouts, Cutout{
			Data: cut,
			CX:   rx - float64(cx0),
			CY:   ry - float64(cy0),
			X:    rx,
			Y:    ry,
			Pos:  pos,
		})
	}
	return cutouts
}

type Peak struct {
	X, Y  int
	Value float64
}

// FindPeaks returns the 2-D local maxima above threshold: pixels
// strictly greater than all eight neighbors. Border pixels are not
// eligible.
func FindPeaks(g *fgrid.Grid, threshold float64) []Peak {
	peaks := []Peak{}
	for y:=1; y<g.Dy()-1; y++ {
		for x:=1; x<g.Dx()-1; x++ {
			v := g.Get(x, y)
			if v < threshold {
				continue
			}
			isMax := true
			for dy:=-1; dy<=1 && isMax; dy++ {
				for dx:=-1; dx<=1; dx++ {
					if dx == 0 && dy == 0 {
						continue
					}
					if g.Get(x+dx, y+dy) >= v {
						isMax = false
						break
					}
				}
			}
			if isMax {
				peaks = append(peaks, Peak{X: x, Y: y, Value: v})
			}
		}
	}
	return peaks
}

func globalMax(g *fgrid.Grid) (int, int) {
	bx, by := 0, 0
	best := math.Inf(-1)
	for y:=0; y<g.Dy(); y++ {
		for x:=0; x<g.Dx(); x++ {
			if v := g.Get(x, y); v > best {
				best, bx, by = v, x, y
			}
		}
	}
	return bx, by
}

func countMasked(mask *fgrid.Grid, x0, y0, w, h int) int {
	n := 0
	for y:=y0; y<y0+h; y++ {
		for x:=x0; x<x0+w; x++ {
			if x < 0 || y < 0 || x >= mask.Dx() || y >= mask.Dy() {
				continue
			}
			if mask.Get(x, y) != 0 {
				n++
			}
		}
	}
	return n
}
