// Package wcs provides the narrow slice of world-coordinate-system
// behavior the numerical core depends on: a linear pixel<->sky
// transform built from a FITS CD matrix, footprint tests, angular
// separations, and a flux-conserving reprojection between grids.
// A full spherical-projection library can replace Transform wholesale;
// everything downstream only uses this interface surface.
package wcs

import(
	"math"

	"github.com/mtarenghi/psfcross/pkg/fgrid"
)

const (
	DegPerRad    = 180.0 / math.Pi
	ArcsecPerDeg = 3600.0
)

// A Sky is a position on the celestial sphere, in degrees.
type Sky struct {
	RA  float64
	Dec float64
}

// Separation returns the angular separation between two sky positions,
// in arcseconds. Uses the spherical law of cosines, which is plenty at
// the arcsecond scales star curation cares about.
func Separation(a, b Sky) float64 {
	d1 := a.Dec / DegPerRad
	d2 := b.Dec / DegPerRad
	dra := (a.RA - b.RA) / DegPerRad
	c := math.Sin(d1)*math.Sin(d2) + math.Cos(d1)*math.Cos(d2)*math.Cos(dra)
	if c > 1 { c = 1 }
	if c < -1 { c = -1 }
	return math.Acos(c) * DegPerRad * ArcsecPerDeg
}

// A Transform is a linear WCS: a CD pixel-scale matrix (degrees per
// pixel) anchored at a reference pixel/sky pair, plus the pixel
// dimensions of the grid it governs. Pixel coordinates are zero-based.
type Transform struct {
	CD1_1, CD1_2 float64
	CD2_1, CD2_2 float64
	CRPixX, CRPixY float64
	CRVal          Sky
	NX, NY         int
}

func (t Transform)PixelToSky(x, y float64) Sky {
	dx := x - t.CRPixX
	dy := y - t.CRPixY
	cosDec := math.Cos(t.CRVal.Dec / DegPerRad)
	return Sky{
		RA:  t.CRVal.RA + (t.CD1_1*dx+t.CD1_2*dy)/cosDec,
		Dec: t.CRVal.Dec + t.CD2_1*dx + t.CD2_2*dy,
	}
}

func (t Transform)SkyToPixel(s Sky) (float64, float64) {
	cosDec := math.Cos(t.CRVal.Dec / DegPerRad)
	u := (s.RA - t.CRVal.RA) * cosDec
	v := s.Dec - t.CRVal.Dec
	det := t.CD1_1*t.CD2_2 - t.CD1_2*t.CD2_1
	dx := (t.CD2_2*u - t.CD1_2*v) / det
	dy := (t.CD1_1*v - t.CD2_1*u) / det
	return t.CRPixX + dx, t.CRPixY + dy
}

// FootprintContains reports whether a sky position lands on the grid.
// For a linear transform the on-sky footprint is exactly the pixel
// rectangle; a curved projection would override this with a polygon
// test.
func (t Transform)FootprintContains(s Sky) bool {
	x, y := t.SkyToPixel(s)
	return x >= -0.5 && x < float64(t.NX)-0.5 && y >= -0.5 && y < float64(t.NY)-0.5
}

// PixelScale returns the linear scale of the X pixel axis in
// arcsec/pixel.
func (t Transform)PixelScale() float64 {
	return math.Hypot(t.CD1_1, t.CD2_1) * ArcsecPerDeg
}

// PixelArea returns the solid angle of one pixel, in square degrees.
func (t Transform)PixelArea() float64 {
	return math.Abs(t.CD1_1*t.CD2_2 - t.CD1_2*t.CD2_1)
}

// RotationDeg returns the position angle of the pixel Y axis relative
// to celestial north, in degrees: atan2(-CD1_2, CD2_2).
func (t Transform)RotationDeg() float64 {
	return math.Atan2(-t.CD1_2, t.CD2_2) * DegPerRad
}

// Zoomed returns the transform of the same field sampled k times finer,
// with pixel centers aligned the way fgrid.Zoomed aligns them.
func (t Transform)Zoomed(k int) Transform {
	if k <= 1 {
		return t
	}
	fk := float64(k)
	out := t
	out.CD1_1 /= fk
	out.CD1_2 /= fk
	out.CD2_1 /= fk
	out.CD2_2 /= fk
	out.CRPixX = t.CRPixX*fk + (fk-1)/2.0
	out.CRPixY = t.CRPixY*fk + (fk-1)/2.0
	out.NX = t.NX * k
	out.NY = t.NY * k
	return out
}

// Reproject resamples src (governed by from) onto the pixel grid of
// to, conserving flux: surface-brightness-like values are multiplied
// by the destination/source pixel-area ratio. Destination pixels that
// fall outside the source grid come back as NaN.
func Reproject(src *fgrid.Grid, from, to Transform) fgrid.Grid {
	out := fgrid.New(to.NX, to.NY)
	ratio := to.PixelArea() / from.PixelArea()
	for y:=0; y<to.NY; y++ {
		for x:=0; x<to.NX; x++ {
			sx, sy := from.SkyToPixel(to.PixelToSky(float64(x), float64(y)))
			out.Set(x, y, src.Bilinear(sx, sy)*ratio)
		}
	}
	return out
}

// An EllipseRegion is an elliptical on-sky exclusion zone, typically
// covering the target galaxy so its clumpy light is not mistaken for
// point sources. Axes are semi-axes in arcseconds; the position angle
// is counted from North, counter-clockwise.
type EllipseRegion struct {
	Center             Sky
	SemiMajor, SemiMinor float64
	PADeg              float64
}

func (e EllipseRegion)Contains(s Sky) bool {
	cosDec := math.Cos(e.Center.Dec / DegPerRad)
	du := (s.RA - e.Center.RA) * cosDec * ArcsecPerDeg
	dv := (s.Dec - e.Center.Dec) * ArcsecPerDeg
	// rotate into the ellipse frame; PA from North means the major axis
	// starts along +Dec
	pa := e.PADeg / DegPerRad
	major := dv*math.Cos(pa) - du*math.Sin(pa)
	minor := du*math.Cos(pa) + dv*math.Sin(pa)
	a := major / e.SemiMajor
	b := minor / e.SemiMinor
	return a*a+b*b <= 1.0
}
