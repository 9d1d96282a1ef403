package wcs

import (
	"math"
	"testing"

	"github.com/mtarenghi/psfcross/pkg/fgrid"
)

// 0.2 arcsec/px, north-up
func testTransform() Transform {
	return Transform{
		CD1_1: -0.2 / 3600.0, CD1_2: 0,
		CD2_1: 0, CD2_2: 0.2 / 3600.0,
		CRPixX: 49.5, CRPixY: 49.5,
		CRVal:  Sky{RA: 150.0, Dec: 2.0},
		NX:     100, NY: 100,
	}
}

func TestPixelSkyRoundtrip(t *testing.T) {
	tr := testTransform()
	var cases = []struct{ x, y float64 }{
		{0, 0}, {49.5, 49.5}, {99, 0}, {12.25, 80.75},
	}
	for _, c := range cases {
		s := tr.PixelToSky(c.x, c.y)
		x, y := tr.SkyToPixel(s)
		if math.Abs(x-c.x) > 1e-9 || math.Abs(y-c.y) > 1e-9 {
			t.Errorf("roundtrip (%v,%v) -> (%v,%v)", c.x, c.y, x, y)
		}
	}
}

func TestSeparation(t *testing.T) {
	a := Sky{RA: 150.0, Dec: 2.0}
	b := Sky{RA: 150.0, Dec: 2.0 + 1.0/3600.0}
	if sep := Separation(a, b); math.Abs(sep-1.0) > 1e-6 {
		t.Errorf("1 arcsec Dec offset: separation = %v", sep)
	}
	if sep := Separation(a, a); sep > 1e-9 {
		t.Errorf("self separation = %v, want 0", sep)
	}

	// an RA offset shrinks by cos(Dec)
	far := Sky{RA: 150.0, Dec: 60.0}
	off := Sky{RA: 150.0 + 1.0/3600.0, Dec: 60.0}
	if sep := Separation(far, off); math.Abs(sep-0.5) > 1e-3 {
		t.Errorf("RA offset at Dec 60: separation = %v, want ~0.5", sep)
	}
}

func TestPixelScaleAndRotation(t *testing.T) {
	tr := testTransform()
	if s := tr.PixelScale(); math.Abs(s-0.2) > 1e-9 {
		t.Errorf("pixel scale = %v, want 0.2", s)
	}
	if r := tr.RotationDeg(); math.Abs(r) > 1e-9 {
		t.Errorf("north-up rotation = %v, want 0", r)
	}

	// rotate the CD matrix by 30 degrees
	theta := 30.0 / DegPerRad
	s := 0.2 / 3600.0
	rot := tr
	rot.CD1_1 = -s * math.Cos(theta)
	rot.CD1_2 = s * math.Sin(theta)
	rot.CD2_1 = s * math.Sin(theta)
	rot.CD2_2 = s * math.Cos(theta)
	if r := rot.RotationDeg(); math.Abs(r-(-30.0)) > 1e-9 {
		t.Errorf("rotated transform: rotation = %v, want -30", r)
	}
}

func TestFootprintContains(t *testing.T) {
	tr := testTransform()
	if !tr.FootprintContains(tr.PixelToSky(50, 50)) {
		t.Error("center should be inside the footprint")
	}
	if tr.FootprintContains(tr.PixelToSky(150, 50)) {
		t.Error("position off the grid should be outside the footprint")
	}
}

func TestZoomedKeepsSkyAnchors(t *testing.T) {
	tr := testTransform()
	z := tr.Zoomed(2)
	if z.NX != 200 || z.NY != 200 {
		t.Fatalf("zoomed dims %dx%d, want 200x200", z.NX, z.NY)
	}
	// the same sky position must land on the matching fine pixel
	s := tr.PixelToSky(10, 20)
	x, y := z.SkyToPixel(s)
	if math.Abs(x-20.5) > 1e-6 || math.Abs(y-40.5) > 1e-6 {
		t.Errorf("sky anchor moved: got (%v,%v), want (20.5,40.5)", x, y)
	}
}

func TestReprojectIdentity(t *testing.T) {
	tr := testTransform()
	src := fgrid.New(100, 100)
	src.Set(30, 40, 5.0)
	out := Reproject(&src, tr, tr)
	if got := out.Get(30, 40); math.Abs(got-5.0) > 1e-9 {
		t.Errorf("identity reprojection moved flux: %v", got)
	}
}

func TestReprojectConservesFlux(t *testing.T) {
	tr := testTransform()
	src := fgrid.New(100, 100)
	src.Fill(3.0)

	// half-size pixels: per-pixel values drop by the area ratio
	fine := tr.Zoomed(2)
	out := Reproject(&src, tr, fine)
	if got := out.Get(100, 100); math.Abs(got-0.75) > 1e-9 {
		t.Errorf("fine pixel value = %v, want 0.75", got)
	}

	// total flux over the shared footprint is unchanged; the half-pixel
	// rim that maps outside the source comes back NaN and is dropped
	out.ZeroNonFinite()
	ratio := out.Sum() / src.Sum()
	if math.Abs(ratio-1.0) > 0.02 {
		t.Errorf("flux ratio after reprojection = %v, want ~1", ratio)
	}
}

func TestReprojectOutsideIsNaN(t *testing.T) {
	tr := testTransform()
	small := tr
	small.NX, small.NY = 50, 50
	src := fgrid.New(50, 50)
	src.Fill(1.0)
	out := Reproject(&src, small, tr)
	if !math.IsNaN(out.Get(99, 99)) {
		t.Error("destination pixel outside the source should be NaN")
	}
}

func TestEllipseRegionContains(t *testing.T) {
	e := EllipseRegion{
		Center:    Sky{RA: 150.0, Dec: 2.0},
		SemiMajor: 10.0, // arcsec, along North
		SemiMinor: 5.0,
		PADeg:     0,
	}
	inside := Sky{RA: 150.0, Dec: 2.0 + 8.0/3600.0}
	if !e.Contains(inside) {
		t.Error("8 arcsec along the major axis should be inside")
	}
	outside := Sky{RA: 150.0 + 8.0/3600.0/math.Cos(2.0/DegPerRad), Dec: 2.0}
	if e.Contains(outside) {
		t.Error("8 arcsec along the minor axis should be outside")
	}

	// rotate the ellipse 90 degrees and the two swap
	e.PADeg = 90
	if e.Contains(inside) {
		t.Error("after rotation the Dec offset should be outside")
	}
	if !e.Contains(outside) {
		t.Error("after rotation the RA offset should be inside")
	}
}
