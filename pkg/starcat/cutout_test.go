package starcat

import (
	"math"
	"testing"

	"github.com/mtarenghi/psfcross/pkg/fgrid"
)

// addGaussianStar drops a small Gaussian blob at (cx, cy)
func addGaussianStar(g *fgrid.Grid, cx, cy, flux, sigma float64) {
	for y := 0; y < g.Dy(); y++ {
		for x := 0; x < g.Dx(); x++ {
			dx := float64(x) - cx
			dy := float64(y) - cy
			g.Set(x, y, g.Get(x, y)+flux*math.Exp(-(dx*dx+dy*dy)/(2*sigma*sigma)))
		}
	}
}

func TestFindPeaks(t *testing.T) {
	g := fgrid.New(20, 20)
	addGaussianStar(&g, 5, 5, 10, 1.2)
	addGaussianStar(&g, 14, 12, 8, 1.2)
	peaks := FindPeaks(&g, 1.0)
	if len(peaks) != 2 {
		t.Fatalf("found %d peaks, want 2", len(peaks))
	}
	if peaks[0].X != 5 || peaks[0].Y != 5 {
		t.Errorf("first peak at (%d,%d), want (5,5)", peaks[0].X, peaks[0].Y)
	}
}

func TestFindPeaksExcludesBorder(t *testing.T) {
	g := fgrid.New(10, 10)
	g.Set(0, 5, 100) // on the border, not eligible
	if peaks := FindPeaks(&g, 1.0); len(peaks) != 0 {
		t.Errorf("border pixel reported as peak: %v", peaks)
	}
}

func TestExtractCutoutsRecenters(t *testing.T) {
	tr := testTransform()
	g := fgrid.New(100, 100)
	// the catalog position is 1.5 px off the true star
	addGaussianStar(&g, 40, 60, 100, 1.5)
	cat := Catalog{Entries: []Entry{{Pos: skyAt(tr, 41.5, 60), Mag: 18}}}

	cuts := ExtractCutouts(cat, &g, tr, 7.0, 25, nil, DefaultExtractOptions())
	if len(cuts) != 1 {
		t.Fatalf("got %d cutouts, want 1", len(cuts))
	}
	c := cuts[0]
	if c.Data.Dx() != 25 || c.Data.Dy() != 25 {
		t.Fatalf("cutout is %dx%d, want 25x25", c.Data.Dx(), c.Data.Dy())
	}
	if math.Abs(c.X-40) > 1.0 || math.Abs(c.Y-60) > 1.0 {
		t.Errorf("refined center (%v,%v), want near (40,60)", c.X, c.Y)
	}
	// the recorded cutout center must point at the peak
	px, py := int(math.Round(c.CX)), int(math.Round(c.CY))
	if got := c.Data.Get(px, py); got < c.Data.Max()*0.9 {
		t.Errorf("cutout center value %v is not the peak (%v)", got, c.Data.Max())
	}
}

func TestExtractCutoutsSkipsBlends(t *testing.T) {
	tr := testTransform()
	g := fgrid.New(100, 100)
	// two comparable peaks inside one recentering patch
	addGaussianStar(&g, 48, 50, 100, 1.2)
	addGaussianStar(&g, 56, 50, 90, 1.2)
	cat := Catalog{Entries: []Entry{{Pos: skyAt(tr, 52, 50), Mag: 18}}}

	cuts := ExtractCutouts(cat, &g, tr, 7.0, 25, nil, DefaultExtractOptions())
	if len(cuts) != 0 {
		t.Errorf("blended star produced %d cutouts, want 0", len(cuts))
	}
}

func TestExtractCutoutsSkipsEdgeAndNaN(t *testing.T) {
	tr := testTransform()
	g := fgrid.New(100, 100)
	addGaussianStar(&g, 3, 50, 100, 1.5) // too close to the edge
	addGaussianStar(&g, 70, 70, 100, 1.5)
	g.Set(71, 70, math.NaN()) // poisoned neighborhood

	cat := Catalog{Entries: []Entry{
		{Pos: skyAt(tr, 3, 50), Mag: 18},
		{Pos: skyAt(tr, 70, 70), Mag: 18},
	}}
	cuts := ExtractCutouts(cat, &g, tr, 7.0, 25, nil, DefaultExtractOptions())
	if len(cuts) != 0 {
		t.Errorf("got %d cutouts, want 0 (one off-edge, one with NaN)", len(cuts))
	}
}

func TestExtractCutoutsMaskBudget(t *testing.T) {
	tr := testTransform()
	g := fgrid.New(100, 100)
	addGaussianStar(&g, 50, 50, 100, 1.5)
	cat := Catalog{Entries: []Entry{{Pos: skyAt(tr, 50, 50), Mag: 18}}}

	mask := fgrid.New(100, 100)
	for i := 0; i < 10; i++ {
		mask.Set(40+i, 45, 1) // 10 masked pixels in the patch
	}
	cuts := ExtractCutouts(cat, &g, tr, 7.0, 25, &mask, DefaultExtractOptions())
	if len(cuts) != 0 {
		t.Errorf("over-masked patch produced %d cutouts, want 0", len(cuts))
	}

	// under the budget it goes through
	opts := DefaultExtractOptions()
	opts.MaxInvalid = 50
	cuts = ExtractCutouts(cat, &g, tr, 7.0, 25, &mask, opts)
	if len(cuts) != 1 {
		t.Errorf("relaxed budget produced %d cutouts, want 1", len(cuts))
	}
}

func TestLocateBrightStars(t *testing.T) {
	g := fgrid.New(60, 60)
	// mild noise floor so the clipped std is nonzero
	for y := 0; y < 60; y++ {
		for x := 0; x < 60; x++ {
			g.Set(x, y, 0.01*float64((x*7+y*13)%5))
		}
	}
	addGaussianStar(&g, 20, 30, 50, 1.2)

	peaks, mask := LocateBrightStars(&g, 10.0, 3.0)
	if len(peaks) != 1 {
		t.Fatalf("found %d bright stars, want 1", len(peaks))
	}
	if mask.Get(20, 30) == 0 {
		t.Error("star center not masked")
	}
	if mask.Get(20, 34) != 0 {
		t.Error("pixel outside the mask radius is masked")
	}
	if mask.Get(50, 50) != 0 {
		t.Error("empty corner is masked")
	}
}
