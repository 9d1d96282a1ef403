package epsf

import (
	"math"
	"testing"

	"github.com/mtarenghi/psfcross/pkg/fgrid"
	"github.com/mtarenghi/psfcross/pkg/starcat"
)

// syntheticCutout evaluates a Gaussian star of the given flux and
// sub-pixel center on an n x n grid, plus a flat background.
func syntheticCutout(n int, cx, cy, flux, sigma, bg float64) starcat.Cutout {
	g := fgrid.New(n, n)
	norm := flux / (2 * math.Pi * sigma * sigma)
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			dx := float64(x) - cx
			dy := float64(y) - cy
			g.Set(x, y, bg+norm*math.Exp(-(dx*dx+dy*dy)/(2*sigma*sigma)))
		}
	}
	return starcat.Cutout{Data: g, CX: cx, CY: cy}
}

func gaussianStars(n int, sigma float64) []starcat.Cutout {
	c := float64(n-1) / 2.0
	offsets := []struct{ dx, dy, flux float64 }{
		{0.0, 0.0, 100},
		{0.3, -0.2, 150},
		{-0.4, 0.1, 80},
		{0.2, 0.45, 200},
		{-0.15, -0.35, 120},
		{0.05, 0.25, 90},
	}
	cuts := make([]starcat.Cutout, 0, len(offsets))
	for _, o := range offsets {
		cuts = append(cuts, syntheticCutout(n, c+o.dx, c+o.dy, o.flux, sigma, 0.5))
	}
	return cuts
}

// momentFWHM measures a profile width from its second moments.
func momentFWHM(g *fgrid.Grid) float64 {
	sum, mx, my := 0.0, 0.0, 0.0
	for y := 0; y < g.Dy(); y++ {
		for x := 0; x < g.Dx(); x++ {
			v := g.Get(x, y)
			sum += v
			mx += v * float64(x)
			my += v * float64(y)
		}
	}
	mx /= sum
	my /= sum
	vx, vy := 0.0, 0.0
	for y := 0; y < g.Dy(); y++ {
		for x := 0; x < g.Dx(); x++ {
			v := g.Get(x, y)
			vx += v * (float64(x) - mx) * (float64(x) - mx)
			vy += v * (float64(y) - my) * (float64(y) - my)
		}
	}
	sigma := math.Sqrt((vx + vy) / (2 * sum))
	return 2.354820045 * sigma
}

func TestBuildRecoversGaussianWidth(t *testing.T) {
	sigma := 1.274 // FWHM 3 px
	cuts := gaussianStars(25, sigma)

	result, err := Build(cuts, 0.2, DefaultBuildOptions())
	if err != nil {
		t.Fatal(err)
	}
	if result.GoodStars != len(cuts) {
		t.Errorf("good stars = %d, want %d", result.GoodStars, len(cuts))
	}
	if math.Abs(result.PSF.Data.Sum()-1.0) > 1e-4 {
		t.Errorf("PSF sum = %v, want 1", result.PSF.Data.Sum())
	}
	if result.PSF.PixScale != 0.2 {
		t.Errorf("PSF pixel scale = %v, want 0.2", result.PSF.PixScale)
	}

	want := 2.354820045 * sigma
	got := momentFWHM(&result.PSF.Data)
	if math.Abs(got-want)/want > 0.03 {
		t.Errorf("recovered FWHM = %.3f px, want %.3f within 3%%", got, want)
	}
}

func TestBuildConverges(t *testing.T) {
	cuts := gaussianStars(25, 1.274)
	result, err := Build(cuts, 0.2, DefaultBuildOptions())
	if err != nil {
		t.Fatal(err)
	}
	if result.Iterations >= DefaultBuildOptions().MaxIters {
		t.Errorf("took all %d iterations on clean synthetic stars", result.Iterations)
	}
}

func TestBuildNoCutouts(t *testing.T) {
	if _, err := Build(nil, 0.2, DefaultBuildOptions()); err != ErrNoGoodStars {
		t.Errorf("got %v, want ErrNoGoodStars", err)
	}
}

func TestBuildAllStarsBad(t *testing.T) {
	// all-zero cutouts carry no flux, so every star is rejected
	cuts := []starcat.Cutout{
		{Data: fgrid.New(25, 25), CX: 12, CY: 12},
		{Data: fgrid.New(25, 25), CX: 12, CY: 12},
	}
	if _, err := Build(cuts, 0.2, DefaultBuildOptions()); err != ErrNoGoodStars {
		t.Errorf("got %v, want ErrNoGoodStars", err)
	}
}

func TestBuildMismatchedCutouts(t *testing.T) {
	cuts := []starcat.Cutout{
		syntheticCutout(25, 12, 12, 100, 1.3, 0),
		syntheticCutout(21, 10, 10, 100, 1.3, 0),
	}
	if _, err := Build(cuts, 0.2, DefaultBuildOptions()); err == nil {
		t.Error("mismatched cutout sizes should be an error")
	}
}
