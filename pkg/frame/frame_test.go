package frame

import (
	"math"
	"strings"
	"testing"

	"github.com/mtarenghi/psfcross/pkg/fgrid"
	"github.com/mtarenghi/psfcross/pkg/wcs"
)

func testImage(n int) *Image {
	data := fgrid.New(n, n)
	data.Fill(2.0)
	return &Image{
		Data: data,
		WCS: wcs.Transform{
			CD1_1: -0.2 / 3600.0, CD2_2: 0.2 / 3600.0,
			CRPixX: float64(n-1) / 2.0, CRPixY: float64(n-1) / 2.0,
			CRVal: wcs.Sky{RA: 150, Dec: 2},
			NX:    n, NY: n,
		},
		Unit: "count",
	}
}

func TestResampleNeedsExactlyOneMode(t *testing.T) {
	img := testImage(40)
	tr := img.WCS
	if err := img.Resample(ResampleOptions{}); err == nil {
		t.Error("neither mode set should be an error")
	}
	if err := img.Resample(ResampleOptions{TargetWCS: &tr, PixScale: 0.1}); err == nil {
		t.Error("both modes set should be an error")
	}
}

func TestResampleToPixScale(t *testing.T) {
	img := testImage(40)
	if err := img.Resample(ResampleOptions{PixScale: 0.1}); err != nil {
		t.Fatal(err)
	}
	if img.Data.Dx() != 80 || img.Data.Dy() != 80 {
		t.Fatalf("resampled to %dx%d, want 80x80", img.Data.Dx(), img.Data.Dy())
	}
	if s := img.PixScale(); math.Abs(s-0.1) > 1e-9 {
		t.Errorf("pixel scale = %v, want 0.1", s)
	}
	// flux conserved: finer pixels carry a quarter of the value
	if got := img.Data.Get(40, 40); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("center pixel = %v, want 0.5", got)
	}
	// Data and WCS moved together
	if img.WCS.NX != img.Data.Dx() {
		t.Errorf("WCS NX=%d but data is %d wide", img.WCS.NX, img.Data.Dx())
	}
}

func TestResampleToTargetWCS(t *testing.T) {
	img := testImage(40)
	target := img.WCS.Zoomed(2)
	if err := img.Resample(ResampleOptions{TargetWCS: &target}); err != nil {
		t.Fatal(err)
	}
	if img.Data.Dx() != 80 {
		t.Errorf("resampled to %d wide, want 80", img.Data.Dx())
	}
	if img.WCS != target {
		t.Error("WCS not replaced by the target")
	}
}

func TestConvertUnit(t *testing.T) {
	img := testImage(10)
	img.ConvertUnit("Jy", 3.0)
	if img.Unit != "Jy" {
		t.Errorf("unit = %q, want Jy", img.Unit)
	}
	if got := img.Data.Get(5, 5); math.Abs(got-6.0) > 1e-12 {
		t.Errorf("pixel = %v, want 6", got)
	}
}

func TestZeroMask(t *testing.T) {
	img := testImage(10)
	img.Data.Set(3, 4, 0)
	img.Data.Set(7, 2, math.NaN())
	mask := img.ZeroMask()
	if mask.Get(3, 4) == 0 || mask.Get(7, 2) == 0 {
		t.Error("zero/NaN pixels not flagged")
	}
	if mask.Get(5, 5) != 0 {
		t.Error("valid pixel flagged")
	}
}

func TestProfileAlphaLookup(t *testing.T) {
	p := DefaultProfile()
	if a := p.Alpha("WFM-AO-N"); a != 2.3 {
		t.Errorf("AO config alpha = %v, want 2.3", a)
	}
	if a := p.Alpha("WFM-NOAO-N"); a != 2.8 {
		t.Errorf("unlisted config alpha = %v, want the 2.8 default", a)
	}
	if a := p.Alpha(""); a != 2.8 {
		t.Errorf("empty config alpha = %v, want the 2.8 default", a)
	}
}

func TestConfigYamlRoundtrip(t *testing.T) {
	c := NewConfig()
	text := c.AsYaml()
	c2, err := newConfigFromYaml([]byte(text))
	if err != nil {
		t.Fatal(err)
	}
	p := c2.GetProfile("muse")
	if p.AlphaDefault != 2.8 || p.FWHM0 != 0.8 {
		t.Errorf("profile lost values through yaml: %+v", p)
	}
}

func TestReadStarPositions(t *testing.T) {
	text := `# ra dec
150.01 2.02
150.02 2.03

150.03 2.04
`
	stars, err := ReadStarPositions(strings.NewReader(text))
	if err != nil {
		t.Fatal(err)
	}
	if len(stars) != 3 {
		t.Fatalf("parsed %d stars, want 3", len(stars))
	}
	if stars[1].RA != 150.02 || stars[1].Dec != 2.03 {
		t.Errorf("star 1 = %+v", stars[1])
	}
}

func TestReadStarPositionsMalformed(t *testing.T) {
	if _, err := ReadStarPositions(strings.NewReader("150.01\n")); err == nil {
		t.Error("one-column line should be an error")
	}
	if _, err := ReadStarPositions(strings.NewReader("abc def\n")); err == nil {
		t.Error("non-numeric line should be an error")
	}
}

func TestReadCatalog(t *testing.T) {
	text := `# ra dec mag
150.01 2.02 18.5
150.02 2.03 19.0
`
	entries, err := ReadCatalog(strings.NewReader(text))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("parsed %d entries, want 2", len(entries))
	}
	if entries[0].Pos.RA != 150.01 || entries[0].Mag != 18.5 {
		t.Errorf("entry 0 = %+v", entries[0])
	}
}

func TestReadCatalogMalformed(t *testing.T) {
	if _, err := ReadCatalog(strings.NewReader("150.01 2.02\n")); err == nil {
		t.Error("two-column line should be an error")
	}
	if _, err := ReadCatalog(strings.NewReader("150.01 2.02 bright\n")); err == nil {
		t.Error("non-numeric magnitude should be an error")
	}
}

func TestMaskGalaxy(t *testing.T) {
	img := testImage(40)
	img.MaskGalaxy(wcs.Sky{RA: 150, Dec: 2}, 10, 5, 30)
	if img.Galaxy == nil {
		t.Fatal("galaxy region not set")
	}
	if !img.Galaxy.Contains(wcs.Sky{RA: 150, Dec: 2}) {
		t.Error("galaxy center not inside its own region")
	}
}
