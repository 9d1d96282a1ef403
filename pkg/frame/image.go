// Package frame holds the Image value the pipeline passes around: a
// pixel grid, its WCS, a physical unit, and the derived artifacts
// (galaxy mask, star catalog, PSF) accumulated while measuring it.
package frame

import(
	"fmt"

	"github.com/mtarenghi/psfcross/pkg/epsf"
	"github.com/mtarenghi/psfcross/pkg/fgrid"
	"github.com/mtarenghi/psfcross/pkg/starcat"
	"github.com/mtarenghi/psfcross/pkg/wcs"
)

type Image struct {
	Data fgrid.Grid
	WCS  wcs.Transform
	Unit string

	// derived artifacts, absent until the relevant step has run
	Galaxy *wcs.EllipseRegion
	PSF    *epsf.Artifact
	Stars  *starcat.Catalog
}

func (img *Image)PixScale() float64 { return img.WCS.PixelScale() }

func (img *Image)String() string {
	return fmt.Sprintf("Image[%dx%d, %.3f arcsec/px, unit=%s]",
		img.Data.Dx(), img.Data.Dy(), img.PixScale(), img.Unit)
}

// ResampleOptions selects exactly one resampling mode: onto an
// explicit target WCS, or onto a target pixel scale that keeps the
// current orientation.
type ResampleOptions struct {
	TargetWCS *wcs.Transform
	PixScale  float64 // arcsec/pixel
}

// Resample reprojects the image in place, conserving flux. Data and
// WCS are replaced together; nothing else observes a half-updated
// image. Specifying both modes, or neither, is a configuration error.
func (img *Image)Resample(opts ResampleOptions) error {
	hasWCS := opts.TargetWCS != nil
	hasScale := opts.PixScale > 0
	if hasWCS == hasScale {
		return fmt.Errorf("frame: resample needs exactly one of target WCS or pixel scale")
	}

	var target wcs.Transform
	if hasWCS {
		target = *opts.TargetWCS
	} else {
		target = scaledTransform(img.WCS, img.PixScale(), opts.PixScale)
	}

	data := wcs.Reproject(&img.Data, img.WCS, target)
	img.Data = data
	img.WCS = target
	return nil
}

// scaledTransform keeps the grid orientation but changes the pixel
// size, covering the same field.
func scaledTransform(t wcs.Transform, oldScale, newScale float64) wcs.Transform {
	s := newScale / oldScale
	out := t
	out.CD1_1 *= s
	out.CD1_2 *= s
	out.CD2_1 *= s
	out.CD2_2 *= s
	out.CRPixX = t.CRPixX / s
	out.CRPixY = t.CRPixY / s
	out.NX = int(float64(t.NX) / s)
	out.NY = int(float64(t.NY) / s)
	return out
}

// MaskGalaxy records the elliptical sky region to exclude from star
// curation. Semi-axes in arcseconds, position angle from North,
// counter-clockwise.
func (img *Image)MaskGalaxy(center wcs.Sky, semiMajor, semiMinor, paDeg float64) {
	img.Galaxy = &wcs.EllipseRegion{
		Center:    center,
		SemiMajor: semiMajor,
		SemiMinor: semiMinor,
		PADeg:     paDeg,
	}
}

// ConvertUnit rescales pixel values by the given factor and relabels
// the unit. The unit equivalency (what factor converts erg/s/cm2/A
// into Jy, say) is the caller's business.
func (img *Image)ConvertUnit(outUnit string, factor float64) {
	img.Data.ScaleBy(factor)
	img.Unit = outUnit
}

// RescaleFlux applies the flux-calibration correction v' = gamma*v +
// offset in place. Explicit single-writer mutation: the flux
// calibrator is the only caller.
func (img *Image)RescaleFlux(gamma, offset float64) {
	img.Data.Rescale(gamma, offset)
}

// ZeroMask flags pixels that carry no signal (exactly zero or
// non-finite); the fitter must not let them bias a residual.
func (img *Image)ZeroMask() fgrid.Grid {
	mask := img.Data.NewFromThis()
	for i, v := range img.Data.Values() {
		if v == 0 || v != v {
			mask.Values()[i] = 1
		}
	}
	return mask
}
