// Package epsf builds empirical point-spread functions from stacks of
// stellar cutouts, provides analytic Moffat kernels, and persists PSF
// artifacts tagged with the pixel scale they were derived at.
package epsf

import(
	"math"

	"github.com/mtarenghi/psfcross/pkg/fgrid"
)

// MoffatGamma converts a FWHM (pixels) and power index into the Moffat
// core width parameter.
func MoffatGamma(fwhmPix, alpha float64) float64 {
	return fwhmPix / (2.0 * math.Sqrt(math.Pow(2.0, 1.0/alpha)-1.0))
}

// Moffat returns a unit-flux Moffat kernel: (1 + (r/gamma)^2)^-alpha.
// The kernel side is ~8 gamma, rounded up to odd so the peak sits on a
// pixel center.
func Moffat(fwhmPix, alpha float64) fgrid.Grid {
	gamma := MoffatGamma(fwhmPix, alpha)
	size := int(math.Ceil(8.0 * gamma))
	if size < 3 { size = 3 }
	if size%2 == 0 { size++ }

	c := float64(size-1) / 2.0
	k := fgrid.New(size, size)
	for y:=0; y<size; y++ {
		for x:=0; x<size; x++ {
			dx := float64(x) - c
			dy := float64(y) - c
			r2 := (dx*dx + dy*dy) / (gamma * gamma)
			k.Set(x, y, math.Pow(1.0+r2, -alpha))
		}
	}
	k.Normalize()
	return k
}

// Gaussian returns a unit-flux circular Gaussian kernel of the given
// FWHM, sized like Moffat kernels. Used for synthetic reference PSFs.
func Gaussian(fwhmPix float64) fgrid.Grid {
	sigma := fwhmPix / 2.354820045
	size := int(math.Ceil(8.0 * sigma))
	if size < 3 { size = 3 }
	if size%2 == 0 { size++ }

	c := float64(size-1) / 2.0
	k := fgrid.New(size, size)
	for y:=0; y<size; y++ {
		for x:=0; x<size; x++ {
			dx := float64(x) - c
			dy := float64(y) - c
			k.Set(x, y, math.Exp(-(dx*dx+dy*dy)/(2.0*sigma*sigma)))
		}
	}
	k.Normalize()
	return k
}
