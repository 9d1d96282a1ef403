// Package crossfit measures how a target image's PSF relates to a
// reference image of the same field: it calibrates the target's flux
// scale against the reference, then fits a Moffat convolution kernel
// by comparing the two images convolved with each other's PSFs.
package crossfit

import(
	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/mtarenghi/psfcross/pkg/fgrid"
)

// Convolve returns the same-size linear convolution of img with a
// centered kernel, computed on a zero-padded pow2 FFT grid. The kernel
// peak is assumed near (Dx/2, Dy/2), which is where Moffat and PSF
// grids put it.
func Convolve(img, kernel *fgrid.Grid) fgrid.Grid {
	w, h := img.Dx(), img.Dy()
	pw, ph := kernel.Dx(), kernel.Dy()

	fw := nextPow2(w + pw - 1)
	fh := nextPow2(h + ph - 1)

	a := embed(img, fw, fh)
	b := embed(kernel, fw, fh)

	fft2(a, fw, fh, true)
	fft2(b, fw, fh, true)
	for i := range a {
		a[i] *= b[i]
	}
	fft2(a, fw, fh, false)

	// gonum transforms are unnormalized: forward then inverse scales by
	// the grid size
	scale := float64(fw * fh)

	// crop the full result back to img's frame; the kernel center sits
	// at (pw/2, ph/2) of the full output
	offX, offY := pw/2, ph/2
	out := fgrid.New(w, h)
	for y:=0; y<h; y++ {
		for x:=0; x<w; x++ {
			out.Set(x, y, real(a[(y+offY)*fw+(x+offX)])/scale)
		}
	}
	return out
}

func embed(g *fgrid.Grid, fw, fh int) []complex128 {
	c := make([]complex128, fw*fh)
	for y:=0; y<g.Dy(); y++ {
		for x:=0; x<g.Dx(); x++ {
			c[y*fw+x] = complex(g.Get(x, y), 0)
		}
	}
	return c
}

// fft2 runs an in-place 2-D transform, rows then columns.
func fft2(a []complex128, w, h int, forward bool) {
	rowFFT := fourier.NewCmplxFFT(w)
	colFFT := fourier.NewCmplxFFT(h)

	for y:=0; y<h; y++ {
		row := a[y*w : (y+1)*w]
		if forward {
			rowFFT.Coefficients(row, row)
		} else {
			rowFFT.Sequence(row, row)
		}
	}

	col := make([]complex128, h)
	for x:=0; x<w; x++ {
		for y:=0; y<h; y++ {
			col[y] = a[y*w+x]
		}
		if forward {
			colFFT.Coefficients(col, col)
		} else {
			colFFT.Sequence(col, col)
		}
		for y:=0; y<h; y++ {
			a[y*w+x] = col[y]
		}
	}
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
