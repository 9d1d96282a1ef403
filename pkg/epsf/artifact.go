package epsf

import(
	"fmt"
	"io"
	"math"

	"github.com/astrogo/fitsio"

	"github.com/mtarenghi/psfcross/pkg/fgrid"
)

// An Artifact is a persisted PSF: a 2-D kernel evaluated at the pixel
// scale recorded in PixScale (arcsec/pixel). Consumers must verify the
// scale against their own grid before reuse - see CheckScale.
type Artifact struct {
	Data         fgrid.Grid
	PixScale     float64
	Oversampling int
}

// scales are compared to 3 decimal places; finer differences are below
// what the resampling pipeline preserves anyway
const scaleDecimals = 3

func roundScale(s float64) float64 {
	k := math.Pow(10, scaleDecimals)
	return math.Round(s*k) / k
}

// CheckScale returns an error when the artifact was derived at a
// different pixel scale than the caller's grid. Reusing a PSF across
// scales silently corrupts any fit built on it, so this is a caller
// error, never tolerated.
func (a *Artifact)CheckScale(imageScale float64) error {
	if roundScale(a.PixScale) != roundScale(imageScale) {
		return fmt.Errorf("epsf: PSF derived at %.3f arcsec/px, image is %.3f arcsec/px",
			a.PixScale, imageScale)
	}
	return nil
}

// Rotated returns the kernel rotated by thetaDeg and renormalized to
// unit flux (rotation onto a grown grid loses a little flux at the
// corners).
func (a *Artifact)Rotated(thetaDeg float64) fgrid.Grid {
	if thetaDeg == 0 {
		return a.Data.Copy()
	}
	k := a.Data.Rotated(thetaDeg)
	k.Normalize()
	return k
}

// Oversampled returns the kernel resampled k times finer, renormalized
// to unit flux.
func (a *Artifact)Oversampled(k int) fgrid.Grid {
	g := a.Data.Zoomed(k)
	g.Normalize()
	return g
}

// WriteTo persists the artifact as a single-HDU FITS image with the
// PSFSCALE and OVERSAMP cards.
func (a *Artifact)WriteTo(w io.Writer) error {
	f, err := fitsio.Create(w)
	if err != nil {
		return fmt.Errorf("psf artifact create: %v", err)
	}
	defer f.Close()

	im := fitsio.NewImage(-64, []int{a.Data.Dx(), a.Data.Dy()})
	defer im.Close()

	err = im.Header().Append(
		fitsio.Card{Name: "PSFSCALE", Value: a.PixScale, Comment: "arcsec/pixel the PSF was derived at"},
		fitsio.Card{Name: "OVERSAMP", Value: a.Oversampling, Comment: "oversampling factor used by the builder"},
	)
	if err != nil {
		return fmt.Errorf("psf artifact header: %v", err)
	}
	if err := im.Write(a.Data.Values()); err != nil {
		return fmt.Errorf("psf artifact data: %v", err)
	}
	return f.Write(im)
}

// ReadArtifact loads an artifact written by WriteTo. A missing
// PSFSCALE card is an error: an untagged PSF cannot be safely reused.
func ReadArtifact(r io.Reader) (*Artifact, error) {
	f, err := fitsio.Open(r)
	if err != nil {
		return nil, fmt.Errorf("psf artifact open: %v", err)
	}
	defer f.Close()

	hdu := f.HDU(0)
	img, ok := hdu.(fitsio.Image)
	if !ok {
		return nil, fmt.Errorf("psf artifact: primary HDU is not an image")
	}

	hdr := img.Header()
	axes := hdr.Axes()
	if len(axes) != 2 {
		return nil, fmt.Errorf("psf artifact: want a 2-D image, got %d axes", len(axes))
	}

	card := hdr.Get("PSFSCALE")
	if card == nil {
		return nil, fmt.Errorf("psf artifact: missing PSFSCALE card")
	}
	scale, ok := card.Value.(float64)
	if !ok {
		return nil, fmt.Errorf("psf artifact: PSFSCALE is not a float (%T)", card.Value)
	}

	oversamp := 1
	if c := hdr.Get("OVERSAMP"); c != nil {
		if v, ok := c.Value.(int); ok {
			oversamp = v
		}
	}

	// fitsio's Read sets the slice length without growing it, so the
	// caller must supply the capacity up front.
	data := make([]float64, axes[0]*axes[1])
	if err := img.Read(&data); err != nil {
		return nil, fmt.Errorf("psf artifact read: %v", err)
	}
	if len(data) != axes[0]*axes[1] {
		return nil, fmt.Errorf("psf artifact: %d values for %dx%d image", len(data), axes[0], axes[1])
	}

	return &Artifact{
		Data:         fgrid.FromValues(axes[0], axes[1], data),
		PixScale:     scale,
		Oversampling: oversamp,
	}, nil
}
