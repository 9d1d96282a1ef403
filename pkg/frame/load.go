package frame

import(
	"fmt"
	"io"

	"github.com/astrogo/fitsio"

	"github.com/mtarenghi/psfcross/pkg/fgrid"
	"github.com/mtarenghi/psfcross/pkg/wcs"
)

// LoadFITS reads a 2-D science image: pixel data from the profile's
// data HDU, WCS and unit cards from the header HDU. A header missing
// the reference-pixel or scale cards is a hard error; there is no
// meaningful default for where an image sits on the sky.
func LoadFITS(r io.Reader, p Profile) (*Image, error) {
	f, err := fitsio.Open(r)
	if err != nil {
		return nil, fmt.Errorf("fits open: %v", err)
	}
	defer f.Close()

	if p.DataHDU >= len(f.HDUs()) {
		return nil, fmt.Errorf("fits: data HDU %d out of range (%d HDUs)", p.DataHDU, len(f.HDUs()))
	}
	img, ok := f.HDU(p.DataHDU).(fitsio.Image)
	if !ok {
		return nil, fmt.Errorf("fits: HDU %d is not an image", p.DataHDU)
	}

	hdr := img.Header()
	axes := hdr.Axes()
	if len(axes) != 2 {
		return nil, fmt.Errorf("fits: want a 2-D image, got %d axes", len(axes))
	}
	nx, ny := axes[0], axes[1]

	data, err := readPixels(img, hdr.Bitpix(), nx*ny)
	if err != nil {
		return nil, err
	}

	whdu := p.HeaderHDU
	if whdu >= len(f.HDUs()) {
		whdu = p.DataHDU
	}
	wimg, ok := f.HDU(whdu).(fitsio.Image)
	if !ok {
		return nil, fmt.Errorf("fits: header HDU %d is not an image", whdu)
	}
	tr, err := readTransform(wimg.Header(), nx, ny)
	if err != nil {
		return nil, err
	}

	unit := p.Unit
	if c := hdr.Get("BUNIT"); c != nil {
		if s, ok := c.Value.(string); ok && s != "" {
			unit = s
		}
	}

	return &Image{
		Data: fgrid.FromValues(nx, ny, data),
		WCS:  tr,
		Unit: unit,
	}, nil
}

func readPixels(img fitsio.Image, bitpix, n int) ([]float64, error) {
	switch bitpix {
	case -64:
		var data []float64
		if err := img.Read(&data); err != nil {
			return nil, fmt.Errorf("fits read: %v", err)
		}
		if len(data) != n {
			return nil, fmt.Errorf("fits: %d values for %d pixels", len(data), n)
		}
		return data, nil
	case -32:
		var raw []float32
		if err := img.Read(&raw); err != nil {
			return nil, fmt.Errorf("fits read: %v", err)
		}
		if len(raw) != n {
			return nil, fmt.Errorf("fits: %d values for %d pixels", len(raw), n)
		}
		data := make([]float64, len(raw))
		for i, v := range raw {
			data[i] = float64(v)
		}
		return data, nil
	}
	return nil, fmt.Errorf("fits: unsupported BITPIX %d (want -32 or -64)", bitpix)
}

// readTransform builds the linear WCS from the CD matrix (falling back
// to diagonal CDELT cards) and the CRPIX/CRVAL anchors. FITS CRPIX is
// 1-based; internally everything is 0-based.
func readTransform(hdr *fitsio.Header, nx, ny int) (wcs.Transform, error) {
	var tr wcs.Transform
	tr.NX, tr.NY = nx, ny

	cd11, ok11 := floatCard(hdr, "CD1_1")
	cd22, ok22 := floatCard(hdr, "CD2_2")
	if ok11 && ok22 {
		tr.CD1_1 = cd11
		tr.CD2_2 = cd22
		tr.CD1_2, _ = floatCard(hdr, "CD1_2")
		tr.CD2_1, _ = floatCard(hdr, "CD2_1")
	} else {
		d1, okd1 := floatCard(hdr, "CDELT1")
		d2, okd2 := floatCard(hdr, "CDELT2")
		if !okd1 || !okd2 {
			return tr, fmt.Errorf("fits: no CD matrix or CDELT cards")
		}
		tr.CD1_1, tr.CD2_2 = d1, d2
	}

	px, okpx := floatCard(hdr, "CRPIX1")
	py, okpy := floatCard(hdr, "CRPIX2")
	ra, okra := floatCard(hdr, "CRVAL1")
	dec, okdec := floatCard(hdr, "CRVAL2")
	if !okpx || !okpy || !okra || !okdec {
		return tr, fmt.Errorf("fits: missing CRPIX/CRVAL cards")
	}
	tr.CRPixX = px - 1
	tr.CRPixY = py - 1
	tr.CRVal = wcs.Sky{RA: ra, Dec: dec}
	return tr, nil
}

// floatCard tolerates integer-typed numeric cards.
func floatCard(hdr *fitsio.Header, name string) (float64, bool) {
	c := hdr.Get(name)
	if c == nil {
		return 0, false
	}
	switch v := c.Value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}
