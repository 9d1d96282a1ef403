package starcat

import(
	"math"

	"github.com/mtarenghi/psfcross/pkg/fgrid"
)

// LocateBrightStars finds point sources standing nsigma above the
// sigma-clipped background and returns their positions along with a
// mask grid (nonzero = masked) covering a disc of the given radius
// around each. The cross-convolution fitter uses the mask so bright
// point-source residuals don't dominate a fit meant to capture the
// diffuse flux.
func LocateBrightStars(data *fgrid.Grid, nsigma, radiusPix float64) ([]Peak, fgrid.Grid) {
	_, med, std := fgrid.SigmaClippedStats(data.Values(), 3.0, 5)
	threshold := med + nsigma*std

	peaks := FindPeaks(data, threshold)
	mask := data.NewFromThis()

	r2 := radiusPix * radiusPix
	ir := int(math.Ceil(radiusPix))
	for _, p := range peaks {
		for dy:=-ir; dy<=ir; dy++ {
			for dx:=-ir; dx<=ir; dx++ {
				x, y := p.X+dx, p.Y+dy
				if x < 0 || y < 0 || x >= mask.Dx() || y >= mask.Dy() {
					continue
				}
				if float64(dx*dx+dy*dy) <= r2 {
					mask.Set(x, y, 1)
				}
			}
		}
	}
	return peaks, mask
}
