package epsf

import(
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"

	"github.com/mtarenghi/psfcross/pkg/fgrid"
	"github.com/mtarenghi/psfcross/pkg/starcat"
)

// ErrNoGoodStars is the hard failure of a PSF build: every candidate
// star diverged or was rejected, so no usable PSF exists.
var ErrNoGoodStars = errors.New("epsf: no stars survived the build")

type BuildOptions struct {
	Oversampling    int     // kernel grid refinement factor
	MaxIters        int     // hard cap on the stacking loop
	CenterAccuracy  float64 // pixels; stop once every center moves less than this
	ClipSigma       float64 // outlier clip when combining aligned cutouts
	BackgroundSigma float64 // clip for the per-cutout background estimate
}

func DefaultBuildOptions() BuildOptions {
	return BuildOptions{
		Oversampling:    4,
		MaxIters:        50,
		CenterAccuracy:  0.1,
		ClipSigma:       3.0,
		BackgroundSigma: 2.0,
	}
}

type BuildResult struct {
	PSF        *Artifact   // canonical PSF at the native pixel scale
	Kernel     fgrid.Grid  // the converged oversampled kernel
	Residual   fgrid.Grid  // median per-star residual / PSF peak
	GoodStars  int
	Iterations int
}

// internal per-star fit state
type starFit struct {
	data   fgrid.Grid // background-subtracted cutout
	flux   float64
	cx, cy float64 // center, cutout pixel coordinates
	rms    float64
	good   bool
}

// Build stacks recentered stellar cutouts into an oversampled
// empirical PSF. Each iteration fits every star's flux and sub-pixel
// center against the current kernel, realigns the cutouts onto the
// oversampled grid, and recombines them with outlier clipping; the
// loop stops when the largest center shift drops below CenterAccuracy
// or after MaxIters passes.
//
// pixScale is the arcsec/pixel of the grid the cutouts came from; it
// tags the resulting artifact. Returns ErrNoGoodStars when nothing
// survives - there is no usable PSF without at least one good star.
func Build(cutouts []starcat.Cutout, pixScale float64, opts BuildOptions) (*BuildResult, error) {
	if len(cutouts) == 0 {
		return nil, ErrNoGoodStars
	}
	n := cutouts[0].Data.Dx()
	for _, c := range cutouts {
		if c.Data.Dx() != n || c.Data.Dy() != n {
			return nil, fmt.Errorf("epsf: cutout sizes differ (%dx%d vs %dx%d)",
				c.Data.Dx(), c.Data.Dy(), n, n)
		}
	}

	os := opts.Oversampling
	if os < 1 { os = 1 }
	kdim := n*os + 1
	if kdim%2 == 0 { kdim++ }
	kc := float64(kdim-1) / 2.0

	// subtract a robust local background from each cutout before any
	// stacking; a sloppy background estimate turns directly into PSF
	// wings
	stars := make([]starFit, 0, len(cutouts))
	for _, c := range cutouts {
		d := c.Data.Copy()
		_, med, _ := fgrid.SigmaClippedStats(d.Values(), opts.BackgroundSigma, 5)
		d.AddScalar(-med)
		flux := d.Sum()
		stars = append(stars, starFit{
			data: d,
			flux: flux,
			cx:   c.CX,
			cy:   c.CY,
			good: flux > 0 && d.CountNonFinite() == 0,
		})
	}

	kernel := combineKernel(stars, os, kdim, kc, opts.ClipSigma)

	iters := 0
	for it:=0; it<opts.MaxIters; it++ {
		iters = it + 1
		maxShift := 0.0
		for i := range stars {
			if !stars[i].good {
				continue
			}
			shift := fitStar(&stars[i], &kernel, os, kc)
			if !stars[i].good {
				continue
			}
			if shift > maxShift {
				maxShift = shift
			}
		}
		kernel = combineKernel(stars, os, kdim, kc, opts.ClipSigma)
		if maxShift < opts.CenterAccuracy {
			break
		}
	}

	rejectOutlierStars(stars)
	kernel = combineKernel(stars, os, kdim, kc, opts.ClipSigma)

	good := 0
	sumCx, sumCy := 0.0, 0.0
	for _, s := range stars {
		if s.good {
			good++
			sumCx += s.cx
			sumCy += s.cy
		}
	}
	if good == 0 {
		return nil, ErrNoGoodStars
	}
	meanCx := sumCx / float64(good)
	meanCy := sumCy / float64(good)

	// evaluate the canonical PSF on a native-scale grid centered at the
	// mean cutout center
	psf := fgrid.New(n, n)
	for y:=0; y<n; y++ {
		for x:=0; x<n; x++ {
			psf.Set(x, y, kernelAt(&kernel, os, kc, float64(x)-meanCx, float64(y)-meanCy))
		}
	}
	if math.Abs(psf.Sum()-1.0) > 1e-4 {
		psf.Normalize()
	}

	// per-star residuals against the best-fit model, median combined,
	// normalized by the PSF peak
	residuals := []fgrid.Grid{}
	for _, s := range stars {
		if !s.good {
			continue
		}
		model := fgrid.New(n, n)
		for y:=0; y<n; y++ {
			for x:=0; x<n; x++ {
				model.Set(x, y, s.flux*kernelAt(&kernel, os, kc, float64(x)-s.cx, float64(y)-s.cy))
			}
		}
		residuals = append(residuals, s.data.Sub(&model))
	}
	residual := fgrid.MedianStack(residuals)
	if peak := psf.Max(); peak > 0 {
		residual.ScaleBy(1.0 / peak)
	}

	return &BuildResult{
		PSF:        &Artifact{Data: psf, PixScale: pixScale, Oversampling: os},
		Kernel:     kernel,
		Residual:   residual,
		GoodStars:  good,
		Iterations: iters,
	}, nil
}

// kernelAt samples the oversampled kernel at a native-pixel offset
// (dx, dy) from the star center.
func kernelAt(kernel *fgrid.Grid, os int, kc, dx, dy float64) float64 {
	v := kernel.Bilinear(dx*float64(os)+kc, dy*float64(os)+kc)
	if math.IsNaN(v) {
		return 0
	}
	return v
}

// combineKernel realigns every good cutout onto the oversampled grid
// at its fitted center and recombines cell by cell with a sigma-clipped
// mean. Cells no star landed in are filled from their neighbors, and
// the result gets one smoothing pass to settle sparsely-sampled cells.
func combineKernel(stars []starFit, os, kdim int, kc float64, clipSigma float64) fgrid.Grid {
	cells := make([][]float64, kdim*kdim)
	for i := range stars {
		s := &stars[i]
		if !s.good || s.flux <= 0 {
			continue
		}
		n := s.data.Dx()
		for y:=0; y<n; y++ {
			for x:=0; x<n; x++ {
				u := int(math.Round((float64(x)-s.cx)*float64(os) + kc))
				v := int(math.Round((float64(y)-s.cy)*float64(os) + kc))
				if u < 0 || v < 0 || u >= kdim || v >= kdim {
					continue
				}
				cells[v*kdim+u] = append(cells[v*kdim+u], s.data.Get(x, y)/s.flux)
			}
		}
	}

	kernel := fgrid.New(kdim, kdim)
	for i, vals := range cells {
		switch {
		case len(vals) == 0:
			kernel.Values()[i] = math.NaN()
		case len(vals) <= 2:
			kernel.Values()[i] = mean(vals)
		default:
			m, _, _ := fgrid.SigmaClippedStats(vals, clipSigma, 3)
			kernel.Values()[i] = m
		}
	}

	fillHoles(&kernel)
	return kernel.GaussianBlur()
}

// fillHoles replaces NaN cells with the mean of their finite
// neighbors, iterating a few times so holes shrink from the rim
// inward; stragglers become zero.
func fillHoles(g *fgrid.Grid) {
	for pass:=0; pass<3; pass++ {
		holes := false
		next := g.Copy()
		for y:=0; y<g.Dy(); y++ {
			for x:=0; x<g.Dx(); x++ {
				if !math.IsNaN(g.Get(x, y)) {
					continue
				}
				sum, cnt := 0.0, 0
				for dy:=-1; dy<=1; dy++ {
					for dx:=-1; dx<=1; dx++ {
						xx, yy := x+dx, y+dy
						if xx < 0 || yy < 0 || xx >= g.Dx() || yy >= g.Dy() {
							continue
						}
						if v := g.Get(xx, yy); !math.IsNaN(v) {
							sum += v
							cnt++
						}
					}
				}
				if cnt > 0 {
					next.Set(x, y, sum/float64(cnt))
				} else {
					holes = true
				}
			}
		}
		*g = next
		if !holes {
			break
		}
	}
	g.ZeroNonFinite()
}

// fitStar refines one star's flux and sub-pixel center against the
// current kernel, returning how far the center moved. A fit that
// errors, goes to non-positive flux, or wanders more than 2 px from
// its starting point marks the star bad.
func fitStar(s *starFit, kernel *fgrid.Grid, os int, kc float64) float64 {
	n := s.data.Dx()
	obj := func(p []float64) float64 {
		f, cx, cy := p[0], p[1], p[2]
		ssr := 0.0
		for y:=0; y<n; y++ {
			for x:=0; x<n; x++ {
				r := s.data.Get(x, y) - f*kernelAt(kernel, os, kc, float64(x)-cx, float64(y)-cy)
				ssr += r * r
			}
		}
		return ssr
	}

	problem := optimize.Problem{Func: obj}
	settings := &optimize.Settings{
		MajorIterations: 200,
		Converger:       &optimize.FunctionConverge{Absolute: 1e-12, Iterations: 25},
	}
	res, err := optimize.Minimize(problem, []float64{s.flux, s.cx, s.cy}, settings, &optimize.NelderMead{})
	if err != nil {
		s.good = false
		return 0
	}

	f, cx, cy := res.X[0], res.X[1], res.X[2]
	if f <= 0 || math.Abs(cx-s.cx) > 2 || math.Abs(cy-s.cy) > 2 {
		s.good = false
		return 0
	}

	shift := math.Hypot(cx-s.cx, cy-s.cy)
	s.flux, s.cx, s.cy = f, cx, cy
	s.rms = math.Sqrt(res.F / float64(n*n))
	return shift
}

// rejectOutlierStars drops stars whose fit residual stands well above
// the pack; a single galaxy or blend that slipped through curation
// would otherwise leak into the kernel wings.
func rejectOutlierStars(stars []starFit) {
	rmss := []float64{}
	for _, s := range stars {
		if s.good {
			rmss = append(rmss, s.rms)
		}
	}
	if len(rmss) < 3 {
		return
	}
	med := fgrid.Median(rmss)
	if med <= 0 {
		return
	}
	for i := range stars {
		if stars[i].good && stars[i].rms > 4.0*med {
			stars[i].good = false
		}
	}
}

func mean(vals []float64) float64 {
	t := 0.0
	for _, v := range vals {
		t += v
	}
	return t / float64(len(vals))
}
