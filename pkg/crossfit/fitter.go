package crossfit

import(
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"

	"github.com/mtarenghi/psfcross/pkg/epsf"
	"github.com/mtarenghi/psfcross/pkg/fgrid"
	"github.com/mtarenghi/psfcross/pkg/frame"
)

type FitOptions struct {
	FWHM0     float64 // arcsec, seed for the FWHM fit
	Alpha     float64 // Moffat power index (fixed, unless FitAlpha)
	FitAlpha  bool
	FitOffset bool
	DX0, DY0  float64 // pixels, seed for the residual shift

	EdgeMargin int          // pixels ignored along every edge
	Oversample int          // work on a grid this many times finer
	MaxIters   int          // optimizer major-iteration cap
	StarMask   *fgrid.Grid  // nonzero = pixel excluded from the fit
}

func DefaultFitOptions() FitOptions {
	return FitOptions{
		FWHM0:      0.8,
		Alpha:      2.8,
		EdgeMargin: 10,
		Oversample: 1,
		MaxIters:   200,
	}
}

// A TracePoint is one optimizer major iteration: the parameter vector
// tried and the objective value it produced.
type TracePoint struct {
	X []float64
	F float64
}

type FitResult struct {
	FWHM   float64 // arcsec
	Alpha  float64
	DX, DY float64 // pixels, target grid
	Offset float64

	Converged   bool
	SSR         float64
	ValidPixels int
	Trace       []TracePoint
	Residual    fgrid.Grid // best-fit difference image, masked pixels zeroed
	StarMask    fgrid.Grid // copy of the mask the fit ran under
}

func (fr *FitResult)String() string {
	note := ""
	if !fr.Converged {
		note = " (did not converge)"
	}
	return fmt.Sprintf("Fit[fwhm=%.3f\" alpha=%.2f shift=(%.2f,%.2f) offset=%.3g ssr=%.4g over %d px]%s",
		fr.FWHM, fr.Alpha, fr.DX, fr.DY, fr.Offset, fr.SSR, fr.ValidPixels, note)
}

// Fit measures the target's PSF FWHM against a reference image whose
// own PSF is known. The two sides of the comparison are
//
//	lhs = target  (x) referencePSF     (fixed, computed once)
//	rhs = reference (x) Moffat(fwhm, alpha), shifted by (dx, dy)
//
// so each image ends up blurred by the other's PSF and the Moffat
// parameters that equalize them describe the target's PSF. The
// reference PSF is rotated into the target's frame orientation first.
//
// Pixels that are zero or non-finite in either image, pixels under the
// star mask, and an EdgeMargin border are excluded from the objective.
// An exhausted iteration budget is reported via Converged=false, never
// discarded: a near-converged fit is still worth inspecting.
func Fit(target, reference *frame.Image, opts FitOptions) (*FitResult, error) {
	if target.Unit != reference.Unit {
		return nil, fmt.Errorf("crossfit: unit mismatch (%q vs %q)", target.Unit, reference.Unit)
	}
	if reference.PSF == nil {
		return nil, fmt.Errorf("crossfit: reference image carries no PSF")
	}
	if err := reference.PSF.CheckScale(target.PixScale()); err != nil {
		return nil, err
	}
	if target.Data.Dx() != reference.Data.Dx() || target.Data.Dy() != reference.Data.Dy() {
		return nil, fmt.Errorf("crossfit: target %dx%d vs reference %dx%d",
			target.Data.Dx(), target.Data.Dy(), reference.Data.Dx(), reference.Data.Dy())
	}

	k := opts.Oversample
	if k < 1 { k = 1 }

	valid := validMask(target, reference, opts.StarMask, opts.EdgeMargin, k)
	nValid := 0
	for _, ok := range valid {
		if ok { nValid++ }
	}
	if nValid == 0 {
		return nil, fmt.Errorf("crossfit: every pixel is masked, nothing to fit")
	}

	// working copies, oversampled if asked; flux is conserved so the
	// objective stays comparable across oversampling factors
	tData := target.Data.Copy()
	rData := reference.Data.Copy()
	if k > 1 {
		fk := float64(k)
		tData = tData.Zoomed(k)
		tData.ScaleBy(1.0 / (fk * fk))
		rData = rData.Zoomed(k)
		rData.ScaleBy(1.0 / (fk * fk))
	}
	tData.ZeroNonFinite()
	rData.ZeroNonFinite()

	theta := target.WCS.RotationDeg() - reference.WCS.RotationDeg()
	psf := reference.PSF.Data.Copy()
	if k > 1 {
		psf = reference.PSF.Oversampled(k)
	}
	if theta != 0 {
		psf = psf.Rotated(theta)
		psf.Normalize()
	}

	scale := target.PixScale() / float64(k) // arcsec per working pixel

	lhs := Convolve(&tData, &psf)

	x0 := []float64{opts.FWHM0, opts.DX0, opts.DY0}
	iAlpha, iOffset := -1, -1
	if opts.FitAlpha {
		iAlpha = len(x0)
		x0 = append(x0, opts.Alpha)
	}
	if opts.FitOffset {
		iOffset = len(x0)
		x0 = append(x0, 0)
	}

	model := func(p []float64) (fgrid.Grid, bool) {
		fwhm, dx, dy := p[0], p[1], p[2]
		alpha := opts.Alpha
		if iAlpha >= 0 { alpha = p[iAlpha] }
		if fwhm <= 0 || alpha <= 0 {
			return fgrid.Grid{}, false
		}
		kernel := epsf.Moffat(fwhm/scale, alpha)
		rhs := Convolve(&rData, &kernel)
		if dx != 0 || dy != 0 {
			rhs = rhs.Shifted(dx*float64(k), dy*float64(k))
		}
		if iOffset >= 0 {
			rhs.AddScalar(p[iOffset])
		}
		return rhs, true
	}

	objective := func(p []float64) float64 {
		rhs, ok := model(p)
		if !ok {
			return math.Inf(1)
		}
		ssr := 0.0
		lv, rv := lhs.Values(), rhs.Values()
		for i, use := range valid {
			if !use {
				continue
			}
			r := lv[i] - rv[i]
			ssr += r * r
		}
		return ssr
	}

	trace := &traceRecorder{}
	problem := optimize.Problem{Func: objective}
	settings := &optimize.Settings{
		MajorIterations: opts.MaxIters,
		Converger:       &optimize.FunctionConverge{Absolute: 1e-12, Iterations: 30},
		Recorder:        trace,
	}
	res, err := optimize.Minimize(problem, x0, settings, &optimize.NelderMead{})
	if err != nil && res == nil {
		return nil, fmt.Errorf("crossfit: fit failed: %v", err)
	}
	if err != nil && res.Status != optimize.IterationLimit {
		return nil, fmt.Errorf("crossfit: fit failed: %v", err)
	}

	out := &FitResult{
		FWHM:        res.X[0],
		Alpha:       opts.Alpha,
		DX:          res.X[1],
		DY:          res.X[2],
		Converged:   res.Status != optimize.IterationLimit,
		SSR:         res.F,
		ValidPixels: nValid,
		Trace:       trace.points,
	}
	if iAlpha >= 0 { out.Alpha = res.X[iAlpha] }
	if iOffset >= 0 { out.Offset = res.X[iOffset] }
	if opts.StarMask != nil {
		out.StarMask = opts.StarMask.Copy()
	}

	if rhs, ok := model(res.X); ok {
		resid := lhs.Sub(&rhs)
		for i, use := range valid {
			if !use {
				resid.Values()[i] = 0
			}
		}
		out.Residual = resid
	}
	return out, nil
}

// validMask marks the working-grid pixels the objective may use:
// finite and nonzero in both images, outside the star mask, and clear
// of the edge margin. Masks are decided at the native scale, then each
// native pixel expands to a k x k block.
func validMask(target, reference *frame.Image, starMask *fgrid.Grid, margin, k int) []bool {
	nx, ny := target.Data.Dx(), target.Data.Dy()
	tZero := target.ZeroMask()
	rZero := reference.ZeroMask()

	native := make([]bool, nx*ny)
	for y:=0; y<ny; y++ {
		for x:=0; x<nx; x++ {
			if x < margin || y < margin || x >= nx-margin || y >= ny-margin {
				continue
			}
			if tZero.Get(x, y) != 0 || rZero.Get(x, y) != 0 {
				continue
			}
			if starMask != nil && starMask.Get(x, y) != 0 {
				continue
			}
			native[y*nx+x] = true
		}
	}
	if k <= 1 {
		return native
	}

	wide := make([]bool, nx*k*ny*k)
	for y:=0; y<ny*k; y++ {
		for x:=0; x<nx*k; x++ {
			wide[y*nx*k+x] = native[(y/k)*nx+(x/k)]
		}
	}
	return wide
}

// traceRecorder keeps one point per optimizer major iteration. X must
// be copied; the optimizer reuses the slice.
type traceRecorder struct {
	points []TracePoint
}

func (t *traceRecorder)Init() error { return nil }

func (t *traceRecorder)Record(loc *optimize.Location, op optimize.Operation, _ *optimize.Stats) error {
	if op&optimize.MajorIteration == 0 {
		return nil
	}
	x := append([]float64{}, loc.X...)
	t.points = append(t.points, TracePoint{X: x, F: loc.F})
	return nil
}
