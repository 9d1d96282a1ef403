package crossfit

import(
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"

	"github.com/mtarenghi/psfcross/pkg/fgrid"
	"github.com/mtarenghi/psfcross/pkg/frame"
)

// FluxFit records the linear correction mapping target flux onto the
// reference flux scale: ref = Gamma*target + Offset.
type FluxFit struct {
	Gamma, Offset float64
	NBlocks       int
	ScatterBefore float64 // rms of ref - target over the fitted blocks
	ScatterAfter  float64 // rms of ref - (gamma*target + offset)
}

func (ff FluxFit)String() string {
	return fmt.Sprintf("FluxFit[gamma=%.4f, offset=%.4g, blocks=%d, scatter %.4g -> %.4g]",
		ff.Gamma, ff.Offset, ff.NBlocks, ff.ScatterBefore, ff.ScatterAfter)
}

// CalibrateFlux ties the target image's flux scale to the reference's
// and applies the correction to the target in place. Both images are
// reduced to binSize x binSize block medians (with per-block scatter as
// the uncertainty on both axes), and a straight line is fit by
// minimizing orthogonal-distance chi2. Blocks where either side is NaN
// or has zero median are discarded; fewer than two surviving blocks is
// an error, since a line through them is unconstrained.
func CalibrateFlux(target *frame.Image, reference *fgrid.Grid, binSize int) (FluxFit, error) {
	if binSize < 2 {
		return FluxFit{}, fmt.Errorf("fluxcal: bin size %d too small", binSize)
	}
	if target.Data.Dx() != reference.Dx() || target.Data.Dy() != reference.Dy() {
		return FluxFit{}, fmt.Errorf("fluxcal: target %dx%d vs reference %dx%d",
			target.Data.Dx(), target.Data.Dy(), reference.Dx(), reference.Dy())
	}

	tMed, tStd := target.Data.BinStats(binSize)
	rMed, rStd := reference.BinStats(binSize)

	xs, ys := []float64{}, []float64{}
	sxs, sys := []float64{}, []float64{}
	for i, tv := range tMed.Values() {
		rv := rMed.Values()[i]
		if math.IsNaN(tv) || math.IsNaN(rv) || tv == 0 || rv == 0 {
			continue
		}
		xs = append(xs, tv)
		ys = append(ys, rv)
		sxs = append(sxs, tStd.Values()[i])
		sys = append(sys, rStd.Values()[i])
	}
	if len(xs) < 2 {
		return FluxFit{}, fmt.Errorf("fluxcal: only %d usable blocks, cannot constrain a line", len(xs))
	}

	// seed from ordinary least squares, then refine with both-axis
	// uncertainties
	b0, g0 := stat.LinearRegression(xs, ys, nil, false)

	chi2 := func(p []float64) float64 {
		g, b := p[0], p[1]
		total := 0.0
		for i := range xs {
			r := ys[i] - g*xs[i] - b
			denom := sys[i]*sys[i] + g*g*sxs[i]*sxs[i]
			if denom < 1e-12 {
				denom = 1e-12
			}
			total += r * r / denom
		}
		return total
	}

	problem := optimize.Problem{Func: chi2}
	settings := &optimize.Settings{
		MajorIterations: 500,
		Converger:       &optimize.FunctionConverge{Absolute: 1e-10, Iterations: 50},
	}
	res, err := optimize.Minimize(problem, []float64{g0, b0}, settings, &optimize.NelderMead{})
	if err != nil {
		return FluxFit{}, fmt.Errorf("fluxcal: fit failed: %v", err)
	}
	gamma, offset := res.X[0], res.X[1]

	ff := FluxFit{
		Gamma:         gamma,
		Offset:        offset,
		NBlocks:       len(xs),
		ScatterBefore: rms(xs, ys, 1, 0),
		ScatterAfter:  rms(xs, ys, gamma, offset),
	}

	target.RescaleFlux(gamma, offset)
	return ff, nil
}

func rms(xs, ys []float64, gamma, offset float64) float64 {
	total := 0.0
	for i := range xs {
		r := ys[i] - gamma*xs[i] - offset
		total += r * r
	}
	return math.Sqrt(total / float64(len(xs)))
}
