package fgrid

// Robust statistics over pixel values. Outlier-clipped estimates are
// used everywhere a star, a cosmic ray or a masked region would
// otherwise drag a plain mean around.

import(
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

func Median(vals []float64) float64 {
	if len(vals) == 0 {
		return math.NaN()
	}
	s := append([]float64{}, vals...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2.0
}

// SigmaClippedStats iteratively rejects values more than sigma standard
// deviations from the running median, up to maxIters times, and returns
// the mean, median and standard deviation of the surviving values.
// Non-finite inputs are dropped before the first pass.
func SigmaClippedStats(vals []float64, sigma float64, maxIters int) (mean, median, std float64) {
	kept := make([]float64, 0, len(vals))
	for _, v := range vals {
		if isFinite(v) {
			kept = append(kept, v)
		}
	}
	if len(kept) == 0 {
		return math.NaN(), math.NaN(), math.NaN()
	}

	for i:=0; i<maxIters; i++ {
		med := Median(kept)
		_, sd := stat.MeanStdDev(kept, nil)
		if sd == 0 || math.IsNaN(sd) {
			break
		}
		next := kept[:0:0]
		for _, v := range kept {
			if math.Abs(v-med) <= sigma*sd {
				next = append(next, v)
			}
		}
		if len(next) == len(kept) || len(next) == 0 {
			break
		}
		kept = next
	}

	mean, std = stat.MeanStdDev(kept, nil)
	if len(kept) == 1 {
		std = 0
	}
	return mean, Median(kept), std
}

// BinStats tiles the grid into non-overlapping binSize x binSize blocks
// and returns per-block sigma-clipped medians and standard deviations.
// Blocks that lose every pixel to clipping come back as NaN.
func (g *Grid)BinStats(binSize int) (medians, stds Grid) {
	nx := g.Dx() / binSize
	ny := g.Dy() / binSize
	medians = New(nx, ny)
	stds = New(nx, ny)

	block := make([]float64, 0, binSize*binSize)
	for by:=0; by<ny; by++ {
		for bx:=0; bx<nx; bx++ {
			block = block[:0]
			for y:=by*binSize; y<(by+1)*binSize; y++ {
				for x:=bx*binSize; x<(bx+1)*binSize; x++ {
					block = append(block, g.Get(x, y))
				}
			}
			_, med, sd := SigmaClippedStats(block, 3.0, 5)
			medians.Set(bx, by, med)
			stds.Set(bx, by, sd)
		}
	}
	return medians, stds
}

// MedianStack combines grids pixel-wise by median. All grids must share
// the same dimensions.
func MedianStack(grids []Grid) Grid {
	if len(grids) == 0 {
		return Grid{}
	}
	out := grids[0].NewFromThis()
	vals := make([]float64, len(grids))
	for i := range out.values {
		for j := range grids {
			vals[j] = grids[j].values[i]
		}
		out.values[i] = Median(vals)
	}
	return out
}
