package diag

import(
	"math"

	"github.com/skypies/util/histogram"

	"github.com/mtarenghi/psfcross/pkg/fgrid"
)

// FluxRatioHistogram bins the per-pixel target/reference flux ratio
// (as a percentage) over pixels where both sides are finite and
// nonzero. A calibrated pair piles up around 100; a skewed or
// double-peaked histogram means the flux calibration went wrong.
func FluxRatioHistogram(target, reference *fgrid.Grid) histogram.Histogram {
	h := histogram.Histogram{NumBuckets: 60, ValMin: 0, ValMax: 300}

	tv, rv := target.Values(), reference.Values()
	for i, t := range tv {
		r := rv[i]
		if r == 0 || t == 0 || math.IsNaN(t) || math.IsNaN(r) || math.IsInf(t, 0) || math.IsInf(r, 0) {
			continue
		}
		pct := t / r * 100.0
		if pct < 0 || pct >= 300 {
			continue
		}
		h.Add(histogram.ScalarVal(int(pct)))
	}
	return h
}
