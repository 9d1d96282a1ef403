// Package starcat curates raw star-catalog entries into a set usable
// for PSF measurement, extracts recentered stellar cutouts from an
// image, and locates bright stars for masking.
package starcat

import(
	"github.com/mtarenghi/psfcross/pkg/wcs"
)

// An Entry is one raw catalog row: a sky position and a magnitude.
type Entry struct {
	Pos wcs.Sky
	Mag float64
}

// A Catalog is an ordered set of curated entries. Immutable once built
// for a given image; re-curating it with the same options is a no-op.
type Catalog struct {
	Entries []Entry
}

func (c Catalog)Len() int { return len(c.Entries) }

// FromPositions wraps explicit user-supplied positions as a Catalog
// with no curation at all. An override star list is trusted as given;
// cutout extraction still rejects positions it cannot use.
func FromPositions(positions []wcs.Sky) Catalog {
	entries := make([]Entry, len(positions))
	for i, p := range positions {
		entries[i] = Entry{Pos: p}
	}
	return Catalog{Entries: entries}
}

type CurateOptions struct {
	MinSeparation float64 // arcsec; pairs closer than this are both dropped
	MagMin        float64
	MagMax        float64
	EdgeMargin    int // pixels
}

func DefaultCurateOptions() CurateOptions {
	return CurateOptions{
		MinSeparation: 6.0,
		MagMin:        16.0,
		MagMax:        21.0,
		EdgeMargin:    15,
	}
}

// Curate filters raw entries down to isolated, in-frame point sources.
// The filters run in order, each on the survivors of the previous one:
//
//  1. symmetric pairwise removal of entries closer than MinSeparation
//     (both members of a close pair go - a blended centroid is useless
//     on either side);
//  2. magnitude range [MagMin, MagMax] inclusive;
//  3. pixel coordinates within [EdgeMargin, dim-EdgeMargin) on both axes;
//  4. sky position inside the image footprint, and outside the galaxy
//     exclusion region. When no region is set the exclusion test is
//     skipped and entries pass by default.
//
// An empty result is a valid Catalog, not an error; callers that need
// stars must check Len themselves.
func Curate(raw []Entry, tr wcs.Transform, galaxy *wcs.EllipseRegion, opts CurateOptions) Catalog {
	kept := removeClosePairs(raw, opts.MinSeparation)

	// magnitude selection
	next := kept[:0:0]
	for _, e := range kept {
		if e.Mag >= opts.MagMin && e.Mag <= opts.MagMax {
			next = append(next, e)
		}
	}
	kept = next

	// edge margin, in pixel coordinates
	margin := float64(opts.EdgeMargin)
	next = kept[:0:0]
	for _, e := range kept {
		x, y := tr.SkyToPixel(e.Pos)
		if x >= margin && x < float64(tr.NX)-margin && y >= margin && y < float64(tr.NY)-margin {
			next = append(next, e)
		}
	}
	kept = next

	// footprint + exclusion region
	next = kept[:0:0]
	for _, e := range kept {
		if !tr.FootprintContains(e.Pos) {
			continue
		}
		if galaxy != nil && galaxy.Contains(e.Pos) {
			continue
		}
		next = append(next, e)
	}

	return Catalog{Entries: next}
}

func removeClosePairs(entries []Entry, minSep float64) []Entry {
	tooClose := make([]bool, len(entries))
	for i:=0; i<len(entries); i++ {
		for j:=i+1; j<len(entries); j++ {
			if wcs.Separation(entries[i].Pos, entries[j].Pos) < minSep {
				tooClose[i] = true
				tooClose[j] = true
			}
		}
	}
	kept := make([]Entry, 0, len(entries))
	for i, e := range entries {
		if !tooClose[i] {
			kept = append(kept, e)
		}
	}
	return kept
}
