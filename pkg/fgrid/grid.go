package fgrid

import(
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// A Grid is a rectangular raster of float64 pixel values, with some
// operations. It is the common currency between all the numerical
// components: images, cutouts and PSF kernels are all Grids.
type Grid struct {
	stride int
	values []float64
}

func New(w, h int) Grid {
	return Grid{
		stride: w,
		values: make([]float64, w*h),
	}
}

// FromValues wraps an existing backing slice; the Grid takes ownership.
func FromValues(w, h int, values []float64) Grid {
	if len(values) != w*h {
		panic(fmt.Sprintf("fgrid: %d values for a %dx%d grid", len(values), w, h))
	}
	return Grid{stride: w, values: values}
}

func (g *Grid)NewFromThis() Grid         { return New(g.Dx(), g.Dy()) }
func (g *Grid)Set(x, y int, v float64)   { g.values[g.stride*y + x] = v }
func (g *Grid)Get(x, y int) float64      { return g.values[g.stride*y + x] }
func (g *Grid)Dx() int                   { return g.stride }
func (g *Grid)Dy() int                   { return len(g.values) / g.stride }
func (g *Grid)Values() []float64         { return g.values }
func (g *Grid)Empty() bool               { return len(g.values) == 0 }

func (g1 *Grid)Copy() Grid {
	g2 := Grid{stride: g1.stride, values: make([]float64, len(g1.values))}
	copy(g2.values, g1.values)
	return g2
}

func (g *Grid)Fill(v float64) {
	for i := range g.values {
		g.values[i] = v
	}
}

func (g *Grid)Sum() float64 {
	return floats.Sum(g.values)
}

func (g *Grid)MinMax() (float64, float64) {
	min, max := math.Inf(1), math.Inf(-1)
	for _, v := range g.values {
		if v < min { min = v }
		if v > max { max = v }
	}
	return min, max
}

func (g *Grid)Max() float64 {
	_, max := g.MinMax()
	return max
}

func (g *Grid)ScaleBy(k float64)   { floats.Scale(k, g.values) }
func (g *Grid)AddScalar(c float64) { floats.AddConst(c, g.values) }

// Rescale applies the linear flux correction v' = gamma*v + offset in place.
func (g *Grid)Rescale(gamma, offset float64) {
	for i := range g.values {
		g.values[i] = gamma*g.values[i] + offset
	}
}

func (g1 *Grid)Sub(g2 *Grid) Grid {
	out := g1.Copy()
	for i := range out.values {
		out.values[i] -= g2.values[i]
	}
	return out
}

func (g *Grid)CountNonFinite() int {
	n := 0
	for _, v := range g.values {
		if !isFinite(v) { n++ }
	}
	return n
}

// ZeroNonFinite replaces NaN/Inf pixels with zero, in place.
func (g *Grid)ZeroNonFinite() {
	for i, v := range g.values {
		if !isFinite(v) { g.values[i] = 0 }
	}
}

// Normalize rescales the grid so its values total 1.0; kernels are
// normalized this way so convolution conserves flux.
func (g *Grid)Normalize() {
	t := g.Sum()
	if t == 0 {
		return
	}
	g.ScaleBy(1.0 / t)
}

// GaussianBlur runs one pass of a separable [1 2 1]/4 blur. The ePSF
// builder uses this to smooth the oversampled kernel between
// iterations, which keeps sparsely-sampled cells from ringing.
func (g1 Grid)GaussianBlur() Grid {
	width := g1.Dx()
	height := g1.Dy()
	g2 := g1.NewFromThis()

	T := g1.NewFromThis()

	//--- X blur, build up in T
	for y:=0; y<height; y++ {
		for x:=1; x<width-1; x++ {
			t := 2.0*g1.Get(x,y)
			t += g1.Get(x-1,y)
			t += g1.Get(x+1,y)
			T.Set(x, y, t/4.0)
		}
		T.Set(0, y,       (3.0*g1.Get(0,      y) + g1.Get(1,      y)) / 4.0)
		T.Set(width-1, y, (3.0*g1.Get(width-1,y) + g1.Get(width-2,y)) / 4.0)
	}

	//--- Y blur, read from T and generate output
	for x:=0; x<width; x++ {
		for y:=1; y<height-1; y++ {
			t := 2.0*T.Get(x,y)
			t += T.Get(x,y-1)
			t += T.Get(x,y+1)
			g2.Set(x, y, t/4.0)
		}
		g2.Set(x, 0,        (3.0*T.Get(x,       0) + T.Get(x,       1)) / 4.0)
		g2.Set(x, height-1, (3.0*T.Get(x,height-1) + T.Get(x,height-2)) / 4.0)
	}

	return g2
}

func (g *Grid)Stats() string {
	min, max := g.MinMax()
	return fmt.Sprintf("grid[%dx%d, vals{%g,%g}]", g.Dx(), g.Dy(), min, max)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
