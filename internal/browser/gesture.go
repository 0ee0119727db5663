// File: internal/browser/gesture.go
package browser

import (
	"math"
	"math/rand"
)

type point struct {
	X, Y float64
}

func (p point) add(o point) point { return point{p.X + o.X, p.Y + o.Y} }
func (p point) sub(o point) point { return point{p.X - o.X, p.Y - o.Y} }
func (p point) mul(s float64) point { return point{p.X * s, p.Y * s} }
func (p point) dist(o point) float64 { return math.Hypot(p.X-o.X, p.Y-o.Y) }
func (p point) perpendicular() point { return point{-p.Y, p.X} }
func (p point) norm() point {
	if m := math.Hypot(p.X, p.Y); m > 0 {
		return p.mul(1 / m)
	}
	return point{}
}

// easeInOutCubic accelerates then decelerates the cursor.
func easeInOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	return 1 - math.Pow(-2*t+2, 3)/2
}

// pointerPath returns steps positions along a cubic Bezier from start to end.
// The control points bow sideways by a random fraction of the distance so
// no two paths are identical. The last point is always end.
func pointerPath(rng *rand.Rand, start, end point, steps int) []point {
	if steps < 2 {
		steps = 2
	}
	dist := start.dist(end)
	if dist < 1 {
		return []point{end}
	}
	dir := end.sub(start).norm()
	side := dir.perpendicular()

	bow1 := (rng.Float64()*0.4 - 0.2) * dist
	bow2 := (rng.Float64()*0.4 - 0.2) * dist
	p1 := start.add(dir.mul(dist / 3)).add(side.mul(bow1))
	p2 := start.add(dir.mul(dist * 2 / 3)).add(side.mul(bow2))

	path := make([]point, steps)
	for i := range path {
		t := easeInOutCubic(float64(i) / float64(steps-1))
		omt := 1 - t
		path[i] = start.mul(omt * omt * omt).
			add(p1.mul(3 * omt * omt * t)).
			add(p2.mul(3 * omt * t * t)).
			add(end.mul(t * t * t))
	}
	path[steps-1] = end
	return path
}

// clickTarget picks a point inside the middle half of the box.
func clickTarget(rng *rand.Rand, b box) point {
	c := b.center()
	return point{
		X: c.X + (rng.Float64()-0.5)*b.Width/2,
		Y: c.Y + (rng.Float64()-0.5)*b.Height/2,
	}
}
