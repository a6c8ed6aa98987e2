package graph

import "math"

type Viewport struct {
	Width  float64
	Height float64
	Margin float64
}

func DefaultViewport() Viewport {
	return Viewport{Width: 800, Height: 600, Margin: 50}
}

func (v Viewport) Center() (float64, float64) {
	return v.Width / 2, v.Height / 2
}

func (v Viewport) clamp(n *Node) {
	minX, maxX := v.Margin, v.Width-v.Margin
	minY, maxY := v.Margin, v.Height-v.Margin
	if minX > maxX {
		minX, maxX = v.Width/2, v.Width/2
	}
	if minY > maxY {
		minY, maxY = v.Height/2, v.Height/2
	}
	n.X = math.Max(minX, math.Min(maxX, n.X))
	n.Y = math.Max(minY, math.Min(maxY, n.Y))
}

// Simulator is an explicit Euler force step. Its fields are the force
// constants; the zero value is not usable, call NewSimulator.
type Simulator struct {
	Gravity    float64
	Repulsion  float64
	RestLength float64
	Stiffness  float64
	Damping    float64
	// MinDistance floors pair distances before any division.
	MinDistance float64
}

func NewSimulator() *Simulator {
	return &Simulator{
		Gravity:     0.1,
		Repulsion:   500,
		RestLength:  100,
		Stiffness:   0.01,
		Damping:     0.9,
		MinDistance: 1,
	}
}

// Tick runs one explicit Euler step over nodes in place. The step is the
// same whatever the tick rate; a slower loop only moves nodes slower.
func (s *Simulator) Tick(nodes []Node, edges []Edge, index map[string]int, vp Viewport) {
	if len(nodes) == 0 {
		return
	}
	cx, cy := vp.Center()

	for i := range nodes {
		n := &nodes[i]
		dx, dy := cx-n.X, cy-n.Y
		if d := math.Hypot(dx, dy); d > 0 {
			n.VX += dx / d * s.Gravity
			n.VY += dy / d * s.Gravity
		}
		for j := range nodes {
			if i == j {
				continue
			}
			ux, uy, d := s.direction(i, j, n.X-nodes[j].X, n.Y-nodes[j].Y)
			f := s.Repulsion / (d * d)
			n.VX += ux * f
			n.VY += uy * f
		}
	}

	for _, e := range edges {
		si, ok := index[e.Source]
		if !ok {
			continue
		}
		ti, ok := index[e.Target]
		if !ok || si == ti {
			continue
		}
		src, dst := &nodes[si], &nodes[ti]
		ux, uy, _ := s.direction(ti, si, dst.X-src.X, dst.Y-src.Y)
		d := math.Hypot(dst.X-src.X, dst.Y-src.Y)
		f := (d - s.RestLength) * s.Stiffness
		src.VX += ux * f
		src.VY += uy * f
		dst.VX -= ux * f
		dst.VY -= uy * f
	}

	for i := range nodes {
		n := &nodes[i]
		n.VX *= s.Damping
		n.VY *= s.Damping
		n.X += n.VX
		n.Y += n.VY
		if !finite(n.X) || !finite(n.Y) || !finite(n.VX) || !finite(n.VY) {
			n.X, n.Y = cx, cy
			n.VX, n.VY = 0, 0
		}
		vp.clamp(n)
	}
}

// direction returns the unit vector along (dx, dy) and the floored distance.
// Coincident points get a fixed direction derived from the pair indices, so
// i and j are pushed in opposite directions.
func (s *Simulator) direction(i, j int, dx, dy float64) (float64, float64, float64) {
	d := math.Hypot(dx, dy)
	if d > 0 && finite(d) {
		return dx / d, dy / d, math.Max(d, s.MinDistance)
	}
	lo, hi := min(i, j), max(i, j)
	angle := float64(lo*31+hi) * 2.399963229728653
	ux, uy := math.Cos(angle), math.Sin(angle)
	if i > j {
		ux, uy = -ux, -uy
	}
	return ux, uy, s.MinDistance
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
