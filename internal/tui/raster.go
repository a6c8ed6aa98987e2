package tui

import (
	"math"
	"strings"

	"synapse/cli/internal/graph"
)

const (
	glyphAgent    = '@'
	glyphResource = '#'
	glyphWork     = '*'
	glyphEdge     = '.'
	glyphLock     = '='
)

func glyphFor(kind graph.NodeKind) rune {
	switch kind {
	case graph.NodeAgent:
		return glyphAgent
	case graph.NodeResource:
		return glyphResource
	default:
		return glyphWork
	}
}

// Cell is one raster position. Node is empty for edge and blank cells.
type Cell struct {
	Glyph rune
	Node  string
	Color string
}

// Rasterize projects g onto a cols×rows character grid. Edges are drawn
// first so nodes always win a shared cell.
func Rasterize(g graph.Graph, vp graph.Viewport, cols, rows int) [][]Cell {
	if cols <= 0 || rows <= 0 {
		return nil
	}
	grid := make([][]Cell, rows)
	for r := range grid {
		grid[r] = make([]Cell, cols)
		for c := range grid[r] {
			grid[r][c] = Cell{Glyph: ' '}
		}
	}
	if vp.Width <= 0 || vp.Height <= 0 {
		vp = graph.DefaultViewport()
	}
	project := func(n graph.Node) (int, int) {
		c := int(math.Round(n.X / vp.Width * float64(cols-1)))
		r := int(math.Round(n.Y / vp.Height * float64(rows-1)))
		return min(max(c, 0), cols-1), min(max(r, 0), rows-1)
	}

	for _, e := range g.Edges {
		src, ok1 := g.Node(e.Source)
		dst, ok2 := g.Node(e.Target)
		if !ok1 || !ok2 {
			continue
		}
		glyph := glyphEdge
		if e.Kind == graph.EdgeHoldsLock {
			glyph = glyphLock
		}
		c0, r0 := project(src)
		c1, r1 := project(dst)
		line(c0, r0, c1, r1, func(c, r int) {
			grid[r][c] = Cell{Glyph: glyph}
		})
	}
	for _, n := range g.Nodes {
		c, r := project(n)
		grid[r][c] = Cell{Glyph: glyphFor(n.Kind), Node: n.ID, Color: n.Color}
	}
	return grid
}

// RasterString renders a grid without styling.
func RasterString(grid [][]Cell) string {
	var b strings.Builder
	for i, row := range grid {
		if i > 0 {
			b.WriteByte('\n')
		}
		for _, cell := range row {
			b.WriteRune(cell.Glyph)
		}
	}
	return b.String()
}

// line walks the cells between two points (Bresenham), endpoints included.
func line(c0, r0, c1, r1 int, plot func(c, r int)) {
	dc := abs(c1 - c0)
	dr := -abs(r1 - r0)
	sc, sr := 1, 1
	if c0 > c1 {
		sc = -1
	}
	if r0 > r1 {
		sr = -1
	}
	err := dc + dr
	for {
		plot(c0, r0)
		if c0 == c1 && r0 == r1 {
			return
		}
		e2 := 2 * err
		if e2 >= dr {
			err += dr
			c0 += sc
		}
		if e2 <= dc {
			err += dc
			r0 += sr
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
