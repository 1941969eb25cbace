package analysis

import (
	"strings"
)

type Point struct{ X, Y float64 }

// Portrait holds a 2D phase space trajectory.
type Portrait struct {
	XLabel, YLabel string
	Points         []Point
}

// NewPortrait pairs xs and ys sample by sample, truncating to the shorter.
func NewPortrait(xLabel string, xs []float64, yLabel string, ys []float64) *Portrait {
	n := min(len(xs), len(ys))
	portrait := &Portrait{
		XLabel: xLabel,
		YLabel: yLabel,
		Points: make([]Point, 0, n),
	}
	for i := 0; i < n; i++ {
		portrait.Points = append(portrait.Points, Point{X: xs[i], Y: ys[i]})
	}
	return portrait
}

// ASCII renders the portrait on a width x height character canvas.
func (portrait *Portrait) ASCII(width, height int) string {
	if portrait == nil || len(portrait.Points) == 0 {
		return ""
	}

	// Find bounds
	minX, maxX := portrait.Points[0].X, portrait.Points[0].X
	minY, maxY := portrait.Points[0].Y, portrait.Points[0].Y

	for _, p := range portrait.Points {
		if p.X < minX {
			minX = p.X
		}
		if p.X > maxX {
			maxX = p.X
		}
		if p.Y < minY {
			minY = p.Y
		}
		if p.Y > maxY {
			maxY = p.Y
		}
	}

	// Add padding
	rangeX := maxX - minX
	rangeY := maxY - minY
	if rangeX == 0 {
		rangeX = 1
	}
	if rangeY == 0 {
		rangeY = 1
	}
	minX -= rangeX * 0.1
	maxX += rangeX * 0.1
	minY -= rangeY * 0.1
	maxY += rangeY * 0.1
	rangeX = maxX - minX
	rangeY = maxY - minY

	// Create canvas
	canvas := make([][]rune, height)
	for i := range canvas {
		canvas[i] = make([]rune, width)
		for j := range canvas[i] {
			canvas[i][j] = ' '
		}
	}

	// Plot points
	for _, p := range portrait.Points {
		col := int((p.X - minX) / rangeX * float64(width-1))
		row := height - 1 - int((p.Y-minY)/rangeY*float64(height-1))

		if row >= 0 && row < height && col >= 0 && col < width {
			canvas[row][col] = '•'
		}
	}

	// Draw axes if they cross the visible area
	if minX <= 0 && maxX >= 0 {
		col := int((0 - minX) / rangeX * float64(width-1))
		for row := 0; row < height; row++ {
			if col >= 0 && col < width && canvas[row][col] == ' ' {
				canvas[row][col] = '│'
			}
		}
	}
	if minY <= 0 && maxY >= 0 {
		row := height - 1 - int((0-minY)/rangeY*float64(height-1))
		for col := 0; col < width; col++ {
			if row >= 0 && row < height && canvas[row][col] == ' ' {
				canvas[row][col] = '─'
			}
		}
	}

	// Convert to string
	var sb strings.Builder
	for _, row := range canvas {
		sb.WriteString(string(row))
		sb.WriteRune('\n')
	}
	return sb.String()
}

// NewSection records (xs[i], ys[i]) wherever cross rises through threshold.
func NewSection(cross []float64, threshold float64, xs, ys []float64) *Portrait {
	n := min(len(cross), len(xs), len(ys))
	section := &Portrait{Points: make([]Point, 0)}
	for i := 1; i < n; i++ {
		if cross[i-1] < threshold && cross[i] >= threshold {
			section.Points = append(section.Points, Point{X: xs[i], Y: ys[i]})
		}
	}
	return section
}
