package analysis

import (
	"fmt"
	"strings"
)

// SVG draws the portrait as a single path scaled to width x height with a
// 10% margin around the data.
func (portrait *Portrait) SVG(width, height int, stroke string) string {
	pts := portrait.Points
	if len(pts) < 2 {
		return ""
	}

	minX, maxX := pts[0].X, pts[0].X
	minY, maxY := pts[0].Y, pts[0].Y
	for _, p := range pts {
		minX, maxX = min(minX, p.X), max(maxX, p.X)
		minY, maxY = min(minY, p.Y), max(maxY, p.Y)
	}

	rangeX := maxX - minX
	rangeY := maxY - minY
	if rangeX == 0 {
		rangeX = 1
	}
	if rangeY == 0 {
		rangeY = 1
	}
	minX -= rangeX * 0.1
	minY -= rangeY * 0.1
	rangeX *= 1.2
	rangeY *= 1.2

	var sb strings.Builder
	fmt.Fprintf(&sb, `<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">
<rect width="100%%" height="100%%" fill="#0a0a0a"/>
<text x="4" y="%d" fill="#888899" font-size="10">%s</text>
<text x="4" y="12" fill="#888899" font-size="10">%s</text>
<path fill="none" stroke="%s" stroke-width="1.5" d="M`,
		width, height, width, height, height-4, portrait.XLabel, portrait.YLabel, stroke)

	for i, p := range pts {
		x := (p.X - minX) / rangeX * float64(width)
		y := float64(height) - (p.Y-minY)/rangeY*float64(height)
		if i > 0 {
			sb.WriteString(" L")
		}
		fmt.Fprintf(&sb, "%.1f,%.1f", x, y)
	}

	sb.WriteString(`"/>
</svg>`)
	return sb.String()
}
