package objects

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
)

// HeightField describes a terrain surface in object coordinates. Info
// reports the surface height and unit normal below (x, y), plus a no-go
// weight in [0, 1] growing with slope. ok is false outside the field.
type HeightField interface {
	Info(x, y float64) (z float64, n mgl64.Vec3, noGo float64, ok bool)
}

// Plane is an unbounded inclined plane z = Z + SlopeX*x + SlopeY*y.
type Plane struct {
	Z      float64
	SlopeX float64
	SlopeY float64
}

func (p Plane) Info(x, y float64) (float64, mgl64.Vec3, float64, bool) {
	n := mgl64.Vec3{-p.SlopeX, -p.SlopeY, 1}.Normalize()
	return p.Z + p.SlopeX*x + p.SlopeY*y, n, 1 - n[2], true
}

// GridTerrain is a regular elevation grid read from an ESRI ASCII raster.
// Row 0 of Z is the northernmost row, as in the file.
type GridTerrain struct {
	Cols, Rows int
	XLL, YLL   float64
	CellSize   float64
	NoData     float64
	Z          [][]float64
}

// ReadGridTerrain parses an ESRI ASCII grid (.asc).
func ReadGridTerrain(r io.Reader) (*GridTerrain, error) {
	g := &GridTerrain{NoData: -9999}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	sc.Split(bufio.ScanWords)

	next := func() (string, bool) {
		if !sc.Scan() {
			return "", false
		}
		return sc.Text(), true
	}

	var pending string
	for {
		tok, ok := next()
		if !ok {
			return nil, fmt.Errorf("objects: terrain header truncated")
		}
		key := strings.ToLower(tok)
		if _, err := strconv.ParseFloat(tok, 64); err == nil {
			pending = tok
			break
		}
		val, ok := next()
		if !ok {
			return nil, fmt.Errorf("objects: terrain header %s has no value", tok)
		}
		v, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return nil, fmt.Errorf("objects: terrain header %s: %w", tok, err)
		}
		switch key {
		case "ncols":
			g.Cols = int(v)
		case "nrows":
			g.Rows = int(v)
		case "xllcorner", "xllcenter":
			g.XLL = v
		case "yllcorner", "yllcenter":
			g.YLL = v
		case "cellsize":
			g.CellSize = v
		case "nodata_value":
			g.NoData = v
		default:
			return nil, fmt.Errorf("objects: unknown terrain header %q", tok)
		}
	}

	if g.Cols < 2 || g.Rows < 2 || g.CellSize <= 0 {
		return nil, fmt.Errorf("objects: terrain grid %dx%d cell %g too small", g.Cols, g.Rows, g.CellSize)
	}

	g.Z = make([][]float64, g.Rows)
	for r := 0; r < g.Rows; r++ {
		g.Z[r] = make([]float64, g.Cols)
		for c := 0; c < g.Cols; c++ {
			tok := pending
			pending = ""
			if tok == "" {
				var ok bool
				if tok, ok = next(); !ok {
					return nil, fmt.Errorf("objects: terrain data ends at row %d col %d", r, c)
				}
			}
			v, err := strconv.ParseFloat(tok, 64)
			if err != nil {
				return nil, fmt.Errorf("objects: terrain row %d col %d: %w", r, c, err)
			}
			g.Z[r][c] = v
		}
	}
	return g, sc.Err()
}

// LoadGridTerrain reads an .asc file.
func LoadGridTerrain(path string) (*GridTerrain, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadGridTerrain(f)
}

func (g *GridTerrain) height(r, c int) (float64, bool) {
	v := g.Z[r][c]
	return v, v != g.NoData
}

// Info interpolates bilinearly between the four surrounding samples.
func (g *GridTerrain) Info(x, y float64) (float64, mgl64.Vec3, float64, bool) {
	fx := (x - g.XLL) / g.CellSize
	fy := (y - g.YLL) / g.CellSize
	if fx < 0 || fy < 0 || fx > float64(g.Cols-1) || fy > float64(g.Rows-1) {
		return 0, mgl64.Vec3{}, 0, false
	}

	c0 := int(math.Floor(fx))
	if c0 >= g.Cols-1 {
		c0 = g.Cols - 2
	}
	j0 := int(math.Floor(fy))
	if j0 >= g.Rows-1 {
		j0 = g.Rows - 2
	}
	tx := fx - float64(c0)
	ty := fy - float64(j0)

	// j counts rows from the south edge.
	row := func(j int) int { return g.Rows - 1 - j }
	z00, ok00 := g.height(row(j0), c0)
	z10, ok10 := g.height(row(j0), c0+1)
	z01, ok01 := g.height(row(j0+1), c0)
	z11, ok11 := g.height(row(j0+1), c0+1)
	if !ok00 || !ok10 || !ok01 || !ok11 {
		return 0, mgl64.Vec3{}, 0, false
	}

	z := z00*(1-tx)*(1-ty) + z10*tx*(1-ty) + z01*(1-tx)*ty + z11*tx*ty
	dzdx := ((z10-z00)*(1-ty) + (z11-z01)*ty) / g.CellSize
	dzdy := ((z01-z00)*(1-tx) + (z11-z10)*tx) / g.CellSize
	n := mgl64.Vec3{-dzdx, -dzdy, 1}.Normalize()
	return z, n, 1 - n[2], true
}
