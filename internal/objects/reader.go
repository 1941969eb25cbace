package objects

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
)

const headerTokens = 15

// TerrainLoader resolves the height field of a terrain object by name.
type TerrainLoader func(name string) (HeightField, error)

// ReadObjects parses an objects file. Each object is a header of 15
// whitespace separated values
//
//	name type r g b x y z rotx roty rotz sx sy sz contact
//
// which may span lines, followed by one line of object parameters and one
// line of contact parameters. Parameter lines hold as many numbers as the
// object needs; parsing stops at the first token that is not a number.
// Text after '#' is a comment.
func ReadObjects(r io.Reader, terrains TerrainLoader) ([]Object, error) {
	sc := bufio.NewScanner(r)
	lineNo := 0
	nextLine := func() (string, bool) {
		for sc.Scan() {
			lineNo++
			line := sc.Text()
			if i := strings.IndexByte(line, '#'); i >= 0 {
				line = line[:i]
				if strings.TrimSpace(line) == "" {
					continue
				}
			}
			return line, true
		}
		return "", false
	}

	var out []Object
	for {
		var header []string
		for len(header) < headerTokens {
			line, ok := nextLine()
			if !ok {
				if len(header) == 0 {
					return out, sc.Err()
				}
				return nil, fmt.Errorf("objects: line %d: truncated object header", lineNo)
			}
			header = append(header, strings.Fields(line)...)
		}

		o, err := parseHeader(header[:headerTokens])
		if err != nil {
			return nil, fmt.Errorf("objects: line %d: %w", lineNo, err)
		}

		oline, _ := nextLine()
		o.ObjectParams = scanFloats(oline)
		cline, _ := nextLine()
		o.ContactParams = scanFloats(cline)

		if o.Type == Terrain && terrains != nil {
			hf, err := terrains(o.Name)
			if err != nil {
				return nil, fmt.Errorf("objects: terrain %s: %w", o.Name, err)
			}
			o.Terrain = hf
		}
		out = append(out, o)
	}
}

func parseHeader(tok []string) (Object, error) {
	var o Object
	o.Name = tok[0]
	typ, err := strconv.Atoi(tok[1])
	if err != nil {
		return o, fmt.Errorf("object %s: type: %w", o.Name, err)
	}
	o.Type = Type(typ)

	var v [12]float64
	for i := range v {
		if v[i], err = strconv.ParseFloat(tok[2+i], 64); err != nil {
			return o, fmt.Errorf("object %s: field %d: %w", o.Name, 3+i, err)
		}
	}
	o.RGB = mgl64.Vec3{v[0], v[1], v[2]}
	o.Trans = mgl64.Vec3{v[3], v[4], v[5]}
	o.Rot = mgl64.Vec3{v[6], v[7], v[8]}
	o.Scale = mgl64.Vec3{v[9], v[10], v[11]}

	cm, err := strconv.Atoi(tok[14])
	if err != nil {
		return o, fmt.Errorf("object %s: contact model: %w", o.Name, err)
	}
	o.ContactModel = ContactModel(cm)
	return o, nil
}

func scanFloats(line string) []float64 {
	var out []float64
	for _, f := range strings.Fields(line) {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			break
		}
		out = append(out, v)
	}
	return out
}

// LoadObjects reads an objects file. Terrains are loaded from <name>.asc
// next to it.
func LoadObjects(path string) ([]Object, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dir := filepath.Dir(path)
	return ReadObjects(f, func(name string) (HeightField, error) {
		return LoadGridTerrain(filepath.Join(dir, name+".asc"))
	})
}

// GroundLevel returns the top surface height of the object named floor.
func GroundLevel(objs []Object) (float64, bool) {
	for _, o := range objs {
		if o.Name == "floor" {
			return o.Trans[2] + 0.5*o.Scale[2], true
		}
	}
	return 0, false
}
