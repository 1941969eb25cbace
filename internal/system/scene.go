package system

import (
	"fmt"
	"path/filepath"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/san-kum/slservo/internal/config"
	"github.com/san-kum/slservo/internal/objects"
)

// TerrainDir loads terrain height fields from <dir>/<name>.asc.
func TerrainDir(dir string) objects.TerrainLoader {
	return func(name string) (objects.HeightField, error) {
		return objects.LoadGridTerrain(filepath.Join(dir, name+".asc"))
	}
}

// ObjectFromConfig converts an inline scene object.
func ObjectFromConfig(oc config.ObjectConfig, terrains objects.TerrainLoader) (objects.Object, error) {
	typ, err := objects.ParseType(oc.Type)
	if err != nil {
		return objects.Object{}, fmt.Errorf("object %s: %w", oc.Name, err)
	}
	cm, err := objects.ParseContactModel(oc.Contact)
	if err != nil {
		return objects.Object{}, fmt.Errorf("object %s: %w", oc.Name, err)
	}
	o := objects.Object{
		Name:          oc.Name,
		Type:          typ,
		ContactModel:  cm,
		RGB:           mgl64.Vec3(oc.RGB),
		Trans:         mgl64.Vec3(oc.Pos),
		Rot:           mgl64.Vec3(oc.Rot),
		Scale:         mgl64.Vec3(oc.Scale),
		ObjectParams:  append([]float64(nil), oc.ObjectParams...),
		ContactParams: append([]float64(nil), oc.ContactParams...),
	}
	if typ == objects.Terrain {
		if terrains == nil {
			return o, fmt.Errorf("object %s: no terrain directory", oc.Name)
		}
		if o.Terrain, err = terrains(oc.Name); err != nil {
			return o, fmt.Errorf("object %s: %w", oc.Name, err)
		}
	}
	return o, nil
}

// SceneObjects returns the initial scene: inline objects in order, then the
// objects file. A later object with the same name replaces an earlier one
// when added to a scene. Relative paths resolve against dir.
func SceneObjects(cfg *config.Config, dir string) ([]objects.Object, error) {
	terrains := TerrainDir(dir)
	var out []objects.Object
	for _, oc := range cfg.Sim.Objects {
		o, err := ObjectFromConfig(oc, terrains)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if cfg.Sim.ObjectsFile == "" {
		return out, nil
	}
	path := cfg.Sim.ObjectsFile
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}
	fromFile, err := objects.LoadObjects(path)
	if err != nil {
		return nil, fmt.Errorf("objects file: %w", err)
	}
	return append(out, fromFile...), nil
}
