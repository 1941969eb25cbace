package servos

import (
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/san-kum/slservo/internal/mailbox"
	"github.com/san-kum/slservo/internal/objects"
)

// ObjectFromMessage converts an addObject payload. Terrain surfaces are
// loaded through terrains when it is set.
func ObjectFromMessage(m mailbox.Object, terrains objects.TerrainLoader) (objects.Object, error) {
	if m.Name == "" {
		return objects.Object{}, errors.New("object without name")
	}
	o := objects.Object{
		Name:          m.Name,
		Type:          objects.Type(m.Type),
		ContactModel:  objects.ContactModel(m.ContactModel),
		RGB:           mgl64.Vec3(m.RGB),
		Trans:         mgl64.Vec3(m.Pos),
		Rot:           mgl64.Vec3(m.Rot),
		Scale:         mgl64.Vec3(m.Scale),
		ObjectParams:  append([]float64(nil), m.ObjectParams...),
		ContactParams: append([]float64(nil), m.ContactParams...),
	}
	if o.Type < objects.Cube || o.Type > objects.Terrain {
		return o, fmt.Errorf("object %s: unknown type %d", m.Name, m.Type)
	}
	if o.Type == objects.Terrain && terrains != nil {
		hf, err := terrains(o.Name)
		if err != nil {
			return o, fmt.Errorf("object %s: %w", o.Name, err)
		}
		o.Terrain = hf
	}
	return o, nil
}

// MessageFromObject is the inverse of ObjectFromMessage.
func MessageFromObject(o objects.Object) mailbox.Object {
	return mailbox.Object{
		Name:          o.Name,
		Type:          int(o.Type),
		RGB:           [3]float64(o.RGB),
		Pos:           [3]float64(o.Trans),
		Rot:           [3]float64(o.Rot),
		Scale:         [3]float64(o.Scale),
		ContactModel:  int(o.ContactModel),
		ObjectParams:  o.ObjectParams,
		ContactParams: o.ContactParams,
	}
}

// sceneHandlers registers the object commands that edit scene.
func sceneHandlers(d *mailbox.Dispatcher, scene *objects.Scene, terrains objects.TerrainLoader, after func(name string, payload []byte)) {
	d.Handle(mailbox.CmdAddObject, func(p []byte) error {
		var m mailbox.Object
		if err := mailbox.Decode(p, &m); err != nil {
			return err
		}
		o, err := ObjectFromMessage(m, terrains)
		if err != nil {
			return err
		}
		scene.Add(o)
		after(mailbox.CmdAddObject, p)
		return nil
	})
	d.Handle(mailbox.CmdHideObject, func(p []byte) error {
		var ref mailbox.ObjectRef
		if err := mailbox.Decode(p, &ref); err != nil {
			return err
		}
		if err := scene.Hide(ref.Name, ref.Hide); err != nil {
			return err
		}
		after(mailbox.CmdHideObject, p)
		return nil
	})
	d.Handle(mailbox.CmdMoveObject, func(p []byte) error {
		var mv mailbox.MoveObject
		if err := mailbox.Decode(p, &mv); err != nil {
			return err
		}
		if err := scene.Move(mv.Name, mgl64.Vec3(mv.Pos), mgl64.Vec3(mv.Rot)); err != nil {
			return err
		}
		after(mailbox.CmdMoveObject, p)
		return nil
	})
	d.Handle(mailbox.CmdDeleteObject, func(p []byte) error {
		var ref mailbox.ObjectRef
		if err := mailbox.Decode(p, &ref); err != nil {
			return err
		}
		if err := scene.Delete(ref.Name); err != nil {
			return err
		}
		after(mailbox.CmdDeleteObject, p)
		return nil
	})
}
