package objects

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
)

// Handle identifies an object for the lifetime of a scene. Handles of
// deleted objects are never reused.
type Handle int

// NoHandle marks the absence of an object.
const NoHandle Handle = -1

// Scene is an arena of objects iterated in insertion order.
type Scene struct {
	slots  []*Object
	order  []Handle
	byName map[string]Handle
}

func NewScene() *Scene {
	return &Scene{byName: make(map[string]Handle)}
}

// Add inserts o, or updates the existing object of the same name in place
// keeping its handle and position in the iteration order.
func (s *Scene) Add(o Object) Handle {
	if h, ok := s.byName[o.Name]; ok {
		cur := s.slots[h]
		f, t := cur.F, cur.T
		*cur = *o.clone()
		cur.Hidden = false
		cur.F, cur.T = f, t
		return h
	}
	h := Handle(len(s.slots))
	s.slots = append(s.slots, o.clone())
	s.order = append(s.order, h)
	s.byName[o.Name] = h
	return h
}

// Lookup returns the handle registered under name.
func (s *Scene) Lookup(name string) (Handle, bool) {
	h, ok := s.byName[name]
	return h, ok
}

// Get returns the object behind h, or nil if it was deleted.
func (s *Scene) Get(h Handle) *Object {
	if h < 0 || int(h) >= len(s.slots) {
		return nil
	}
	return s.slots[h]
}

// ByName returns the named object.
func (s *Scene) ByName(name string) (*Object, error) {
	h, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoObject, name)
	}
	return s.slots[h], nil
}

// Len returns the number of live objects.
func (s *Scene) Len() int { return len(s.order) }

// Each calls fn for every live object in insertion order until fn returns
// false.
func (s *Scene) Each(fn func(h Handle, o *Object) bool) {
	for _, h := range s.order {
		if !fn(h, s.slots[h]) {
			return
		}
	}
}

// Names returns object names in insertion order.
func (s *Scene) Names() []string {
	names := make([]string, 0, len(s.order))
	for _, h := range s.order {
		names = append(names, s.slots[h].Name)
	}
	return names
}

func (s *Scene) Hide(name string, hide bool) error {
	o, err := s.ByName(name)
	if err != nil {
		return err
	}
	o.Hidden = hide
	return nil
}

func (s *Scene) Move(name string, pos, rot mgl64.Vec3) error {
	o, err := s.ByName(name)
	if err != nil {
		return err
	}
	o.Trans = pos
	o.Rot = rot
	return nil
}

// Delete removes the named object. Its handle stays invalid.
func (s *Scene) Delete(name string) error {
	h, ok := s.byName[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoObject, name)
	}
	delete(s.byName, name)
	s.slots[h] = nil
	for i, oh := range s.order {
		if oh == h {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Forces returns the force and torque currently acting on the named object.
func (s *Scene) Forces(name string) (f, t mgl64.Vec3, err error) {
	o, err := s.ByName(name)
	if err != nil {
		return f, t, err
	}
	return o.F, o.T, nil
}

// Snapshot returns deep copies of all live objects in iteration order.
func (s *Scene) Snapshot() []Object {
	out := make([]Object, 0, len(s.order))
	for _, h := range s.order {
		out = append(out, *s.slots[h].clone())
	}
	return out
}
