package state

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

var ErrShortBuffer = errors.New("state: buffer too small")

const scalar = 4

const (
	jointFields   = 6
	desiredFields = 5
	baseFields    = 9
	orientFields  = 14
	forceFields   = 6
	contactFields = 5
	blobFields    = 4
)

// Wire sizes in bytes.
func JointsSize(n int) int   { return n * jointFields * scalar }
func DesiredSize(n int) int  { return n * desiredFields * scalar }
func BaseSize() int          { return baseFields * scalar }
func OrientSize() int        { return orientFields * scalar }
func ForcesSize(n int) int   { return n * forceFields * scalar }
func ContactsSize(n int) int { return n * contactFields * scalar }
func BlobsSize(n int) int    { return n * blobFields * scalar }
func FloatsSize(n int) int   { return n * scalar }
func Vec3sSize(n int) int    { return n * 3 * scalar }

type writer struct {
	b   []byte
	off int
}

func (w *writer) put(v float64) {
	binary.LittleEndian.PutUint32(w.b[w.off:], math.Float32bits(float32(v)))
	w.off += scalar
}

func (w *writer) flag(v bool) {
	if v {
		w.put(1)
	} else {
		w.put(0)
	}
}

func (w *writer) vec(v mgl64.Vec3) {
	w.put(v[0])
	w.put(v[1])
	w.put(v[2])
}

func (w *writer) quat(q mgl64.Quat) {
	w.put(q.W)
	w.vec(q.V)
}

type reader struct {
	b   []byte
	off int
}

func (r *reader) get() float64 {
	v := math.Float32frombits(binary.LittleEndian.Uint32(r.b[r.off:]))
	r.off += scalar
	return float64(v)
}

func (r *reader) flag() bool { return r.get() != 0 }

func (r *reader) vec() mgl64.Vec3 {
	return mgl64.Vec3{r.get(), r.get(), r.get()}
}

func (r *reader) quat() mgl64.Quat {
	w := r.get()
	return mgl64.Quat{W: w, V: r.vec()}
}

func EncodeJoints(b []byte, js []Joint) error {
	if len(b) < JointsSize(len(js)) {
		return ErrShortBuffer
	}
	w := writer{b: b}
	for _, j := range js {
		w.put(j.Th)
		w.put(j.Thd)
		w.put(j.Thdd)
		w.put(j.U)
		w.put(j.Ufb)
		w.put(j.Load)
	}
	return nil
}

func DecodeJoints(b []byte, js []Joint) error {
	if len(b) < JointsSize(len(js)) {
		return ErrShortBuffer
	}
	r := reader{b: b}
	for i := range js {
		js[i] = Joint{Th: r.get(), Thd: r.get(), Thdd: r.get(), U: r.get(), Ufb: r.get(), Load: r.get()}
	}
	return nil
}

func EncodeDesired(b []byte, ds []DesiredJoint) error {
	if len(b) < DesiredSize(len(ds)) {
		return ErrShortBuffer
	}
	w := writer{b: b}
	for _, d := range ds {
		w.put(d.Th)
		w.put(d.Thd)
		w.put(d.Thdd)
		w.put(d.Uff)
		w.flag(d.Status)
	}
	return nil
}

func DecodeDesired(b []byte, ds []DesiredJoint) error {
	if len(b) < DesiredSize(len(ds)) {
		return ErrShortBuffer
	}
	r := reader{b: b}
	for i := range ds {
		ds[i] = DesiredJoint{Th: r.get(), Thd: r.get(), Thdd: r.get(), Uff: r.get(), Status: r.flag()}
	}
	return nil
}

func EncodeBase(b []byte, s Base) error {
	if len(b) < BaseSize() {
		return ErrShortBuffer
	}
	w := writer{b: b}
	w.vec(s.X)
	w.vec(s.Xd)
	w.vec(s.Xdd)
	return nil
}

func DecodeBase(b []byte) (Base, error) {
	if len(b) < BaseSize() {
		return Base{}, ErrShortBuffer
	}
	r := reader{b: b}
	return Base{X: r.vec(), Xd: r.vec(), Xdd: r.vec()}, nil
}

// EncodeOrient writes o with its quaternion renormalized.
func EncodeOrient(b []byte, o Orient) error {
	if len(b) < OrientSize() {
		return ErrShortBuffer
	}
	w := writer{b: b}
	w.quat(o.Q.Normalize())
	w.quat(o.Qd)
	w.vec(o.Ad)
	w.vec(o.Add)
	return nil
}

// DecodeOrient reads an orientation and renormalizes the quaternion, which
// lost precision on the wire.
func DecodeOrient(b []byte) (Orient, error) {
	if len(b) < OrientSize() {
		return Orient{}, ErrShortBuffer
	}
	r := reader{b: b}
	o := Orient{Q: r.quat(), Qd: r.quat(), Ad: r.vec(), Add: r.vec()}
	o.Q = o.Q.Normalize()
	return o, nil
}

func EncodeForces(b []byte, fs []ExternalForce) error {
	if len(b) < ForcesSize(len(fs)) {
		return ErrShortBuffer
	}
	w := writer{b: b}
	for _, f := range fs {
		w.vec(f.F)
		w.vec(f.T)
	}
	return nil
}

func DecodeForces(b []byte, fs []ExternalForce) error {
	if len(b) < ForcesSize(len(fs)) {
		return ErrShortBuffer
	}
	r := reader{b: b}
	for i := range fs {
		fs[i] = ExternalForce{F: r.vec(), T: r.vec()}
	}
	return nil
}

func EncodeContacts(b []byte, cs []ContactStatus) error {
	if len(b) < ContactsSize(len(cs)) {
		return ErrShortBuffer
	}
	w := writer{b: b}
	for _, c := range cs {
		w.flag(c.Active)
		w.flag(c.Status)
		w.vec(c.F)
	}
	return nil
}

func DecodeContacts(b []byte, cs []ContactStatus) error {
	if len(b) < ContactsSize(len(cs)) {
		return ErrShortBuffer
	}
	r := reader{b: b}
	for i := range cs {
		cs[i] = ContactStatus{Active: r.flag(), Status: r.flag(), F: r.vec()}
	}
	return nil
}

func EncodeBlobs(b []byte, bs []Blob) error {
	if len(b) < BlobsSize(len(bs)) {
		return ErrShortBuffer
	}
	w := writer{b: b}
	for _, bl := range bs {
		w.flag(bl.Status)
		w.vec(bl.X)
	}
	return nil
}

func DecodeBlobs(b []byte, bs []Blob) error {
	if len(b) < BlobsSize(len(bs)) {
		return ErrShortBuffer
	}
	r := reader{b: b}
	for i := range bs {
		bs[i] = Blob{Status: r.flag(), X: r.vec()}
	}
	return nil
}

func EncodeVec3s(b []byte, vs []mgl64.Vec3) error {
	if len(b) < Vec3sSize(len(vs)) {
		return ErrShortBuffer
	}
	w := writer{b: b}
	for _, v := range vs {
		w.vec(v)
	}
	return nil
}

func DecodeVec3s(b []byte, vs []mgl64.Vec3) error {
	if len(b) < Vec3sSize(len(vs)) {
		return ErrShortBuffer
	}
	r := reader{b: b}
	for i := range vs {
		vs[i] = r.vec()
	}
	return nil
}

func EncodeFloats(b []byte, fs []float64) error {
	if len(b) < FloatsSize(len(fs)) {
		return ErrShortBuffer
	}
	w := writer{b: b}
	for _, f := range fs {
		w.put(f)
	}
	return nil
}

func DecodeFloats(b []byte, fs []float64) error {
	if len(b) < FloatsSize(len(fs)) {
		return ErrShortBuffer
	}
	r := reader{b: b}
	for i := range fs {
		fs[i] = r.get()
	}
	return nil
}
