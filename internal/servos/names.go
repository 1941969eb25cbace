package servos

import (
	"time"

	"github.com/san-kum/slservo/internal/shm"
	"github.com/san-kum/slservo/internal/state"
)

// Shared segment names.
const (
	SegJointSimState = "joint_sim_state"
	SegBaseState     = "base_state"
	SegBaseOrient    = "base_orient"
	SegSimCommands   = "joint_sim_commands"
	SegJointState    = "joint_state"
	SegDesired       = "joint_des_state"
	SegContacts      = "contacts"
	SegLinks         = "link_pos"
	SegMisc          = "misc_sensors"
	SegBlobs         = "blobs"
)

// Pulse semaphore names.
const (
	PulseMotor        = "motor_servo"
	PulseSim          = "sim_servo"
	PulseTask         = "task_servo"
	PulseVision       = "vision_servo"
	PulseDisplay      = "display_servo"
	PulseDesiredReady = SegDesired + shm.ReadySuffix
)

// Mailbox and servo names.
const (
	Motor      = "motor"
	Simulation = "simulation"
	Task       = "task"
	Vision     = "vision"
	Display    = "display"
)

// Misc sensor slots published by the simulation.
const (
	MiscBaseHeight = iota
	MiscContacts
	MiscSimTime
	NumMisc
)

// Layout sizes every shared segment.
type Layout struct {
	DOF      int
	Links    int
	Contacts int
	Blobs    int
}

func (l Layout) size(name string) int {
	switch name {
	case SegJointSimState, SegJointState:
		return state.JointsSize(l.DOF)
	case SegBaseState:
		return state.BaseSize()
	case SegBaseOrient:
		return state.OrientSize()
	case SegSimCommands:
		return state.FloatsSize(l.DOF)
	case SegDesired:
		return state.DesiredSize(l.DOF)
	case SegContacts:
		return state.ContactsSize(l.Contacts)
	case SegLinks:
		return state.Vec3sSize(l.Links)
	case SegMisc:
		return state.FloatsSize(NumMisc)
	case SegBlobs:
		return state.BlobsSize(l.Blobs)
	default:
		return 0
	}
}

// Segment creates or attaches the named segment with its layout size.
func (l Layout) Segment(reg *shm.Registry, name string) (*shm.Segment, error) {
	return reg.Segment(name, l.size(name))
}

// Latest creates or attaches the named segment as a single-slot channel.
func (l Layout) Latest(reg *shm.Registry, name string) (*shm.Latest, error) {
	return reg.Latest(name, l.size(name))
}

func publish(seg *shm.Segment, timeout time.Duration, enc func(b []byte) error) error {
	var encErr error
	if err := seg.Publish(timeout, func(b []byte) { encErr = enc(b) }); err != nil {
		return err
	}
	return encErr
}

func read(seg *shm.Segment, timeout time.Duration, dec func(b []byte) error) error {
	var decErr error
	if err := seg.Read(timeout, func(b []byte) { decErr = dec(b) }); err != nil {
		return err
	}
	return decErr
}

func store(l *shm.Latest, timeout time.Duration, enc func(b []byte) error) error {
	var encErr error
	if err := l.Store(timeout, func(b []byte) { encErr = enc(b) }); err != nil {
		return err
	}
	return encErr
}

func load(l *shm.Latest, timeout time.Duration, dec func(b []byte) error) error {
	var decErr error
	if err := l.Load(timeout, func(b []byte) { decErr = dec(b) }); err != nil {
		return err
	}
	return decErr
}
