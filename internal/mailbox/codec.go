package mailbox

import "github.com/vmihailenco/msgpack/v5"

// Command names understood by the servos.
const (
	CmdReset        = "reset"
	CmdGains        = "changePIDGains"
	CmdUextSim      = "setUextSim"
	CmdRealTime     = "changeRealTime"
	CmdFreezeBase   = "freezeBase"
	CmdGravity      = "setG"
	CmdAddObject    = "addObject"
	CmdHideObject   = "hideObject"
	CmdMoveObject   = "changeObjectPos"
	CmdDeleteObject = "deleteObject"
	CmdStatus       = "status"
	CmdIntRate      = "setIntRate"
	CmdIntMethod    = "setIntMethod"
	CmdGoto         = "goto"
	CmdDisable      = "disable"
)

func Encode(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func Decode(b []byte, v any) error {
	return msgpack.Unmarshal(b, v)
}

// Object describes a scene object to create or update.
type Object struct {
	Name          string     `msgpack:"name"`
	Type          int        `msgpack:"type"`
	RGB           [3]float64 `msgpack:"rgb"`
	Pos           [3]float64 `msgpack:"pos"`
	Rot           [3]float64 `msgpack:"rot"`
	Scale         [3]float64 `msgpack:"scale"`
	ContactModel  int        `msgpack:"contact"`
	ObjectParams  []float64  `msgpack:"oparams"`
	ContactParams []float64  `msgpack:"cparams"`
}

// ObjectRef names an existing object.
type ObjectRef struct {
	Name string `msgpack:"name"`
	Hide bool   `msgpack:"hide,omitempty"`
}

// MoveObject repositions an existing object.
type MoveObject struct {
	Name string     `msgpack:"name"`
	Pos  [3]float64 `msgpack:"pos"`
	Rot  [3]float64 `msgpack:"rot"`
}

// Reset places the floating base. Quat is w, x, y, z.
type Reset struct {
	Pos  [3]float64 `msgpack:"pos"`
	Quat [4]float64 `msgpack:"quat"`
}

// Gains carries per-DOF PD gains.
type Gains struct {
	Th  []float64 `msgpack:"th"`
	Thd []float64 `msgpack:"thd"`
}

type Flag struct {
	On bool `msgpack:"on"`
}

type Scalar struct {
	Value float64 `msgpack:"value"`
}

type Method struct {
	Name string `msgpack:"name"`
}

// Force is an external force/torque on one DOF; DOF 0 is the base.
type Force struct {
	DOF int        `msgpack:"dof"`
	F   [3]float64 `msgpack:"f"`
	T   [3]float64 `msgpack:"t"`
}

type UextSim struct {
	Forces []Force `msgpack:"forces"`
}

// GotoTarget is one joint's target position.
type GotoTarget struct {
	DOF int     `msgpack:"dof"`
	Th  float64 `msgpack:"th"`
}

// Goto requests a linear move at Speed rad/s. An empty target list moves
// to the default posture.
type Goto struct {
	Targets []GotoTarget `msgpack:"targets"`
	Speed   float64      `msgpack:"speed"`
}
