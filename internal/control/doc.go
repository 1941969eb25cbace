// Package control computes joint torque commands for the motor servo.
//
// [PID] closes a per-DOF loop around the desired joint state and adds the
// desired feed-forward torque:
//
//	u = uff + Kp*(th_d - th) + Kd*(thd_d - thd) + Ki*integral(th_d - th)
//
// # Usage
//
//	pid := control.NewPID(gains, 1000)
//	pid.Compute(desired, joints, u, ufb)
//
// Gains can be changed between ticks with [PID.SetGains] or
// [PID.SetParam], which the motor servo exposes as console commands.
package control
