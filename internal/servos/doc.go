// Package servos contains the payloads of the concrete servos: the motor
// servo that paces the system, the physics simulation, the task servo that
// produces desired joint states, a simulated vision tracker and the display
// feed. Servos only communicate through shared segments, pulses and
// mailboxes.
package servos
