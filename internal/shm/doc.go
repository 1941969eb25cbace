// Package shm provides the named shared-state namespace the servos use to
// talk to each other.
//
// A [Registry] plays the role of the operating system's shared memory and
// semaphore tables. Objects are created by name, bound to a stable [Key],
// and may be attached again by any other servo using the same name:
//
//   - [Segment]: fixed-size byte buffer holding the latest published value
//     of one quantity, guarded by exactly one [BinarySem]
//   - [BinarySem]: mutual exclusion with value in {0,1}
//   - [PulseSem]: wake-only primitive with give (one waiter) and flush
//     (all current waiters) semantics
//   - [Latest]: a segment paired with a ready pulse, the overwrite-on-store
//     channel between a producer servo and the servo that consumes it
//
// Every blocking call accepts a timeout: [NoWait], [WaitForever] or a
// positive duration.
package shm
