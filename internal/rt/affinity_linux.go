//go:build linux

package rt

import "golang.org/x/sys/unix"

// setAffinity pins the calling OS thread to cpu.
func setAffinity(cpu int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	return unix.SchedSetaffinity(0, &set)
}

// setPriority moves the calling OS thread into SCHED_FIFO at priority.
// Unprivileged processes get EPERM.
func setPriority(priority int) error {
	return unix.SchedSetAttr(0, &unix.SchedAttr{
		Policy:   unix.SCHED_FIFO,
		Priority: uint32(priority),
	}, 0)
}
