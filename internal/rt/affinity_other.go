//go:build !linux

package rt

func setAffinity(cpu int) error { return nil }

func setPriority(priority int) error { return nil }
