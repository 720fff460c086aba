//go:build !windows

package process

import "syscall"

// killProcess sends a signal to a Unix process or, with a negative pid, to its group
func killProcess(pid int, signal syscall.Signal) error {
	return syscall.Kill(pid, signal)
}

func processExists(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}
