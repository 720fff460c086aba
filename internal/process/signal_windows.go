//go:build windows

package process

import (
	"os"
	"syscall"
)

// killProcess terminates the process; Windows has no graceful signal for
// console-less children so every signal but 0 kills.
func killProcess(pid int, signal syscall.Signal) error {
	if pid < 0 {
		pid = -pid
	}
	if pid == 0 {
		return nil
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	if signal == 0 {
		return nil
	}
	return p.Kill()
}

func processExists(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = p.Release()
	return true
}
