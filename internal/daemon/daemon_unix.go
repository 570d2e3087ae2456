//go:build unix

package daemon

import "syscall"

// detachedProcAttr puts the forked supervisor in its own session so a
// terminal closing doesn't take the daemon with it.
func detachedProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}

// syscallSignalZero is signal 0: sending it only checks process
// existence and permissions, without actually signaling anything.
func syscallSignalZero() syscall.Signal {
	return syscall.Signal(0)
}
