//go:build unix

package launcher

import "syscall"

// detachedProcAttr puts the child in its own session and process group,
// detaching it from the launching process's controlling terminal and
// signal disposition. Setsid alone makes the child a new process group
// leader (pgid == pid), which is what gracefulKill's negative-pid signal
// targets; Setpgid is not also set, since setpgid on a session leader
// fails with EPERM.
func detachedProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setsid: true,
	}
}
