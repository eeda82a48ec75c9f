//go:build !windows

package backup

import "syscall"

// detachedProcAttr starts the child in its own session so it survives the
// terminal that launched it.
func detachedProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
