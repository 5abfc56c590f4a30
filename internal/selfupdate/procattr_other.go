//go:build !unix && !windows

package selfupdate

import "syscall"

func detachedProcAttr() *syscall.SysProcAttr {
	return nil
}
