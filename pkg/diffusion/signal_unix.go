//go:build !windows

package diffusion

import "syscall"

var terminateSignal = syscall.SIGTERM
