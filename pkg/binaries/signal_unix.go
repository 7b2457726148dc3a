//go:build !windows

package binaries

import "syscall"

var cancelSignal = syscall.SIGTERM
