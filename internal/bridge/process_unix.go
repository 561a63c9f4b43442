//go:build !windows

package bridge

import "syscall"

var terminateSignal = syscall.SIGTERM
