//go:build windows

package bridge

import "os"

// Windows has no SIGTERM; Signal(os.Interrupt) is unsupported for child
// processes, so terminate falls through to a kill.
var terminateSignal = os.Kill
