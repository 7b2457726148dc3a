//go:build windows

package binaries

import "os"

// Windows has no SIGTERM; os.Kill is the closest available signal for
// exec.Cmd.Cancel, which exec implements as TerminateProcess there anyway.
var cancelSignal = os.Kill
