//go:build windows

package diffusion

import "os"

// Windows has no SIGTERM; os.Kill is the closest available signal.
var terminateSignal = os.Kill
