package binaries

import "time"

// nowFunc is indirected so tests can freeze validation timestamps.
var nowFunc = time.Now
