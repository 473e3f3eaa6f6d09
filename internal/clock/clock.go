package clock

import "time"

// NowFunc supplies the current time for run records, log entries and
// decisions. Tests override it to get deterministic timestamps.
var NowFunc = time.Now

// Now returns NowFunc().
func Now() time.Time { return NowFunc() }
