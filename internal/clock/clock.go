package clock

import "time"

// NowFunc returns current time. Override in tests for determinism.
var NowFunc = time.Now

// Now returns NowFunc() in UTC truncated to microseconds so that values
// round trip through every store adapter unchanged.
func Now() time.Time { return NowFunc().UTC().Truncate(time.Microsecond) }

// Since returns elapsed time from t.
func Since(t time.Time) time.Duration { return Now().Sub(t) }
