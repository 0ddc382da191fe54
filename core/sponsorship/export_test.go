package sponsorship

import "time"

// SetNowFunc overrides the package clock for tests; returns a restore func.
func SetNowFunc(fn func() time.Time) (restore func()) {
	orig := nowFunc
	nowFunc = fn
	return func() { nowFunc = orig }
}
