// Package clock abstracts the wall-clock source used to stamp save files.
// On hardware this reading comes from the RTC, which must be initialized
// before storage is used.
package clock

import "time"

// Clock reports the current Unix time in seconds. A zero reading means the
// clock has not been initialized.
type Clock interface {
	Now() int64
}

// System reads the host wall clock.
type System struct{}

func (System) Now() int64 { return time.Now().Unix() }

// Fixed is a constant clock for tests and deterministic tooling.
type Fixed int64

func (f Fixed) Now() int64 { return int64(f) }
