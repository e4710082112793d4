package enrich

import "time"

// Clock supplies the current time. Cooldown and quota-window logic reads it
// instead of the system clock so tests can advance time explicitly.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
