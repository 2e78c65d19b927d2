// Copyright (C) 2019-2025 Algorand, Inc.
// This file is part of go-algorand
//
// go-algorand is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// go-algorand is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with go-algorand.  If not, see <https://www.gnu.org/licenses/>.

// Package timers provides a Clock abstraction useful for simulating timeouts.
package timers

import (
	"time"
)

// WallClock reports the passage of real (or simulated) time.
// Wait timers and the engine's retry loops read time only through it.
type WallClock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that fires once d has elapsed.
	After(d time.Duration) <-chan time.Time

	// Since returns the time elapsed since the clock was created or last reset.
	Since() time.Duration
}

// Seconds converts t to fractional seconds since the Unix epoch, the unit
// used for wait timer request times and durations.
func Seconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// FromSeconds converts fractional seconds since the Unix epoch back to a time.
func FromSeconds(s float64) time.Time {
	return time.Unix(0, int64(s*float64(time.Second)))
}
