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

package timers

import (
	"time"
)

// Monotonic uses the system clock. Durations are measured with the
// monotonic reading carried by time.Now.
type Monotonic struct {
	zero time.Time
}

// MakeMonotonicClock creates a new system clock zeroed at the current time.
func MakeMonotonicClock() WallClock {
	return &Monotonic{zero: time.Now()}
}

// Now implements WallClock.
func (m *Monotonic) Now() time.Time {
	return time.Now()
}

// After implements WallClock.
func (m *Monotonic) After(d time.Duration) <-chan time.Time {
	if d <= 0 {
		timeout := make(chan time.Time, 1)
		timeout <- time.Now()
		return timeout
	}
	return time.After(d)
}

// Since implements WallClock.
func (m *Monotonic) Since() time.Duration {
	return time.Since(m.zero)
}

func (m *Monotonic) String() string {
	return m.zero.String()
}
