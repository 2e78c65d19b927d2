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

	"github.com/algorand/go-deadlock"
)

// Frozen is a clock that only moves when Advance is called.
// After channels fire once the clock has been advanced past their deadline.
type Frozen struct {
	mu      deadlock.Mutex
	zero    time.Time
	now     time.Time
	waiters []frozenWaiter
}

type frozenWaiter struct {
	at time.Time
	ch chan time.Time
}

// MakeFrozenClock creates a new frozen clock reading now.
func MakeFrozenClock(now time.Time) *Frozen {
	return &Frozen{zero: now, now: now}
}

// Now implements WallClock.
func (m *Frozen) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Since implements WallClock.
func (m *Frozen) Since() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now.Sub(m.zero)
}

// After implements WallClock.
func (m *Frozen) After(d time.Duration) <-chan time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan time.Time, 1)
	at := m.now.Add(d)
	if !at.After(m.now) {
		ch <- m.now
		return ch
	}
	m.waiters = append(m.waiters, frozenWaiter{at: at, ch: ch})
	return ch
}

// Advance moves the clock forward by d and fires any expired After channels.
func (m *Frozen) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
	pending := m.waiters[:0]
	for _, w := range m.waiters {
		if w.at.After(m.now) {
			pending = append(pending, w)
			continue
		}
		w.ch <- m.now
	}
	m.waiters = pending
}

func (m *Frozen) String() string {
	return m.Now().String()
}
