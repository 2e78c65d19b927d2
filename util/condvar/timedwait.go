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

package condvar

import (
	"sync"
	"time"
)

// TimedWait waits for sync.Cond c to be signaled, with a timeout.
// Callers must hold c.L, exactly as for c.Wait(), and must re-check their
// condition on return since a timeout is indistinguishable from a wakeup.
func TimedWait(c *sync.Cond, timeout time.Duration) {
	// done is guarded by c.L
	var done bool

	t := time.AfterFunc(timeout, func() {
		c.L.Lock()
		defer c.L.Unlock()
		if !done {
			c.Broadcast()
		}
	})

	c.Wait()
	done = true
	t.Stop()
}
