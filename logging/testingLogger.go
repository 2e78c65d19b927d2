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

package logging

import (
	"testing"
)

// testLoggerWriter forwards log output to the test's log, so it is
// only printed for failing or verbose tests.
type testLoggerWriter struct {
	t testing.TB
}

func (w testLoggerWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))
	return len(p), nil
}

// TestingLog is a test-only helper to create a Logger that writes to the test log at Debug level.
func TestingLog(t testing.TB) Logger {
	l := NewLogger()
	l.SetLevel(Debug)
	l.SetOutput(testLoggerWriter{t: t})
	return l
}

// TestingLogWithoutFatalExit is a test-only helper that replaces the process exit
// performed after a Fatal entry with a call to the registered exit handlers.
func TestingLogWithoutFatalExit(t testing.TB) Logger {
	l := TestingLog(t)
	l.(logger).entry.Logger.ExitFunc = func(int) {
		runExitHandlers()
	}
	return l
}
