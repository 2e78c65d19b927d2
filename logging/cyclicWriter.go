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
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/algorand/go-deadlock"
)

// CyclicFileWriter implements the io.Writer interface and wraps an underlying file.
// When the live file would grow over the limit it is moved to the archive path,
// which may contain {{.Timestamp}} to keep one archive per rotation.
type CyclicFileWriter struct {
	mu        deadlock.Mutex
	writer    *os.File
	liveLog   string
	archive   string
	nextWrite uint64
	limit     uint64
	now       func() time.Time
}

const archiveTimestampToken = "{{.Timestamp}}"

// MakeCyclicFileWriter returns a writer that wraps a file to ensure it never grows too large
func MakeCyclicFileWriter(liveLogFilePath string, archiveFilePath string, sizeLimitBytes uint64) (*CyclicFileWriter, error) {
	cyclic := CyclicFileWriter{liveLog: liveLogFilePath, archive: archiveFilePath, limit: sizeLimitBytes, now: time.Now}

	fs, err := os.Stat(liveLogFilePath)
	if err == nil {
		cyclic.nextWrite = uint64(fs.Size())
	}

	if err := os.MkdirAll(filepath.Dir(liveLogFilePath), 0755); err != nil {
		return nil, err
	}
	writer, err := os.OpenFile(liveLogFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return nil, fmt.Errorf("CyclicFileWriter: cannot open log file %w", err)
	}
	cyclic.writer = writer
	return &cyclic, nil
}

func (cyclic *CyclicFileWriter) archivePath() string {
	if !strings.Contains(cyclic.archive, archiveTimestampToken) {
		return cyclic.archive
	}
	stamp := cyclic.now().UTC().Format("20060102T150405")
	return strings.ReplaceAll(cyclic.archive, archiveTimestampToken, stamp)
}

// Write ensures the the underlying file can store an additional len(p) bytes. If there is not enough room left
// the live file is archived and a fresh one started.
func (cyclic *CyclicFileWriter) Write(p []byte) (n int, err error) {
	cyclic.mu.Lock()
	defer cyclic.mu.Unlock()

	if uint64(len(p)) > cyclic.limit {
		// there's no hope for writing this entry to the log
		return 0, fmt.Errorf("CyclicFileWriter: input too long to write. Len = %v", len(p))
	}

	if cyclic.nextWrite+uint64(len(p)) > cyclic.limit {
		cyclic.writer.Close()
		if err = os.Rename(cyclic.liveLog, cyclic.archivePath()); err != nil {
			return 0, fmt.Errorf("CyclicFileWriter: cannot archive full log %w", err)
		}
		cyclic.writer, err = os.OpenFile(cyclic.liveLog, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0666)
		if err != nil {
			return 0, fmt.Errorf("CyclicFileWriter: cannot open log file %w", err)
		}
		cyclic.nextWrite = 0
	}
	n, err = cyclic.writer.Write(p)
	cyclic.nextWrite += uint64(n)
	return
}

// Close closes the live log file.
func (cyclic *CyclicFileWriter) Close() error {
	cyclic.mu.Lock()
	defer cyclic.mu.Unlock()
	return cyclic.writer.Close()
}
