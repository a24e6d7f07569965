// SPDX-License-Identifier: AGPL-3.0-or-later

/*

Edgeforge - Edgeforge is a Go-based deployment orchestration core that
materializes worker artifacts and their backing resources onto a
serverless edge platform across one or more domains.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package audit implements the append-only JSON-lines audit log: one event
// per line at logs/deployment-audit.log, never truncated by the core.
package audit

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"edgeforge/internal/orcherr"
)

// DefaultPath is the conventional audit log location relative to a
// service's working directory.
const DefaultPath = "logs/deployment-audit.log"

// Entry is one line of the audit log.
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	Event     string         `json:"event"`
	Target    string         `json:"target"`
	Data      map[string]any `json:"data"`
}

// Log appends entries to an on-disk JSON-lines file.
type Log struct {
	path string
	mu   sync.Mutex
}

// New creates a Log writing to path. The containing directory is created
// lazily on first write.
func New(path string) *Log {
	return &Log{path: path}
}

// Record appends one entry, stamped with the current time.
func (l *Log) Record(event, target string, data map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := Entry{Timestamp: time.Now(), Event: event, Target: target, Data: data}
	line, err := json.Marshal(entry)
	if err != nil {
		return orcherr.Wrap(orcherr.KindSerialization, err, "encoding audit entry")
	}
	line = append(line, '\n')

	if err := os.MkdirAll(filepath.Dir(l.path), 0o750); err != nil {
		return orcherr.Wrap(orcherr.KindStorageIO, err, "creating audit log directory")
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return orcherr.Wrap(orcherr.KindStorageIO, err, "opening audit log")
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return orcherr.Wrap(orcherr.KindStorageIO, err, "writing audit entry")
	}
	return nil
}

// Path returns the log's on-disk location.
func (l *Log) Path() string {
	return l.path
}

// ReadAll reads and decodes every entry currently in the log, in file
// order.
func (l *Log) ReadAll() ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, orcherr.Wrap(orcherr.KindStorageIO, err, "reading audit log")
	}

	var entries []Entry
	dec := json.NewDecoder(bytes.NewReader(data))
	for {
		var entry Entry
		if err := dec.Decode(&entry); err != nil {
			break
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
