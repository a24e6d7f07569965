// SPDX-License-Identifier: AGPL-3.0-or-later

/*

Edgeforge - Edgeforge is a Go-based deployment orchestration core that
materializes worker artifacts and their backing resources onto a
serverless edge platform across one or more domains.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

package audit

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecord_AppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "deployment-audit.log")
	log := New(path)

	require.NoError(t, log.Record("PHASE_STARTED", "example.com", map[string]any{"phase": "deployment"}))
	require.NoError(t, log.Record("PHASE_FINISHED", "example.com", map[string]any{"phase": "deployment"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
}

func TestRecord_NeverTruncatesExistingContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	log := New(path)

	for i := 0; i < 5; i++ {
		require.NoError(t, log.Record("EVENT", "target", map[string]any{"n": i}))
	}

	entries, err := log.ReadAll()
	require.NoError(t, err)
	require.Len(t, entries, 5)
	require.Equal(t, "EVENT", entries[0].Event)
}

func TestReadAll_MissingFileReturnsEmpty(t *testing.T) {
	log := New(filepath.Join(t.TempDir(), "missing.log"))
	entries, err := log.ReadAll()
	require.NoError(t, err)
	require.Empty(t, entries)
}
