// SPDX-License-Identifier: AGPL-3.0-or-later

/*

Edgeforge - Edgeforge is a Go-based deployment orchestration core that
materializes worker artifacts and their backing resources onto a
serverless edge platform across one or more domains.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

package cli

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewRootCommand_HasExpectedBasics(t *testing.T) {
	cmd := NewRootCommand()

	if cmd.Use != "edgeforge" {
		t.Fatalf("expected Use to be 'edgeforge', got %q", cmd.Use)
	}

	if cmd.Short == "" {
		t.Fatalf("expected Short description to be non-empty")
	}

	for _, name := range []string{"version", "deploy", "validate", "assess", "rollback"} {
		if _, _, err := cmd.Find([]string{name}); err != nil {
			t.Fatalf("expected to find %q subcommand, got error: %v", name, err)
		}
	}
}

func TestVersionCommand_PrintsVersion(t *testing.T) {
	cmd := NewRootCommand()

	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"version"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("expected no error executing 'version' command, got: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "Edgeforge version") {
		t.Fatalf("expected output to contain 'Edgeforge version', got: %q", out)
	}
}
