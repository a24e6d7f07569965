// SPDX-License-Identifier: AGPL-3.0-or-later

/*

Edgeforge - Edgeforge is a Go-based deployment orchestration core that
materializes worker artifacts and their backing resources onto a
serverless edge platform across one or more domains.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunValidate_ValidManifestNoConfig(t *testing.T) {
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "wrangler.toml")
	content := "name = \"worker\"\nmain = \"src/index.js\"\ncompatibility_date = \"2024-01-01\"\n"
	require.NoError(t, os.WriteFile(manifestPath, []byte(content), 0o600))

	cmd := withGlobalFlags(NewValidateCommand())
	cmd.SetContext(context.Background())
	var out bytes.Buffer
	cmd.SetOut(&out)
	require.NoError(t, cmd.Flags().Set("service", dir))
	require.NoError(t, cmd.Flags().Set("config", filepath.Join(dir, "edgeforge.yml")))

	require.NoError(t, cmd.RunE(cmd, nil))
	require.Contains(t, out.String(), "valid=true")
}

func TestRunValidate_MissingRequiredKeyFails(t *testing.T) {
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "wrangler.toml")
	require.NoError(t, os.WriteFile(manifestPath, []byte("name = \"worker\"\n"), 0o600))

	cmd := withGlobalFlags(NewValidateCommand())
	cmd.SetContext(context.Background())
	require.NoError(t, cmd.Flags().Set("service", dir))
	require.NoError(t, cmd.Flags().Set("config", filepath.Join(dir, "edgeforge.yml")))

	err := cmd.RunE(cmd, nil)
	require.Error(t, err)
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	require.Equal(t, 2, exitErr.Code)
}
