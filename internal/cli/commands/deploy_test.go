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
	"context"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

// withGlobalFlags registers the same persistent flags root.go attaches to
// every command, directly on cmd, so a subcommand can be exercised in
// isolation without constructing the whole root command tree.
func withGlobalFlags(cmd *cobra.Command) *cobra.Command {
	cmd.Flags().StringP("config", "c", "", "")
	cmd.Flags().String("domain", "", "")
	cmd.Flags().Bool("dry-run", false, "")
	cmd.Flags().StringP("env", "e", "", "")
	cmd.Flags().String("mode", "", "")
	cmd.Flags().BoolP("verbose", "v", false, "")
	return cmd
}

// runDeploy's happy path spawns a real platform CLI child process, so these
// tests cover the misuse paths that are reachable without one: domain
// selection and configuration validation both fail before any process is
// spawned.

func TestRunDeploy_NoConfigNoDomainIsMisuse(t *testing.T) {
	cmd := withGlobalFlags(NewDeployCommand())
	cmd.SetContext(context.Background())
	require.NoError(t, cmd.Flags().Set("config", filepath.Join(t.TempDir(), "missing.yml")))
	require.NoError(t, cmd.Flags().Set("env", "development"))

	err := cmd.RunE(cmd, nil)
	require.Error(t, err)
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	require.Equal(t, 2, exitErr.Code)
}

func TestRunDeploy_UnknownEnvironmentIsMisuse(t *testing.T) {
	cmd := withGlobalFlags(NewDeployCommand())
	cmd.SetContext(context.Background())
	require.NoError(t, cmd.Flags().Set("domain", "a.example.com"))
	require.NoError(t, cmd.Flags().Set("env", "bogus-env"))
	require.NoError(t, cmd.Flags().Set("config", filepath.Join(t.TempDir(), "missing.yml")))

	err := cmd.RunE(cmd, nil)
	require.Error(t, err)
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	require.Equal(t, 2, exitErr.Code)
}
