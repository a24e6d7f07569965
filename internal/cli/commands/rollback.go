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
	"fmt"

	"github.com/spf13/cobra"

	"edgeforge/internal/events"
	"edgeforge/internal/statestore"
)

// NewRollbackCommand returns the `edgeforge rollback` command, which
// records a rollback of one phase's state to a prior version using the
// State Recovery service.
func NewRollbackCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Roll a phase's recorded state back to a prior version",
		Long:  "Validates that the target version exists in the phase's version chain, then records and completes a rollback to it.",
		RunE:  runRollback,
	}

	cmd.Flags().String("phase", "", "phase whose state to roll back (required)")
	cmd.Flags().String("to-version", "", "version ID to roll back to (required)")
	cmd.Flags().String("state-dir", "state", "root directory of the state store")

	return cmd
}

func runRollback(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	phase, _ := cmd.Flags().GetString("phase")
	toVersion, _ := cmd.Flags().GetString("to-version")
	stateDir, _ := cmd.Flags().GetString("state-dir")

	if phase == "" || toVersion == "" {
		return Misuse(fmt.Errorf("rollback requires --phase and --to-version"))
	}

	versioning := statestore.NewVersioning(stateDir, 0, 0, events.NullSink{})
	persistence := statestore.NewPersistence(stateDir, true, events.NullSink{})
	recovery := statestore.NewRecovery(stateDir, versioning, persistence, 0, 0, events.NullSink{})

	record, err := recovery.Rollback(ctx, phase, toVersion)
	if err != nil {
		return fmt.Errorf("rolling back %s to %s: %w", phase, toVersion, err)
	}

	if _, err := recovery.CompleteRollback(ctx, phase, record.RollbackID, true); err != nil {
		return fmt.Errorf("completing rollback %s: %w", record.RollbackID, err)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "rolled back phase %q from %s to %s (rollback %s)\n", phase, record.FromVersion, record.ToVersion, record.RollbackID)
	return nil
}
