// SPDX-License-Identifier: AGPL-3.0-or-later

/*

Edgeforge - Edgeforge is a Go-based deployment orchestration core that
materializes worker artifacts and their backing resources onto a
serverless edge platform across one or more domains.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package cli wires together the Edgeforge root Cobra command and global CLI options.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"edgeforge/internal/cli/commands"
)

// NewRootCommand constructs the Edgeforge root Cobra command and registers
// the deploy, validate, assess, rollback and version commands.
func NewRootCommand() *cobra.Command {
	version := os.Getenv("EDGEFORGE_VERSION")
	if version == "" {
		version = "0.0.0-dev"
	}

	cmd := &cobra.Command{
		Use:           "edgeforge",
		Short:         "Edgeforge – deployment orchestration core CLI",
		Long:          "Edgeforge materializes worker artifacts and their backing resources onto a serverless edge platform across one or more domains.",
		SilenceUsage:  true, // don't dump usage on user errors
		SilenceErrors: true, // centralize error printing in main()
	}

	// Global flags - registered in lexicographic order for deterministic help output
	cmd.PersistentFlags().StringP("config", "c", "", "path to edgeforge.yml")
	cmd.PersistentFlags().String("domain", "", "specific domain to target")
	cmd.PersistentFlags().Bool("dry-run", false, "show actions without executing")
	cmd.PersistentFlags().StringP("env", "e", "", "target environment")
	cmd.PersistentFlags().String("mode", "", "deployment mode: single, multi-domain, or portfolio")
	cmd.PersistentFlags().BoolP("verbose", "v", false, "enable verbose output")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number of Edgeforge",
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Edgeforge version %s\n", version)
		},
	})

	// Subcommands - keep registrations in lexicographic order by .Use
	// to ensure deterministic help output.
	cmd.AddCommand(commands.NewAssessCommand())
	cmd.AddCommand(commands.NewDeployCommand())
	cmd.AddCommand(commands.NewRollbackCommand())
	cmd.AddCommand(commands.NewValidateCommand())

	return cmd
}
