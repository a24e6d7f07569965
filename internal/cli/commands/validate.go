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
	"path/filepath"

	"github.com/spf13/cobra"

	"edgeforge/internal/events"
	"edgeforge/internal/manifest"
	"edgeforge/internal/orchconfig"
)

// NewValidateCommand returns the `edgeforge validate` command.
func NewValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a service's manifest and orchestration configuration",
		Long:  "Checks the service's platform manifest for required keys and, when present, the domain-routing configuration for consistency.",
		RunE:  runValidate,
	}

	cmd.Flags().String("service", ".", "path to the service's working directory")

	return cmd
}

func runValidate(cmd *cobra.Command, _ []string) error {
	flags := ResolveFlags(cmd)
	servicePath, _ := cmd.Flags().GetString("service")

	out := cmd.OutOrStdout()
	valid := true

	m := manifest.New(filepath.Join(servicePath, "wrangler.toml"), false, events.NullSink{})
	manifestResult, err := m.Validate()
	if err != nil {
		return fmt.Errorf("validating manifest: %w", err)
	}
	_, _ = fmt.Fprintf(out, "manifest (%s): valid=%v\n", filepath.Join(servicePath, "wrangler.toml"), manifestResult.Valid)
	for _, e := range manifestResult.Errors {
		_, _ = fmt.Fprintf(out, "  error: %s\n", e)
	}
	for _, w := range manifestResult.Warnings {
		_, _ = fmt.Fprintf(out, "  warning: %s\n", w)
	}
	if !manifestResult.Valid {
		valid = false
	}

	exists, err := orchconfig.Exists(flags.Config)
	if err != nil {
		return fmt.Errorf("checking configuration: %w", err)
	}
	if exists {
		cfg, err := orchconfig.Load(flags.Config)
		if err != nil {
			_, _ = fmt.Fprintf(out, "configuration (%s): invalid: %v\n", flags.Config, err)
			valid = false
		} else {
			_, _ = fmt.Fprintf(out, "configuration (%s): valid, %d domain(s)\n", flags.Config, len(cfg.DomainNames()))
		}
	} else {
		_, _ = fmt.Fprintf(out, "configuration (%s): not present, skipping\n", flags.Config)
	}

	if !valid {
		return Misuse(fmt.Errorf("validation failed"))
	}
	return nil
}
