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
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"edgeforge/internal/capability"
)

// AssessmentReport is the document `edgeforge assess` produces: the
// capability set a domain/service-type pairing would run with under the
// current --mode, for review before a real deploy.
type AssessmentReport struct {
	Domain      string              `json:"domain,omitempty"`
	ServiceType string              `json:"serviceType,omitempty"`
	Mode        capability.Mode     `json:"mode"`
	Enabled     []capability.Name   `json:"enabled"`
	Disabled    []capability.Name   `json:"disabled"`
}

// NewAssessCommand returns the `edgeforge assess` command.
func NewAssessCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assess",
		Short: "Produce a capability assessment report for a domain",
		Long:  "Reports the capability set a domain/service-type would run with under the current deployment mode, without deploying anything.",
		RunE:  runAssess,
	}

	cmd.Flags().String("domain", "", "domain to assess")
	cmd.Flags().String("service-type", "", "service type being assessed")
	cmd.Flags().String("export", "", "write the report as JSON to this path instead of stdout")

	return cmd
}

func runAssess(cmd *cobra.Command, _ []string) error {
	flags := ResolveFlags(cmd)
	domain, _ := cmd.Flags().GetString("domain")
	serviceType, _ := cmd.Flags().GetString("service-type")
	exportPath, _ := cmd.Flags().GetString("export")

	mode := capability.Mode(flags.Mode)
	if flags.Mode == "" {
		mode = capability.ModeSingle
	}

	registry := capability.NewRegistry()
	if err := registry.SetDeploymentMode(mode, true); err != nil {
		return Misuse(fmt.Errorf("assessing mode %q: %w", mode, err))
	}

	report := registry.GetCapabilityReport()
	doc := AssessmentReport{
		Domain:      domain,
		ServiceType: serviceType,
		Mode:        report.Mode,
		Enabled:     report.Enabled,
		Disabled:    report.Disabled,
	}

	encoded, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding assessment report: %w", err)
	}

	if exportPath != "" {
		if err := os.WriteFile(exportPath, encoded, 0o644); err != nil {
			return fmt.Errorf("writing assessment report to %s: %w", exportPath, err)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "assessment written to %s\n", exportPath)
		return nil
	}

	_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
	return nil
}
