// SPDX-License-Identifier: AGPL-3.0-or-later

/*

Edgeforge - Edgeforge is a Go-based deployment orchestration core that
materializes worker artifacts and their backing resources onto a
serverless edge platform across one or more domains.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package commands contains Cobra subcommands for the Edgeforge CLI.
package commands

import (
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"edgeforge/internal/orchconfig"
)

// ResolvedFlags contains the resolved values for all global flags, with
// precedence command-line flag > environment variable > built-in default.
type ResolvedFlags struct {
	Env     string
	Config  string
	Verbose bool
	DryRun  bool
	Mode    string
}

// ResolveFlags resolves global flags from cmd.
func ResolveFlags(cmd *cobra.Command) *ResolvedFlags {
	flags := &ResolvedFlags{}

	envFlag, _ := cmd.Flags().GetString("env")
	flags.Env = resolveString(envFlag, firstNonEmpty(os.Getenv("DEPLOY_ENV"), os.Getenv("ENVIRONMENT"), os.Getenv("NODE_ENV")), "development")

	configFlag, _ := cmd.Flags().GetString("config")
	flags.Config = resolveString(configFlag, "", orchconfig.DefaultConfigPath())

	verboseFlag, _ := cmd.Flags().GetBool("verbose")
	flags.Verbose = resolveBool(verboseFlag, os.Getenv("LOG_LEVEL") == "debug", false)

	dryRunFlag, _ := cmd.Flags().GetBool("dry-run")
	flags.DryRun = resolveBool(dryRunFlag, false, false)

	modeFlag, _ := cmd.Flags().GetString("mode")
	flags.Mode = resolveString(modeFlag, "", "single")

	return flags
}

// resolveString resolves a string value with precedence: flag > env > default.
func resolveString(flag, env, defaultValue string) string {
	if flag != "" {
		return flag
	}
	if env != "" {
		return env
	}
	return defaultValue
}

// resolveBool resolves a boolean value with precedence: flag > env > default.
func resolveBool(flag bool, env, defaultValue bool) bool {
	if flag {
		return true
	}
	if env {
		return true
	}
	return defaultValue
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// ParseBool parses a CLI-supplied boolean-ish string, defaulting to false on
// a malformed value rather than erroring.
func ParseBool(s string) bool {
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false
	}
	return v
}
