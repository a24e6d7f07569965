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
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"edgeforge/internal/audit"
	"edgeforge/internal/database"
	"edgeforge/internal/databridge"
	"edgeforge/internal/domainstate"
	"edgeforge/internal/events"
	"edgeforge/internal/manifest"
	"edgeforge/internal/obslog"
	"edgeforge/internal/orchconfig"
	"edgeforge/internal/orcherr"
	"edgeforge/internal/orchestrator"
	"edgeforge/internal/router"
	"edgeforge/pkg/executil"
)

// NewDeployCommand returns the `edgeforge deploy` command.
func NewDeployCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy workers to one or more domains",
		Long:  "Drives every selected domain through its per-domain pipeline: manifest preparation, database migration, secret generation, worker deployment, and post-deploy verification.",
		RunE:  runDeploy,
	}

	cmd.Flags().Bool("all-domains", false, "deploy every domain configured in edgeforge.yml")
	cmd.Flags().String("state-dir", "state", "root directory of the state store used for phase checkpoints")

	// Global flags (--config, --env, --mode, --domain, --verbose, --dry-run) are inherited from root

	return cmd
}

func runDeploy(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	flags := ResolveFlags(cmd)
	domainFlag, _ := cmd.Flags().GetString("domain")
	allDomains, _ := cmd.Flags().GetBool("all-domains")
	stateDir, _ := cmd.Flags().GetString("state-dir")

	logger := obslog.New(flags.Verbose)

	r := router.New()
	if err := r.LoadConfiguration(flags.Config); err != nil && err != orchconfig.ErrNotFound {
		return fmt.Errorf("loading configuration: %w", err)
	}

	domains, err := r.SelectDomain(ctx, router.SelectOptions{SpecificDomain: domainFlag, SelectAll: allDomains || domainFlag == ""})
	if err != nil {
		return Misuse(fmt.Errorf("selecting domains: %w", err))
	}

	validation := r.ValidateConfiguration(domains, flags.Env)
	if !validation.Valid {
		return Misuse(fmt.Errorf("configuration invalid: %v", validation.Errors))
	}

	cfg, err := orchconfig.Load(flags.Config)
	if err != nil && err != orchconfig.ErrNotFound {
		return fmt.Errorf("loading configuration: %w", err)
	}

	cliPath := "wrangler"
	subdomain := ""
	serviceDir, _ := os.Getwd()
	if cfg != nil {
		if cfg.Platform.CLIPath != "" {
			cliPath = cfg.Platform.CLIPath
		}
		subdomain = cfg.Platform.Subdomain
	}

	auditLog := audit.New(filepath.Join("logs", "deployment-audit.log"))
	runner := executil.NewRunner()
	dbOrch := database.New(cliPath, runner, events.NullSink{}, auditLog)

	manifestFor := func(domain string) *manifest.Mutator {
		dir := serviceDir
		if cfg != nil {
			for _, d := range cfg.Domains {
				if d.Name == domain && d.ServiceDir != "" {
					dir = d.ServiceDir
				}
			}
		}
		return manifest.New(filepath.Join(dir, "wrangler.toml"), flags.DryRun, events.NullSink{})
	}

	orchCfg := orchestrator.Config{
		CLIPath:             cliPath,
		PlatformSubdomain:   subdomain,
		ServiceDir:          serviceDir,
		ParallelDeployments: 1,
		RollbackOnError:     false,
		ResolveDomains:      func(context.Context) ([]string, error) { return domains, nil },
		SecretManager:       noopSecretManager{},
		HealthProbe:         &orchestrator.HealthProbe{},
		DeployRunner:        runner,
		DataBridgeFor:       dataBridgeFor(stateDir),
	}

	orch := orchestrator.New(orchCfg, manifestFor, dbOrch, events.NullSink{}, auditLog)

	mode := domainstate.ModeSingle
	switch flags.Mode {
	case "multi-domain":
		mode = domainstate.ModeMultiDomain
	case "portfolio":
		mode = domainstate.ModePortfolio
	}

	deployment, err := orch.Initialize(ctx, domainstate.Environment(flags.Env), mode, flags.DryRun)
	if err != nil {
		return fmt.Errorf("initializing deployment: %w", err)
	}

	logger.Info("starting deployment",
		obslog.NewField("id", deployment.ID),
		obslog.NewField("env", flags.Env),
		obslog.NewField("domains", len(deployment.Domains)),
	)

	deployErr := orch.Deploy(ctx, deployment)

	printDeploymentSummary(cmd, deployment, auditLog.Path())

	if deployErr != nil {
		if kind, ok := orcherr.KindOf(deployErr); ok && kind == orcherr.KindDeploymentCancelled {
			return Cancelled(deployErr)
		}
		return deployErr
	}
	if deployment.Status == domainstate.DeploymentFailed {
		return fmt.Errorf("deployment %s failed; see %s", deployment.ID, auditLog.Path())
	}
	return nil
}

func printDeploymentSummary(cmd *cobra.Command, deployment *domainstate.Deployment, auditPath string) {
	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "\nDeployment %s (%s)\n", deployment.ID, deployment.Status)
	for name, state := range deployment.Domains {
		_, _ = fmt.Fprintf(out, "  %-30s %s\n", name, state.Status)
		for _, derr := range state.Errors {
			_, _ = fmt.Fprintf(out, "    [%s/%s] %s\n", derr.Phase, derr.Kind, derr.Message)
		}
	}
	_, _ = fmt.Fprintf(out, "audit log: %s\n", auditPath)
}

// noopSecretManager is the default SecretManager for deployments that don't
// wire in a real secrets backend: it generates no secret references.
type noopSecretManager struct{}

func (noopSecretManager) GenerateSecrets(context.Context, string, string) ([]string, error) {
	return nil, nil
}

// dataBridgeFor returns an orchestrator.Config.DataBridgeFor that gives each
// domain its own Integrator rooted under stateDir/<domain>, so phase
// checkpoints from concurrent domains in the same batch never collide.
func dataBridgeFor(stateDir string) func(string) *databridge.Integrator {
	return func(domain string) *databridge.Integrator {
		integrator := databridge.New(domain, events.NullSink{})
		if err := integrator.Initialize(filepath.Join(stateDir, domain)); err != nil {
			return nil
		}
		return integrator
	}
}
