// SPDX-License-Identifier: AGPL-3.0-or-later

/*

Edgeforge - Edgeforge is a Go-based deployment orchestration core that
materializes worker artifacts and their backing resources onto a
serverless edge platform across one or more domains.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package platformcli publishes worker artifacts by invoking the platform
// CLI, wrapping pkg/executil.Runner rather than calling os/exec directly.
package platformcli

import (
	"context"
	"regexp"
	"strings"
	"time"

	"edgeforge/internal/events"
	"edgeforge/internal/manifest"
	"edgeforge/internal/orcherr"
	"edgeforge/pkg/executil"
)

// DefaultTimeout bounds one deploy invocation.
const DefaultTimeout = 2 * time.Minute

var (
	deployedToPattern = regexp.MustCompile(`Deployed to:\s*(https?://\S+)`)
	legacyDeployedTo  = regexp.MustCompile(`Your worker has been deployed to:\s*(https?://\S+)`)
	workerURLPattern  = regexp.MustCompile(`Worker URL:\s*(https?://\S+)`)
)

// Options configures one Deploy call.
type Options struct {
	DryRun     bool
	ConfigPath string
	Timeout    time.Duration
}

// Result is the outcome of Deploy.
type Result struct {
	Success     bool     `json:"success"`
	URL         string   `json:"url,omitempty"`
	WorkerURL   string   `json:"workerUrl,omitempty"`
	Environment string   `json:"environment"`
	Stdout      string   `json:"stdout"`
	Stderr      string   `json:"stderr"`
	Code        int      `json:"code,omitempty"`
	Error       string   `json:"error,omitempty"`
	Hints       []string `json:"hints,omitempty"`
}

// Deployer publishes worker artifacts by shelling out to the platform CLI.
type Deployer struct {
	cliPath     string
	workerName  string
	subdomain   string
	workDir     string
	manifest    *manifest.Mutator
	runner      executil.Runner
	sink        events.Sink
}

// New constructs a Deployer. A nil runner defaults to executil.NewRunner();
// a nil sink discards events. subdomain is the platform's workers.dev-style
// default host used to build a fallback URL.
func New(cliPath, workerName, subdomain, workDir string, m *manifest.Mutator, runner executil.Runner, sink events.Sink) *Deployer {
	if runner == nil {
		runner = executil.NewRunner()
	}
	if sink == nil {
		sink = events.NullSink{}
	}
	return &Deployer{
		cliPath:    cliPath,
		workerName: workerName,
		subdomain:  subdomain,
		workDir:    workDir,
		manifest:   m,
		runner:     runner,
		sink:       sink,
	}
}

// Deploy publishes the worker for env.
func (d *Deployer) Deploy(ctx context.Context, env string, opts Options) (Result, error) {
	if d.manifest != nil {
		if err := d.manifest.EnsureEnvironment(env); err != nil {
			return Result{}, err
		}
	}

	args := []string{"deploy"}
	if env != manifest.ProductionEnv {
		args = append(args, "--env", env)
	}
	if opts.DryRun {
		args = append(args, "--dry-run")
	}
	if opts.ConfigPath != "" {
		args = append(args, "--config", opts.ConfigPath)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	d.sink.Emit(events.Event{Kind: events.KindCLIInvocation, Domain: env, Data: map[string]any{"args": args}, At: time.Now()})

	execResult, err := d.runner.Run(runCtx, executil.Command{Name: d.cliPath, Args: args, Dir: d.workDir})

	stdout, stderr := "", ""
	code := 0
	if execResult != nil {
		stdout = string(execResult.Stdout)
		stderr = string(execResult.Stderr)
		code = execResult.ExitCode
	}
	d.sink.Emit(events.Event{Kind: events.KindCLIOutput, Domain: env, Data: map[string]any{"stdout": stdout, "stderr": stderr}, At: time.Now()})

	if err != nil {
		result := Result{
			Success:     false,
			Environment: env,
			Stdout:      stdout,
			Stderr:      stderr,
			Code:        code,
			Error:       err.Error(),
			Hints:       errorHints(stderr),
		}

		if runCtx.Err() != nil {
			return result, orcherr.Wrap(orcherr.KindPlatformCLITimeout, runCtx.Err(), "deploy timed out for environment %s", env)
		}
		return result, nil
	}

	url := d.extractURL(stdout)
	return Result{
		Success:     true,
		URL:         url,
		WorkerURL:   url,
		Environment: env,
		Stdout:      stdout,
		Stderr:      stderr,
	}, nil
}

// extractURL applies a priority order over possible CLI output formats:
// Deployed to: -> legacy "Your worker has been deployed to:" -> Worker
// URL: -> first configured route -> constructed default host.
func (d *Deployer) extractURL(stdout string) string {
	if m := deployedToPattern.FindStringSubmatch(stdout); len(m) == 2 {
		return m[1]
	}
	if m := legacyDeployedTo.FindStringSubmatch(stdout); len(m) == 2 {
		return m[1]
	}
	if m := workerURLPattern.FindStringSubmatch(stdout); len(m) == 2 {
		return m[1]
	}
	if route := d.firstConfiguredRoute(); route != "" {
		return route
	}
	return "https://" + d.workerName + "." + d.subdomain
}

func (d *Deployer) firstConfiguredRoute() string {
	if d.manifest == nil {
		return ""
	}
	doc, err := d.manifest.ReadConfig()
	if err != nil {
		return ""
	}
	routes, ok := doc["routes"].([]any)
	if !ok || len(routes) == 0 {
		return ""
	}
	switch r := routes[0].(type) {
	case string:
		return r
	case map[string]any:
		if pattern, ok := r["pattern"].(string); ok {
			return pattern
		}
	}
	return ""
}

func errorHints(stderr string) []string {
	var hints []string
	if strings.Contains(stderr, "No environment found") {
		hints = append(hints, "add an [env.<env>] section to the manifest")
	}
	if strings.Contains(stderr, "wrangler.toml") {
		hints = append(hints, "create the manifest file")
	}
	return hints
}

// DetectEnvironment resolves the deployment environment from explicit
// environment variables, falling back to the current git branch. lookup is
// consulted in order for NODE_ENV, ENVIRONMENT, then branchEnvVar (the
// platform-specific override, e.g. CF_PAGES_BRANCH). gitBranch is the result
// of `git rev-parse --abbrev-ref HEAD`, supplied by the caller so this
// function stays free of process execution for testability.
func DetectEnvironment(lookup func(string) string, branchEnvVar, gitBranch string) string {
	for _, key := range []string{"NODE_ENV", "ENVIRONMENT", branchEnvVar} {
		if key == "" {
			continue
		}
		if v := lookup(key); v != "" {
			return v
		}
	}
	return mapBranchToEnvironment(gitBranch)
}

func mapBranchToEnvironment(branch string) string {
	switch {
	case branch == "main" || branch == "master":
		return manifest.ProductionEnv
	case branch == "develop" || branch == "dev":
		return "development"
	case strings.Contains(branch, "staging"):
		return "staging"
	default:
		return "development"
	}
}
