// SPDX-License-Identifier: AGPL-3.0-or-later

/*

Edgeforge - Edgeforge is a Go-based deployment orchestration core that
materializes worker artifacts and their backing resources onto a
serverless edge platform across one or more domains.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

package orchestrator

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"edgeforge/internal/database"
	"edgeforge/internal/databridge"
	"edgeforge/internal/domainstate"
	"edgeforge/internal/events"
	"edgeforge/internal/manifest"
	"edgeforge/internal/pipeline"
	"edgeforge/pkg/executil"
)

type scriptedRunner struct {
	result executil.Result
	err    error
}

func (r *scriptedRunner) Run(ctx context.Context, cmd executil.Command) (*executil.Result, error) {
	if len(cmd.Args) > 0 && cmd.Args[0] == "d1" {
		return &executil.Result{ExitCode: 0, Stdout: []byte("Applied 1 migration\n")}, nil
	}
	result := r.result
	return &result, r.err
}

func (r *scriptedRunner) RunStream(ctx context.Context, cmd executil.Command, out io.Writer) error {
	return nil
}

func newManifestFor(dir string) func(string) *manifest.Mutator {
	return func(domain string) *manifest.Mutator {
		path := filepath.Join(dir, strings.ReplaceAll(domain, ".", "-")+".toml")
		m := manifest.New(path, false, nil)
		doc := m.CreateMinimalConfig(domain, "staging", manifest.CreateMinimalConfigOptions{})
		_ = m.WriteConfig(doc)
		return m
	}
}

func TestInitialize_ResolvesDomainsIntoPendingDeployment(t *testing.T) {
	cfg := Config{
		ParallelDeployments: 2,
		ResolveDomains:      func(ctx context.Context) ([]string, error) { return []string{"a.example.com", "b.example.com"}, nil },
	}
	o := New(cfg, newManifestFor(t.TempDir()), nil, nil, nil)

	deployment, err := o.Initialize(context.Background(), domainstate.EnvStaging, domainstate.ModeMultiDomain, false)
	require.NoError(t, err)
	require.Equal(t, domainstate.DeploymentPending, deployment.Status)
	require.Len(t, deployment.Domains, 2)
}

func TestDeploy_SingleDomain_SucceedsAndSetsURL(t *testing.T) {
	runner := &scriptedRunner{result: executil.Result{ExitCode: 0, Stdout: []byte("Deployed to: https://a.example.com.workers.dev")}}
	dbOrch := database.New("wrangler", runner, nil, nil)

	cfg := Config{
		CLIPath:             "wrangler",
		PlatformSubdomain:   "workers.dev",
		ParallelDeployments: 1,
		ResolveDomains:      func(ctx context.Context) ([]string, error) { return []string{"a.example.com"}, nil },
		DeployRunner:        runner,
	}
	o := New(cfg, newManifestFor(t.TempDir()), dbOrch, nil, nil)

	deployment, err := o.Initialize(context.Background(), domainstate.EnvStaging, domainstate.ModeSingle, false)
	require.NoError(t, err)

	require.NoError(t, o.Deploy(context.Background(), deployment))
	require.Equal(t, domainstate.DeploymentCompleted, deployment.Status)

	domain := deployment.Domains["a.example.com"]
	require.Equal(t, domainstate.DomainCompleted, domain.Status)
	require.Equal(t, "https://a.example.com.workers.dev", domain.URLs.Platform)
}

func TestDeploy_DeployFailure_MarksDomainFailed(t *testing.T) {
	runner := &scriptedRunner{result: executil.Result{ExitCode: 1, Stderr: []byte("boom")}, err: require.AnError}
	dbOrch := database.New("wrangler", runner, nil, nil)

	cfg := Config{
		CLIPath:             "wrangler",
		PlatformSubdomain:   "workers.dev",
		ParallelDeployments: 1,
		ResolveDomains:      func(ctx context.Context) ([]string, error) { return []string{"a.example.com"}, nil },
		DeployRunner:        runner,
	}
	o := New(cfg, newManifestFor(t.TempDir()), dbOrch, nil, nil)

	deployment, err := o.Initialize(context.Background(), domainstate.EnvStaging, domainstate.ModeSingle, false)
	require.NoError(t, err)

	require.NoError(t, o.Deploy(context.Background(), deployment))
	require.Equal(t, domainstate.DeploymentFailed, deployment.Status)
	require.Equal(t, domainstate.DomainFailed, deployment.Domains["a.example.com"].Status)
}

type failingSecretManager struct{}

func (failingSecretManager) GenerateSecrets(context.Context, string, string) ([]string, error) {
	return nil, require.AnError
}

func TestDeploy_SecretGenerationFailure_DegradesToWarningsNotFailure(t *testing.T) {
	runner := &scriptedRunner{result: executil.Result{ExitCode: 0, Stdout: []byte("Deployed to: https://a.example.com.workers.dev")}}
	dbOrch := database.New("wrangler", runner, nil, nil)

	cfg := Config{
		CLIPath:             "wrangler",
		PlatformSubdomain:   "workers.dev",
		ParallelDeployments: 1,
		ResolveDomains:      func(ctx context.Context) ([]string, error) { return []string{"a.example.com"}, nil },
		DeployRunner:        runner,
		SecretManager:       failingSecretManager{},
	}
	o := New(cfg, newManifestFor(t.TempDir()), dbOrch, nil, nil)

	deployment, err := o.Initialize(context.Background(), domainstate.EnvStaging, domainstate.ModeSingle, false)
	require.NoError(t, err)

	require.NoError(t, o.Deploy(context.Background(), deployment))

	domain := deployment.Domains["a.example.com"]
	require.Equal(t, domainstate.DomainCompletedWithWarn, domain.Status)
	require.Equal(t, domainstate.DeploymentCompletedWithWarnings, deployment.Status)
	require.Equal(t, "https://a.example.com.workers.dev", domain.URLs.Platform)

	deployPhase := domain.PhaseResults[string(pipeline.PhaseDeployment)]
	require.True(t, deployPhase.Success)
	require.NotEmpty(t, deployPhase.Warnings)
}

func TestDeploy_WithDataBridge_RecordsPhaseCheckpoints(t *testing.T) {
	runner := &scriptedRunner{result: executil.Result{ExitCode: 0, Stdout: []byte("Deployed to: https://a.example.com.workers.dev")}}
	dbOrch := database.New("wrangler", runner, nil, nil)

	stateDir := t.TempDir()
	integrators := map[string]*databridge.Integrator{}

	cfg := Config{
		CLIPath:             "wrangler",
		PlatformSubdomain:   "workers.dev",
		ParallelDeployments: 1,
		ResolveDomains:      func(ctx context.Context) ([]string, error) { return []string{"a.example.com"}, nil },
		DeployRunner:        runner,
		DataBridgeFor: func(domain string) *databridge.Integrator {
			integrator := databridge.New(domain, events.NullSink{})
			require.NoError(t, integrator.Initialize(filepath.Join(stateDir, domain)))
			integrators[domain] = integrator
			return integrator
		},
	}
	o := New(cfg, newManifestFor(t.TempDir()), dbOrch, nil, nil)

	deployment, err := o.Initialize(context.Background(), domainstate.EnvStaging, domainstate.ModeSingle, false)
	require.NoError(t, err)

	require.NoError(t, o.Deploy(context.Background(), deployment))
	require.Equal(t, domainstate.DeploymentCompleted, deployment.Status)

	integrator := integrators["a.example.com"]
	require.NotNil(t, integrator)

	stats, err := integrator.GetWorkflowStatistics(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, stats.PhaseCheckpoints[databridge.PhaseAssess])
	require.NotEmpty(t, stats.PhaseCheckpoints[databridge.PhaseConstruct])
	require.NotEmpty(t, stats.PhaseCheckpoints[databridge.PhaseOrchestrate])
	require.NotEmpty(t, stats.PhaseCheckpoints[databridge.PhaseExecute])
}

func TestCreateDeploymentBatches_UsedByDeployMatchesConfiguredSize(t *testing.T) {
	batches := domainstate.CreateDeploymentBatches([]string{"a", "b", "c"}, 2)
	require.Len(t, batches, 2)
	require.Len(t, batches[0], 2)
	require.Len(t, batches[1], 1)
}
