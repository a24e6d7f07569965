// SPDX-License-Identifier: AGPL-3.0-or-later

/*

Edgeforge - Edgeforge is a Go-based deployment orchestration core that
materializes worker artifacts and their backing resources onto a
serverless edge platform across one or more domains.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

package platformcli

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"edgeforge/internal/manifest"
	"edgeforge/pkg/executil"
)

type fakeRunner struct {
	result executil.Result
	err    error
	last   executil.Command
}

func (f *fakeRunner) Run(ctx context.Context, cmd executil.Command) (*executil.Result, error) {
	f.last = cmd
	result := f.result
	return &result, f.err
}

func (f *fakeRunner) RunStream(ctx context.Context, cmd executil.Command, out io.Writer) error {
	return nil
}

func newTestManifest(t *testing.T) *manifest.Mutator {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wrangler.toml")
	m := manifest.New(path, false, nil)
	doc := m.CreateMinimalConfig("my-worker", manifest.ProductionEnv, manifest.CreateMinimalConfigOptions{})
	require.NoError(t, m.WriteConfig(doc))
	return m
}

func TestDeploy_NonProductionAppendsEnvFlag(t *testing.T) {
	runner := &fakeRunner{result: executil.Result{ExitCode: 0, Stdout: []byte("Deployed to: https://staging.example.workers.dev")}}
	d := New("wrangler", "my-worker", "workers.dev", "", newTestManifest(t), runner, nil)

	result, err := d.Deploy(context.Background(), "staging", Options{})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Contains(t, runner.last.Args, "--env")
	require.Contains(t, runner.last.Args, "staging")
}

func TestDeploy_ProductionOmitsEnvFlag(t *testing.T) {
	runner := &fakeRunner{result: executil.Result{ExitCode: 0, Stdout: []byte("Deployed to: https://my-worker.workers.dev")}}
	d := New("wrangler", "my-worker", "workers.dev", "", newTestManifest(t), runner, nil)

	_, err := d.Deploy(context.Background(), manifest.ProductionEnv, Options{})
	require.NoError(t, err)
	require.NotContains(t, runner.last.Args, "--env")
}

func TestDeploy_URLExtraction_DeployedToTakesPriority(t *testing.T) {
	runner := &fakeRunner{result: executil.Result{ExitCode: 0, Stdout: []byte(
		"Worker URL: https://wrong.example\nDeployed to: https://right.example\n",
	)}}
	d := New("wrangler", "my-worker", "workers.dev", "", newTestManifest(t), runner, nil)

	result, err := d.Deploy(context.Background(), "production", Options{})
	require.NoError(t, err)
	require.Equal(t, "https://right.example", result.URL)
}

func TestDeploy_URLExtraction_WorkerURLOnly(t *testing.T) {
	runner := &fakeRunner{result: executil.Result{ExitCode: 0, Stdout: []byte("Worker URL: https://a.example")}}
	d := New("wrangler", "my-worker", "workers.dev", "", newTestManifest(t), runner, nil)

	result, err := d.Deploy(context.Background(), "production", Options{})
	require.NoError(t, err)
	require.Equal(t, "https://a.example", result.URL)
}

func TestDeploy_URLExtraction_FallsBackToDefaultHost(t *testing.T) {
	runner := &fakeRunner{result: executil.Result{ExitCode: 0, Stdout: []byte("deployment complete, no url printed")}}
	d := New("wrangler", "my-worker", "workers.dev", "", newTestManifest(t), runner, nil)

	result, err := d.Deploy(context.Background(), "production", Options{})
	require.NoError(t, err)
	require.Equal(t, "https://my-worker.workers.dev", result.URL)
}

func TestDeploy_NonZeroExit_ReturnsFailureResult(t *testing.T) {
	runner := &fakeRunner{
		result: executil.Result{ExitCode: 1, Stderr: []byte("No environment found for staging")},
		err:    require.AnError,
	}
	d := New("wrangler", "my-worker", "workers.dev", "", newTestManifest(t), runner, nil)

	result, err := d.Deploy(context.Background(), "staging", Options{})
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Contains(t, result.Hints, "add an [env.<env>] section to the manifest")
}

func TestDeploy_ManifestMissingHint(t *testing.T) {
	runner := &fakeRunner{
		result: executil.Result{ExitCode: 1, Stderr: []byte("could not find wrangler.toml")},
		err:    require.AnError,
	}
	d := New("wrangler", "my-worker", "workers.dev", "", newTestManifest(t), runner, nil)

	result, err := d.Deploy(context.Background(), "staging", Options{})
	require.NoError(t, err)
	require.Contains(t, result.Hints, "create the manifest file")
}

func TestMapBranchToEnvironment(t *testing.T) {
	require.Equal(t, "production", mapBranchToEnvironment("main"))
	require.Equal(t, "production", mapBranchToEnvironment("master"))
	require.Equal(t, "development", mapBranchToEnvironment("develop"))
	require.Equal(t, "staging", mapBranchToEnvironment("release-staging"))
	require.Equal(t, "development", mapBranchToEnvironment("feature/x"))
}

func TestDetectEnvironment_PrefersExplicitEnvVars(t *testing.T) {
	env := map[string]string{"NODE_ENV": "staging"}
	lookup := func(k string) string { return env[k] }

	result := DetectEnvironment(lookup, "CF_PAGES_BRANCH", "main")
	require.Equal(t, "staging", result)
}

func TestDetectEnvironment_FallsBackToGitBranch(t *testing.T) {
	lookup := func(k string) string { return "" }

	result := DetectEnvironment(lookup, "CF_PAGES_BRANCH", "main")
	require.Equal(t, "production", result)
}
