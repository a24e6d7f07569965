// SPDX-License-Identifier: AGPL-3.0-or-later

/*

Edgeforge - Edgeforge is a Go-based deployment orchestration core that
materializes worker artifacts and their backing resources onto a
serverless edge platform across one or more domains.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

package orchconfig

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigPath(t *testing.T) {
	require.Equal(t, "edgeforge.yml", DefaultConfigPath())
}

func TestExists_ReportsCorrectly(t *testing.T) {
	dir := t.TempDir()

	ok, err := Exists(filepath.Join(dir, "nope.yml"))
	require.NoError(t, err)
	require.False(t, ok)

	path := filepath.Join(dir, "edgeforge.yml")
	require.NoError(t, os.WriteFile(path, []byte("project:\n  name: test\nplatform:\n  cli_path: wrangler\n"), 0o600))

	ok, err = Exists(path)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestLoad_ReturnsErrNotFoundWhenMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestLoad_ParsesDomainsAndRouting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "edgeforge.yml")
	content := `
project:
  name: acme
platform:
  cli_path: wrangler
  subdomain: workers.dev
domains:
  - name: a.example.com
    service_type: api
  - name: b.example.com
routing:
  a.example.com.staging:
    hostname: staging-a.example.com
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "acme", cfg.Project.Name)
	require.Equal(t, []string{"a.example.com", "b.example.com"}, cfg.DomainNames())
	require.Equal(t, "staging-a.example.com", cfg.RoutingFor("a.example.com", "staging").Hostname)
	require.Equal(t, RoutingPolicy{}, cfg.RoutingFor("b.example.com", "staging"))
}

func TestLoad_RejectsMissingProjectName(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "edgeforge.yml")
	require.NoError(t, os.WriteFile(path, []byte("platform:\n  cli_path: wrangler\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_RejectsDuplicateDomainNames(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "edgeforge.yml")
	content := `
project:
  name: acme
platform:
  cli_path: wrangler
domains:
  - name: a.example.com
  - name: a.example.com
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}
