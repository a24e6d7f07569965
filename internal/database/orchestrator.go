// SPDX-License-Identifier: AGPL-3.0-or-later

/*

Edgeforge - Edgeforge is a Go-based deployment orchestration core that
materializes worker artifacts and their backing resources onto a
serverless edge platform across one or more domains.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package database creates and migrates per-domain databases on the
// platform by invoking its CLI, wrapping pkg/executil.Runner rather than
// calling os/exec directly.
package database

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"edgeforge/internal/audit"
	"edgeforge/internal/events"
	"edgeforge/internal/orcherr"
	"edgeforge/pkg/executil"
	"edgeforge/pkg/retry"
)

// DefaultRetryAttempts is the migration retry cap.
const DefaultRetryAttempts = 3

// DefaultRetryDelay is the pause between migration retries.
const DefaultRetryDelay = 1 * time.Second

// MigrationTimeout bounds one migration CLI invocation.
const MigrationTimeout = 120 * time.Second

var appliedCountPattern = regexp.MustCompile(`Applied\D*(\d+)`)

// MigrationResult is the outcome of applyDatabaseMigrations.
type MigrationResult struct {
	Status            string `json:"status"`
	DatabaseName      string `json:"databaseName"`
	MigrationsApplied int    `json:"migrationsApplied"`
	Output            string `json:"output"`
}

// BackupResult is one domain's entry in a createEnvironmentBackup manifest.
type BackupResult struct {
	Domain       string `json:"domain"`
	DatabaseName string `json:"databaseName"`
	OutputPath   string `json:"outputPath"`
	Success      bool   `json:"success"`
	Error        string `json:"error,omitempty"`
}

// Orchestrator creates and migrates per-domain databases by shelling out to
// the platform CLI.
type Orchestrator struct {
	cliPath       string
	runner        executil.Runner
	sink          events.Sink
	audit         *audit.Log
	retryAttempts int
	retryDelay    time.Duration
}

// New constructs an Orchestrator invoking cliPath via runner. A nil runner
// defaults to executil.NewRunner(); a nil sink discards events.
func New(cliPath string, runner executil.Runner, sink events.Sink, auditLog *audit.Log) *Orchestrator {
	if runner == nil {
		runner = executil.NewRunner()
	}
	if sink == nil {
		sink = events.NullSink{}
	}
	return &Orchestrator{
		cliPath:       cliPath,
		runner:        runner,
		sink:          sink,
		audit:         auditLog,
		retryAttempts: DefaultRetryAttempts,
		retryDelay:    DefaultRetryDelay,
	}
}

// DatabaseName computes the deterministic per-(domain,env) database name:
// domain.replace('.', '-') + '-' + env + '-db'.
func DatabaseName(domain, env string) string {
	return strings.ReplaceAll(domain, ".", "-") + "-" + env + "-db"
}

func (o *Orchestrator) migrationArgs(dbName, env string, isRemote bool) []string {
	if !isRemote {
		return []string{"d1", "migrations", "apply", dbName, "--local"}
	}
	return []string{"d1", "migrations", "apply", dbName, "--env", env, "--remote"}
}

// ApplyDatabaseMigrations runs the migration CLI for dbName, retrying up to
// retryAttempts times on failure. When every attempt fails it returns the
// last attempt's error (KindPlatformCLI, or KindPlatformCLITimeout once ctx
// is done); if ctx is cancelled before any attempt runs, ctx's error is
// returned. The caller (the deployment phase handler) decides whether a
// failed migration is critical.
func (o *Orchestrator) ApplyDatabaseMigrations(ctx context.Context, dbName, env string, isRemote bool) (MigrationResult, error) {
	args := o.migrationArgs(dbName, env, isRemote)

	var last MigrationResult
	var lastErr error

	err := retry.Do(ctx, retry.Options{Attempts: o.retryAttempts, Delay: o.retryDelay}, func(ctx context.Context, attempt int) error {
		runCtx, cancel := context.WithTimeout(ctx, MigrationTimeout)
		defer cancel()

		o.sink.Emit(events.Event{Kind: events.KindCLIInvocation, Domain: dbName, Data: map[string]any{"args": args, "attempt": attempt}, At: time.Now()})

		result, err := o.runner.Run(runCtx, executil.Command{Name: o.cliPath, Args: args})
		output := ""
		if result != nil {
			output = string(result.Stdout) + string(result.Stderr)
		}
		o.sink.Emit(events.Event{Kind: events.KindCLIOutput, Domain: dbName, Data: map[string]any{"output": output}, At: time.Now()})

		if err != nil {
			lastErr = orcherr.Wrap(orcherr.KindPlatformCLI, err, "migration failed for %s", dbName)
			if ctx.Err() != nil {
				lastErr = orcherr.Wrap(orcherr.KindPlatformCLITimeout, ctx.Err(), "migration timed out for %s", dbName)
			}
			return lastErr
		}

		last = MigrationResult{
			Status:            "completed",
			DatabaseName:      dbName,
			MigrationsApplied: parseAppliedCount(output),
			Output:            output,
		}
		return nil
	})

	if err != nil {
		if lastErr == nil {
			return MigrationResult{}, err
		}
		return MigrationResult{}, lastErr
	}
	return last, nil
}

func parseAppliedCount(output string) int {
	matches := appliedCountPattern.FindStringSubmatch(output)
	if len(matches) < 2 {
		return 0
	}
	n, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0
	}
	return n
}

// CreateEnvironmentBackup exports each domain's database and writes a JSON
// manifest of the per-domain results to manifestPath.
func (o *Orchestrator) CreateEnvironmentBackup(ctx context.Context, env string, domains []string, outputDir, manifestPath string) ([]BackupResult, error) {
	results := make([]BackupResult, 0, len(domains))

	for _, domain := range domains {
		dbName := DatabaseName(domain, env)
		outPath := fmt.Sprintf("%s/%s.sql", outputDir, dbName)

		runCtx, cancel := context.WithTimeout(ctx, MigrationTimeout)
		_, err := o.runner.Run(runCtx, executil.Command{
			Name: o.cliPath,
			Args: []string{"d1", "export", dbName, "--remote", "--output", outPath},
		})
		cancel()

		result := BackupResult{Domain: domain, DatabaseName: dbName, OutputPath: outPath, Success: err == nil}
		if err != nil {
			result.Error = err.Error()
		}
		results = append(results, result)

		if o.audit != nil {
			_ = o.audit.Record("DATABASE_BACKUP", domain, map[string]any{"database": dbName, "success": result.Success})
		}
	}

	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return results, orcherr.Wrap(orcherr.KindSerialization, err, "encoding backup manifest")
	}
	if err := writeManifest(manifestPath, data); err != nil {
		return results, err
	}

	return results, nil
}

// LogAuditEvent records one audit entry via the injected audit log.
func (o *Orchestrator) LogAuditEvent(event, target string, data map[string]any) error {
	if o.audit == nil {
		return nil
	}
	return o.audit.Record(event, target, data)
}

func writeManifest(path string, data []byte) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return orcherr.Wrap(orcherr.KindStorageIO, err, "creating backup manifest directory")
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return orcherr.Wrap(orcherr.KindStorageIO, err, "writing backup manifest")
	}
	return nil
}
