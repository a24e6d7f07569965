// SPDX-License-Identifier: AGPL-3.0-or-later

/*

Edgeforge - Edgeforge is a Go-based deployment orchestration core that
materializes worker artifacts and their backing resources onto a
serverless edge platform across one or more domains.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package orchestrator is the top-level coordinator: it owns the
// per-deployment domainstate.Deployment, drives one pipeline.Engine per
// domain, and aggregates results. Per-domain pipelines within a batch run
// concurrently as independent goroutines; batches run sequentially.
package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"edgeforge/internal/audit"
	"edgeforge/internal/database"
	"edgeforge/internal/databridge"
	"edgeforge/internal/domainstate"
	"edgeforge/internal/events"
	"edgeforge/internal/manifest"
	"edgeforge/internal/orcherr"
	"edgeforge/internal/pipeline"
	"edgeforge/internal/platformcli"
	"edgeforge/internal/statestore"
	"edgeforge/pkg/executil"
)

// phaseBridge maps the four pipeline phases that have a data-bridge
// counterpart onto the workflow stage that records their checkpoints:
// validation is the feasibility assessment, preparation constructs the
// database/manifest changes, deployment orchestrates secrets and the
// platform CLI call, and verification is the executed health check.
// Initialization and monitoring have no data-bridge counterpart, same as
// IDENTIFY has no orchestrator counterpart.
var phaseBridge = map[pipeline.Phase]databridge.Phase{
	pipeline.PhaseValidation:   databridge.PhaseAssess,
	pipeline.PhasePreparation:  databridge.PhaseConstruct,
	pipeline.PhaseDeployment:   databridge.PhaseOrchestrate,
	pipeline.PhaseVerification: databridge.PhaseExecute,
}

// SecretManager generates and distributes secret references for a domain.
// Implementations are injected; the orchestrator never talks to a secrets
// backend directly.
type SecretManager interface {
	GenerateSecrets(ctx context.Context, domain, env string) ([]string, error)
}

// HealthProbe checks a deployed worker's URL during post-validation.
type HealthProbe struct {
	Method         string
	Path           string
	ExpectedStatus int
	Client         *http.Client
}

// Probe issues one request against baseURL+Path and checks ExpectedStatus.
func (h HealthProbe) Probe(ctx context.Context, baseURL string) error {
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	method := h.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, baseURL+h.Path, nil)
	if err != nil {
		return orcherr.Wrap(orcherr.KindPlatformCLI, err, "building health probe request")
	}
	resp, err := client.Do(req)
	if err != nil {
		return orcherr.Wrap(orcherr.KindPlatformCLI, err, "health probe request failed")
	}
	defer resp.Body.Close()

	expected := h.ExpectedStatus
	if expected == 0 {
		expected = http.StatusOK
	}
	if resp.StatusCode != expected {
		return orcherr.New(orcherr.KindPartialDeployment, "health probe returned status %d, expected %d", resp.StatusCode, expected)
	}
	return nil
}

// DomainResolver produces the list of domains participating in a deployment.
type DomainResolver func(ctx context.Context) ([]string, error)

// RollbackFn reverts a domain that had already succeeded when a sibling in
// the same batch failed under RollbackOnError.
type RollbackFn func(ctx context.Context, domain, env string) error

// Config configures one Orchestrator.
type Config struct {
	CLIPath             string
	PlatformSubdomain   string
	ServiceDir          string
	ParallelDeployments int
	RollbackOnError     bool
	ResolveDomains      DomainResolver
	SecretManager       SecretManager
	HealthProbe         *HealthProbe
	RollbackFn          RollbackFn
	// DeployRunner backs the Platform CLI Deployer's child-process calls. A
	// nil value defaults to executil.NewRunner(); tests inject a fake.
	DeployRunner executil.Runner
	// DataBridgeFor constructs an already-Initialize'd *databridge.Integrator
	// scoped to one domain's deployment, mirroring manifestFor. Each domain
	// needs its own Integrator instance since EnterPhase tracks one active
	// phase set per Integrator and domains within a batch run concurrently.
	// A nil func disables checkpointing.
	DataBridgeFor func(domain string) *databridge.Integrator
}

// Orchestrator is the top-level coordinator described by Config.
type Orchestrator struct {
	cfg           Config
	manifestForFn func(domain string) *manifest.Mutator
	manifests     map[string]*manifest.Mutator
	dbOrch        *database.Orchestrator
	sink          events.Sink
	auditor       *audit.Log

	mu sync.Mutex
}

// New constructs an Orchestrator. manifestFor resolves the manifest Mutator
// for a given domain (domains may share one manifest file or each own one,
// depending on the deployment topology); a nil sink discards events.
func New(cfg Config, manifestFor func(domain string) *manifest.Mutator, dbOrch *database.Orchestrator, sink events.Sink, auditor *audit.Log) *Orchestrator {
	if sink == nil {
		sink = events.NullSink{}
	}
	return &Orchestrator{
		cfg:           cfg,
		manifestForFn: manifestFor,
		dbOrch:        dbOrch,
		sink:          sink,
		auditor:       auditor,
		manifests:     map[string]*manifest.Mutator{},
	}
}

func (o *Orchestrator) manifestFor(domain string) *manifest.Mutator {
	o.mu.Lock()
	defer o.mu.Unlock()
	if m, ok := o.manifests[domain]; ok {
		return m
	}
	m := o.manifestForFn(domain)
	o.manifests[domain] = m
	return m
}

// Initialize resolves domain configurations and returns a pending
// Deployment with one DomainState per resolved domain.
func (o *Orchestrator) Initialize(ctx context.Context, env domainstate.Environment, mode domainstate.Mode, dryRun bool) (*domainstate.Deployment, error) {
	domains, err := o.cfg.ResolveDomains(ctx)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.KindConfigValidation, err, "resolving domain configuration")
	}

	id := statestore.NewID("deploy", time.Now())
	deployment := domainstate.NewDeployment(id, env, mode, o.cfg.ServiceDir, dryRun, o.cfg.ParallelDeployments)
	for _, d := range domains {
		deployment.EnsureDomain(d)
	}
	return deployment, nil
}

// Deploy drives every domain in deployment through its per-domain pipeline,
// processing batches sequentially and domains within a batch concurrently.
// If ctx is cancelled, remaining batches are skipped and a
// KindDeploymentCancelled error is returned after the status is derived.
func (o *Orchestrator) Deploy(ctx context.Context, deployment *domainstate.Deployment) error {
	deployment.Status = domainstate.DeploymentRunning
	deployment.StartedAt = time.Now()

	names := make([]string, 0, len(deployment.Domains))
	for name := range deployment.Domains {
		names = append(names, name)
	}
	batches := domainstate.CreateDeploymentBatches(names, deployment.BatchSize)

	for _, batch := range batches {
		if ctx.Err() != nil {
			break
		}
		if !o.runBatch(ctx, deployment, batch) {
			break
		}
	}

	deployment.FinishedAt = time.Now()
	deployment.DeriveStatus()
	if err := ctx.Err(); err != nil {
		return orcherr.Wrap(orcherr.KindDeploymentCancelled, err, "deployment %s cancelled", deployment.ID)
	}
	return nil
}

// runBatch executes batch concurrently and returns false if the deployment
// should stop processing subsequent batches (rollbackOnError triggered).
func (o *Orchestrator) runBatch(ctx context.Context, deployment *domainstate.Deployment, batch []string) bool {
	batchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := make([]string, 0, len(batch))
	failed := false

	for _, name := range batch {
		wg.Add(1)
		go func(domainName string) {
			defer wg.Done()
			err := o.deploySingleDomain(batchCtx, deployment, domainName)

			mu.Lock()
			defer mu.Unlock()
			state := deployment.Domains[domainName]
			if err != nil || state.Status == domainstate.DomainFailed {
				failed = true
				if o.cfg.RollbackOnError {
					cancel()
				}
			} else {
				succeeded = append(succeeded, domainName)
			}
		}(name)
	}
	wg.Wait()

	if failed && o.cfg.RollbackOnError {
		for _, name := range succeeded {
			if o.cfg.RollbackFn == nil {
				continue
			}
			domain := deployment.Domains[name]
			_ = o.cfg.RollbackFn(context.Background(), name, string(deployment.Environment))
			domain.Status = domainstate.DomainFailed
			domain.Errors = append(domain.Errors, domainstate.DomainError{
				Phase: "deployment", Kind: string(orcherr.KindDeploymentCancelled),
				Message: "rolled back after sibling failure in batch",
			})
		}
		return false
	}
	return true
}

// deploySingleDomain runs one domain's six-phase pipeline and records the
// outcome onto its DomainState.
func (o *Orchestrator) deploySingleDomain(ctx context.Context, deployment *domainstate.Deployment, domainName string) error {
	state := deployment.EnsureDomain(domainName)
	state.StartedAt = time.Now()
	env := string(deployment.Environment)

	var bridge *databridge.Integrator
	if o.cfg.DataBridgeFor != nil {
		bridge = o.cfg.DataBridgeFor(domainName)
	}

	fns := o.buildPhaseFns(deployment, state, domainName, env, bridge)
	engine := pipeline.New(deployment.ID, domainName, fns, o.sink, o.auditEventSink())

	// ContinueOnError is false: a critical-phase failure aborts downstream
	// phases, leaving them pipeline.StatePending, matching the invariant
	// that every domain's recorded phases form a prefix of the six-phase
	// sequence with no phase skipped except by an earlier critical abort.
	_, execErr := engine.Execute(ctx, pipeline.ExecuteOptions{ContinueOnError: false})

	for _, phase := range pipeline.GetPhases() {
		status, _ := engine.GetPhaseStatus(phase)
		if status == pipeline.StatePending {
			break
		}
		result, _ := engine.GetPhaseResult(phase)
		pr := domainstate.PhaseResult{
			Success:   status == pipeline.StateComplete,
			StartedAt: state.StartedAt,
			Result:    result,
		}
		if outcome, ok := result.(deploymentOutcome); ok {
			pr.Result = outcome.Result
			pr.Warnings = outcome.Warnings
		}
		if status == pipeline.StateError {
			pr.Errors = []string{"phase failed"}
		}
		kind := ""
		if !pr.Success && pipeline.IsCriticalPhase(phase) {
			kind = string(orcherr.KindPlatformCLI)
		} else if !pr.Success {
			kind = string(orcherr.KindPartialDeployment)
		}
		state.RecordPhaseResult(string(phase), pr, kind)
	}

	state.FinishedAt = time.Now()
	state.DeriveStatus(func(phase string) bool {
		return pipeline.IsCriticalPhase(pipeline.Phase(phase))
	})

	if o.auditor != nil {
		_ = o.auditor.Record("DOMAIN_DEPLOY_FINISHED", domainName, map[string]any{"status": state.Status})
	}

	if execErr != nil && state.Status != domainstate.DomainFailed {
		return execErr
	}
	return nil
}

func (o *Orchestrator) auditEventSink() events.Sink {
	if o.auditor == nil {
		return events.NullSink{}
	}
	return auditSink{log: o.auditor}
}

type auditSink struct {
	log *audit.Log
}

func (s auditSink) Emit(e events.Event) {
	_ = s.log.Record(string(e.Kind), e.Phase, e.Data)
}

// deploymentOutcome is PhaseDeployment's result: the platformcli.Result
// plus any non-critical warnings (e.g. secret generation failure) gathered
// while running the phase.
type deploymentOutcome struct {
	Result   any
	Warnings []string
}

// bridgeCheckpoint wraps fn so that, when bridge is non-nil and phase has a
// data-bridge counterpart, the counterpart phase is entered before fn runs
// and exited after; a successful result is checkpointed in between. Errors
// from the bridge itself are swallowed: checkpointing is an observability
// concern and must never fail a deployment.
func bridgeCheckpoint(bridge *databridge.Integrator, phase pipeline.Phase, domainName string, fn pipeline.Handler) pipeline.Handler {
	bridgePhase, ok := phaseBridge[phase]
	if !ok || bridge == nil {
		return fn
	}
	return func(ctx context.Context, pctx *pipeline.ExecutionContext) (any, error) {
		_ = bridge.EnterPhase(bridgePhase, map[string]any{"domain": domainName})
		defer func() { _ = bridge.ExitPhase(bridgePhase) }()

		result, err := fn(ctx, pctx)
		if err == nil {
			_, _ = bridge.CreatePhaseCheckpoint(ctx, bridgePhase, result, databridge.CreateCheckpointOptions{})
		}
		return result, err
	}
}

// buildPhaseFns maps the per-domain pipeline actions onto the six engine
// phases: database/secrets/deployment/post-validation are realized as the
// engine's preparation/deployment/verification handlers. When bridge is
// non-nil, the four phases listed in phaseBridge additionally record a
// data-bridge checkpoint on success.
func (o *Orchestrator) buildPhaseFns(deployment *domainstate.Deployment, state *domainstate.DomainState, domainName, env string, bridge *databridge.Integrator) pipeline.PhaseFns {
	m := o.manifestFor(domainName)
	deployer := platformcli.New(o.cfg.CLIPath, domainName, o.cfg.PlatformSubdomain, o.cfg.ServiceDir, m, o.cfg.DeployRunner, o.sink)

	fns := pipeline.PhaseFns{
		pipeline.PhaseInitialization: func(ctx context.Context, pctx *pipeline.ExecutionContext) (any, error) {
			state.Status = domainstate.DomainPending
			return map[string]any{"domain": domainName}, nil
		},
		pipeline.PhaseValidation: func(ctx context.Context, pctx *pipeline.ExecutionContext) (any, error) {
			result, err := m.Validate()
			if err != nil {
				return nil, err
			}
			if !result.Valid {
				return result, orcherr.New(orcherr.KindConfigValidation, "manifest invalid for %s: %v", domainName, result.Errors)
			}
			return result, nil
		},
		pipeline.PhasePreparation: func(ctx context.Context, pctx *pipeline.ExecutionContext) (any, error) {
			state.Status = domainstate.DomainDatabase
			if o.dbOrch == nil {
				return nil, nil
			}
			dbName := database.DatabaseName(domainName, env)
			if err := m.EnsureEnvironment(env); err != nil {
				return nil, err
			}
			if err := m.AddDatabaseBinding(env, map[string]any{"binding": "DB", "database_name": dbName}); err != nil {
				return nil, err
			}
			migResult, err := o.dbOrch.ApplyDatabaseMigrations(ctx, dbName, env, env != "development")
			if err != nil {
				return migResult, orcherr.Wrap(orcherr.KindPartialDeployment, err, "migration failed for %s", domainName)
			}
			state.Database = &domainstate.DatabaseHandle{Name: dbName}
			return migResult, nil
		},
		pipeline.PhaseDeployment: func(ctx context.Context, pctx *pipeline.ExecutionContext) (any, error) {
			state.Status = domainstate.DomainSecrets
			var warnings []string
			if o.cfg.SecretManager != nil {
				refs, err := o.cfg.SecretManager.GenerateSecrets(ctx, domainName, env)
				if err != nil {
					// Secret generation is non-critical: record a warning and
					// continue to the (critical) deployment step rather than
					// aborting the phase.
					warnings = append(warnings, fmt.Sprintf("secret generation failed for %s: %v", domainName, err))
				} else {
					state.SecretRefs = refs
				}
			}

			state.Status = domainstate.DomainDeployment
			if err := m.EnsureEnvironment(env); err != nil {
				return nil, err
			}
			result, err := deployer.Deploy(ctx, env, platformcli.Options{DryRun: deployment.DryRun})
			if err != nil {
				return result, err
			}
			if !result.Success {
				return result, orcherr.New(orcherr.KindPlatformCLI, "deploy failed for %s: %s", domainName, result.Error)
			}
			state.URLs.Platform = result.URL
			return deploymentOutcome{Result: result, Warnings: warnings}, nil
		},
		pipeline.PhaseVerification: func(ctx context.Context, pctx *pipeline.ExecutionContext) (any, error) {
			state.Status = domainstate.DomainValidating
			if o.cfg.HealthProbe == nil || state.URLs.Platform == "" {
				return nil, nil
			}
			if err := o.cfg.HealthProbe.Probe(ctx, state.URLs.Platform); err != nil {
				return nil, err
			}
			return nil, nil
		},
		pipeline.PhaseMonitoring: func(ctx context.Context, pctx *pipeline.ExecutionContext) (any, error) {
			return nil, nil
		},
	}

	for phase, handler := range fns {
		fns[phase] = bridgeCheckpoint(bridge, phase, domainName, handler)
	}
	return fns
}
