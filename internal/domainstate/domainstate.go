// SPDX-License-Identifier: AGPL-3.0-or-later

/*

Edgeforge - Edgeforge is a Go-based deployment orchestration core that
materializes worker artifacts and their backing resources onto a
serverless edge platform across one or more domains.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package domainstate holds the shared data-model types the Multi-Domain
// Orchestrator and Domain Router mutate and report: a Deployment, its
// per-domain DomainState entries, and per-(domain,phase) PhaseResults.
package domainstate

import "time"

// Environment is one of the deployment's four recognized targets.
type Environment string

const (
	EnvProduction  Environment = "production"
	EnvStaging     Environment = "staging"
	EnvDevelopment Environment = "development"
	EnvPreview     Environment = "preview"
)

// Mode is the deployment's scope.
type Mode string

const (
	ModeSingle      Mode = "single"
	ModeMultiDomain Mode = "multi-domain"
	ModePortfolio   Mode = "portfolio"
)

// DeploymentStatus is the deployment's terminal or in-flight state.
type DeploymentStatus string

const (
	DeploymentPending               DeploymentStatus = "pending"
	DeploymentRunning               DeploymentStatus = "running"
	DeploymentCompleted             DeploymentStatus = "completed"
	DeploymentCompletedWithWarnings DeploymentStatus = "completed-with-warnings"
	DeploymentFailed                DeploymentStatus = "failed"
)

// DomainStatus is one domain's progress through the per-domain pipeline.
type DomainStatus string

const (
	DomainPending            DomainStatus = "pending"
	DomainDatabase           DomainStatus = "database"
	DomainSecrets            DomainStatus = "secrets"
	DomainDeployment         DomainStatus = "deployment"
	DomainValidating         DomainStatus = "validating"
	DomainCompleted          DomainStatus = "completed"
	DomainCompletedWithWarn  DomainStatus = "completed-with-warnings"
	DomainFailed             DomainStatus = "failed"
)

// DatabaseHandle is the allocated database's identity.
type DatabaseHandle struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// DomainError records one phase's failure against a domain.
type DomainError struct {
	Phase   string `json:"phase"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// WorkerURLs are the worker's custom and platform-assigned addresses.
type WorkerURLs struct {
	Custom   string `json:"custom,omitempty"`
	Platform string `json:"platform,omitempty"`
}

// PhaseResult is one (domain, phase) outcome.
type PhaseResult struct {
	Success    bool          `json:"success"`
	Errors     []string      `json:"errors,omitempty"`
	Warnings   []string      `json:"warnings,omitempty"`
	DurationMs int64         `json:"durationMs"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt time.Time     `json:"finishedAt"`
	Result     any           `json:"result,omitempty"`
}

// DomainState is one domain's full record within a Deployment.
type DomainState struct {
	Name         string                 `json:"name"`
	Status       DomainStatus           `json:"status"`
	Database     *DatabaseHandle        `json:"database,omitempty"`
	SecretRefs   []string               `json:"secretRefs,omitempty"`
	URLs         WorkerURLs             `json:"urls"`
	PhaseResults map[string]PhaseResult `json:"phaseResults"`
	Errors       []DomainError          `json:"errors,omitempty"`
	StartedAt    time.Time              `json:"startedAt,omitempty"`
	FinishedAt   time.Time              `json:"finishedAt,omitempty"`
}

// NewDomainState creates a pending DomainState for name.
func NewDomainState(name string) *DomainState {
	return &DomainState{
		Name:         name,
		Status:       DomainPending,
		PhaseResults: map[string]PhaseResult{},
	}
}

// RecordPhaseResult stores result under phase and appends any errors to the
// domain's error list, tagged with phase and kind.
func (d *DomainState) RecordPhaseResult(phase string, result PhaseResult, kind string) {
	d.PhaseResults[phase] = result
	for _, msg := range result.Errors {
		d.Errors = append(d.Errors, DomainError{Phase: phase, Kind: kind, Message: msg})
	}
}

// DeriveStatus sets d.Status from the recorded phase results and the
// caller's critical-phase classifier: any critical failure -> failed;
// any failure or warning -> completed-with-warnings; otherwise completed.
func (d *DomainState) DeriveStatus(isCritical func(phase string) bool) {
	failed := false
	warned := false

	for phase, result := range d.PhaseResults {
		if result.Success && len(result.Warnings) == 0 {
			continue
		}
		if !result.Success {
			warned = true
			if isCritical(phase) {
				failed = true
			}
			continue
		}
		warned = true
	}

	switch {
	case failed:
		d.Status = DomainFailed
	case warned:
		d.Status = DomainCompletedWithWarn
	default:
		d.Status = DomainCompleted
	}
}

// Deployment is the top-level record for one invocation of the orchestrator.
type Deployment struct {
	ID            string                  `json:"id"`
	Environment   Environment             `json:"environment"`
	Mode          Mode                    `json:"mode"`
	ServiceDir    string                  `json:"serviceDir"`
	DryRun        bool                    `json:"dryRun"`
	BatchSize     int                     `json:"batchSize"`
	Status        DeploymentStatus        `json:"status"`
	Domains       map[string]*DomainState `json:"domains"`
	StartedAt     time.Time               `json:"startedAt,omitempty"`
	FinishedAt    time.Time               `json:"finishedAt,omitempty"`
}

// NewDeployment creates a pending Deployment with the given id
// (conventionally statestore.NewID("deploy", now)).
func NewDeployment(id string, env Environment, mode Mode, serviceDir string, dryRun bool, batchSize int) *Deployment {
	return &Deployment{
		ID:          id,
		Environment: env,
		Mode:        mode,
		ServiceDir:  serviceDir,
		DryRun:      dryRun,
		BatchSize:   batchSize,
		Status:      DeploymentPending,
		Domains:     map[string]*DomainState{},
	}
}

// EnsureDomain returns the existing DomainState for name or creates one.
func (d *Deployment) EnsureDomain(name string) *DomainState {
	if existing, ok := d.Domains[name]; ok {
		return existing
	}
	state := NewDomainState(name)
	d.Domains[name] = state
	return state
}

// DeriveStatus sets d.Status from every domain's current status: any domain
// failed -> failed; any domain completed-with-warnings -> completed with
// warnings; otherwise completed.
func (d *Deployment) DeriveStatus() {
	anyFailed, anyWarned := false, false
	for _, domain := range d.Domains {
		switch domain.Status {
		case DomainFailed:
			anyFailed = true
		case DomainCompletedWithWarn:
			anyWarned = true
		}
	}
	switch {
	case anyFailed:
		d.Status = DeploymentFailed
	case anyWarned:
		d.Status = DeploymentCompletedWithWarnings
	default:
		d.Status = DeploymentCompleted
	}
}

// CreateDeploymentBatches groups domains into sequential batches of at most
// batchSize, preserving input order within each batch.
func CreateDeploymentBatches(domains []string, batchSize int) [][]string {
	if batchSize <= 0 {
		batchSize = 1
	}
	var batches [][]string
	for i := 0; i < len(domains); i += batchSize {
		end := i + batchSize
		if end > len(domains) {
			end = len(domains)
		}
		batches = append(batches, domains[i:end])
	}
	return batches
}
