// SPDX-License-Identifier: AGPL-3.0-or-later

/*

Edgeforge - Edgeforge is a Go-based deployment orchestration core that
materializes worker artifacts and their backing resources onto a
serverless edge platform across one or more domains.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package capability implements the unified phase capability registry: a
// named, boolean behavior flag set that selects among alternative handler
// implementations without a subclass per deployment mode. The registration
// and lookup discipline (panic on empty/duplicate ID at definition time,
// sorted deterministic listing, an error return rather than a panic for
// runtime lookups) follows the same pattern as a provider registry.
package capability

import (
	"fmt"
	"sort"
	"sync"

	"edgeforge/internal/orcherr"
)

// Name identifies one capability.
type Name string

const (
	SingleDeploy     Name = "singleDeploy"
	MultiDeploy      Name = "multiDeploy"
	PortfolioDeploy  Name = "portfolioDeploy"

	BasicValidation          Name = "basicValidation"
	StandardValidation       Name = "standardValidation"
	ComprehensiveValidation  Name = "comprehensiveValidation"
	ComplianceCheck          Name = "complianceCheck"

	HealthCheck        Name = "healthCheck"
	EndpointTesting     Name = "endpointTesting"
	IntegrationTesting  Name = "integrationTesting"
	ProductionTesting   Name = "productionTesting"

	DBMigration     Name = "dbMigration"
	D1Management    Name = "d1Management"
	MultiRegionDB   Name = "multiRegionDb"

	SecretGeneration   Name = "secretGeneration"
	SecretCoordination Name = "secretCoordination"
	SecretDistribution Name = "secretDistribution"

	HighAvailability Name = "highAvailability"
	DisasterRecovery Name = "disasterRecovery"

	AuditLogging       Name = "auditLogging"
	Rollback           Name = "rollback"
	DeploymentCleanup  Name = "deploymentCleanup"
)

// System scopes which deployment systems a capability applies to.
type System string

const (
	SystemSingle    System = "single"
	SystemPortfolio System = "portfolio"
	SystemEnterprise System = "enterprise"
	SystemAll       System = "all"
)

// Mode is a deployment mode used by SetDeploymentMode / GetRecommendedCapabilities.
type Mode string

const (
	ModeSingle     Mode = "single"
	ModePortfolio  Mode = "portfolio"
	ModeEnterprise Mode = "enterprise"
)

// Definition describes one registered capability.
type Definition struct {
	Name        Name
	System      System
	Description string
}

var definitions = buildDefinitions()

func buildDefinitions() map[Name]Definition {
	defs := []Definition{
		{SingleDeploy, SystemSingle, "Deploy a single worker to a single domain"},
		{MultiDeploy, SystemPortfolio, "Deploy to multiple domains in one invocation"},
		{PortfolioDeploy, SystemPortfolio, "Coordinate a full portfolio of domains"},

		{BasicValidation, SystemSingle, "Minimal manifest and credential checks"},
		{StandardValidation, SystemSingle, "Manifest, credentials, and resource-name checks"},
		{ComprehensiveValidation, SystemPortfolio, "Standard validation plus cross-domain consistency"},
		{ComplianceCheck, SystemEnterprise, "Regulatory/compliance policy checks"},

		{HealthCheck, SystemSingle, "Post-deploy HTTP health probe"},
		{EndpointTesting, SystemPortfolio, "Exercise deployed endpoints after rollout"},
		{IntegrationTesting, SystemPortfolio, "Run integration tests against deployed workers"},
		{ProductionTesting, SystemPortfolio, "Run production-grade smoke tests"},

		{DBMigration, SystemSingle, "Apply pending database migrations"},
		{D1Management, SystemSingle, "Manage edge SQL database bindings"},
		{MultiRegionDB, SystemEnterprise, "Coordinate multi-region database replicas"},

		{SecretGeneration, SystemSingle, "Generate secret references for a deployment"},
		{SecretCoordination, SystemPortfolio, "Coordinate secret references across domains"},
		{SecretDistribution, SystemPortfolio, "Distribute secrets to deployed workers"},

		{HighAvailability, SystemEnterprise, "Enable high-availability deployment topology"},
		{DisasterRecovery, SystemEnterprise, "Enable disaster-recovery checkpointing"},

		{AuditLogging, SystemAll, "Record every phase transition to the audit log"},
		{Rollback, SystemAll, "Allow rollback to a prior version"},
		{DeploymentCleanup, SystemAll, "Clean up stale deployment artifacts"},
	}

	out := make(map[Name]Definition, len(defs))
	for _, d := range defs {
		if d.Name == "" {
			panic(fmt.Sprintf("capability.buildDefinitions: empty capability name for %+v", d))
		}
		if _, exists := out[d.Name]; exists {
			panic(fmt.Sprintf("capability.buildDefinitions: duplicate capability name %q", d.Name))
		}
		out[d.Name] = d
	}
	return out
}

// recommendedByMode lists the capabilities SetDeploymentMode enables when
// applyRecommended is true, cumulative by mode.
var recommendedByMode = map[Mode][]Name{
	ModeSingle: {
		SingleDeploy, StandardValidation, HealthCheck, DBMigration, SecretGeneration, AuditLogging,
	},
	ModePortfolio: {
		SingleDeploy, StandardValidation, HealthCheck, DBMigration, SecretGeneration, AuditLogging,
		MultiDeploy, PortfolioDeploy, ComprehensiveValidation, ProductionTesting, SecretCoordination,
	},
	ModeEnterprise: {
		SingleDeploy, StandardValidation, HealthCheck, DBMigration, SecretGeneration, AuditLogging,
		MultiDeploy, PortfolioDeploy, ComprehensiveValidation, ProductionTesting, SecretCoordination,
		HighAvailability, DisasterRecovery, ComplianceCheck, MultiRegionDB,
	},
}

// Report summarizes a Registry's enabled/disabled state.
type Report struct {
	Enabled  []Name
	Disabled []Name
	Mode     Mode
}

// Registry holds the in-memory enabled/disabled flag for every known
// capability on one orchestrator instance.
type Registry struct {
	mu      sync.RWMutex
	enabled map[Name]bool
	mode    Mode
}

// NewRegistry creates a registry with every capability disabled.
func NewRegistry() *Registry {
	return &Registry{enabled: make(map[Name]bool)}
}

func isKnown(name Name) bool {
	_, ok := definitions[name]
	return ok
}

// EnableCapability enables name, or returns UnknownCapabilityError.
// Chainable: returns the registry itself on success.
func (r *Registry) EnableCapability(name Name) (*Registry, error) {
	if !isKnown(name) {
		return nil, orcherr.New(orcherr.KindUnknownCapability, "unknown capability %q", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled[name] = true
	return r, nil
}

// DisableCapability disables name, or returns UnknownCapabilityError.
func (r *Registry) DisableCapability(name Name) (*Registry, error) {
	if !isKnown(name) {
		return nil, orcherr.New(orcherr.KindUnknownCapability, "unknown capability %q", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.enabled, name)
	return r, nil
}

// HasCapability reports whether name is currently enabled.
func (r *Registry) HasCapability(name Name) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled[name]
}

// GetEnabledCapabilities returns every currently enabled capability, sorted.
func (r *Registry) GetEnabledCapabilities() []Name {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Name, 0, len(r.enabled))
	for name, on := range r.enabled {
		if on {
			out = append(out, name)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// GetCapabilityDefinition returns the metadata for name, or an error if
// name is not registered.
func (r *Registry) GetCapabilityDefinition(name Name) (Definition, error) {
	def, ok := definitions[name]
	if !ok {
		return Definition{}, orcherr.New(orcherr.KindUnknownCapability, "unknown capability %q", name)
	}
	return def, nil
}

// GetRecommendedCapabilities returns the capability set SetDeploymentMode
// would enable for mode, without mutating the registry.
func GetRecommendedCapabilities(mode Mode) ([]Name, error) {
	names, ok := recommendedByMode[mode]
	if !ok {
		return nil, orcherr.New(orcherr.KindConfigValidation, "unknown deployment mode %q", mode)
	}
	out := make([]Name, len(names))
	copy(out, names)
	return out, nil
}

// SetDeploymentMode records mode on the registry and, when applyRecommended
// is true, enables that mode's recommended capability set.
func (r *Registry) SetDeploymentMode(mode Mode, applyRecommended bool) error {
	names, err := GetRecommendedCapabilities(mode)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.mode = mode
	r.mu.Unlock()

	if !applyRecommended {
		return nil
	}
	for _, name := range names {
		if _, err := r.EnableCapability(name); err != nil {
			return err
		}
	}
	return nil
}

// GetCapabilityReport summarizes the registry's current enabled/disabled
// state against the full known set.
func (r *Registry) GetCapabilityReport() Report {
	enabled := r.GetEnabledCapabilities()
	enabledSet := make(map[Name]bool, len(enabled))
	for _, n := range enabled {
		enabledSet[n] = true
	}

	var disabled []Name
	for name := range definitions {
		if !enabledSet[name] {
			disabled = append(disabled, name)
		}
	}
	sort.Slice(disabled, func(i, j int) bool { return disabled[i] < disabled[j] })

	r.mu.RLock()
	mode := r.mode
	r.mu.RUnlock()

	return Report{Enabled: enabled, Disabled: disabled, Mode: mode}
}
