// SPDX-License-Identifier: AGPL-3.0-or-later

/*

Edgeforge - Edgeforge is a Go-based deployment orchestration core that
materializes worker artifacts and their backing resources onto a
serverless edge platform across one or more domains.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package router is the CLI-facing convenience wrapper around domain
// selection and routing. It never reimplements orchestration: deployment
// itself is delegated to an injected deployFn, never a back-pointer to
// internal/orchestrator, per the dependency-injection discipline the rest
// of this core follows (spec Design Notes, "no hidden back-references").
package router

import (
	"context"
	"fmt"

	"edgeforge/internal/orcherr"
	"edgeforge/internal/orchconfig"
)

// APIClient discovers domains from the platform when no local config names
// them explicitly.
type APIClient interface {
	ListDomains(ctx context.Context) ([]string, error)
}

// DetectOptions configures DetectDomains.
type DetectOptions struct {
	APIClient APIClient
}

// SelectOptions configures SelectDomain.
type SelectOptions struct {
	Environment   string
	SpecificDomain string
	SelectAll      bool
}

// PlanEntry is one domain's entry in a multi-domain deployment plan.
type PlanEntry struct {
	Domain      string `json:"domain"`
	Environment string `json:"environment"`
	Hostname    string `json:"hostname,omitempty"`
}

// Plan is the document planMultiDomainDeployment produces.
type Plan struct {
	Entries   []PlanEntry `json:"entries"`
	BatchSize int         `json:"batchSize"`
}

// ValidationResult is the outcome of ValidateConfiguration.
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// DeployFn delegates one domain's deployment to the real orchestrator.
// Typically bound to an orchestrator.Orchestrator's per-domain deploy
// method; Router holds no reference to that type.
type DeployFn func(ctx context.Context, domain, env string) error

// DeployOptions configures DeployAcrossDomains.
type DeployOptions struct {
	Environment     string
	StopOnError     bool
}

// DeployOutcome is one domain's result from DeployAcrossDomains.
type DeployOutcome struct {
	Domain string
	Err    error
}

// Router is the Domain Router.
type Router struct {
	config *orchconfig.Config
}

// New constructs an empty Router; call LoadConfiguration to populate it.
func New() *Router {
	return &Router{}
}

// LoadConfiguration loads domains from configPath, or returns
// orchconfig.ErrNotFound if absent (the caller then typically falls back to
// DetectDomains against the platform API).
func (r *Router) LoadConfiguration(configPath string) error {
	cfg, err := orchconfig.Load(configPath)
	if err != nil {
		return err
	}
	r.config = cfg
	return nil
}

// DetectDomains lists discoverable domains: the locally configured set if
// LoadConfiguration has run, otherwise a live lookup via opts.APIClient.
func (r *Router) DetectDomains(ctx context.Context, opts DetectOptions) ([]string, error) {
	if r.config != nil {
		return r.config.DomainNames(), nil
	}
	if opts.APIClient == nil {
		return nil, orcherr.New(orcherr.KindConfigValidation, "no local configuration and no API client to detect domains")
	}
	return opts.APIClient.ListDomains(ctx)
}

// SelectDomain resolves opts into a concrete domain list: a single named
// domain, all configured domains, or an error if neither is specified.
func (r *Router) SelectDomain(ctx context.Context, opts SelectOptions) ([]string, error) {
	if opts.SpecificDomain != "" {
		return []string{opts.SpecificDomain}, nil
	}
	if opts.SelectAll {
		return r.DetectDomains(ctx, DetectOptions{})
	}
	return nil, orcherr.New(orcherr.KindConfigValidation, "select a domain with --domain or pass --all-domains")
}

// GetEnvironmentRouting returns the environment-specific hostname/prefix
// policy configured for (domain, environment).
func (r *Router) GetEnvironmentRouting(domain, environment string) (orchconfig.RoutingPolicy, error) {
	if r.config == nil {
		return orchconfig.RoutingPolicy{}, orcherr.New(orcherr.KindConfigValidation, "no configuration loaded")
	}
	return r.config.RoutingFor(domain, environment), nil
}

// ValidateConfiguration checks that every domain in domains is known and
// environment is one of the recognized targets.
func (r *Router) ValidateConfiguration(domains []string, environment string) ValidationResult {
	result := ValidationResult{Valid: true}

	known := map[string]bool{}
	if r.config != nil {
		for _, d := range r.config.DomainNames() {
			known[d] = true
		}
	}

	for _, d := range domains {
		if r.config != nil && !known[d] {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf("domain %q is not configured", d))
		}
	}

	switch environment {
	case "production", "staging", "development", "preview":
	default:
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf("unknown environment %q", environment))
	}

	if len(domains) == 0 {
		result.Warnings = append(result.Warnings, "no domains selected")
	}

	return result
}

// PlanMultiDomainDeployment builds a plan document for domains at
// environment, resolving each domain's routing policy.
func (r *Router) PlanMultiDomainDeployment(domains []string, environment string, batchSize int) Plan {
	entries := make([]PlanEntry, 0, len(domains))
	for _, d := range domains {
		routing, _ := r.GetEnvironmentRouting(d, environment)
		entries = append(entries, PlanEntry{Domain: d, Environment: environment, Hostname: routing.Hostname})
	}
	if batchSize <= 0 {
		batchSize = 1
	}
	return Plan{Entries: entries, BatchSize: batchSize}
}

// DeployAcrossDomains iterates domains, delegating each to deployFn. Unless
// opts.StopOnError is set, a failing domain does not prevent the rest from
// being attempted.
func (r *Router) DeployAcrossDomains(ctx context.Context, domains []string, deployFn DeployFn, opts DeployOptions) []DeployOutcome {
	outcomes := make([]DeployOutcome, 0, len(domains))
	for _, d := range domains {
		err := deployFn(ctx, d, opts.Environment)
		outcomes = append(outcomes, DeployOutcome{Domain: d, Err: err})
		if err != nil && opts.StopOnError {
			break
		}
	}
	return outcomes
}
