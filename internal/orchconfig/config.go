// SPDX-License-Identifier: AGPL-3.0-or-later

/*

Edgeforge - Edgeforge is a Go-based deployment orchestration core that
materializes worker artifacts and their backing resources onto a
serverless edge platform across one or more domains.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package orchconfig defines the on-disk configuration schema the Domain
// Router loads: which domains participate in a deployment, their
// environment-specific routing, and the platform credentials used to reach
// them.
package orchconfig

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when the config file does not exist at the given path.
var ErrNotFound = errors.New("edgeforge orchestration config not found")

// Config is the top-level domain-routing configuration.
type Config struct {
	Project   ProjectConfig              `yaml:"project"`
	Domains   []DomainConfig             `yaml:"domains"`
	Routing   map[string]RoutingPolicy   `yaml:"routing,omitempty"`
	Platform  PlatformConfig             `yaml:"platform"`
}

// ProjectConfig describes project-level settings.
type ProjectConfig struct {
	Name string `yaml:"name"`
}

// DomainConfig describes one domain participating in a deployment.
type DomainConfig struct {
	Name        string `yaml:"name"`
	ServiceType string `yaml:"service_type,omitempty"`
	ServiceDir  string `yaml:"service_dir,omitempty"`
}

// RoutingPolicy describes one environment's hostname/prefix policy for a domain.
type RoutingPolicy struct {
	Hostname string `yaml:"hostname,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
}

// PlatformConfig describes how to reach the deployment platform.
type PlatformConfig struct {
	CLIPath           string `yaml:"cli_path"`
	Subdomain         string `yaml:"subdomain,omitempty"`
	APITokenEnv       string `yaml:"api_token_env,omitempty"`
	AccountIDEnv      string `yaml:"account_id_env,omitempty"`
}

// DefaultConfigPath is the conventional config file name in a service's
// working directory.
func DefaultConfigPath() string {
	return "edgeforge.yml"
}

// Exists reports whether a config file exists at path, returning (false,
// nil) if it does not exist.
func Exists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err == nil {
		return !info.IsDir(), nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Load reads and validates the config at path. Returns ErrNotFound if the
// file does not exist.
func Load(path string) (*Config, error) {
	exists, err := Exists(path)
	if err != nil {
		return nil, fmt.Errorf("checking config existence: %w", err)
	}
	if !exists {
		return nil, ErrNotFound
	}

	// nolint:gosec // G304: reading config file from a caller-specified path is expected behavior.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.Project.Name == "" {
		return errors.New("config: project.name must be non-empty")
	}
	if cfg.Platform.CLIPath == "" {
		return errors.New("config: platform.cli_path must be non-empty")
	}
	seen := map[string]bool{}
	for _, d := range cfg.Domains {
		if d.Name == "" {
			return errors.New("config: domains[].name must be non-empty")
		}
		if seen[d.Name] {
			return fmt.Errorf("config: domain %q listed more than once", d.Name)
		}
		seen[d.Name] = true
	}
	return nil
}

// DomainNames returns the configured domains' names in file order.
func (c *Config) DomainNames() []string {
	names := make([]string, 0, len(c.Domains))
	for _, d := range c.Domains {
		names = append(names, d.Name)
	}
	return names
}

// RoutingFor returns the routing policy for (domain, env), or the zero value
// if none is configured.
func (c *Config) RoutingFor(domain, env string) RoutingPolicy {
	key := domain + "." + env
	if p, ok := c.Routing[key]; ok {
		return p
	}
	return RoutingPolicy{}
}
