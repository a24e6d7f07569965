// SPDX-License-Identifier: AGPL-3.0-or-later

/*

Edgeforge - Edgeforge is a Go-based deployment orchestration core that
materializes worker artifacts and their backing resources onto a
serverless edge platform across one or more domains.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package manifest provides typed read/write access to the platform's
// TOML-family configuration manifest (conventionally wrangler.toml),
// preserving unrelated keys on round-trip and writing atomically via a
// write-temp-then-rename pattern.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/pelletier/go-toml/v2"

	"edgeforge/internal/events"
	"edgeforge/internal/orcherr"
)

// ProductionEnv is the special environment name that operates on the
// manifest's top level rather than inside an [env.<name>] subtable.
const ProductionEnv = "production"

// Document is the parsed manifest: a generic key tree that round-trips
// unknown keys untouched. Top-level keys of interest are name, main,
// compatibility_date, d1_databases and env.
type Document map[string]any

// DatabaseBinding is one [[d1_databases]] entry.
type DatabaseBinding struct {
	Binding      string `toml:"binding"`
	DatabaseName string `toml:"database_name"`
	DatabaseID   string `toml:"database_id"`
}

// ValidationResult is the outcome of Validate().
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// Mutator reads and writes a single manifest file.
type Mutator struct {
	path   string
	dryRun bool
	sink   events.Sink
}

// New creates a Mutator for the manifest at path. A nil sink is replaced
// with events.NullSink{}.
func New(path string, dryRun bool, sink events.Sink) *Mutator {
	if sink == nil {
		sink = events.NullSink{}
	}
	return &Mutator{path: path, dryRun: dryRun, sink: sink}
}

// Exists reports whether the manifest file is present on disk.
func (m *Mutator) Exists() bool {
	info, err := os.Stat(m.path)
	return err == nil && !info.IsDir()
}

// ReadConfig loads and parses the manifest. A missing file yields the
// minimal default document rather than an error.
func (m *Mutator) ReadConfig() (Document, error) {
	if !m.Exists() {
		return defaultDocument(), nil
	}

	// nolint:gosec // G304: manifest path is supplied by the orchestrator's own config, not untrusted input.
	data, err := os.ReadFile(m.path)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.KindStorageIO, err, "reading manifest %s", m.path)
	}

	var doc Document
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, orcherr.Wrap(orcherr.KindConfigParse, err, "parsing manifest %s", m.path)
	}
	if doc == nil {
		doc = Document{}
	}

	return doc, nil
}

func defaultDocument() Document {
	return Document{
		"name": "worker",
		"main": "src/index.js",
		"env":  map[string]any{},
	}
}

// WriteConfig serializes doc and atomically replaces the manifest file. In
// dry-run mode the serialized content is emitted on the event sink and the
// file is left untouched.
func (m *Mutator) WriteConfig(doc Document) error {
	data, err := toml.Marshal(map[string]any(doc))
	if err != nil {
		return orcherr.Wrap(orcherr.KindSerialization, err, "serializing manifest")
	}

	if m.dryRun {
		m.sink.Emit(events.Event{
			Kind: events.KindDryRunWrite,
			Data: map[string]any{"path": m.path, "content": string(data)},
		})
		return nil
	}

	dir := filepath.Dir(m.path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return orcherr.Wrap(orcherr.KindStorageIO, err, "creating manifest directory %s", dir)
		}
	}

	tmpFile := fmt.Sprintf("%s.%d.tmp", m.path, os.Getpid())
	if err := os.WriteFile(tmpFile, data, 0o600); err != nil {
		return orcherr.Wrap(orcherr.KindStorageIO, err, "writing temporary manifest file")
	}

	if err := os.Rename(tmpFile, m.path); err != nil {
		_ = os.Remove(tmpFile)
		return orcherr.Wrap(orcherr.KindStorageIO, err, "renaming manifest file")
	}

	return nil
}

// CreateMinimalConfigOptions configures CreateMinimalConfig.
type CreateMinimalConfigOptions struct {
	CompatibilityDate string
}

// CreateMinimalConfig builds the minimal valid manifest for a new worker
// named name with an environment section for env (unless env is production).
func (m *Mutator) CreateMinimalConfig(name, env string, opts CreateMinimalConfigOptions) Document {
	compatDate := opts.CompatibilityDate
	if compatDate == "" {
		compatDate = "2024-01-01"
	}

	doc := Document{
		"name":               name,
		"main":               "src/index.js",
		"compatibility_date": compatDate,
		"env":                map[string]any{},
	}

	if env != "" && env != ProductionEnv {
		ensureEnvironment(doc, env)
	}

	return doc
}

// ensureEnvironment mutates doc in place, creating env.<name> if absent.
func ensureEnvironment(doc Document, envName string) {
	if envName == ProductionEnv {
		return
	}

	envsAny, ok := doc["env"]
	if !ok {
		doc["env"] = map[string]any{envName: map[string]any{}}
		return
	}

	envs, ok := envsAny.(map[string]any)
	if !ok {
		envs = map[string]any{}
		doc["env"] = envs
	}

	if _, exists := envs[envName]; !exists {
		envs[envName] = map[string]any{}
	}
}

// EnsureEnvironment is idempotent: for production the document is left
// unchanged (production lives at the document's top level); otherwise it
// creates env.<name> if missing. In both cases the manifest is read and
// written back around the mutation.
func (m *Mutator) EnsureEnvironment(envName string) error {
	doc, err := m.ReadConfig()
	if err != nil {
		return err
	}
	ensureEnvironment(doc, envName)
	return m.WriteConfig(doc)
}

// envSection returns the mutable d1_databases-bearing subtable for envName:
// the document itself for production, or env.<name> for everything else,
// creating it if necessary.
func envSection(doc Document, envName string) map[string]any {
	if envName == "" || envName == ProductionEnv {
		return doc
	}

	ensureEnvironment(doc, envName)
	envs := doc["env"].(map[string]any)
	section := envs[envName].(map[string]any)
	return section
}

// bindingInput normalizes the accepted snake_case/camelCase input keys for
// AddDatabaseBinding into a DatabaseBinding.
func bindingInput(input map[string]any) DatabaseBinding {
	get := func(keys ...string) string {
		for _, k := range keys {
			if v, ok := input[k]; ok {
				if s, ok := v.(string); ok {
					return s
				}
			}
		}
		return ""
	}

	return DatabaseBinding{
		Binding:      get("binding"),
		DatabaseName: get("database_name", "databaseName"),
		DatabaseID:   get("database_id", "databaseID", "databaseId"),
	}
}

// AddDatabaseBinding appends a new d1_databases entry, or updates the
// existing entry whose database_name matches, in envName's section.
// Accepts both snake_case and camelCase keys in input.
func (m *Mutator) AddDatabaseBinding(envName string, input map[string]any) error {
	binding := bindingInput(input)
	if binding.DatabaseName == "" {
		return orcherr.New(orcherr.KindConfigValidation, "database_name is required")
	}

	doc, err := m.ReadConfig()
	if err != nil {
		return err
	}

	section := envSection(doc, envName)
	bindings := extractBindings(section)

	replaced := false
	for i, b := range bindings {
		if b.DatabaseName == binding.DatabaseName {
			bindings[i] = binding
			replaced = true
			break
		}
	}
	if !replaced {
		bindings = append(bindings, binding)
	}

	section["d1_databases"] = bindingsToAny(bindings)

	return m.WriteConfig(doc)
}

// RemoveDatabaseBinding removes the d1_databases entry matching databaseName
// from envName's section, if present.
func (m *Mutator) RemoveDatabaseBinding(envName, databaseName string) error {
	doc, err := m.ReadConfig()
	if err != nil {
		return err
	}

	section := envSection(doc, envName)
	bindings := extractBindings(section)

	out := make([]DatabaseBinding, 0, len(bindings))
	for _, b := range bindings {
		if b.DatabaseName != databaseName {
			out = append(out, b)
		}
	}

	section["d1_databases"] = bindingsToAny(out)

	return m.WriteConfig(doc)
}

// GetDatabaseBindings returns the d1_databases entries for envName (which
// may be empty).
func (m *Mutator) GetDatabaseBindings(envName string) ([]DatabaseBinding, error) {
	doc, err := m.ReadConfig()
	if err != nil {
		return nil, err
	}
	section := envSection(doc, envName)
	return extractBindings(section), nil
}

func extractBindings(section map[string]any) []DatabaseBinding {
	raw, ok := section["d1_databases"]
	if !ok {
		return nil
	}

	items, ok := raw.([]any)
	if !ok {
		return nil
	}

	out := make([]DatabaseBinding, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, bindingInput(map[string]any{
			"binding":       m["binding"],
			"database_name": m["database_name"],
			"database_id":   m["database_id"],
		}))
	}
	return out
}

func bindingsToAny(bindings []DatabaseBinding) []any {
	out := make([]any, 0, len(bindings))
	for _, b := range bindings {
		out = append(out, map[string]any{
			"binding":       b.Binding,
			"database_name": b.DatabaseName,
			"database_id":   b.DatabaseID,
		})
	}
	return out
}

// Validate checks the manifest for the required keys and common omissions.
func (m *Mutator) Validate() (ValidationResult, error) {
	doc, err := m.ReadConfig()
	if err != nil {
		return ValidationResult{}, err
	}

	result := ValidationResult{Valid: true}

	requiredStrings := []string{"name", "main", "compatibility_date"}
	for _, key := range requiredStrings {
		if v, ok := doc[key].(string); !ok || v == "" {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf("manifest: %q is required", key))
		}
	}

	if envsAny, ok := doc["env"]; !ok {
		result.Warnings = append(result.Warnings, "manifest: no [env.*] sections defined")
	} else if envs, ok := envsAny.(map[string]any); !ok || len(envs) == 0 {
		result.Warnings = append(result.Warnings, "manifest: no [env.*] sections defined")
	}

	sort.Strings(result.Errors)
	sort.Strings(result.Warnings)

	return result, nil
}
