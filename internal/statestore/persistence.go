// SPDX-License-Identifier: AGPL-3.0-or-later

/*

Edgeforge - Edgeforge is a Go-based deployment orchestration core that
materializes worker artifacts and their backing resources onto a
serverless edge platform across one or more domains.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package statestore implements three state services: durable key-value
// persistence, an append-only version chain, and checkpoint/recovery built
// atop both. The on-disk layout uses atomic write-temp-then-rename, with
// one mutex guarding one JSON file per key.
package statestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"edgeforge/internal/events"
	"edgeforge/internal/orcherr"
	"edgeforge/pkg/canonjson"
)

// SchemaVersion is stamped onto every persisted blob.
const SchemaVersion = 1

// Blob is a persisted state value keyed by (workflow, phase).
type Blob struct {
	Workflow      string    `json:"workflow"`
	Phase         string    `json:"phase"`
	Content       any       `json:"content"`
	SavedAt       time.Time `json:"savedAt"`
	SchemaVersion int       `json:"schemaVersion"`
}

// PersistenceStatistics summarizes the current contents of a Persistence store.
type PersistenceStatistics struct {
	TotalBlobs     int
	TotalSizeBytes int
	Workflows      []string
	Phases         []string
}

// Persistence is the durable key-value store of state blobs keyed by
// (workflow, phase).
type Persistence struct {
	root       string
	autoBackup bool
	sink       events.Sink
	mu         sync.Mutex
}

// NewPersistence creates a Persistence store rooted at dir. autoBackup, when
// true (the default), retains the prior blob as "<key>.backup" before every
// overwrite.
func NewPersistence(dir string, autoBackup bool, sink events.Sink) *Persistence {
	if sink == nil {
		sink = events.NullSink{}
	}
	return &Persistence{root: dir, autoBackup: autoBackup, sink: sink}
}

func blobKey(workflow, phase string) string {
	return fmt.Sprintf("%s__%s", workflow, phase)
}

func (p *Persistence) blobPath(workflow, phase string) string {
	return filepath.Join(p.root, "state", blobKey(workflow, phase)+".json")
}

// Save replaces the current blob for (workflow, phase) and returns its
// serialized size in bytes. It emits a state-saved event on success.
func (p *Persistence) Save(ctx context.Context, workflow, phase string, content any, metadata map[string]any) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	blob := Blob{
		Workflow:      workflow,
		Phase:         phase,
		Content:       content,
		SavedAt:       time.Now(),
		SchemaVersion: SchemaVersion,
	}

	data, err := canonjson.Marshal(blob)
	if err != nil {
		return 0, orcherr.Wrap(orcherr.KindSerialization, err, "encoding state blob for %s/%s", workflow, phase)
	}

	path := p.blobPath(workflow, phase)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return 0, orcherr.Wrap(orcherr.KindStorageIO, err, "creating state directory")
	}

	if p.autoBackup {
		if existing, err := os.ReadFile(path); err == nil {
			_ = os.WriteFile(path+".backup", existing, 0o600)
		}
	}

	tmp := fmt.Sprintf("%s.%d.tmp", path, os.Getpid())
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return 0, orcherr.Wrap(orcherr.KindStorageIO, err, "writing state blob")
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return 0, orcherr.Wrap(orcherr.KindStorageIO, err, "renaming state blob")
	}

	p.sink.Emit(events.Event{
		Kind:   events.KindStateSaved,
		Phase:  phase,
		Data:   map[string]any{"workflow": workflow, "size": len(data)},
		At:     blob.SavedAt,
	})

	return len(data), nil
}

// Load returns the current blob for (workflow, phase), or a not-found error.
func (p *Persistence) Load(ctx context.Context, workflow, phase string) (*Blob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	return p.loadLocked(workflow, phase)
}

func (p *Persistence) loadLocked(workflow, phase string) (*Blob, error) {
	path := p.blobPath(workflow, phase)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, orcherr.New(orcherr.KindStorageIO, "no state saved for %s/%s", workflow, phase)
		}
		return nil, orcherr.Wrap(orcherr.KindStorageIO, err, "reading state blob")
	}

	var blob Blob
	if err := decodeJSON(data, &blob); err != nil {
		return nil, orcherr.Wrap(orcherr.KindSerialization, err, "decoding state blob")
	}
	return &blob, nil
}

// Delete removes the current blob (and its backup, if any) for (workflow, phase).
func (p *Persistence) Delete(ctx context.Context, workflow, phase string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	path := p.blobPath(workflow, phase)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return orcherr.Wrap(orcherr.KindStorageIO, err, "deleting state blob")
	}
	_ = os.Remove(path + ".backup")
	return nil
}

// ListByWorkflow returns every current blob belonging to workflow.
func (p *Persistence) ListByWorkflow(ctx context.Context, workflow string) ([]*Blob, error) {
	return p.list(ctx, func(b *Blob) bool { return b.Workflow == workflow })
}

// ListByPhase returns every current blob belonging to phase, across all workflows.
func (p *Persistence) ListByPhase(ctx context.Context, phase string) ([]*Blob, error) {
	return p.list(ctx, func(b *Blob) bool { return b.Phase == phase })
}

func (p *Persistence) list(ctx context.Context, match func(*Blob) bool) ([]*Blob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	dir := filepath.Join(p.root, "state")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, orcherr.Wrap(orcherr.KindStorageIO, err, "listing state directory")
	}

	var out []*Blob
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		var blob Blob
		if err := decodeJSON(data, &blob); err != nil {
			continue
		}
		if match(&blob) {
			out = append(out, &blob)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].SavedAt.Before(out[j].SavedAt) })
	return out, nil
}

// GetStatistics summarizes the store's current contents.
func (p *Persistence) GetStatistics(ctx context.Context) (PersistenceStatistics, error) {
	all, err := p.list(ctx, func(*Blob) bool { return true })
	if err != nil {
		return PersistenceStatistics{}, err
	}

	stats := PersistenceStatistics{TotalBlobs: len(all)}
	workflows := map[string]struct{}{}
	phases := map[string]struct{}{}

	for _, b := range all {
		workflows[b.Workflow] = struct{}{}
		phases[b.Phase] = struct{}{}
		if data, err := canonjson.Marshal(b); err == nil {
			stats.TotalSizeBytes += len(data)
		}
	}

	for w := range workflows {
		stats.Workflows = append(stats.Workflows, w)
	}
	for ph := range phases {
		stats.Phases = append(stats.Phases, ph)
	}
	sort.Strings(stats.Workflows)
	sort.Strings(stats.Phases)

	return stats, nil
}
