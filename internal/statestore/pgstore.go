// SPDX-License-Identifier: AGPL-3.0-or-later

/*

Edgeforge - Edgeforge is a Go-based deployment orchestration core that
materializes worker artifacts and their backing resources onto a
serverless edge platform across one or more domains.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

package statestore

import (
	"context"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"edgeforge/internal/events"
	"edgeforge/internal/orcherr"
	"edgeforge/pkg/canonjson"
)

// PostgresSchema is the DDL a caller runs once against a fresh database
// before handing it to NewPostgresPersistence. Kept as a constant rather
// than a migration file since this store is a single-table, fixed-shape
// substitute for the on-disk layout, which carries no stability contract.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS edgeforge_state_blobs (
	workflow       text NOT NULL,
	phase          text NOT NULL,
	content        jsonb NOT NULL,
	saved_at       timestamptz NOT NULL,
	schema_version integer NOT NULL,
	PRIMARY KEY (workflow, phase)
);
`

// PostgresPersistence is a pgx-backed substitute for Persistence with the
// same (workflow, phase) keyed semantics, for deployments that want their
// deployment state in the same database they already operate rather than
// on local disk.
type PostgresPersistence struct {
	pool *pgxpool.Pool
	sink events.Sink
}

// NewPostgresPersistence wraps an already-connected pool. Callers are
// responsible for having applied PostgresSchema first.
func NewPostgresPersistence(pool *pgxpool.Pool, sink events.Sink) *PostgresPersistence {
	if sink == nil {
		sink = events.NullSink{}
	}
	return &PostgresPersistence{pool: pool, sink: sink}
}

// Save upserts the blob for (workflow, phase) and returns the length of its
// JSON-encoded content.
func (p *PostgresPersistence) Save(ctx context.Context, workflow, phase string, content any, _ map[string]any) (int, error) {
	savedAt := time.Now()

	data, err := canonjson.Marshal(content)
	if err != nil {
		return 0, orcherr.Wrap(orcherr.KindSerialization, err, "encoding state blob for %s/%s", workflow, phase)
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO edgeforge_state_blobs (workflow, phase, content, saved_at, schema_version)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (workflow, phase) DO UPDATE
		SET content = EXCLUDED.content, saved_at = EXCLUDED.saved_at, schema_version = EXCLUDED.schema_version
	`, workflow, phase, content, savedAt, SchemaVersion)
	if err != nil {
		return 0, orcherr.Wrap(orcherr.KindStorageIO, err, "saving state blob for %s/%s", workflow, phase)
	}

	p.sink.Emit(events.Event{
		Kind:  events.KindStateSaved,
		Phase: phase,
		Data:  map[string]any{"workflow": workflow, "size": len(data)},
		At:    savedAt,
	})
	return len(data), nil
}

// Load returns the current blob for (workflow, phase).
func (p *PostgresPersistence) Load(ctx context.Context, workflow, phase string) (*Blob, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT workflow, phase, content, saved_at, schema_version
		FROM edgeforge_state_blobs WHERE workflow = $1 AND phase = $2
	`, workflow, phase)

	var blob Blob
	if err := row.Scan(&blob.Workflow, &blob.Phase, &blob.Content, &blob.SavedAt, &blob.SchemaVersion); err != nil {
		if err == pgx.ErrNoRows {
			return nil, orcherr.New(orcherr.KindStorageIO, "no state saved for %s/%s", workflow, phase)
		}
		return nil, orcherr.Wrap(orcherr.KindStorageIO, err, "loading state blob for %s/%s", workflow, phase)
	}
	return &blob, nil
}

// Delete removes the blob for (workflow, phase), if any.
func (p *PostgresPersistence) Delete(ctx context.Context, workflow, phase string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM edgeforge_state_blobs WHERE workflow = $1 AND phase = $2`, workflow, phase)
	if err != nil {
		return orcherr.Wrap(orcherr.KindStorageIO, err, "deleting state blob for %s/%s", workflow, phase)
	}
	return nil
}

// ListByWorkflow returns every blob belonging to workflow, oldest first.
func (p *PostgresPersistence) ListByWorkflow(ctx context.Context, workflow string) ([]*Blob, error) {
	return p.list(ctx, `WHERE workflow = $1`, workflow)
}

// ListByPhase returns every blob belonging to phase across all workflows, oldest first.
func (p *PostgresPersistence) ListByPhase(ctx context.Context, phase string) ([]*Blob, error) {
	return p.list(ctx, `WHERE phase = $1`, phase)
}

func (p *PostgresPersistence) list(ctx context.Context, where string, arg string) ([]*Blob, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT workflow, phase, content, saved_at, schema_version
		FROM edgeforge_state_blobs `+where, arg)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.KindStorageIO, err, "listing state blobs")
	}
	defer rows.Close()

	var out []*Blob
	for rows.Next() {
		var blob Blob
		if err := rows.Scan(&blob.Workflow, &blob.Phase, &blob.Content, &blob.SavedAt, &blob.SchemaVersion); err != nil {
			return nil, orcherr.Wrap(orcherr.KindSerialization, err, "decoding state blob row")
		}
		out = append(out, &blob)
	}
	if err := rows.Err(); err != nil {
		return nil, orcherr.Wrap(orcherr.KindStorageIO, err, "iterating state blob rows")
	}

	sort.Slice(out, func(i, j int) bool { return out[i].SavedAt.Before(out[j].SavedAt) })
	return out, nil
}

// GetStatistics summarizes the store's current contents.
func (p *PostgresPersistence) GetStatistics(ctx context.Context) (PersistenceStatistics, error) {
	rows, err := p.pool.Query(ctx, `SELECT workflow, phase, content FROM edgeforge_state_blobs`)
	if err != nil {
		return PersistenceStatistics{}, orcherr.Wrap(orcherr.KindStorageIO, err, "querying state blob statistics")
	}
	defer rows.Close()

	stats := PersistenceStatistics{}
	workflows := map[string]struct{}{}
	phases := map[string]struct{}{}

	for rows.Next() {
		var workflow, phase string
		var content any
		if err := rows.Scan(&workflow, &phase, &content); err != nil {
			return PersistenceStatistics{}, orcherr.Wrap(orcherr.KindSerialization, err, "decoding state blob row")
		}
		stats.TotalBlobs++
		workflows[workflow] = struct{}{}
		phases[phase] = struct{}{}
		if data, err := canonjson.Marshal(content); err == nil {
			stats.TotalSizeBytes += len(data)
		}
	}
	if err := rows.Err(); err != nil {
		return PersistenceStatistics{}, orcherr.Wrap(orcherr.KindStorageIO, err, "iterating state blob rows")
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
