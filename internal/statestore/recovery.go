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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"edgeforge/internal/events"
	"edgeforge/internal/orcherr"
)

// DefaultMaxCheckpoints is the per-phase checkpoint retention cap.
const DefaultMaxCheckpoints = 50

// DefaultCheckpointRetentionDays is the checkpoint age-based retention window.
const DefaultCheckpointRetentionDays = 14

// CheckpointMetadata carries the human-facing reason a checkpoint was taken.
type CheckpointMetadata struct {
	Reason    string `json:"reason,omitempty"`
	Milestone string `json:"milestone,omitempty"`
}

// Checkpoint is a tagged, recoverable reference to a specific version of a
// phase's state blob.
type Checkpoint struct {
	CheckpointID string             `json:"checkpointId"`
	PhaseID      string             `json:"phaseId"`
	VersionID    string             `json:"versionId"`
	CreatedAt    time.Time          `json:"createdAt"`
	LastUsedAt   time.Time          `json:"lastUsedAt"`
	StateSize    int                `json:"stateSize"`
	Tag          string             `json:"tag,omitempty"`
	Metadata     CheckpointMetadata `json:"metadata"`
	Recoverable  bool               `json:"recoverable"`
	InRecovery   bool               `json:"inRecovery"`
}

// CreateCheckpointOptions configures CreateCheckpoint.
type CreateCheckpointOptions struct {
	Reason    string
	Milestone string
	Tag       string
}

// RecoveryRecord tracks one recoverFromCheckpoint invocation.
type RecoveryRecord struct {
	RecoveryID   string    `json:"recoveryId"`
	PhaseID      string    `json:"phaseId"`
	CheckpointID string    `json:"checkpointId"`
	VersionID    string    `json:"versionId"`
	StartedAt    time.Time `json:"startedAt"`
	CompletedAt  time.Time `json:"completedAt,omitempty"`
	Success      bool      `json:"success"`
	Message      string    `json:"message,omitempty"`
	Completed    bool      `json:"completed"`
}

// RollbackRecord tracks one rollback invocation.
type RollbackRecord struct {
	RollbackID  string    `json:"rollbackId"`
	PhaseID     string    `json:"phaseId"`
	FromVersion string    `json:"fromVersion"`
	ToVersion   string    `json:"toVersion"`
	StartedAt   time.Time `json:"startedAt"`
	CompletedAt time.Time `json:"completedAt,omitempty"`
	Success     bool      `json:"success"`
	Completed   bool      `json:"completed"`
}

// RecoveryPlan describes whether recovery is available for a phase and the
// options a caller may choose among.
type RecoveryPlan struct {
	Available      bool     `json:"available"`
	Reason         string   `json:"reason,omitempty"`
	Options        []string `json:"options,omitempty"`
	Recommendation string   `json:"recommendation,omitempty"`
}

type recoveryIndex struct {
	Checkpoints []Checkpoint     `json:"checkpoints"`
	Recoveries  []RecoveryRecord `json:"recoveries"`
	Rollbacks   []RollbackRecord `json:"rollbacks"`
}

// Recovery implements checkpoints, recovery tracking, and rollback, built
// atop a Versioning chain and a Persistence store.
type Recovery struct {
	root          string
	versioning    *Versioning
	persistence   *Persistence
	maxCheckpoint int
	retentionDays int
	sink          events.Sink
	mu            sync.Mutex
}

// NewRecovery creates a Recovery store rooted at dir, delegating version
// creation and blob persistence to versioning and persistence respectively.
func NewRecovery(dir string, versioning *Versioning, persistence *Persistence, maxCheckpoints, retentionDays int, sink events.Sink) *Recovery {
	if maxCheckpoints <= 0 {
		maxCheckpoints = DefaultMaxCheckpoints
	}
	if retentionDays <= 0 {
		retentionDays = DefaultCheckpointRetentionDays
	}
	if sink == nil {
		sink = events.NullSink{}
	}
	return &Recovery{
		root:          dir,
		versioning:    versioning,
		persistence:   persistence,
		maxCheckpoint: maxCheckpoints,
		retentionDays: retentionDays,
		sink:          sink,
	}
}

func (r *Recovery) indexPath(phase string) string {
	return filepath.Join(r.root, "recovery", phase+".json")
}

func (r *Recovery) loadIndex(phase string) (*recoveryIndex, error) {
	data, err := os.ReadFile(r.indexPath(phase))
	if err != nil {
		if os.IsNotExist(err) {
			return &recoveryIndex{}, nil
		}
		return nil, orcherr.Wrap(orcherr.KindStorageIO, err, "reading recovery index for phase %s", phase)
	}
	var idx recoveryIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, orcherr.Wrap(orcherr.KindSerialization, err, "decoding recovery index")
	}
	return &idx, nil
}

func (r *Recovery) saveIndex(phase string, idx *recoveryIndex) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return orcherr.Wrap(orcherr.KindSerialization, err, "encoding recovery index")
	}
	return writeFileAtomic(r.indexPath(phase), data)
}

// CreateCheckpoint persists state as a new version, saves it to the
// persistence store, and records a checkpoint referencing that version.
func (r *Recovery) CreateCheckpoint(ctx context.Context, workflow, phase string, state any, opts CreateCheckpointOptions) (*Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ver, err := r.versioning.CreateVersion(ctx, phase, state, CreateVersionOptions{Tag: opts.Tag, Message: opts.Reason})
	if err != nil {
		return nil, err
	}
	size, err := r.persistence.Save(ctx, workflow, phase, state, nil)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	idx, err := r.loadIndex(phase)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	cp := Checkpoint{
		CheckpointID: NewID("chk", now),
		PhaseID:      phase,
		VersionID:    ver.VersionID,
		CreatedAt:    now,
		LastUsedAt:   now,
		StateSize:    size,
		Tag:          opts.Tag,
		Metadata:     CheckpointMetadata{Reason: opts.Reason, Milestone: opts.Milestone},
		Recoverable:  true,
	}
	idx.Checkpoints = append(idx.Checkpoints, cp)
	r.enforceCheckpointRetention(idx)

	if err := r.saveIndex(phase, idx); err != nil {
		return nil, err
	}

	return &cp, nil
}

func (r *Recovery) enforceCheckpointRetention(idx *recoveryIndex) {
	sort.Slice(idx.Checkpoints, func(i, j int) bool {
		return idx.Checkpoints[i].CreatedAt.Before(idx.Checkpoints[j].CreatedAt)
	})

	cutoff := time.Now().AddDate(0, 0, -r.retentionDays)
	latestID := ""
	if len(idx.Checkpoints) > 0 {
		latestID = idx.Checkpoints[len(idx.Checkpoints)-1].CheckpointID
	}

	kept := make([]Checkpoint, 0, len(idx.Checkpoints))
	for _, cp := range idx.Checkpoints {
		if cp.CheckpointID == latestID {
			kept = append(kept, cp)
			continue
		}
		if cp.CreatedAt.Before(cutoff) {
			continue
		}
		kept = append(kept, cp)
	}

	if len(kept) > r.maxCheckpoint {
		overflow := len(kept) - r.maxCheckpoint
		pruned := make([]Checkpoint, 0, r.maxCheckpoint)
		dropped := 0
		for _, cp := range kept {
			if dropped < overflow && cp.CheckpointID != latestID {
				dropped++
				continue
			}
			pruned = append(pruned, cp)
		}
		kept = pruned
	}

	idx.Checkpoints = kept
}

// GetCheckpoint returns the checkpoint record for checkpointID in phase.
func (r *Recovery) GetCheckpoint(ctx context.Context, phase, checkpointID string) (*Checkpoint, error) {
	r.mu.Lock()
	idx, err := r.loadIndex(phase)
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	for i := range idx.Checkpoints {
		if idx.Checkpoints[i].CheckpointID == checkpointID {
			cp := idx.Checkpoints[i]
			return &cp, nil
		}
	}
	return nil, orcherr.New(orcherr.KindStorageIO, "checkpoint %q not found for phase %s", checkpointID, phase)
}

// GetLatestCheckpoint returns the most recently created checkpoint for phase.
func (r *Recovery) GetLatestCheckpoint(ctx context.Context, phase string) (*Checkpoint, error) {
	r.mu.Lock()
	idx, err := r.loadIndex(phase)
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if len(idx.Checkpoints) == 0 {
		return nil, orcherr.New(orcherr.KindStorageIO, "no checkpoints exist for phase %s", phase)
	}
	sort.Slice(idx.Checkpoints, func(i, j int) bool {
		return idx.Checkpoints[i].CreatedAt.Before(idx.Checkpoints[j].CreatedAt)
	})
	cp := idx.Checkpoints[len(idx.Checkpoints)-1]
	return &cp, nil
}

// ListCheckpoints lists phase's checkpoints, newest-first by default.
func (r *Recovery) ListCheckpoints(ctx context.Context, phase string, opts ListOptions) ([]Checkpoint, error) {
	r.mu.Lock()
	idx, err := r.loadIndex(phase)
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := append([]Checkpoint(nil), idx.Checkpoints...)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if !opts.Reverse {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}

	if opts.Skip > 0 {
		if opts.Skip >= len(out) {
			return nil, nil
		}
		out = out[opts.Skip:]
	}
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out, nil
}

// RecoverFromCheckpoint marks checkpointID as in-recovery, bumps its
// lastUsedAt, and records a recovery attempt referencing its version.
func (r *Recovery) RecoverFromCheckpoint(ctx context.Context, phase, checkpointID string) (*RecoveryRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	idx, err := r.loadIndex(phase)
	if err != nil {
		return nil, err
	}

	var target *Checkpoint
	for i := range idx.Checkpoints {
		if idx.Checkpoints[i].CheckpointID == checkpointID {
			target = &idx.Checkpoints[i]
			break
		}
	}
	if target == nil {
		return nil, orcherr.New(orcherr.KindStorageIO, "checkpoint %q not found for phase %s", checkpointID, phase)
	}

	now := time.Now()
	target.LastUsedAt = now
	target.InRecovery = true

	record := RecoveryRecord{
		RecoveryID:   NewID("rec", now),
		PhaseID:      phase,
		CheckpointID: checkpointID,
		VersionID:    target.VersionID,
		StartedAt:    now,
	}
	idx.Recoveries = append(idx.Recoveries, record)

	if err := r.saveIndex(phase, idx); err != nil {
		return nil, err
	}

	r.sink.Emit(events.Event{
		Kind:  events.KindRecoveryStarted,
		Phase: phase,
		Data:  map[string]any{"checkpointId": checkpointID, "recoveryId": record.RecoveryID},
		At:    now,
	})

	return &record, nil
}

// CompleteRecovery marks recoveryID as finished.
func (r *Recovery) CompleteRecovery(ctx context.Context, phase, recoveryID string, success bool, message string) (*RecoveryRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, err := r.loadIndex(phase)
	if err != nil {
		return nil, err
	}

	var target *RecoveryRecord
	for i := range idx.Recoveries {
		if idx.Recoveries[i].RecoveryID == recoveryID {
			target = &idx.Recoveries[i]
			break
		}
	}
	if target == nil {
		return nil, orcherr.New(orcherr.KindStorageIO, "recovery %q not found for phase %s", recoveryID, phase)
	}

	target.CompletedAt = time.Now()
	target.Success = success
	target.Message = message
	target.Completed = true

	for i := range idx.Checkpoints {
		if idx.Checkpoints[i].CheckpointID == target.CheckpointID {
			idx.Checkpoints[i].InRecovery = false
		}
	}

	if err := r.saveIndex(phase, idx); err != nil {
		return nil, err
	}

	r.sink.Emit(events.Event{
		Kind:  events.KindRecoveryCompleted,
		Phase: phase,
		Data:  map[string]any{"recoveryId": recoveryID, "success": success},
		At:    target.CompletedAt,
	})

	out := *target
	return &out, nil
}

// Rollback validates that toVersion exists in phase's version chain and
// records a rollback attempt from the current version to it.
func (r *Recovery) Rollback(ctx context.Context, phase, toVersion string) (*RollbackRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if _, err := r.versioning.GetVersion(ctx, phase, toVersion); err != nil {
		return nil, orcherr.Wrap(orcherr.KindStorageIO, err, "rollback target version %q does not exist", toVersion)
	}

	current, err := r.versioning.GetCurrentVersion(ctx, phase)
	fromVersion := ""
	if err == nil {
		fromVersion = current.VersionID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	idx, err := r.loadIndex(phase)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	record := RollbackRecord{
		RollbackID:  NewID("rbk", now),
		PhaseID:     phase,
		FromVersion: fromVersion,
		ToVersion:   toVersion,
		StartedAt:   now,
	}
	idx.Rollbacks = append(idx.Rollbacks, record)

	if err := r.saveIndex(phase, idx); err != nil {
		return nil, err
	}

	return &record, nil
}

// CompleteRollback marks rollbackID as finished.
func (r *Recovery) CompleteRollback(ctx context.Context, phase, rollbackID string, success bool) (*RollbackRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, err := r.loadIndex(phase)
	if err != nil {
		return nil, err
	}

	var target *RollbackRecord
	for i := range idx.Rollbacks {
		if idx.Rollbacks[i].RollbackID == rollbackID {
			target = &idx.Rollbacks[i]
			break
		}
	}
	if target == nil {
		return nil, orcherr.New(orcherr.KindStorageIO, "rollback %q not found for phase %s", rollbackID, phase)
	}

	target.CompletedAt = time.Now()
	target.Success = success
	target.Completed = true

	if err := r.saveIndex(phase, idx); err != nil {
		return nil, err
	}

	out := *target
	return &out, nil
}

// GetRecoveryHistory returns phase's recovery attempts, newest-first,
// capped at limit (0 means unlimited).
func (r *Recovery) GetRecoveryHistory(ctx context.Context, phase string, limit int) ([]RecoveryRecord, error) {
	r.mu.Lock()
	idx, err := r.loadIndex(phase)
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := append([]RecoveryRecord(nil), idx.Recoveries...)
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// GetRollbackHistory returns phase's rollback attempts, newest-first,
// capped at limit (0 means unlimited).
func (r *Recovery) GetRollbackHistory(ctx context.Context, phase string, limit int) ([]RollbackRecord, error) {
	r.mu.Lock()
	idx, err := r.loadIndex(phase)
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := append([]RollbackRecord(nil), idx.Rollbacks...)
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// GetRecoveryPlan reports whether recovery is available for phase and the
// options a caller may choose among.
func (r *Recovery) GetRecoveryPlan(ctx context.Context, phase string) (RecoveryPlan, error) {
	cp, err := r.GetLatestCheckpoint(ctx, phase)
	if err != nil {
		return RecoveryPlan{Available: false, Reason: fmt.Sprintf("no recoverable checkpoint for phase %s", phase)}, nil
	}

	options := []string{"resume-current", "skip-to-next", fmt.Sprintf("rollback-to %s", cp.VersionID)}
	return RecoveryPlan{
		Available:      true,
		Options:        options,
		Recommendation: "resume-current",
	}, nil
}

// LoadState loads the canonical state recorded at versionID, delegating to
// the underlying Versioning chain.
func (r *Recovery) LoadState(ctx context.Context, phase, versionID string) (any, error) {
	return r.versioning.LoadState(ctx, phase, versionID)
}

// RecoveryStatistics summarizes recovery and rollback activity for a phase
// (or across all phases, when queried with phase == "").
type RecoveryStatistics struct {
	TotalRecoveries      int
	SuccessfulRecoveries int
	InProgressRecoveries int
	SuccessRate          float64
	TotalRollbacks       int
	SuccessfulRollbacks  int
}

// GetStatistics reports recovery counts, success rate, and in-progress
// recoveries for phase. If phase is empty, every phase's recovery index
// under root is aggregated.
func (r *Recovery) GetStatistics(ctx context.Context, phase string) (RecoveryStatistics, error) {
	if err := ctx.Err(); err != nil {
		return RecoveryStatistics{}, err
	}

	phases := []string{phase}
	if phase == "" {
		var err error
		phases, err = r.listIndexedPhases()
		if err != nil {
			return RecoveryStatistics{}, err
		}
	}

	var stats RecoveryStatistics
	for _, p := range phases {
		r.mu.Lock()
		idx, err := r.loadIndex(p)
		r.mu.Unlock()
		if err != nil {
			return RecoveryStatistics{}, err
		}

		for _, rec := range idx.Recoveries {
			stats.TotalRecoveries++
			if !rec.Completed {
				stats.InProgressRecoveries++
				continue
			}
			if rec.Success {
				stats.SuccessfulRecoveries++
			}
		}

		for _, rb := range idx.Rollbacks {
			stats.TotalRollbacks++
			if rb.Completed && rb.Success {
				stats.SuccessfulRollbacks++
			}
		}
	}

	if stats.TotalRecoveries > 0 {
		stats.SuccessRate = float64(stats.SuccessfulRecoveries) / float64(stats.TotalRecoveries)
	}

	return stats, nil
}

// listIndexedPhases lists the phases that have a recovery index on disk.
func (r *Recovery) listIndexedPhases() ([]string, error) {
	dir := filepath.Join(r.root, "recovery")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, orcherr.Wrap(orcherr.KindStorageIO, err, "listing recovery index directory")
	}

	phases := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		const ext = ".json"
		if filepath.Ext(name) == ext {
			phases = append(phases, name[:len(name)-len(ext)])
		}
	}
	sort.Strings(phases)
	return phases, nil
}
