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
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestRecovery(t *testing.T) *Recovery {
	t.Helper()
	dir := t.TempDir()
	v := NewVersioning(dir, 0, 0, nil)
	p := NewPersistence(dir, false, nil)
	return NewRecovery(dir, v, p, 0, 0, nil)
}

func TestCreateCheckpoint_PersistsVersionAndBlob(t *testing.T) {
	r := newTestRecovery(t)
	ctx := context.Background()

	state := map[string]any{"phase": "assess", "ok": true}
	cp, err := r.CreateCheckpoint(ctx, "wf-1", "assess", state, CreateCheckpointOptions{Reason: "phase complete"})
	require.NoError(t, err)
	require.NotEmpty(t, cp.CheckpointID)
	require.NotEmpty(t, cp.VersionID)
	require.True(t, cp.Recoverable)

	loaded, err := r.LoadState(ctx, "assess", cp.VersionID)
	require.NoError(t, err)
	m := loaded.(map[string]any)
	require.Equal(t, "assess", m["phase"])
}

func TestCreateCheckpointThenRecover_ReturnsCheckpointedBytes(t *testing.T) {
	r := newTestRecovery(t)
	ctx := context.Background()

	state := map[string]any{"value": float64(42)}
	cp, err := r.CreateCheckpoint(ctx, "wf-1", "construct", state, CreateCheckpointOptions{})
	require.NoError(t, err)

	rec, err := r.RecoverFromCheckpoint(ctx, "construct", cp.CheckpointID)
	require.NoError(t, err)
	require.Equal(t, cp.VersionID, rec.VersionID)

	loaded, err := r.LoadState(ctx, "construct", rec.VersionID)
	require.NoError(t, err)
	require.Equal(t, state, loaded)

	got, err := r.GetCheckpoint(ctx, "construct", cp.CheckpointID)
	require.NoError(t, err)
	require.True(t, got.InRecovery)
}

func TestCompleteRecovery_ClearsInRecoveryFlag(t *testing.T) {
	r := newTestRecovery(t)
	ctx := context.Background()

	cp, err := r.CreateCheckpoint(ctx, "wf-1", "deploy", map[string]any{"n": 1}, CreateCheckpointOptions{})
	require.NoError(t, err)

	rec, err := r.RecoverFromCheckpoint(ctx, "deploy", cp.CheckpointID)
	require.NoError(t, err)

	_, err = r.CompleteRecovery(ctx, "deploy", rec.RecoveryID, true, "resumed cleanly")
	require.NoError(t, err)

	got, err := r.GetCheckpoint(ctx, "deploy", cp.CheckpointID)
	require.NoError(t, err)
	require.False(t, got.InRecovery)

	history, err := r.GetRecoveryHistory(ctx, "deploy", 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.True(t, history[0].Success)
	require.True(t, history[0].Completed)
}

func TestRollback_ValidatesTargetVersionExists(t *testing.T) {
	r := newTestRecovery(t)
	ctx := context.Background()

	_, err := r.Rollback(ctx, "deploy", "ver-does-not-exist")
	require.Error(t, err)
}

func TestRollbackThenComplete_RecordsHistory(t *testing.T) {
	r := newTestRecovery(t)
	ctx := context.Background()

	cp1, err := r.CreateCheckpoint(ctx, "wf-1", "deploy", map[string]any{"n": 1}, CreateCheckpointOptions{})
	require.NoError(t, err)
	_, err = r.CreateCheckpoint(ctx, "wf-1", "deploy", map[string]any{"n": 2}, CreateCheckpointOptions{})
	require.NoError(t, err)

	rb, err := r.Rollback(ctx, "deploy", cp1.VersionID)
	require.NoError(t, err)
	require.Equal(t, cp1.VersionID, rb.ToVersion)

	_, err = r.CompleteRollback(ctx, "deploy", rb.RollbackID, true)
	require.NoError(t, err)

	history, err := r.GetRollbackHistory(ctx, "deploy", 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.True(t, history[0].Success)
}

func TestGetRecoveryPlan_UnavailableWithNoCheckpoints(t *testing.T) {
	r := newTestRecovery(t)
	ctx := context.Background()

	plan, err := r.GetRecoveryPlan(ctx, "assess")
	require.NoError(t, err)
	require.False(t, plan.Available)
	require.NotEmpty(t, plan.Reason)
}

func TestGetRecoveryPlan_AvailableAfterCheckpoint(t *testing.T) {
	r := newTestRecovery(t)
	ctx := context.Background()

	cp, err := r.CreateCheckpoint(ctx, "wf-1", "assess", map[string]any{"n": 1}, CreateCheckpointOptions{})
	require.NoError(t, err)

	plan, err := r.GetRecoveryPlan(ctx, "assess")
	require.NoError(t, err)
	require.True(t, plan.Available)
	require.Equal(t, "resume-current", plan.Recommendation)
	require.Contains(t, plan.Options[2], cp.VersionID)
}

func TestListCheckpoints_NewestFirstByDefault(t *testing.T) {
	r := newTestRecovery(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		cp, err := r.CreateCheckpoint(ctx, "wf-1", "deploy", map[string]any{"n": i}, CreateCheckpointOptions{})
		require.NoError(t, err)
		ids = append(ids, cp.CheckpointID)
	}

	list, err := r.ListCheckpoints(ctx, "deploy", ListOptions{})
	require.NoError(t, err)
	require.Len(t, list, 3)
	require.Equal(t, ids[2], list[0].CheckpointID)
}

func TestEnforceCheckpointRetention_CapsButKeepsLatest(t *testing.T) {
	dir := t.TempDir()
	v := NewVersioning(dir, 0, 0, nil)
	p := NewPersistence(dir, false, nil)
	r := NewRecovery(dir, v, p, 2, 0, nil)
	ctx := context.Background()

	var last *Checkpoint
	for i := 0; i < 6; i++ {
		cp, err := r.CreateCheckpoint(ctx, "wf-1", "deploy", map[string]any{"n": i}, CreateCheckpointOptions{})
		require.NoError(t, err)
		last = cp
	}

	all, err := r.ListCheckpoints(ctx, "deploy", ListOptions{})
	require.NoError(t, err)
	require.LessOrEqual(t, len(all), 2)
	require.Equal(t, last.CheckpointID, all[0].CheckpointID)
}

func TestGetStatistics_CountsRecoveriesRollbacksAndInProgress(t *testing.T) {
	r := newTestRecovery(t)
	ctx := context.Background()

	cp1, err := r.CreateCheckpoint(ctx, "wf-1", "deploy", map[string]any{"n": 1}, CreateCheckpointOptions{})
	require.NoError(t, err)
	cp2, err := r.CreateCheckpoint(ctx, "wf-1", "deploy", map[string]any{"n": 2}, CreateCheckpointOptions{})
	require.NoError(t, err)

	rec1, err := r.RecoverFromCheckpoint(ctx, "deploy", cp1.CheckpointID)
	require.NoError(t, err)
	_, err = r.CompleteRecovery(ctx, "deploy", rec1.RecoveryID, true, "ok")
	require.NoError(t, err)

	rec2, err := r.RecoverFromCheckpoint(ctx, "deploy", cp2.CheckpointID)
	require.NoError(t, err)
	_, err = r.CompleteRecovery(ctx, "deploy", rec2.RecoveryID, false, "failed")
	require.NoError(t, err)

	_, err = r.RecoverFromCheckpoint(ctx, "deploy", cp1.CheckpointID)
	require.NoError(t, err)

	v2, err := r.versioning.CreateVersion(ctx, "deploy", map[string]any{"n": 3}, CreateVersionOptions{})
	require.NoError(t, err)
	rb, err := r.Rollback(ctx, "deploy", v2.VersionID)
	require.NoError(t, err)
	_, err = r.CompleteRollback(ctx, "deploy", rb.RollbackID, true)
	require.NoError(t, err)

	stats, err := r.GetStatistics(ctx, "deploy")
	require.NoError(t, err)
	require.Equal(t, 3, stats.TotalRecoveries)
	require.Equal(t, 1, stats.SuccessfulRecoveries)
	require.Equal(t, 1, stats.InProgressRecoveries)
	require.InDelta(t, 1.0/3.0, stats.SuccessRate, 0.0001)
	require.Equal(t, 1, stats.TotalRollbacks)
	require.Equal(t, 1, stats.SuccessfulRollbacks)
}

func TestGetStatistics_EmptyPhaseAggregatesAcrossPhases(t *testing.T) {
	r := newTestRecovery(t)
	ctx := context.Background()

	cpA, err := r.CreateCheckpoint(ctx, "wf-1", "deploy", map[string]any{"n": 1}, CreateCheckpointOptions{})
	require.NoError(t, err)
	recA, err := r.RecoverFromCheckpoint(ctx, "deploy", cpA.CheckpointID)
	require.NoError(t, err)
	_, err = r.CompleteRecovery(ctx, "deploy", recA.RecoveryID, true, "ok")
	require.NoError(t, err)

	cpB, err := r.CreateCheckpoint(ctx, "wf-1", "validation", map[string]any{"n": 1}, CreateCheckpointOptions{})
	require.NoError(t, err)
	_, err = r.RecoverFromCheckpoint(ctx, "validation", cpB.CheckpointID)
	require.NoError(t, err)

	stats, err := r.GetStatistics(ctx, "")
	require.NoError(t, err)
	require.Equal(t, 2, stats.TotalRecoveries)
	require.Equal(t, 1, stats.SuccessfulRecoveries)
	require.Equal(t, 1, stats.InProgressRecoveries)
}
