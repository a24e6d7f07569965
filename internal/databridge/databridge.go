// SPDX-License-Identifier: AGPL-3.0-or-later

/*

Edgeforge - Edgeforge is a Go-based deployment orchestration core that
materializes worker artifacts and their backing resources onto a
serverless edge platform across one or more domains.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package databridge coordinates the three state services (persistence,
// versioning, recovery) across the four-phase workflow ASSESS -> CONSTRUCT
// -> ORCHESTRATE -> EXECUTE. A fifth IDENTIFY phase is defined below for
// schema completeness (component mapping, endpoint extraction, dependency
// analysis, performance profiling) but is never entered by Integrator: no
// operation in this package transitions into it.
package databridge

import (
	"context"
	"sync"
	"time"

	"edgeforge/internal/events"
	"edgeforge/internal/orcherr"
	"edgeforge/internal/statestore"
)

// Phase is one stage of the data-bridge workflow.
type Phase string

const (
	PhaseAssess      Phase = "ASSESS"
	PhaseConstruct   Phase = "CONSTRUCT"
	PhaseOrchestrate Phase = "ORCHESTRATE"
	PhaseExecute     Phase = "EXECUTE"

	// PhaseIdentify is defined in the schema but never wired into Integrator.
	PhaseIdentify Phase = "IDENTIFY"
)

// wiredPhases is the four-phase sequence Integrator actually drives.
var wiredPhases = []Phase{PhaseAssess, PhaseConstruct, PhaseOrchestrate, PhaseExecute}

func isWiredPhase(p Phase) bool {
	for _, w := range wiredPhases {
		if w == p {
			return true
		}
	}
	return false
}

// CreateCheckpointOptions mirrors statestore.CreateCheckpointOptions for
// callers that only depend on this package.
type CreateCheckpointOptions = statestore.CreateCheckpointOptions

// Checkpoint re-exports statestore.Checkpoint for callers of this package.
type Checkpoint = statestore.Checkpoint

// RecoveryPlan re-exports statestore.RecoveryPlan.
type RecoveryPlan = statestore.RecoveryPlan

// WorkflowStatistics holds each phase's current state and its checkpoint
// list; phases without checkpoints are absent from PhaseCheckpoints.
type WorkflowStatistics struct {
	PhaseStates      map[Phase]any   `json:"phaseStates"`
	PhaseCheckpoints map[Phase][]Checkpoint `json:"phaseCheckpoints"`
}

// Integrator coordinates persistence, versioning, and recovery across the
// four wired phases. State for each phase is independent: no operation here
// reads or writes another phase's records.
type Integrator struct {
	workflow string
	sink     events.Sink

	persistence *statestore.Persistence
	versioning  *statestore.Versioning
	recovery    *statestore.Recovery

	mu          sync.Mutex
	activePhase map[Phase]bool
	phaseStates map[Phase]any
}

// New constructs an Integrator for workflow. Call Initialize before use.
func New(workflow string, sink events.Sink) *Integrator {
	if sink == nil {
		sink = events.NullSink{}
	}
	return &Integrator{
		workflow:    workflow,
		sink:        sink,
		activePhase: map[Phase]bool{},
		phaseStates: map[Phase]any{},
	}
}

// Initialize instantiates the backing persistence, versioning, and recovery
// stores and emits initialization-complete.
func (i *Integrator) Initialize(dir string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.persistence = statestore.NewPersistence(dir, true, i.sink)
	i.versioning = statestore.NewVersioning(dir, 0, 0, i.sink)
	i.recovery = statestore.NewRecovery(dir, i.versioning, i.persistence, 0, 0, i.sink)

	i.sink.Emit(events.Event{
		Kind: events.KindInitializationComplete,
		Data: map[string]any{"workflow": i.workflow},
		At:   time.Now(),
	})
	return nil
}

// EnterPhase validates phase against the known set, records it as active,
// and stores context as that phase's current state.
func (i *Integrator) EnterPhase(phase Phase, phaseContext any) error {
	if !isWiredPhase(phase) {
		return orcherr.New(orcherr.KindUnknownPhase, "unknown phase %q", phase)
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if i.activePhase[phase] {
		return orcherr.New(orcherr.KindAlreadyInPhase, "already in phase %q", phase)
	}

	i.activePhase[phase] = true
	i.phaseStates[phase] = phaseContext
	return nil
}

// ExitPhase marks phase inactive; its state is retained.
func (i *Integrator) ExitPhase(phase Phase) error {
	if !isWiredPhase(phase) {
		return orcherr.New(orcherr.KindUnknownPhase, "unknown phase %q", phase)
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	i.activePhase[phase] = false
	return nil
}

// CreatePhaseCheckpoint requires phase to have been entered and delegates
// to the recovery store, emitting phase-checkpoint-created on success.
func (i *Integrator) CreatePhaseCheckpoint(ctx context.Context, phase Phase, result any, opts CreateCheckpointOptions) (*Checkpoint, error) {
	if !isWiredPhase(phase) {
		return nil, orcherr.New(orcherr.KindUnknownPhase, "unknown phase %q", phase)
	}

	i.mu.Lock()
	entered := i.activePhase[phase]
	recovery := i.recovery
	i.mu.Unlock()

	if !entered {
		return nil, orcherr.New(orcherr.KindUnknownPhase, "phase %q has not been entered", phase)
	}

	cp, err := recovery.CreateCheckpoint(ctx, i.workflow, string(phase), result, opts)
	if err != nil {
		return nil, err
	}

	i.sink.Emit(events.Event{
		Kind:  events.KindPhaseCheckpointCreated,
		Phase: string(phase),
		Data:  map[string]any{"checkpointId": cp.CheckpointID, "versionId": cp.VersionID},
		At:    time.Now(),
	})
	return cp, nil
}

// GetRecoveryPlan scans every wired phase for checkpoints and returns the
// first available recovery plan, preferring the earliest phase in sequence
// so recovery resumes from the first interruption point.
func (i *Integrator) GetRecoveryPlan(ctx context.Context) (RecoveryPlan, error) {
	for _, phase := range wiredPhases {
		plan, err := i.recovery.GetRecoveryPlan(ctx, string(phase))
		if err != nil {
			return RecoveryPlan{}, err
		}
		if plan.Available {
			return plan, nil
		}
	}
	return RecoveryPlan{Available: false, Reason: "no checkpoints exist for any phase"}, nil
}

// RecoverFromCheckpoint locates the phase owning checkpointID, delegates to
// the recovery store, and restores phaseStates for that phase from the
// checkpointed version.
func (i *Integrator) RecoverFromCheckpoint(ctx context.Context, checkpointID string) (*statestore.RecoveryRecord, error) {
	var owningPhase Phase
	var found bool
	for _, phase := range wiredPhases {
		if _, err := i.recovery.GetCheckpoint(ctx, string(phase), checkpointID); err == nil {
			owningPhase = phase
			found = true
			break
		}
	}
	if !found {
		return nil, orcherr.New(orcherr.KindStorageIO, "checkpoint %q not found in any phase", checkpointID)
	}

	rec, err := i.recovery.RecoverFromCheckpoint(ctx, string(owningPhase), checkpointID)
	if err != nil {
		return nil, err
	}

	state, err := i.recovery.LoadState(ctx, string(owningPhase), rec.VersionID)
	if err != nil {
		return nil, err
	}

	i.mu.Lock()
	i.phaseStates[owningPhase] = state
	i.mu.Unlock()

	return rec, nil
}

// RollbackPhase rolls phase back levels versions in its version chain.
func (i *Integrator) RollbackPhase(ctx context.Context, phase Phase, levels int) (*statestore.RollbackRecord, error) {
	if !isWiredPhase(phase) {
		return nil, orcherr.New(orcherr.KindUnknownPhase, "unknown phase %q", phase)
	}
	if levels <= 0 {
		levels = 1
	}

	current, err := i.versioning.GetCurrentVersion(ctx, string(phase))
	if err != nil {
		return nil, err
	}

	target := current
	chain, err := i.versioning.GetVersionChain(ctx, string(phase), current.VersionID, levels+1)
	if err != nil {
		return nil, err
	}
	if len(chain) <= levels {
		return nil, orcherr.New(orcherr.KindStorageIO, "phase %q has fewer than %d prior versions", phase, levels)
	}
	target = &chain[levels]

	return i.recovery.Rollback(ctx, string(phase), target.VersionID)
}

// GetWorkflowStatistics returns per-phase state and checkpoint maps as-is.
func (i *Integrator) GetWorkflowStatistics(ctx context.Context) (WorkflowStatistics, error) {
	i.mu.Lock()
	states := make(map[Phase]any, len(i.phaseStates))
	for k, v := range i.phaseStates {
		states[k] = v
	}
	i.mu.Unlock()

	checkpoints := make(map[Phase][]Checkpoint, len(wiredPhases))
	for _, phase := range wiredPhases {
		list, err := i.recovery.ListCheckpoints(ctx, string(phase), statestore.ListOptions{})
		if err != nil {
			return WorkflowStatistics{}, err
		}
		if len(list) > 0 {
			checkpoints[phase] = list
		}
	}

	return WorkflowStatistics{PhaseStates: states, PhaseCheckpoints: checkpoints}, nil
}
