// SPDX-License-Identifier: AGPL-3.0-or-later

/*

Edgeforge - Edgeforge is a Go-based deployment orchestration core that
materializes worker artifacts and their backing resources onto a
serverless edge platform across one or more domains.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package pipeline implements the abstract six-phase deployment lifecycle.
// Rather than leaning on a method-lookup pattern per phase (an on<Phase>
// style dispatched by reflection or a type switch), a pipeline is a value
// holding a map from phase name to handler closure: PhaseFns. Constructors
// that need different behavior per domain or mode populate that map
// differently; the engine itself never branches on phase name.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"edgeforge/internal/events"
	"edgeforge/internal/orcherr"
)

// Phase is one of the six fixed pipeline stages.
type Phase string

const (
	PhaseInitialization Phase = "initialization"
	PhaseValidation     Phase = "validation"
	PhasePreparation    Phase = "preparation"
	PhaseDeployment     Phase = "deployment"
	PhaseVerification   Phase = "verification"
	PhaseMonitoring     Phase = "monitoring"
)

// phaseSequence is the fixed phase order the engine executes in.
var phaseSequence = []Phase{
	PhaseInitialization,
	PhaseValidation,
	PhasePreparation,
	PhaseDeployment,
	PhaseVerification,
	PhaseMonitoring,
}

// criticalPhases abort the pipeline on failure (unless ContinueOnError is
// set); failures of the other phases are recorded and execution always
// continues past them, whatever ContinueOnError says.
var criticalPhases = map[Phase]bool{
	PhaseInitialization: true,
	PhaseValidation:     true,
	PhaseDeployment:     true,
}

// GetPhases returns the set of known phase names.
func GetPhases() []Phase {
	out := make([]Phase, len(phaseSequence))
	copy(out, phaseSequence)
	return out
}

// GetPhaseSequence is an alias for GetPhases kept for callers that prefer
// the sequence-oriented name.
func GetPhaseSequence() []Phase {
	return GetPhases()
}

// IsValidPhase reports whether name is one of the six known phases.
func IsValidPhase(name Phase) bool {
	for _, p := range phaseSequence {
		if p == name {
			return true
		}
	}
	return false
}

// IsCriticalPhase reports whether a failure in name aborts the pipeline.
func IsCriticalPhase(name Phase) bool {
	return criticalPhases[name]
}

// State is a phase's lifecycle state.
type State string

const (
	StatePending State = "pending"
	StateRunning State = "running"
	StateComplete State = "complete"
	StateError   State = "error"
)

// Handler executes one phase and returns its result or an error.
type Handler func(ctx context.Context, pctx *ExecutionContext) (any, error)

// PhaseFns is the injected handler map: one closure per phase, built by
// whatever constructor assembles a pipeline for a given domain or mode.
type PhaseFns map[Phase]Handler

// ExecutionContext is handed to every handler; handlers read shared
// configuration and append events but never mutate another phase's result.
type ExecutionContext struct {
	DeploymentID string
	Orchestrator string
	Data         map[string]any
}

// PhaseRecord is the per-phase bookkeeping the engine maintains.
type PhaseRecord struct {
	State        State
	Result       any
	Duration     time.Duration
	ErrorMessage string
}

// ExecuteOptions configures Execute.
type ExecuteOptions struct {
	ContinueOnError bool
}

// PhaseSummary is one phase's entry in the execution summary.
type PhaseSummary struct {
	State        State         `json:"state"`
	Duration     time.Duration `json:"duration"`
	ErrorMessage string        `json:"errorMessage,omitempty"`
}

// Stats aggregates phase outcomes.
type Stats struct {
	Completed   int     `json:"completed"`
	Failed      int     `json:"failed"`
	SuccessRate float64 `json:"successRate"`
}

// Summary is the execution summary generated after Execute (or on demand).
type Summary struct {
	DeploymentID  string                  `json:"deploymentId"`
	Orchestrator  string                  `json:"orchestrator"`
	TotalDuration time.Duration           `json:"totalDuration"`
	Phases        map[Phase]PhaseSummary  `json:"phases"`
	Stats         Stats                   `json:"stats"`
}

// CriticalPhaseFailure is returned by Execute when a critical phase fails.
type CriticalPhaseFailure struct {
	Phase Phase
	Cause error
}

func (e *CriticalPhaseFailure) Error() string {
	return fmt.Sprintf("critical phase %q failed: %v", e.Phase, e.Cause)
}

func (e *CriticalPhaseFailure) Unwrap() error { return e.Cause }

// Engine drives the six-phase sequence using an injected PhaseFns map.
type Engine struct {
	deploymentID string
	orchestrator string
	fns          PhaseFns
	sink         events.Sink
	auditor      events.Sink

	records map[Phase]*PhaseRecord
	start   time.Time
	elapsed time.Duration
	execCtx *ExecutionContext
}

// New constructs an Engine for deploymentID/orchestrator, driven by fns. A
// nil handler for a phase is treated as a no-op success.
func New(deploymentID, orchestrator string, fns PhaseFns, sink, auditor events.Sink) *Engine {
	if sink == nil {
		sink = events.NullSink{}
	}
	if auditor == nil {
		auditor = events.NullSink{}
	}
	records := make(map[Phase]*PhaseRecord, len(phaseSequence))
	for _, p := range phaseSequence {
		records[p] = &PhaseRecord{State: StatePending}
	}
	return &Engine{
		deploymentID: deploymentID,
		orchestrator: orchestrator,
		fns:          fns,
		sink:         sink,
		auditor:      auditor,
		records:      records,
		execCtx: &ExecutionContext{
			DeploymentID: deploymentID,
			Orchestrator: orchestrator,
			Data:         map[string]any{},
		},
	}
}

// Execute runs every phase in sequence. A critical-phase failure returns a
// *CriticalPhaseFailure immediately (unless continueOnError suppresses the
// abort) and leaves downstream phases at StatePending. Non-critical failures
// are always recorded and execution continues.
func (e *Engine) Execute(ctx context.Context, opts ExecuteOptions) (Summary, error) {
	e.start = time.Now()

	var abort error
	for _, phase := range phaseSequence {
		if abort != nil && !opts.ContinueOnError {
			break
		}

		record := e.records[phase]
		record.State = StateRunning
		e.emitPhase(phase, events.KindPhaseStarted)

		phaseStart := time.Now()
		result, err := e.runHandler(ctx, phase)
		record.Duration = time.Since(phaseStart)

		if err != nil {
			record.State = StateError
			record.ErrorMessage = err.Error()
			e.emitError(phase, err)

			if IsCriticalPhase(phase) {
				failure := &CriticalPhaseFailure{Phase: phase, Cause: err}
				if !opts.ContinueOnError {
					abort = failure
					e.elapsed = time.Since(e.start)
					break
				}
				abort = failure
			}
			continue
		}

		record.State = StateComplete
		record.Result = result
		e.emitPhase(phase, events.KindPhaseFinished)
	}

	e.elapsed = time.Since(e.start)
	summary := e.generateExecutionSummary()
	if abort != nil {
		return summary, abort
	}
	return summary, nil
}

func (e *Engine) runHandler(ctx context.Context, phase Phase) (any, error) {
	handler := e.fns[phase]
	if handler == nil {
		return nil, nil
	}
	return handler(ctx, e.execCtx)
}

func (e *Engine) emitPhase(phase Phase, kind events.Kind) {
	e.sink.Emit(events.Event{
		Kind:  kind,
		Phase: string(phase),
		Data:  map[string]any{"deploymentId": e.deploymentID},
		At:    time.Now(),
	})
	e.auditor.Emit(events.Event{
		Kind:  kind,
		Phase: string(phase),
		Data:  map[string]any{"deploymentId": e.deploymentID},
		At:    time.Now(),
	})
}

func (e *Engine) emitError(phase Phase, err error) {
	e.auditor.Emit(events.Event{
		Kind:  events.KindPhaseFinished,
		Phase: string(phase),
		Data:  map[string]any{"deploymentId": e.deploymentID, "error": err.Error()},
		At:    time.Now(),
	})
}

// GetPhaseStatus returns phase's current lifecycle state.
func (e *Engine) GetPhaseStatus(phase Phase) (State, error) {
	record, ok := e.records[phase]
	if !ok {
		return "", orcherr.New(orcherr.KindUnknownPhase, "unknown phase %q", phase)
	}
	return record.State, nil
}

// GetPhaseResult returns phase's stored handler result.
func (e *Engine) GetPhaseResult(phase Phase) (any, error) {
	record, ok := e.records[phase]
	if !ok {
		return nil, orcherr.New(orcherr.KindUnknownPhase, "unknown phase %q", phase)
	}
	return record.Result, nil
}

// GetExecutionTime returns the wall-clock duration of the last Execute call.
func (e *Engine) GetExecutionTime() time.Duration {
	return e.elapsed
}

// GetExecutionContext returns the shared context handlers were invoked with.
func (e *Engine) GetExecutionContext() *ExecutionContext {
	return e.execCtx
}

// GenerateExecutionSummary is the exported form of generateExecutionSummary.
func (e *Engine) GenerateExecutionSummary() Summary {
	return e.generateExecutionSummary()
}

func (e *Engine) generateExecutionSummary() Summary {
	phases := make(map[Phase]PhaseSummary, len(phaseSequence))
	completed, failed := 0, 0

	for _, phase := range phaseSequence {
		record := e.records[phase]
		phases[phase] = PhaseSummary{
			State:        record.State,
			Duration:     record.Duration,
			ErrorMessage: record.ErrorMessage,
		}
		switch record.State {
		case StateComplete:
			completed++
		case StateError:
			failed++
		}
	}

	total := completed + failed
	successRate := 1.0
	if total > 0 {
		successRate = float64(completed) / float64(total)
	}

	return Summary{
		DeploymentID:  e.deploymentID,
		Orchestrator:  e.orchestrator,
		TotalDuration: e.elapsed,
		Phases:        phases,
		Stats: Stats{
			Completed:   completed,
			Failed:      failed,
			SuccessRate: successRate,
		},
	}
}
