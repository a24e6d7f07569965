// SPDX-License-Identifier: AGPL-3.0-or-later

/*

Edgeforge - Edgeforge is a Go-based deployment orchestration core that
materializes worker artifacts and their backing resources onto a
serverless edge platform across one or more domains.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"edgeforge/internal/events"
)

func okHandler(result any) Handler {
	return func(ctx context.Context, pctx *ExecutionContext) (any, error) {
		return result, nil
	}
}

func failHandler(err error) Handler {
	return func(ctx context.Context, pctx *ExecutionContext) (any, error) {
		return nil, err
	}
}

func TestExecute_AllPhasesSucceed(t *testing.T) {
	fns := PhaseFns{}
	for _, p := range GetPhases() {
		fns[p] = okHandler(map[string]any{"phase": string(p)})
	}

	e := New("dep-1", "orch", fns, nil, nil)
	summary, err := e.Execute(context.Background(), ExecuteOptions{})
	require.NoError(t, err)
	require.Equal(t, 6, summary.Stats.Completed)
	require.Equal(t, 0, summary.Stats.Failed)
	require.Equal(t, 1.0, summary.Stats.SuccessRate)
}

func TestExecute_CriticalFailureAbortsRemainder(t *testing.T) {
	fns := PhaseFns{
		PhaseInitialization: okHandler(nil),
		PhaseValidation:     failHandler(errors.New("manifest invalid")),
		PhasePreparation:    okHandler(nil),
		PhaseDeployment:     okHandler(nil),
		PhaseVerification:   okHandler(nil),
		PhaseMonitoring:     okHandler(nil),
	}

	e := New("dep-1", "orch", fns, nil, nil)
	summary, err := e.Execute(context.Background(), ExecuteOptions{})
	require.Error(t, err)

	var critical *CriticalPhaseFailure
	require.ErrorAs(t, err, &critical)
	require.Equal(t, PhaseValidation, critical.Phase)

	status, statusErr := e.GetPhaseStatus(PhaseDeployment)
	require.NoError(t, statusErr)
	require.Equal(t, StatePending, status, "phases after an aborted critical phase stay pending")
	require.GreaterOrEqual(t, summary.Stats.Failed, 1)
}

func TestExecute_NonCriticalFailureContinues(t *testing.T) {
	fns := PhaseFns{
		PhaseInitialization: okHandler(nil),
		PhaseValidation:     okHandler(nil),
		PhasePreparation:    failHandler(errors.New("cache warm failed")),
		PhaseDeployment:     okHandler(nil),
		PhaseVerification:   okHandler(nil),
		PhaseMonitoring:     okHandler(nil),
	}

	e := New("dep-1", "orch", fns, nil, nil)
	summary, err := e.Execute(context.Background(), ExecuteOptions{})
	require.NoError(t, err)

	status, statusErr := e.GetPhaseStatus(PhaseDeployment)
	require.NoError(t, statusErr)
	require.Equal(t, StateComplete, status)
	require.Equal(t, 1, summary.Stats.Failed)
	require.Equal(t, 5, summary.Stats.Completed)
}

func TestExecute_ContinueOnErrorRunsPastCriticalFailure(t *testing.T) {
	fns := PhaseFns{
		PhaseInitialization: okHandler(nil),
		PhaseValidation:     failHandler(errors.New("manifest invalid")),
		PhasePreparation:    okHandler(nil),
		PhaseDeployment:     okHandler(nil),
		PhaseVerification:   okHandler(nil),
		PhaseMonitoring:     okHandler(nil),
	}

	e := New("dep-1", "orch", fns, nil, nil)
	_, err := e.Execute(context.Background(), ExecuteOptions{ContinueOnError: true})
	require.Error(t, err)

	status, statusErr := e.GetPhaseStatus(PhaseMonitoring)
	require.NoError(t, statusErr)
	require.Equal(t, StateComplete, status)
}

func TestGetPhaseResult_ReturnsHandlerOutput(t *testing.T) {
	fns := PhaseFns{
		PhaseInitialization: okHandler(map[string]any{"id": "dep-1"}),
	}
	e := New("dep-1", "orch", fns, nil, nil)
	_, err := e.Execute(context.Background(), ExecuteOptions{})
	require.NoError(t, err, "unhandled phases are no-op successes")

	result, err := e.GetPhaseResult(PhaseInitialization)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"id": "dep-1"}, result)
}

func TestIsValidPhase_AndIsCriticalPhase(t *testing.T) {
	require.True(t, IsValidPhase(PhaseDeployment))
	require.False(t, IsValidPhase(Phase("bogus")))
	require.True(t, IsCriticalPhase(PhaseInitialization))
	require.False(t, IsCriticalPhase(PhasePreparation))
}

func TestEmitsPhaseStartedAndFinishedEvents(t *testing.T) {
	sink := &events.CollectingSink{}
	fns := PhaseFns{}
	for _, p := range GetPhases() {
		fns[p] = okHandler(nil)
	}

	e := New("dep-1", "orch", fns, sink, nil)
	_, err := e.Execute(context.Background(), ExecuteOptions{})
	require.NoError(t, err)

	require.Len(t, sink.Events, 12) // 6 phases x (started, finished)
	require.Equal(t, events.KindPhaseStarted, sink.Events[0].Kind)
}
