// SPDX-License-Identifier: AGPL-3.0-or-later

/*

Edgeforge - Edgeforge is a Go-based deployment orchestration core that
materializes worker artifacts and their backing resources onto a
serverless edge platform across one or more domains.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package events replaces the implicit publish/subscribe pattern an
// inheritance-based phase engine would reach for with one typed channel:
// tasks send Event values, the orchestrator (or a test) owns the receiving
// end. See spec Design Notes, "Event emitters -> channels / typed sinks."
package events

import "time"

// Kind identifies the category of an emitted event.
type Kind string

const (
	KindStateSaved            Kind = "state-saved"
	KindChecksumMismatch      Kind = "checksum-mismatch"
	KindPhaseCheckpointCreated Kind = "phase-checkpoint-created"
	KindRecoveryStarted       Kind = "recovery-started"
	KindRecoveryCompleted     Kind = "recovery-completed"
	KindInitializationComplete Kind = "initialization-complete"
	KindDryRunWrite           Kind = "dry-run-write"
	KindPhaseStarted          Kind = "phase-started"
	KindPhaseFinished         Kind = "phase-finished"
	KindCLIInvocation         Kind = "cli-invocation"
	KindCLIOutput             Kind = "cli-output"
)

// Event is a single structured occurrence worth reporting to an observer.
type Event struct {
	Kind   Kind
	Domain string
	Phase  string
	Data   map[string]any
	At     time.Time
}

// Sink receives events. Implementations must not block the caller for long;
// a slow consumer should buffer or drop, not stall the orchestrator.
type Sink interface {
	Emit(Event)
}

// NullSink discards every event. Useful as a default collaborator in tests
// and single-shot CLI invocations that don't care about the event stream.
type NullSink struct{}

func (NullSink) Emit(Event) {}

// ChanSink is a Sink backed by a buffered channel. Emit drops the event
// rather than blocking if the channel is full, since an orchestrator must
// never stall a deployment because nobody is draining its event stream.
type ChanSink struct {
	ch chan Event
}

// NewChanSink creates a ChanSink with the given buffer size and returns both
// the sink (for producers) and the receive-only channel (for consumers).
func NewChanSink(buffer int) (*ChanSink, <-chan Event) {
	ch := make(chan Event, buffer)
	return &ChanSink{ch: ch}, ch
}

// Emit sends e on the channel, or drops it if the buffer is full.
func (s *ChanSink) Emit(e Event) {
	select {
	case s.ch <- e:
	default:
	}
}

// Close closes the underlying channel. Callers must ensure no further Emit
// calls occur after Close.
func (s *ChanSink) Close() {
	close(s.ch)
}

// CollectingSink accumulates every emitted event in order, for tests that
// want to assert on the full event sequence.
type CollectingSink struct {
	Events []Event
}

func (s *CollectingSink) Emit(e Event) {
	s.Events = append(s.Events, e)
}
