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
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"edgeforge/internal/events"
	"edgeforge/internal/orcherr"
	"edgeforge/pkg/canonjson"
)

// DefaultMaxVersions is the retention cap applied per phase unless overridden.
const DefaultMaxVersions = 100

// DefaultRetentionDays is the age-based retention window applied per phase.
const DefaultRetentionDays = 30

// Version is one entry in a phase's append-only version chain.
type Version struct {
	VersionID       string    `json:"versionId"`
	ParentVersionID string    `json:"parentVersionId,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	Tag             string    `json:"tag,omitempty"`
	Checksum        string    `json:"checksum"`
	Size            int       `json:"size"`
	Message         string    `json:"message,omitempty"`
}

// CreateVersionOptions configures CreateVersion.
type CreateVersionOptions struct {
	ParentID string
	Tag      string
	Message  string
}

// ListOptions configures ListVersions and ListCheckpoints.
type ListOptions struct {
	Limit   int
	Skip    int
	Reverse bool // ListCheckpoints only: oldest-first when true; ListVersions always lists newest-first
}

// CompareResult is the outcome of CompareVersions.
type CompareResult struct {
	SizeDelta     int
	ChecksumEqual bool
	AgeDelta      time.Duration
}

type versionIndex struct {
	Versions         []Version         `json:"versions"`
	CurrentVersionID string            `json:"currentVersionId"`
	Tags             map[string]string `json:"tags"`
}

// Versioning maintains an append-only version chain per (phase), with
// integrity checksums and retention.
type Versioning struct {
	root          string
	maxVersions   int
	retentionDays int
	sink          events.Sink
	mu            sync.Mutex
}

// NewVersioning creates a Versioning store rooted at dir.
func NewVersioning(dir string, maxVersions, retentionDays int, sink events.Sink) *Versioning {
	if maxVersions <= 0 {
		maxVersions = DefaultMaxVersions
	}
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	if sink == nil {
		sink = events.NullSink{}
	}
	return &Versioning{root: dir, maxVersions: maxVersions, retentionDays: retentionDays, sink: sink}
}

func (v *Versioning) phaseDir(phase string) string {
	return filepath.Join(v.root, "versions", phase)
}

func (v *Versioning) indexPath(phase string) string {
	return filepath.Join(v.phaseDir(phase), "_index.json")
}

func (v *Versioning) contentPath(phase, versionID string) string {
	return filepath.Join(v.phaseDir(phase), versionID+".content.json")
}

func (v *Versioning) loadIndex(phase string) (*versionIndex, error) {
	data, err := os.ReadFile(v.indexPath(phase))
	if err != nil {
		if os.IsNotExist(err) {
			return &versionIndex{Tags: map[string]string{}}, nil
		}
		return nil, orcherr.Wrap(orcherr.KindStorageIO, err, "reading version index for phase %s", phase)
	}
	var idx versionIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, orcherr.Wrap(orcherr.KindSerialization, err, "decoding version index")
	}
	if idx.Tags == nil {
		idx.Tags = map[string]string{}
	}
	return &idx, nil
}

func (v *Versioning) saveIndex(phase string, idx *versionIndex) error {
	sortVersions(idx.Versions)
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return orcherr.Wrap(orcherr.KindSerialization, err, "encoding version index")
	}
	return writeFileAtomic(v.indexPath(phase), data)
}

func sortVersions(versions []Version) {
	sort.Slice(versions, func(i, j int) bool {
		if !versions[i].CreatedAt.Equal(versions[j].CreatedAt) {
			return versions[i].CreatedAt.Before(versions[j].CreatedAt)
		}
		return versions[i].VersionID < versions[j].VersionID
	})
}

// CreateVersion appends a new version of state to phase's chain, computing
// its checksum over the canonical encoding of state. The parent defaults to
// the phase's current version. Retention (maxVersions, retentionDays) is
// enforced after the append; the current version is never pruned.
func (v *Versioning) CreateVersion(ctx context.Context, phase string, state any, opts CreateVersionOptions) (*Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	idx, err := v.loadIndex(phase)
	if err != nil {
		return nil, err
	}

	content, err := canonjson.Marshal(state)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.KindSerialization, err, "encoding state for phase %s", phase)
	}
	checksum, err := canonjson.Checksum(state)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.KindSerialization, err, "checksumming state for phase %s", phase)
	}

	parentID := opts.ParentID
	if parentID == "" {
		parentID = idx.CurrentVersionID
	}

	now := time.Now()
	version := Version{
		VersionID:       NewID("ver", now),
		ParentVersionID: parentID,
		CreatedAt:       now,
		Tag:             opts.Tag,
		Checksum:        checksum,
		Size:            len(content),
		Message:         opts.Message,
	}

	if err := os.MkdirAll(v.phaseDir(phase), 0o750); err != nil {
		return nil, orcherr.Wrap(orcherr.KindStorageIO, err, "creating version directory")
	}
	if err := writeFileAtomic(v.contentPath(phase, version.VersionID), content); err != nil {
		return nil, err
	}

	if opts.Tag != "" {
		idx.Tags[opts.Tag] = version.VersionID
	}
	idx.Versions = append(idx.Versions, version)
	idx.CurrentVersionID = version.VersionID

	v.enforceRetention(idx)

	if err := v.saveIndex(phase, idx); err != nil {
		return nil, err
	}

	return &version, nil
}

// enforceRetention caps idx.Versions at maxVersions and drops entries older
// than retentionDays, never pruning the current version.
func (v *Versioning) enforceRetention(idx *versionIndex) {
	sortVersions(idx.Versions)

	cutoff := time.Now().AddDate(0, 0, -v.retentionDays)
	kept := make([]Version, 0, len(idx.Versions))
	for _, ver := range idx.Versions {
		if ver.VersionID == idx.CurrentVersionID {
			kept = append(kept, ver)
			continue
		}
		if ver.CreatedAt.Before(cutoff) {
			continue
		}
		kept = append(kept, ver)
	}

	if len(kept) > v.maxVersions {
		// Drop oldest first, but never the current version.
		overflow := len(kept) - v.maxVersions
		pruned := make([]Version, 0, v.maxVersions)
		dropped := 0
		for _, ver := range kept {
			if dropped < overflow && ver.VersionID != idx.CurrentVersionID {
				dropped++
				continue
			}
			pruned = append(pruned, ver)
		}
		kept = pruned
	}

	idx.Versions = kept
}

// GetVersion returns the version record for versionID in phase.
func (v *Versioning) GetVersion(ctx context.Context, phase, versionID string) (*Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	idx, err := v.loadIndex(phase)
	if err != nil {
		return nil, err
	}
	for i := range idx.Versions {
		if idx.Versions[i].VersionID == versionID {
			ver := idx.Versions[i]
			return &ver, nil
		}
	}
	return nil, orcherr.New(orcherr.KindStorageIO, "version %q not found for phase %s", versionID, phase)
}

// GetCurrentVersion returns the latest version for phase.
func (v *Versioning) GetCurrentVersion(ctx context.Context, phase string) (*Version, error) {
	v.mu.Lock()
	idx, err := v.loadIndex(phase)
	v.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if idx.CurrentVersionID == "" {
		return nil, orcherr.New(orcherr.KindStorageIO, "no versions exist for phase %s", phase)
	}
	return v.GetVersion(ctx, phase, idx.CurrentVersionID)
}

// GetVersionByTag returns the version currently holding tag in phase.
func (v *Versioning) GetVersionByTag(ctx context.Context, phase, tag string) (*Version, error) {
	v.mu.Lock()
	idx, err := v.loadIndex(phase)
	v.mu.Unlock()
	if err != nil {
		return nil, err
	}
	versionID, ok := idx.Tags[tag]
	if !ok {
		return nil, orcherr.New(orcherr.KindStorageIO, "tag %q not found for phase %s", tag, phase)
	}
	return v.GetVersion(ctx, phase, versionID)
}

// ListVersions lists phase's versions, newest-first by default.
func (v *Versioning) ListVersions(ctx context.Context, phase string, opts ListOptions) ([]Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v.mu.Lock()
	idx, err := v.loadIndex(phase)
	v.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := append([]Version(nil), idx.Versions...)
	sortVersions(out)

	// Versions are stored oldest-first; present newest-first by default.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
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

// CompareVersions compares two versions' size, checksum equality, and age.
func (v *Versioning) CompareVersions(a, b Version) CompareResult {
	return CompareResult{
		SizeDelta:     a.Size - b.Size,
		ChecksumEqual: a.Checksum == b.Checksum,
		AgeDelta:      a.CreatedAt.Sub(b.CreatedAt),
	}
}

// GetVersionChain walks parentVersionId from versionID, returning at most
// depth versions with versionID itself first (0 means unlimited) and
// terminating at a root.
func (v *Versioning) GetVersionChain(ctx context.Context, phase, versionID string, depth int) ([]Version, error) {
	chain := make([]Version, 0)
	current := versionID
	steps := 0
	for current != "" {
		if depth > 0 && steps >= depth {
			break
		}
		ver, err := v.GetVersion(ctx, phase, current)
		if err != nil {
			return chain, nil
		}
		chain = append(chain, *ver)
		current = ver.ParentVersionID
		steps++
	}
	return chain, nil
}

// ValidateChecksum recomputes the checksum of state and compares it to the
// recorded checksum for versionID. A mismatch emits a checksum-mismatch
// warning event.
func (v *Versioning) ValidateChecksum(ctx context.Context, phase, versionID string, state any) (bool, error) {
	ver, err := v.GetVersion(ctx, phase, versionID)
	if err != nil {
		return false, err
	}
	sum, err := canonjson.Checksum(state)
	if err != nil {
		return false, orcherr.Wrap(orcherr.KindSerialization, err, "checksumming state")
	}

	ok := sum == ver.Checksum
	if !ok {
		v.sink.Emit(events.Event{
			Kind:  events.KindChecksumMismatch,
			Phase: phase,
			Data:  map[string]any{"versionId": versionID, "expected": ver.Checksum, "actual": sum},
			At:    time.Now(),
		})
	}
	return ok, nil
}

// loadContent reads the canonical-encoded state bytes stored for versionID.
func (v *Versioning) loadContent(phase, versionID string) ([]byte, error) {
	data, err := os.ReadFile(v.contentPath(phase, versionID))
	if err != nil {
		return nil, orcherr.Wrap(orcherr.KindStorageIO, err, "reading version content")
	}
	return data, nil
}

// LoadState decodes the state stored for versionID into a generic value.
func (v *Versioning) LoadState(ctx context.Context, phase, versionID string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := v.loadContent(phase, versionID)
	if err != nil {
		return nil, err
	}
	var state any
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, orcherr.Wrap(orcherr.KindSerialization, err, "decoding version content")
	}
	return state, nil
}

// CreateSnapshot creates a new tagged version of state, promoted as a
// recovery point.
func (v *Versioning) CreateSnapshot(ctx context.Context, phase, tag string, state any, metadata map[string]any) (*Version, error) {
	message := ""
	if reason, ok := metadata["reason"].(string); ok {
		message = reason
	}
	return v.CreateVersion(ctx, phase, state, CreateVersionOptions{Tag: tag, Message: message})
}

// ClearPhaseVersions removes every version (and content file) for phase.
func (v *Versioning) ClearPhaseVersions(ctx context.Context, phase string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := os.RemoveAll(v.phaseDir(phase)); err != nil {
		return orcherr.Wrap(orcherr.KindStorageIO, err, "clearing versions for phase %s", phase)
	}
	return nil
}
