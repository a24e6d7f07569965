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
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// NewID generates a "<prefix>-<timestamp>-<random>" identifier: lexically
// sortable by creation time, with a random suffix so two IDs minted within
// the same millisecond never collide. This core mints many ID kinds
// (versions, checkpoints, recoveries, rollbacks) at a frequency where a
// timestamp alone isn't a reliable uniqueness guarantee.
func NewID(prefix string, t time.Time) string {
	return fmt.Sprintf("%s-%s-%s", prefix, t.Format("20060102150405.000"), randomSuffix())
}

func randomSuffix() string {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failing is effectively unrecoverable; fall back to a
		// time-derived suffix so ID generation still makes progress.
		return fmt.Sprintf("%x", time.Now().UnixNano()&0xffffffff)
	}
	return hex.EncodeToString(b[:])
}
