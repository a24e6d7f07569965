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
	"encoding/json"
	"os"
	"path/filepath"

	"edgeforge/internal/orcherr"
)

// decodeJSON unmarshals standard (non-canonical) JSON into v. Reads use
// plain encoding/json since canonjson's only job is producing a stable
// write-side encoding for checksums; any valid JSON decodes the same way.
func decodeJSON(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// writeFileAtomic writes data to path via write-temp-then-rename so a
// crash mid-write never leaves a partially written file at path.
func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return orcherr.Wrap(orcherr.KindStorageIO, err, "creating directory for %s", path)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return orcherr.Wrap(orcherr.KindStorageIO, err, "writing %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return orcherr.Wrap(orcherr.KindStorageIO, err, "renaming %s", tmp)
	}
	return nil
}
