// SPDX-License-Identifier: AGPL-3.0-or-later

/*

Edgeforge - Edgeforge is a Go-based deployment orchestration core that
materializes worker artifacts and their backing resources onto a
serverless edge platform across one or more domains.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package canonjson produces a canonical JSON encoding of arbitrary Go
// values: object keys sorted, no insignificant whitespace. Checksums
// throughout the state layer are computed over this form so they are
// stable across processes and across re-encodings of semantically
// identical data.
package canonjson

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Marshal encodes v as canonical JSON: object keys sorted lexicographically
// at every nesting level, compact (no extraneous whitespace).
func Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonjson: marshaling value: %w", err)
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("canonjson: round-tripping value: %w", err)
	}

	var buf bytes.Buffer
	if err := encode(&buf, generic); err != nil {
		return nil, fmt.Errorf("canonjson: encoding value: %w", err)
	}

	return buf.Bytes(), nil
}

// Checksum returns the hex-encoded SHA-256 digest of the canonical encoding
// of v. Two values that marshal to the same JSON object regardless of field
// order produce the same checksum.
func Checksum(v any) (string, error) {
	data, err := Marshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func encode(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			keyJSON, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(keyJSON)
			buf.WriteByte(':')
			if err := encode(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil

	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encode(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil

	default:
		leaf, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(leaf)
		return nil
	}
}
