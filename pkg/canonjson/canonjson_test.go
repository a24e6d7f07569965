// SPDX-License-Identifier: AGPL-3.0-or-later

/*

Edgeforge - Edgeforge is a Go-based deployment orchestration core that
materializes worker artifacts and their backing resources onto a
serverless edge platform across one or more domains.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

package canonjson

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarshal_SortsKeysRegardlessOfInputOrder(t *testing.T) {
	a := map[string]any{"b": 1, "a": 2, "c": 3}
	b := map[string]any{"c": 3, "a": 2, "b": 1}

	encA, err := Marshal(a)
	require.NoError(t, err)
	encB, err := Marshal(b)
	require.NoError(t, err)

	require.Equal(t, encA, encB)
	require.Equal(t, `{"a":2,"b":1,"c":3}`, string(encA))
}

func TestMarshal_NestedObjectsSortedAtEveryLevel(t *testing.T) {
	v := map[string]any{
		"outer": map[string]any{"z": 1, "y": 2},
	}
	enc, err := Marshal(v)
	require.NoError(t, err)
	require.Equal(t, `{"outer":{"y":2,"z":1}}`, string(enc))
}

func TestChecksum_StableAcrossFieldOrder(t *testing.T) {
	a := map[string]any{"name": "worker", "env": "production"}
	b := map[string]any{"env": "production", "name": "worker"}

	sumA, err := Checksum(a)
	require.NoError(t, err)
	sumB, err := Checksum(b)
	require.NoError(t, err)

	require.Equal(t, sumA, sumB)
	require.Len(t, sumA, 64)
}

func TestChecksum_DifferentValuesDifferentSums(t *testing.T) {
	sumA, err := Checksum(map[string]any{"v": 1})
	require.NoError(t, err)
	sumB, err := Checksum(map[string]any{"v": 2})
	require.NoError(t, err)

	require.NotEqual(t, sumA, sumB)
}
