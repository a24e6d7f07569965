// SPDX-License-Identifier: AGPL-3.0-or-later

/*

Edgeforge - Edgeforge is a Go-based deployment orchestration core that
materializes worker artifacts and their backing resources onto a
serverless edge platform across one or more domains.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDo_SucceedsOnFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Options{Attempts: 3}, func(ctx context.Context, attempt int) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Options{Attempts: 3, Delay: time.Millisecond}, func(ctx context.Context, attempt int) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestDo_ExhaustsAttemptsAndReturnsLastError(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Options{Attempts: 3}, func(ctx context.Context, attempt int) error {
		calls++
		return errors.New("boom")
	})
	require.Error(t, err)
	require.Equal(t, 3, calls)
}

func TestDo_StopsOnContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	cancel()

	err := Do(ctx, Options{Attempts: 5, Delay: time.Millisecond}, func(ctx context.Context, attempt int) error {
		calls++
		return errors.New("fail")
	})
	require.Error(t, err)
	require.Equal(t, 0, calls)
}
