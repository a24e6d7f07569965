// SPDX-License-Identifier: AGPL-3.0-or-later

/*

Edgeforge - Edgeforge is a Go-based deployment orchestration core that
materializes worker artifacts and their backing resources onto a
serverless edge platform across one or more domains.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

package commands

import (
	"errors"

	"edgeforge/internal/orcherr"
)

// ExitError carries the process exit code a command's failure should
// produce: 0 success, 1 general failure, 2 misuse, 130 cancellation.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

// Misuse wraps err as a usage error (exit code 2): bad flags, missing
// required arguments, and the like.
func Misuse(err error) error {
	return &ExitError{Code: 2, Err: err}
}

// Cancelled wraps err as a cancellation (exit code 130).
func Cancelled(err error) error {
	return &ExitError{Code: 130, Err: err}
}

// ExitCodeFor maps err to the process exit code it should produce. A nil
// err maps to 0. An *ExitError reports its own code. A DeploymentCancelled
// orcherr maps to 130. Everything else is a critical failure (1).
func ExitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	if kind, ok := orcherr.KindOf(err); ok && kind == orcherr.KindDeploymentCancelled {
		return 130
	}
	return 1
}
