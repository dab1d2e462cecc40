// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package cerr provides the core error types. Errors are split in two
// tiers. A conflict error reports that an object already exists (when
// it was going to be created) or is already absent (when it was going
// to be dropped). Such conditions are recovered locally by the use
// cases since the desired net effect is already in place. All other
// errors are fatal and abort the migration run. Fatal errors may be
// tagged with a Kind, so the final critical log record can name the
// failure category.
package cerr

import (
	"errors"
	"fmt"
)

// Kind categorizes a fatal error.
type Kind int

// These constants enumerate the fatal error kinds. Untagged errors are
// reported as Internal by KindOf.
const (
	Internal Kind = iota
	Connectivity
	Precondition
	ExternalProcess
)

// String returns a human readable name of k.
func (k Kind) String() string {
	switch k {
	case Connectivity:
		return "connectivity"
	case Precondition:
		return "precondition"
	case ExternalProcess:
		return "external-process"
	default:
		return "internal"
	}
}

// ConflictError wraps an error which was caused by an already existing
// or already absent object. It is recoverable.
type ConflictError struct {
	Err error
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: %s", e.Err.Error())
}

// Conflict wraps err as a recoverable *ConflictError.
func Conflict(err error) *ConflictError {
	return &ConflictError{Err: err}
}

// IsConflict reports whether err or any error in its chain is a
// *ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// FatalError wraps an error which must abort the migration run.
type FatalError struct {
	Err  error
	Kind Kind
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Kind, e.Err.Error())
}

// Fatal wraps err as a *FatalError of the given kind.
func Fatal(kind Kind, err error) *FatalError {
	return &FatalError{Err: err, Kind: kind}
}

// Preconditionf formats an error message and wraps it as a fatal
// precondition violation.
func Preconditionf(format string, args ...any) *FatalError {
	return Fatal(Precondition, fmt.Errorf(format, args...))
}

// KindOf returns the Kind of the outermost *FatalError in the err
// chain, or Internal if there is none.
func KindOf(err error) Kind {
	var fe *FatalError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Internal
}
