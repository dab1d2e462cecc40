// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package logicaluc

import (
	"errors"

	"github.com/momeni/pg-logidater/pkg/core/repo"
)

// Option is a functional option for the SetupUseCase.
type Option func(uc *SetupUseCase) error

// WithJournal option configures a SetupUseCase instance in order to
// record a snapshot of the migration after each state transition.
// Failing to record a snapshot is logged, but does not stop the run.
func WithJournal(j repo.Journal) Option {
	return func(uc *SetupUseCase) error {
		if j == nil {
			return errors.New("journal is nil")
		}
		if uc.journal != nil {
			return errors.New("journal is already configured")
		}
		uc.journal = j
		return nil
	}
}

// WithForceClean option allows an existing target database to be
// dropped and provisioned again without asking anyone.
func WithForceClean() Option {
	return func(uc *SetupUseCase) error {
		uc.force = true
		return nil
	}
}

// WithConfirmer option configures the function which is asked before
// dropping an existing target database (unless WithForceClean is also
// passed). Without a confirmer, an existing target database aborts the
// run before anything is dropped.
func WithConfirmer(c Confirmer) Option {
	return func(uc *SetupUseCase) error {
		if c == nil {
			return errors.New("confirmer is nil")
		}
		if uc.confirm != nil {
			return errors.New("confirmer is already configured")
		}
		uc.confirm = c
		return nil
	}
}

// WithRunID option fixes the run identifier which is attached to all
// log records and journal entries. By default, a random UUID is used.
func WithRunID(id string) Option {
	return func(uc *SetupUseCase) error {
		if id == "" {
			return errors.New("run id is empty")
		}
		uc.runID = id
		return nil
	}
}
