// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package logicaluc

import (
	"context"
	"errors"
	"fmt"

	"github.com/momeni/pg-logidater/pkg/core/log"
	"github.com/momeni/pg-logidater/pkg/core/model"
)

// TeardownUseCase removes what a (possibly aborted) setup run has left
// behind: the target subscription and database, the master publication
// and slot, and a paused replica replay.
type TeardownUseCase struct {
	master  *MasterCoordinator
	replica *ReplicaInspector
	target  *TargetProvisioner
}

// NewTeardown instantiates a TeardownUseCase.
func NewTeardown(
	mc *MasterCoordinator, ri *ReplicaInspector, tp *TargetProvisioner,
) *TeardownUseCase {
	return &TeardownUseCase{master: mc, replica: ri, target: tp}
}

// Run drops the objects which are named by `m` in the reverse order
// of their creation. Missing objects are tolerated, so running it
// repeatedly is harmless. All steps are attempted even if some of them
// fail, and their errors are joined.
func (uc *TeardownUseCase) Run(ctx context.Context, m *model.Migration) error {
	if err := m.Validate(); err != nil {
		return err
	}
	ctx = log.With(ctx, log.Object("database", m.Database))
	var errs []error
	err := uc.target.Teardown(ctx, m.Target, m.Database, m.SubscriptionName)
	if err != nil {
		errs = append(errs, fmt.Errorf("target: %w", err))
	}
	err = uc.master.Teardown(
		ctx, m.Master, m.Database, m.PublicationName, m.SlotName,
	)
	if err != nil {
		errs = append(errs, fmt.Errorf("master: %w", err))
	}
	resumed, err := uc.replica.ResumeIfPaused(ctx, m.Replica)
	if err != nil {
		errs = append(errs, fmt.Errorf("replica: %w", err))
	} else if !resumed {
		log.Info(ctx, "replica replay is not paused", log.Host(m.Replica.Host))
	}
	if err := errors.Join(errs...); err != nil {
		log.Error(ctx, "teardown is incomplete", log.Err("err", err))
		return err
	}
	log.Info(ctx, "teardown is completed")
	return nil
}
