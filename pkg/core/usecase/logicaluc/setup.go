// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package logicaluc

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/momeni/pg-logidater/pkg/core/cerr"
	"github.com/momeni/pg-logidater/pkg/core/log"
	"github.com/momeni/pg-logidater/pkg/core/model"
	"github.com/momeni/pg-logidater/pkg/core/repo"
)

// SetupUseCase represents the logical replication setup use case.
// It holds the master, replica, and target collaborators and runs
// their steps in order against one model.Migration instance.
type SetupUseCase struct {
	master  *MasterCoordinator
	replica *ReplicaInspector
	target  *TargetProvisioner

	journal repo.Journal
	force   bool
	confirm Confirmer
	runID   string
}

// step is one stage of the setup. After it returns successfully, the
// migration is advanced to the `done` state.
type step struct {
	name string
	run  func(ctx context.Context, m *model.Migration) error
	done model.State
}

// NewSetup instantiates a SetupUseCase.
// Required collaborators are passed individually, while optional
// settings are passed as functional options.
func NewSetup(
	mc *MasterCoordinator,
	ri *ReplicaInspector,
	tp *TargetProvisioner,
	opts ...Option,
) (*SetupUseCase, error) {
	uc := &SetupUseCase{master: mc, replica: ri, target: tp}
	for _, opt := range opts {
		if err := opt(uc); err != nil {
			return nil, fmt.Errorf("invalid option: %w", err)
		}
	}
	if uc.runID == "" {
		uc.runID = uuid.NewString()
	}
	return uc, nil
}

// RunID returns the identifier of this use case run.
func (uc *SetupUseCase) RunID() string {
	return uc.runID
}

func (uc *SetupUseCase) steps() []step {
	return []step{
		{"check master", uc.master.CheckPreconditions, model.MasterChecked},
		{"prepare master", uc.master.Prepare, model.SlotAndPubReady},
		{"clean target", uc.cleanTarget, model.TargetClean},
		{"pause replica", uc.replica.Pause, model.ReplicaPaused},
		{"extract identity", uc.replica.ExtractIdentity, model.IdentityExtracted},
		{"capture position", uc.master.CapturePosition, model.PositionCaptured},
		{"sync roles", uc.target.SyncRoles, model.RolesSynced},
		{"sync data", uc.target.SyncData, model.DataSynced},
		{"pin subscription", uc.target.PinSubscription, model.SubscriptionPinned},
		{"enable subscription", uc.target.EnableSubscription, model.SubscriptionEnabled},
		{"resume replica", uc.replica.Resume, model.ReplicaResumed},
	}
}

func (uc *SetupUseCase) cleanTarget(
	ctx context.Context, m *model.Migration,
) error {
	return uc.target.EnsureClean(ctx, m, uc.approve)
}

// approve decides whether an existing target database may be dropped.
func (uc *SetupUseCase) approve(
	ctx context.Context, question string,
) (bool, error) {
	switch {
	case uc.force:
		log.Warn(ctx, "force clean is enabled, dropping target database")
		return true, nil
	case uc.confirm == nil:
		return false, nil
	}
	return uc.confirm(ctx, question)
}

// Run performs the whole setup for the `m` migration, starting from
// its Start state. It stops at the first error, leaving `m` in the
// Aborted state, and returns that error. No cleanup is attempted, so
// the replica may stay paused and the master may keep its slot and
// publication after a failure. The replication slot which is created
// in this run is not dropped either, since it may be reused by a new
// subscription after the target is fixed manually.
func (uc *SetupUseCase) Run(ctx context.Context, m *model.Migration) error {
	if err := m.Validate(); err != nil {
		return cerr.Fatal(cerr.Precondition, err)
	}
	if s := m.State(); s != model.Start {
		return cerr.Fatal(cerr.Internal, fmt.Errorf(
			"%w: migration is already in %s", model.ErrInvalidState, s,
		))
	}
	ctx = log.With(
		ctx,
		slog.String("run", uc.runID),
		log.Object("database", m.Database),
	)
	log.Info(
		ctx, "starting logical replication setup",
		slog.String("master", m.Master.Host),
		slog.String("replica", m.Replica.Host),
		slog.String("target", m.Target.Host),
	)
	uc.record(ctx, m)
	for _, s := range uc.steps() {
		sctx := log.With(ctx, slog.String("step", s.name))
		log.Debug(sctx, "running step")
		if err := s.run(sctx, m); err != nil {
			return uc.abort(sctx, m, s.name, err)
		}
		if err := m.Advance(s.done); err != nil {
			return uc.abort(sctx, m, s.name, cerr.Fatal(cerr.Internal, err))
		}
		log.Info(sctx, "step is completed", slog.String("state", s.done.String()))
		uc.record(sctx, m)
	}
	log.Info(ctx, "logical replication setup is completed")
	return nil
}

func (uc *SetupUseCase) abort(
	ctx context.Context, m *model.Migration, step string, err error,
) error {
	log.Critical(
		ctx, "setup is aborted",
		slog.String("failed_state", m.State().String()),
		slog.String("kind", cerr.KindOf(err).String()),
		log.Err("err", err),
	)
	if aerr := m.Advance(model.Aborted); aerr == nil {
		uc.record(ctx, m)
	}
	return fmt.Errorf("%s: %w", step, err)
}

func (uc *SetupUseCase) record(ctx context.Context, m *model.Migration) {
	if uc.journal == nil {
		return
	}
	if err := uc.journal.Record(ctx, uc.runID, m.Snapshot()); err != nil {
		log.Warn(ctx, "recording journal entry", log.Err("err", err))
	}
}
