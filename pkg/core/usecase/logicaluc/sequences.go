// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package logicaluc

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/momeni/pg-logidater/pkg/core/log"
	"github.com/momeni/pg-logidater/pkg/core/model"
)

// SequencesUseCase copies the sequence positions from the master into
// the target database. Logical replication does not carry them, so
// this is needed right before the target is promoted to take writes.
type SequencesUseCase struct {
	master *MasterCoordinator
	target *TargetProvisioner
}

// NewSequences instantiates a SequencesUseCase.
func NewSequences(
	mc *MasterCoordinator, tp *TargetProvisioner,
) *SequencesUseCase {
	return &SequencesUseCase{master: mc, target: tp}
}

// Run reads the sequences of the migrated database on the master and
// sets them on the target, returning the number of updated sequences.
func (uc *SequencesUseCase) Run(
	ctx context.Context, m *model.Migration,
) (int, error) {
	ctx = log.With(ctx, log.Object("database", m.Database))
	seqs, err := uc.master.Sequences(ctx, m.Master, m.Database)
	if err != nil {
		return 0, fmt.Errorf("listing sequences: %w", err)
	}
	n, err := uc.target.SetSequences(ctx, m.Target, m.Database, seqs)
	if err != nil {
		return n, fmt.Errorf("setting sequences: %w", err)
	}
	log.Info(
		ctx, "sequences are synchronized",
		slog.Int("total", len(seqs)), slog.Int("updated", n),
	)
	return n, nil
}
