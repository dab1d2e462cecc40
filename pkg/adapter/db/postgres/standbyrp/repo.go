// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package standbyrp provides a reification of the repo.Standby
// interface, controlling the WAL replay of a physical replica.
package standbyrp

import (
	"context"

	"github.com/momeni/pg-logidater/pkg/adapter/db/postgres"
	"github.com/momeni/pg-logidater/pkg/adapter/db/postgres/publisherrp"
	"github.com/momeni/pg-logidater/pkg/core/model"
	"github.com/momeni/pg-logidater/pkg/core/repo"
)

// Repo represents the physical replica repository.
type Repo struct {
}

// New instantiates a standby Repo struct.
func New() *Repo {
	return &Repo{}
}

type connQueryer struct {
	*postgres.Conn
}

// Conn unwraps the given repo.Conn instance, expecting to find an
// instance of *postgres.Conn as created by this adapter layer.
// Otherwise, it will panic.
func (sb *Repo) Conn(c repo.Conn) repo.StandbyQueryer {
	cc := c.(*postgres.Conn)
	return connQueryer{Conn: cc}
}

func (cq connQueryer) ServerVersion(ctx context.Context) (model.SemVer, error) {
	return publisherrp.ServerVersion(ctx, cq.Conn)
}

func (cq connQueryer) IsReplayPaused(ctx context.Context) (bool, error) {
	return IsReplayPaused(ctx, cq.Conn)
}

func (cq connQueryer) PauseReplay(ctx context.Context) error {
	return PauseReplay(ctx, cq.Conn)
}

func (cq connQueryer) ResumeReplay(ctx context.Context) error {
	return ResumeReplay(ctx, cq.Conn)
}
