// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package publisherrp provides a reification of the repo.Publisher
// interface, managing the replication slot and the publication of the
// master server.
package publisherrp

import (
	"context"

	"github.com/momeni/pg-logidater/pkg/adapter/db/postgres"
	"github.com/momeni/pg-logidater/pkg/core/model"
	"github.com/momeni/pg-logidater/pkg/core/repo"
)

// Repo represents the master server repository.
type Repo struct {
}

// New instantiates a publisher Repo struct.
func New() *Repo {
	return &Repo{}
}

type connQueryer struct {
	*postgres.Conn
}

// Conn unwraps the given repo.Conn instance, expecting to find an
// instance of *postgres.Conn as created by this adapter layer.
// Otherwise, it will panic.
func (pub *Repo) Conn(c repo.Conn) repo.PublisherQueryer {
	cc := c.(*postgres.Conn)
	return connQueryer{Conn: cc}
}

func (cq connQueryer) WALLevel(ctx context.Context) (string, error) {
	return postgres.Setting(ctx, cq.Conn, "wal_level")
}

func (cq connQueryer) ServerVersion(ctx context.Context) (model.SemVer, error) {
	return ServerVersion(ctx, cq.Conn)
}

func (cq connQueryer) SlotActivity(
	ctx context.Context, slot string,
) (exists, active bool, err error) {
	return SlotActivity(ctx, cq.Conn, slot)
}

func (cq connQueryer) CreateLogicalSlot(ctx context.Context, slot string) error {
	return CreateLogicalSlot(ctx, cq.Conn, slot)
}

func (cq connQueryer) TerminateSlotConsumer(
	ctx context.Context, slot string,
) (bool, error) {
	return TerminateSlotConsumer(ctx, cq.Conn, slot)
}

func (cq connQueryer) DropSlot(ctx context.Context, slot string) error {
	return DropSlot(ctx, cq.Conn, slot)
}

func (cq connQueryer) PublicationExists(
	ctx context.Context, pub string,
) (bool, error) {
	return PublicationExists(ctx, cq.Conn, pub)
}

func (cq connQueryer) CreatePublication(ctx context.Context, pub string) error {
	return CreatePublication(ctx, cq.Conn, pub)
}

func (cq connQueryer) DropPublication(ctx context.Context, pub string) error {
	return DropPublication(ctx, cq.Conn, pub)
}

func (cq connQueryer) DatabaseOwner(
	ctx context.Context, db string,
) (string, error) {
	return DatabaseOwner(ctx, cq.Conn, db)
}

func (cq connQueryer) ReplayLSN(
	ctx context.Context, appName string,
) (model.LSN, error) {
	return ReplayLSN(ctx, cq.Conn, appName)
}

func (cq connQueryer) Sequences(ctx context.Context) ([]model.Sequence, error) {
	return Sequences(ctx, cq.Conn)
}
