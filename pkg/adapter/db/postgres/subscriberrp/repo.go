// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package subscriberrp provides a reification of the repo.Subscriber
// interface, provisioning the target database and its subscription.
package subscriberrp

import (
	"context"

	"github.com/momeni/pg-logidater/pkg/adapter/db/postgres"
	"github.com/momeni/pg-logidater/pkg/core/model"
	"github.com/momeni/pg-logidater/pkg/core/repo"
)

// Repo represents the target server repository.
type Repo struct {
}

// New instantiates a subscriber Repo struct.
func New() *Repo {
	return &Repo{}
}

type connQueryer struct {
	*postgres.Conn
}

// Conn unwraps the given repo.Conn instance, expecting to find an
// instance of *postgres.Conn as created by this adapter layer.
// Otherwise, it will panic.
func (sub *Repo) Conn(c repo.Conn) repo.SubscriberQueryer {
	cc := c.(*postgres.Conn)
	return connQueryer{Conn: cc}
}

func (cq connQueryer) DatabaseExists(ctx context.Context, db string) (bool, error) {
	return DatabaseExists(ctx, cq.Conn, db)
}

func (cq connQueryer) CreateDatabase(ctx context.Context, db, owner string) error {
	return CreateDatabase(ctx, cq.Conn, db, owner)
}

func (cq connQueryer) DropDatabase(ctx context.Context, db string) error {
	return DropDatabase(ctx, cq.Conn, db)
}

func (cq connQueryer) CreateSubscription(
	ctx context.Context, s model.Subscription,
) error {
	return CreateSubscription(ctx, cq.Conn, s)
}

// DropSubscription detaches the `name` subscription from its slot
// before dropping it, so the slot on the master is kept. That slot
// may belong to a newer run which reuses the same name.
func (cq connQueryer) DropSubscription(ctx context.Context, name string) error {
	if err := DisableSubscription(ctx, cq.Conn, name); err != nil {
		return err
	}
	if err := DetachSlot(ctx, cq.Conn, name); err != nil {
		return err
	}
	return DropSubscription(ctx, cq.Conn, name)
}

func (cq connQueryer) SubscriptionEnabled(
	ctx context.Context, name string,
) (bool, error) {
	return SubscriptionEnabled(ctx, cq.Conn, name)
}

func (cq connQueryer) AdvanceOrigin(
	ctx context.Context, name string, lsn model.LSN,
) error {
	return AdvanceOrigin(ctx, cq.Conn, name, lsn)
}

func (cq connQueryer) EnableSubscription(ctx context.Context, name string) error {
	return EnableSubscription(ctx, cq.Conn, name)
}

type txQueryer struct {
	*postgres.Tx
}

// Tx unwraps the given repo.Tx instance, expecting to find an
// instance of *postgres.Tx as created by this adapter layer.
// Otherwise, it will panic.
func (sub *Repo) Tx(tx repo.Tx) repo.SubscriberTxQueryer {
	tt := tx.(*postgres.Tx)
	return txQueryer{Tx: tt}
}

func (tq txQueryer) SetSequence(ctx context.Context, seq model.Sequence) error {
	return SetSequence(ctx, tq.Tx, seq)
}
