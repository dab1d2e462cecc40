// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package repo

import (
	"context"

	"github.com/momeni/pg-logidater/pkg/core/model"
)

// Subscriber interface presents expectations from a repository which
// provisions the target server, its database, and the subscription.
type Subscriber interface {
	// Conn takes a Conn interface instance, unwraps it as required,
	// and returns a SubscriberQueryer interface which can run the
	// auto-committed provisioning queries.
	Conn(Conn) SubscriberQueryer

	// Tx takes a Tx interface instance, unwraps it as required,
	// and returns a SubscriberTxQueryer interface which can run the
	// queries which are allowed in a transaction.
	Tx(Tx) SubscriberTxQueryer
}

// SubscriberQueryer lists the operations which may be run on the
// target server. Database level operations must be run with a
// connection to a maintenance database (such as postgres), while
// subscription operations must be run with a connection to the
// subscribing database itself.
// None of these operations may run in an open transaction, so they
// are only offered on a connection.
type SubscriberQueryer interface {
	// DatabaseExists reports whether the `db` database exists.
	DatabaseExists(ctx context.Context, db string) (bool, error)

	// CreateDatabase creates the `db` database, owned by `owner`.
	CreateDatabase(ctx context.Context, db, owner string) error

	// DropDatabase drops the `db` database. It returns a conflict
	// error if `db` does not exist.
	DropDatabase(ctx context.Context, db string) error

	// CreateSubscription creates the given subscription in a disabled
	// state, without copying data or creating a slot.
	CreateSubscription(ctx context.Context, s model.Subscription) error

	// DropSubscription drops the `name` subscription. It returns a
	// conflict error if the subscription does not exist.
	DropSubscription(ctx context.Context, name string) error

	// SubscriptionEnabled reports whether the `name` subscription is
	// enabled. ErrNotFound is returned if it does not exist.
	SubscriptionEnabled(ctx context.Context, name string) (bool, error)

	// AdvanceOrigin moves the replication origin of the `name`
	// subscription to `lsn`, so streaming resumes from that position.
	AdvanceOrigin(ctx context.Context, name string, lsn model.LSN) error

	// EnableSubscription enables the `name` subscription.
	EnableSubscription(ctx context.Context, name string) error
}

// SubscriberTxQueryer lists the target database operations which may
// be grouped in one transaction.
type SubscriberTxQueryer interface {
	// SetSequence sets the last value of the given sequence.
	SetSequence(ctx context.Context, seq model.Sequence) error
}
