// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package subscriberrp

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/momeni/pg-logidater/pkg/adapter/db/postgres"
	"github.com/momeni/pg-logidater/pkg/core/cerr"
	"github.com/momeni/pg-logidater/pkg/core/model"
	"github.com/momeni/pg-logidater/pkg/core/repo"
)

// currentSubscription restricts pg_subscription (which is shared by
// all databases of a cluster) to the connected database.
const currentSubscription = `subname = $1 AND subdbid = (
SELECT oid FROM pg_database WHERE datname = current_database())`

func DatabaseExists[Q postgres.Queryer](
	ctx context.Context, q Q, db string,
) (bool, error) {
	_, found, err := postgres.QueryValue[int](
		ctx, q, "SELECT 1 FROM pg_database WHERE datname = $1", db,
	)
	return found, err
}

// CreateDatabase creates the `db` database, owned by the `owner` role
// which must exist beforehand.
func CreateDatabase[Q postgres.Queryer](
	ctx context.Context, q Q, db, owner string,
) error {
	name, err := postgres.Ident(db)
	if err != nil {
		return err
	}
	o, err := postgres.Ident(owner)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, "CREATE DATABASE "+name+" OWNER "+o)
	return err
}

func DropDatabase[Q postgres.Queryer](ctx context.Context, q Q, db string) error {
	name, err := postgres.Ident(db)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, "DROP DATABASE "+name)
	return err
}

// CreateSubscription creates a disabled subscription which neither
// copies the existing data nor creates its replication slot.
func CreateSubscription[Q postgres.Queryer](
	ctx context.Context, q Q, s model.Subscription,
) error {
	name, err := postgres.Ident(s.Name)
	if err != nil {
		return err
	}
	pub, err := postgres.Ident(s.Publication)
	if err != nil {
		return err
	}
	if err := postgres.ValidateIdentifier(s.Slot); err != nil {
		return err
	}
	ci, err := postgres.ConnInfo(
		"host", s.Source.Host,
		"port", strconv.Itoa(s.Source.Port),
		"dbname", s.Database,
		"user", s.User,
	)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, fmt.Sprintf(
		`CREATE SUBSCRIPTION %s CONNECTION %s PUBLICATION %s
WITH (copy_data = false, create_slot = false, enabled = false, slot_name = %s)`,
		name, postgres.Literal(ci), pub, postgres.Literal(s.Slot),
	))
	return err
}

func alterSubscription[Q postgres.Queryer](
	ctx context.Context, q Q, name, action string,
) error {
	n, err := postgres.Ident(name)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, "ALTER SUBSCRIPTION "+n+" "+action)
	return err
}

func DisableSubscription[Q postgres.Queryer](
	ctx context.Context, q Q, name string,
) error {
	return alterSubscription(ctx, q, name, "DISABLE")
}

// DetachSlot dissociates the `name` subscription from its replication
// slot, so dropping the subscription will not drop the slot.
// The subscription must be disabled beforehand.
func DetachSlot[Q postgres.Queryer](ctx context.Context, q Q, name string) error {
	return alterSubscription(ctx, q, name, "SET (slot_name = NONE)")
}

func EnableSubscription[Q postgres.Queryer](
	ctx context.Context, q Q, name string,
) error {
	return alterSubscription(ctx, q, name, "ENABLE")
}

func DropSubscription[Q postgres.Queryer](
	ctx context.Context, q Q, name string,
) error {
	n, err := postgres.Ident(name)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, "DROP SUBSCRIPTION "+n)
	return err
}

func SubscriptionEnabled[Q postgres.Queryer](
	ctx context.Context, q Q, name string,
) (bool, error) {
	enabled, found, err := postgres.QueryValue[bool](
		ctx, q,
		"SELECT subenabled FROM pg_subscription WHERE "+currentSubscription,
		name,
	)
	switch {
	case err != nil:
		return false, err
	case !found:
		return false, fmt.Errorf("subscription %q: %w", name, repo.ErrNotFound)
	}
	return enabled, nil
}

// AdvanceOrigin moves the replication origin of the `name` subscription
// (which is named after its oid) to the `lsn` position. Changes before
// that position will not be applied when the subscription is enabled.
func AdvanceOrigin[Q postgres.Queryer](
	ctx context.Context, q Q, name string, lsn model.LSN,
) error {
	n, err := q.Exec(
		ctx,
		`SELECT pg_replication_origin_advance('pg_' || oid, $2::pg_lsn)
FROM pg_subscription WHERE `+currentSubscription,
		name, lsn.String(),
	)
	switch {
	case err != nil:
		return err
	case n == 0:
		return cerr.Fatal(cerr.Internal, fmt.Errorf(
			"subscription %q: %w", name, repo.ErrNotFound,
		))
	}
	return nil
}

// SetSequence sets the last value of a sequence, so its next value
// will be larger than the given one.
func SetSequence[Q postgres.Queryer](
	ctx context.Context, q Q, seq model.Sequence,
) error {
	if seq.LastValue == nil {
		return errors.New("sequence last value is not known")
	}
	_, err := q.Exec(
		ctx, "SELECT setval($1::regclass, $2)",
		postgres.QualifiedIdent(seq.Schema, seq.Name), *seq.LastValue,
	)
	return err
}
