// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package publisherrp

import (
	"context"
	"fmt"

	"github.com/jackc/pglogrepl"
	"github.com/momeni/pg-logidater/pkg/adapter/db/postgres"
	"github.com/momeni/pg-logidater/pkg/core/model"
	"github.com/momeni/pg-logidater/pkg/core/repo"
)

// ServerVersion reads and parses the server_version setting, ignoring
// any distribution specific suffix.
func ServerVersion[Q postgres.Queryer](
	ctx context.Context, q Q,
) (model.SemVer, error) {
	v, err := postgres.Setting(ctx, q, "server_version")
	if err != nil {
		return model.SemVer{}, err
	}
	return model.ParseServerVersion(v)
}

// SlotActivity reports whether the `slot` replication slot exists and
// whether a walsender process is streaming from it.
func SlotActivity[Q postgres.Queryer](
	ctx context.Context, q Q, slot string,
) (exists, active bool, err error) {
	active, exists, err = postgres.QueryValue[bool](
		ctx, q,
		"SELECT active FROM pg_replication_slots WHERE slot_name = $1",
		slot,
	)
	return exists, active, err
}

// CreateLogicalSlot creates the `slot` logical replication slot using
// the pgoutput plugin, so it may be consumed by a subscription.
func CreateLogicalSlot[Q postgres.Queryer](
	ctx context.Context, q Q, slot string,
) error {
	if err := postgres.ValidateIdentifier(slot); err != nil {
		return err
	}
	_, err := q.Exec(
		ctx,
		"SELECT pg_create_logical_replication_slot($1, 'pgoutput')",
		slot,
	)
	return err
}

// TerminateSlotConsumer terminates the backend which holds the `slot`
// replication slot, reporting whether such a backend was signalled.
// The slot is released asynchronously, when that backend exits.
func TerminateSlotConsumer[Q postgres.Queryer](
	ctx context.Context, q Q, slot string,
) (bool, error) {
	ok, found, err := postgres.QueryValue[bool](
		ctx, q,
		`SELECT pg_terminate_backend(active_pid)
FROM pg_replication_slots
WHERE slot_name = $1 AND active_pid IS NOT NULL`,
		slot,
	)
	return found && ok, err
}

func DropSlot[Q postgres.Queryer](ctx context.Context, q Q, slot string) error {
	_, err := q.Exec(ctx, "SELECT pg_drop_replication_slot($1)", slot)
	return err
}

func PublicationExists[Q postgres.Queryer](
	ctx context.Context, q Q, pub string,
) (bool, error) {
	_, found, err := postgres.QueryValue[int](
		ctx, q, "SELECT 1 FROM pg_publication WHERE pubname = $1", pub,
	)
	return found, err
}

// CreatePublication creates the `pub` publication for all tables of
// the connected database, including tables which are created later.
func CreatePublication[Q postgres.Queryer](
	ctx context.Context, q Q, pub string,
) error {
	name, err := postgres.Ident(pub)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, "CREATE PUBLICATION "+name+" FOR ALL TABLES")
	return err
}

func DropPublication[Q postgres.Queryer](
	ctx context.Context, q Q, pub string,
) error {
	name, err := postgres.Ident(pub)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, "DROP PUBLICATION "+name)
	return err
}

func DatabaseOwner[Q postgres.Queryer](
	ctx context.Context, q Q, db string,
) (string, error) {
	owner, found, err := postgres.QueryValue[string](
		ctx, q,
		"SELECT pg_get_userbyid(datdba) FROM pg_database WHERE datname = $1",
		db,
	)
	switch {
	case err != nil:
		return "", err
	case !found:
		return "", fmt.Errorf("database %q: %w", db, repo.ErrNotFound)
	}
	return owner, nil
}

// ReplayLSN returns the replay_lsn of the standby which streams from
// the connected server with the `appName` application name.
func ReplayLSN[Q postgres.Queryer](
	ctx context.Context, q Q, appName string,
) (model.LSN, error) {
	lsn, found, err := postgres.QueryValue[*string](
		ctx, q,
		`SELECT replay_lsn::text FROM pg_stat_replication
WHERE application_name = $1 ORDER BY replay_lsn DESC NULLS LAST LIMIT 1`,
		appName,
	)
	switch {
	case err != nil:
		return 0, err
	case !found || lsn == nil:
		return 0, fmt.Errorf("standby %q: %w", appName, repo.ErrNotFound)
	}
	pos, err := pglogrepl.ParseLSN(*lsn)
	if err != nil {
		return 0, fmt.Errorf("parsing replay_lsn %q: %w", *lsn, err)
	}
	return model.LSN(pos), nil
}

// Sequences lists all sequences of the connected database. The last
// value of a sequence which was never used is nil.
func Sequences[Q postgres.Queryer](
	ctx context.Context, q Q,
) ([]model.Sequence, error) {
	rows, err := q.Query(
		ctx,
		`SELECT schemaname, sequencename, last_value FROM pg_sequences
ORDER BY schemaname, sequencename`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var seqs []model.Sequence
	for rows.Next() {
		var s model.Sequence
		if err := rows.Scan(&s.Schema, &s.Name, &s.LastValue); err != nil {
			return nil, fmt.Errorf("scanning sequence: %w", err)
		}
		seqs = append(seqs, s)
	}
	return seqs, rows.Err()
}
