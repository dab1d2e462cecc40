// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package logicaluc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/momeni/pg-logidater/pkg/core/cerr"
	"github.com/momeni/pg-logidater/pkg/core/log"
	"github.com/momeni/pg-logidater/pkg/core/model"
	"github.com/momeni/pg-logidater/pkg/core/repo"
)

// LogicalWALLevel is the only acceptable wal_level of the master.
const LogicalWALLevel = "logical"

// SlotReleasePolls and SlotReleaseInterval bound the wait for an active
// replication slot to be released after its consumer is terminated.
const (
	SlotReleasePolls    = 5
	SlotReleaseInterval = 200 * time.Millisecond
)

// MasterCoordinator prepares the current primary server for logical
// replication of one database.
type MasterCoordinator struct {
	dialer    repo.Dialer
	publisher repo.Publisher
}

// NewMasterCoordinator instantiates a MasterCoordinator which connects
// to servers using `d` and runs its queries using `p`.
func NewMasterCoordinator(
	d repo.Dialer, p repo.Publisher,
) *MasterCoordinator {
	return &MasterCoordinator{dialer: d, publisher: p}
}

// CheckPreconditions connects to the migrated database on the master
// and ensures that its wal_level is logical. Any other level is a
// fatal precondition violation.
func (mc *MasterCoordinator) CheckPreconditions(
	ctx context.Context, m *model.Migration,
) error {
	return withConn(
		ctx, mc.dialer, m.Master, m.Database,
		func(ctx context.Context, c repo.Conn) error {
			return mc.checkWALLevel(ctx, mc.publisher.Conn(c))
		},
	)
}

func (mc *MasterCoordinator) checkWALLevel(
	ctx context.Context, q repo.PublisherQueryer,
) error {
	log.Debug(ctx, "starting master server checks")
	lvl, err := q.WALLevel(ctx)
	if err != nil {
		return fmt.Errorf("reading wal_level: %w", err)
	}
	if lvl != LogicalWALLevel {
		log.Critical(
			ctx, "wal_level config is not correct",
			slog.String("current", lvl),
			slog.String("required", LogicalWALLevel),
		)
		return cerr.Preconditionf(
			"wal_level is %q, but %q is required", lvl, LogicalWALLevel,
		)
	}
	return nil
}

// Prepare drops any stale slot and publication which carry the names
// of `m`, resolves the owner of the migrated database (recording it in
// `m`), and creates a fresh logical slot and a publication for all
// tables. All operations use one connection to the master database.
func (mc *MasterCoordinator) Prepare(
	ctx context.Context, m *model.Migration,
) error {
	return withConn(
		ctx, mc.dialer, m.Master, m.Database,
		func(ctx context.Context, c repo.Conn) error {
			q := mc.publisher.Conn(c)
			if err := mc.ReconcileSlot(ctx, q, m.SlotName); err != nil {
				return fmt.Errorf("reconciling slot: %w", err)
			}
			err := mc.ReconcilePublication(ctx, q, m.PublicationName)
			if err != nil {
				return fmt.Errorf("reconciling publication: %w", err)
			}
			if err := mc.ResolveOwner(ctx, q, m); err != nil {
				return fmt.Errorf("resolving owner: %w", err)
			}
			if err := mc.CreateSlot(ctx, q, m.SlotName); err != nil {
				return fmt.Errorf("creating slot: %w", err)
			}
			err = mc.CreatePublication(ctx, q, m.PublicationName)
			if err != nil {
				return fmt.Errorf("creating publication: %w", err)
			}
			return nil
		},
	)
}

// ReconcileSlot drops the `slot` replication slot if it exists, so it
// will be created again from a well-defined position and never reused.
// A missing slot is left alone. An active slot is released first by
// terminating its consumer (usually the subscription of a previous
// run) and waiting for it to exit. A slot which stays active is
// reported as a fatal precondition violation.
func (mc *MasterCoordinator) ReconcileSlot(
	ctx context.Context, q repo.PublisherQueryer, slot string,
) error {
	exists, active, err := q.SlotActivity(ctx, slot)
	switch {
	case err != nil:
		return fmt.Errorf("checking slot %q: %w", slot, err)
	case !exists:
		return nil
	case active:
		log.Warn(
			ctx, "replication slot is active, terminating its consumer",
			log.Object("slot", slot),
		)
		if err := mc.releaseSlot(ctx, q, slot); err != nil {
			return err
		}
	default:
		log.Warn(
			ctx, "replication slot already exists, dropping it",
			log.Object("slot", slot),
		)
	}
	err = tolerate(
		ctx, q.DropSlot(ctx, slot),
		"replication slot is already absent", "slot", slot,
	)
	if err != nil {
		return fmt.Errorf("dropping slot %q: %w", slot, err)
	}
	return nil
}

// releaseSlot terminates the consumer of the active `slot` slot and
// polls its activity until it is released, or SlotReleasePolls checks
// are exhausted.
func (mc *MasterCoordinator) releaseSlot(
	ctx context.Context, q repo.PublisherQueryer, slot string,
) error {
	if _, err := q.TerminateSlotConsumer(ctx, slot); err != nil {
		return fmt.Errorf("terminating consumer of slot %q: %w", slot, err)
	}
	for i := 0; i < SlotReleasePolls; i++ {
		_, active, err := q.SlotActivity(ctx, slot)
		if err != nil {
			return fmt.Errorf("checking slot %q: %w", slot, err)
		}
		if !active {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(SlotReleaseInterval):
		}
	}
	log.Critical(
		ctx, "replication slot stays active",
		log.Object("slot", slot),
	)
	return cerr.Preconditionf(
		"replication slot %q is still held by a live consumer", slot,
	)
}

// ReconcilePublication drops the `pub` publication if it exists, so
// its table membership is defined by this run alone.
func (mc *MasterCoordinator) ReconcilePublication(
	ctx context.Context, q repo.PublisherQueryer, pub string,
) error {
	exists, err := q.PublicationExists(ctx, pub)
	if err != nil {
		return fmt.Errorf("checking publication %q: %w", pub, err)
	}
	if !exists {
		return nil
	}
	log.Warn(
		ctx, "publication already exists, dropping it",
		log.Object("publication", pub),
	)
	err = tolerate(
		ctx, q.DropPublication(ctx, pub),
		"publication is already absent", "publication", pub,
	)
	if err != nil {
		return fmt.Errorf("dropping publication %q: %w", pub, err)
	}
	return nil
}

// ResolveOwner looks up the owner of the migrated database and records
// it in `m`. A missing database is a fatal precondition violation.
func (mc *MasterCoordinator) ResolveOwner(
	ctx context.Context, q repo.PublisherQueryer, m *model.Migration,
) error {
	owner, err := q.DatabaseOwner(ctx, m.Database)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		log.Critical(
			ctx, "database does not exist on master",
			log.Host(m.Master.Host), log.Object("database", m.Database),
		)
		return cerr.Preconditionf(
			"database %q does not exist on %s", m.Database, m.Master.Host,
		)
	case err != nil:
		return fmt.Errorf("querying owner of %q: %w", m.Database, err)
	}
	if err := m.SetOwner(owner); err != nil {
		return err
	}
	log.Info(
		ctx, "resolved database owner",
		log.Object("database", m.Database), log.Object("owner", owner),
	)
	return nil
}

// CreateSlot creates the `slot` logical replication slot. If another
// actor has created it concurrently, a warning is logged and the slot
// is accepted as is.
func (mc *MasterCoordinator) CreateSlot(
	ctx context.Context, q repo.PublisherQueryer, slot string,
) error {
	log.Info(ctx, "creating logical replication slot", log.Object("slot", slot))
	return tolerate(
		ctx, q.CreateLogicalSlot(ctx, slot),
		"replication slot already exists", "slot", slot,
	)
}

// CreatePublication creates the `pub` publication for all tables. An
// already existing publication is logged and accepted.
func (mc *MasterCoordinator) CreatePublication(
	ctx context.Context, q repo.PublisherQueryer, pub string,
) error {
	log.Info(ctx, "creating publication", log.Object("publication", pub))
	return tolerate(
		ctx, q.CreatePublication(ctx, pub),
		"publication already exists", "publication", pub,
	)
}

// CapturePosition reads the replay position of the paused replica as
// reported by the master for its application name, and records it in
// `m`. That position is where the replica (and so the dumped data) was
// frozen. A replica which is not streaming from the master is reported
// as a fatal precondition violation.
func (mc *MasterCoordinator) CapturePosition(
	ctx context.Context, m *model.Migration,
) error {
	id, err := m.Identity()
	if err != nil {
		return err
	}
	return withConn(
		ctx, mc.dialer, m.Master, m.Database,
		func(ctx context.Context, c repo.Conn) error {
			lsn, err := mc.publisher.Conn(c).ReplayLSN(
				ctx, id.ApplicationName,
			)
			switch {
			case errors.Is(err, repo.ErrNotFound):
				log.Critical(
					ctx, "replica is not streaming from master",
					log.Host(m.Master.Host),
					log.Object("application_name", id.ApplicationName),
				)
				return cerr.Preconditionf(
					"no standby with application_name %q on %s",
					id.ApplicationName, m.Master.Host,
				)
			case err != nil:
				return fmt.Errorf("reading replay lsn: %w", err)
			}
			if err := m.CaptureLSN(lsn); err != nil {
				return cerr.Fatal(cerr.Precondition, err)
			}
			log.Info(
				ctx, "captured replica position",
				slog.String("lsn", lsn.String()),
			)
			return nil
		},
	)
}

// Teardown drops the publication and the replication slot of a
// previous run from the master. Missing objects are tolerated and an
// active slot is released by terminating its consumer.
func (mc *MasterCoordinator) Teardown(
	ctx context.Context, master model.Server, db, pub, slot string,
) error {
	return withConn(
		ctx, mc.dialer, master, db,
		func(ctx context.Context, c repo.Conn) error {
			q := mc.publisher.Conn(c)
			if err := mc.ReconcilePublication(ctx, q, pub); err != nil {
				return err
			}
			return mc.ReconcileSlot(ctx, q, slot)
		},
	)
}

// Sequences lists the sequences of the migrated database on `master`.
func (mc *MasterCoordinator) Sequences(
	ctx context.Context, master model.Server, db string,
) (seqs []model.Sequence, err error) {
	err = withConn(
		ctx, mc.dialer, master, db,
		func(ctx context.Context, c repo.Conn) error {
			seqs, err = mc.publisher.Conn(c).Sequences(ctx)
			return err
		},
	)
	return seqs, err
}
