// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package logicaluc provides the use cases which move a database from
// physical (streaming) replication onto a freshly provisioned target
// server, cutting it over to logical replication.
//
// The SetupUseCase orchestrates three collaborators against one shared
// model.Migration record. The MasterCoordinator prepares the current
// primary (wal_level check, replication slot, publication, owner). The
// ReplicaInspector pauses the physical replica, extracts its identity
// from its configuration file over a remote shell, and captures the
// replay position at which it was frozen. The TargetProvisioner creates
// the destination database, transfers roles and data with the external
// dump/restore tools (from the frozen replica), and creates a disabled
// subscription which is pinned to the captured position before being
// enabled. Finally, the replica replay is resumed.
//
// Steps are strictly sequential. Each step opens the connections which
// it needs and closes them before returning. Any error which is not a
// recoverable conflict (see cerr.IsConflict) aborts the whole run and
// no automatic cleanup is attempted; the TeardownUseCase may be used
// to remove a partially provisioned setup before trying again.
package logicaluc

import (
	"context"
	"fmt"

	"github.com/momeni/pg-logidater/pkg/core/cerr"
	"github.com/momeni/pg-logidater/pkg/core/log"
	"github.com/momeni/pg-logidater/pkg/core/model"
	"github.com/momeni/pg-logidater/pkg/core/repo"
)

// MaintenanceDB is the database which is used for connecting to a
// server when the migrated database may not exist there.
const MaintenanceDB = "postgres"

// withConn opens a pool for the `db` database of the `srv` server,
// runs `f` with one of its connections, and closes the pool. Failing
// to open the pool is reported as a fatal connectivity error.
func withConn(
	ctx context.Context,
	d repo.Dialer,
	srv model.Server,
	db string,
	f repo.ConnHandler,
) error {
	p, err := d.ConnectionPool(ctx, srv, db)
	if err != nil {
		log.Critical(
			ctx, "unable to connect",
			log.Host(srv.Host), log.Object("database", db),
			log.Err("err", err),
		)
		return cerr.Fatal(cerr.Connectivity, fmt.Errorf(
			"connecting to %s with database %s: %w", srv.Host, db, err,
		))
	}
	defer func() {
		if err := p.Close(); err != nil {
			log.Warn(
				ctx, "closing connection pool",
				log.Host(srv.Host), log.Err("err", err),
			)
		}
	}()
	return p.Conn(ctx, f)
}

// tolerate converts a conflict error into a nil error after logging it
// as a warning. Other errors are returned unchanged.
func tolerate(ctx context.Context, err error, msg, kind, name string) error {
	if err == nil || !cerr.IsConflict(err) {
		return err
	}
	log.Warn(ctx, msg, log.Object(kind, name), log.Err("err", err))
	return nil
}
