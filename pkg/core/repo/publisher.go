// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package repo

import (
	"context"

	"github.com/momeni/pg-logidater/pkg/core/model"
)

// Publisher interface presents expectations from a repository which
// manages the publishing side of logical replication on the current
// primary server, namely its replication slots and publications.
type Publisher interface {
	// Conn takes a Conn interface instance, unwraps it as required,
	// and returns a PublisherQueryer interface which (with access to
	// the implementation-dependent connection object) can run the
	// publisher queries. All of them are auto-committed.
	Conn(Conn) PublisherQueryer
}

// PublisherQueryer lists the operations which may be run on the
// primary server. Create and drop methods return an error which
// satisfies cerr.IsConflict if the object already exists or is already
// absent respectively.
type PublisherQueryer interface {
	// WALLevel returns the wal_level setting value.
	WALLevel(ctx context.Context) (string, error)

	// ServerVersion returns the parsed server_version setting.
	ServerVersion(ctx context.Context) (model.SemVer, error)

	// SlotActivity reports whether the `slot` replication slot exists
	// and if it does, whether it is held by a live consumer.
	SlotActivity(
		ctx context.Context, slot string,
	) (exists, active bool, err error)

	// CreateLogicalSlot creates the `slot` logical replication slot
	// using the pgoutput plugin.
	CreateLogicalSlot(ctx context.Context, slot string) error

	// TerminateSlotConsumer terminates the backend which streams from
	// the `slot` replication slot, reporting whether one was found.
	// The slot becomes inactive asynchronously, after that backend
	// exits.
	TerminateSlotConsumer(ctx context.Context, slot string) (bool, error)

	// DropSlot drops the `slot` replication slot.
	DropSlot(ctx context.Context, slot string) error

	// PublicationExists reports whether the `pub` publication exists
	// in the connected database.
	PublicationExists(ctx context.Context, pub string) (bool, error)

	// CreatePublication creates the `pub` publication for all tables.
	CreatePublication(ctx context.Context, pub string) error

	// DropPublication drops the `pub` publication.
	DropPublication(ctx context.Context, pub string) error

	// DatabaseOwner returns the owning role of the `db` database.
	// If `db` does not exist, ErrNotFound is returned.
	DatabaseOwner(ctx context.Context, db string) (string, error)

	// ReplayLSN returns the replay position of the standby which is
	// connected with the `appName` application name, as reported by
	// pg_stat_replication. If no such standby is streaming, ErrNotFound
	// is returned.
	ReplayLSN(ctx context.Context, appName string) (model.LSN, error)

	// Sequences lists all sequences of the connected database.
	Sequences(ctx context.Context) ([]model.Sequence, error)
}
