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

	"github.com/momeni/pg-logidater/pkg/core/cerr"
	"github.com/momeni/pg-logidater/pkg/core/log"
	"github.com/momeni/pg-logidater/pkg/core/model"
	"github.com/momeni/pg-logidater/pkg/core/repo"
)

// Confirmer asks an operator the given yes/no question and returns
// their answer.
type Confirmer func(ctx context.Context, question string) (bool, error)

// TargetProvisioner builds the destination database on the target
// server and subscribes it to the master publication.
type TargetProvisioner struct {
	dialer     repo.Dialer
	subscriber repo.Subscriber
	dumper     repo.Dumper
}

// NewTargetProvisioner instantiates a TargetProvisioner which connects
// to the target using `d`, runs its queries using `s`, and transfers
// roles and data using `dp`.
func NewTargetProvisioner(
	d repo.Dialer, s repo.Subscriber, dp repo.Dumper,
) *TargetProvisioner {
	return &TargetProvisioner{dialer: d, subscriber: s, dumper: dp}
}

// EnsureClean makes sure that the migrated database does not exist on
// the target. An existing database (with its subscription) is dropped
// only if `approve` allows it, otherwise a fatal precondition error is
// returned and the target is left unchanged.
func (tp *TargetProvisioner) EnsureClean(
	ctx context.Context, m *model.Migration, approve Confirmer,
) error {
	exists, err := tp.databaseExists(ctx, m.Target, m.Database)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	log.Warn(
		ctx, "database already exists on target",
		log.Host(m.Target.Host), log.Object("database", m.Database),
	)
	ok, err := approve(ctx, fmt.Sprintf(
		"Database %q exists on %s. Drop it and provision it again?",
		m.Database, m.Target.Host,
	))
	if err != nil {
		return fmt.Errorf("asking for confirmation: %w", err)
	}
	if !ok {
		log.Critical(
			ctx, "dropping the existing target database is not allowed",
			log.Host(m.Target.Host), log.Object("database", m.Database),
		)
		return cerr.Preconditionf(
			"database %q exists on %s", m.Database, m.Target.Host,
		)
	}
	return tp.drop(ctx, m.Target, m.Database, m.SubscriptionName)
}

func (tp *TargetProvisioner) databaseExists(
	ctx context.Context, target model.Server, db string,
) (exists bool, err error) {
	err = withConn(
		ctx, tp.dialer, target, MaintenanceDB,
		func(ctx context.Context, c repo.Conn) error {
			exists, err = tp.subscriber.Conn(c).DatabaseExists(ctx, db)
			return err
		},
	)
	if err != nil {
		return false, fmt.Errorf("checking database %q: %w", db, err)
	}
	return exists, nil
}

// drop removes the `sub` subscription from the `db` database and then
// drops the database itself. The subscription is detached from its
// slot before being dropped, so the master slot survives.
func (tp *TargetProvisioner) drop(
	ctx context.Context, target model.Server, db, sub string,
) error {
	err := withConn(
		ctx, tp.dialer, target, db,
		func(ctx context.Context, c repo.Conn) error {
			log.Info(ctx, "dropping subscription", log.Object("subscription", sub))
			return tolerate(
				ctx, tp.subscriber.Conn(c).DropSubscription(ctx, sub),
				"subscription is already absent", "subscription", sub,
			)
		},
	)
	if err != nil {
		return fmt.Errorf("dropping subscription %q: %w", sub, err)
	}
	err = withConn(
		ctx, tp.dialer, target, MaintenanceDB,
		func(ctx context.Context, c repo.Conn) error {
			log.Info(ctx, "dropping database", log.Object("database", db))
			return tolerate(
				ctx, tp.subscriber.Conn(c).DropDatabase(ctx, db),
				"database is already absent", "database", db,
			)
		},
	)
	if err != nil {
		return fmt.Errorf("dropping database %q: %w", db, err)
	}
	return nil
}

// SyncRoles copies all roles from the frozen replica into the target
// server and creates the migrated database there, owned by the same
// role which owns it on the master. Roles are restored first, so the
// owner role exists when the database is created.
func (tp *TargetProvisioner) SyncRoles(
	ctx context.Context, m *model.Migration,
) error {
	owner, err := m.Owner()
	if err != nil {
		return err
	}
	if err := tp.dumper.CheckTools(ctx); err != nil {
		return err
	}
	log.Info(ctx, "dumping roles", log.Host(m.Replica.Host))
	script, err := tp.dumper.DumpRoles(ctx, m.Replica, m.SQLUser)
	if err != nil {
		return fmt.Errorf("dumping roles: %w", err)
	}
	log.Info(ctx, "restoring roles", log.Host(m.Target.Host))
	err = tp.dumper.Restore(ctx, m.Target, MaintenanceDB, script, "roles")
	if err != nil {
		return fmt.Errorf("restoring roles: %w", err)
	}
	return withConn(
		ctx, tp.dialer, m.Target, MaintenanceDB,
		func(ctx context.Context, c repo.Conn) error {
			log.Info(
				ctx, "creating database",
				log.Object("database", m.Database),
				log.Object("owner", owner),
			)
			err := tp.subscriber.Conn(c).CreateDatabase(ctx, m.Database, owner)
			if err != nil {
				return fmt.Errorf("creating database %q: %w", m.Database, err)
			}
			return nil
		},
	)
}

// SyncData copies the schema and data of the migrated database from
// the frozen replica into the (empty) target database.
func (tp *TargetProvisioner) SyncData(
	ctx context.Context, m *model.Migration,
) error {
	log.Info(
		ctx, "dumping database",
		log.Host(m.Replica.Host), log.Object("database", m.Database),
	)
	script, err := tp.dumper.DumpDatabase(
		ctx, m.Replica, m.SQLUser, m.Database,
	)
	if err != nil {
		return fmt.Errorf("dumping database: %w", err)
	}
	log.Info(
		ctx, "restoring database",
		log.Host(m.Target.Host), log.Object("database", m.Database),
	)
	if err := tp.dumper.Restore(
		ctx, m.Target, m.Database, script, m.Database,
	); err != nil {
		return fmt.Errorf("restoring database: %w", err)
	}
	return nil
}

// Subscription returns the subscription which should be created on
// the target database of `m`.
func Subscription(m *model.Migration) model.Subscription {
	return model.Subscription{
		Name:        m.SubscriptionName,
		Publication: m.PublicationName,
		Slot:        m.SlotName,
		Source:      m.Master,
		Database:    m.Database,
		User:        m.SQLUser,
	}
}

// PinSubscription creates the subscription in a disabled state and
// advances its replication origin to the captured position, so no
// change which is already present in the restored data is applied
// twice, and no later change is missed.
func (tp *TargetProvisioner) PinSubscription(
	ctx context.Context, m *model.Migration,
) error {
	lsn, err := m.CapturedLSN()
	if err != nil {
		return err
	}
	sub := Subscription(m)
	return withConn(
		ctx, tp.dialer, m.Target, m.Database,
		func(ctx context.Context, c repo.Conn) error {
			q := tp.subscriber.Conn(c)
			log.Info(
				ctx, "creating disabled subscription",
				log.Object("subscription", sub.Name),
				log.Host(sub.Source.Host),
			)
			if err := q.CreateSubscription(ctx, sub); err != nil {
				return fmt.Errorf("creating subscription: %w", err)
			}
			enabled, err := q.SubscriptionEnabled(ctx, sub.Name)
			switch {
			case errors.Is(err, repo.ErrNotFound):
				return cerr.Fatal(cerr.Internal, fmt.Errorf(
					"subscription %q vanished after creation", sub.Name,
				))
			case err != nil:
				return fmt.Errorf("checking subscription: %w", err)
			case enabled:
				log.Critical(
					ctx, "subscription is enabled before pinning",
					log.Object("subscription", sub.Name),
				)
				return cerr.Preconditionf(
					"subscription %q is enabled before pinning", sub.Name,
				)
			}
			log.Info(
				ctx, "advancing subscription origin",
				log.Object("subscription", sub.Name),
				slog.String("lsn", lsn.String()),
			)
			if err := q.AdvanceOrigin(ctx, sub.Name, lsn); err != nil {
				return fmt.Errorf("advancing origin: %w", err)
			}
			return nil
		},
	)
}

// EnableSubscription enables the pinned subscription, so the target
// starts streaming changes from the master.
func (tp *TargetProvisioner) EnableSubscription(
	ctx context.Context, m *model.Migration,
) error {
	return withConn(
		ctx, tp.dialer, m.Target, m.Database,
		func(ctx context.Context, c repo.Conn) error {
			log.Info(
				ctx, "enabling subscription",
				log.Object("subscription", m.SubscriptionName),
			)
			return tp.subscriber.Conn(c).EnableSubscription(
				ctx, m.SubscriptionName,
			)
		},
	)
}

// Teardown drops the `sub` subscription and the `db` database from
// `target`, if the database exists.
func (tp *TargetProvisioner) Teardown(
	ctx context.Context, target model.Server, db, sub string,
) error {
	exists, err := tp.databaseExists(ctx, target, db)
	if err != nil {
		return err
	}
	if !exists {
		log.Info(
			ctx, "database is absent on target",
			log.Host(target.Host), log.Object("database", db),
		)
		return nil
	}
	return tp.drop(ctx, target, db, sub)
}

// SetSequences sets the last values of the given sequences in the `db`
// database of `target` in one transaction. Sequences which were never
// used are skipped.
func (tp *TargetProvisioner) SetSequences(
	ctx context.Context, target model.Server, db string,
	seqs []model.Sequence,
) (n int, err error) {
	err = withConn(
		ctx, tp.dialer, target, db,
		func(ctx context.Context, c repo.Conn) error {
			return c.Tx(ctx, func(ctx context.Context, tx repo.Tx) error {
				n, err = setSequences(ctx, tp.subscriber.Tx(tx), seqs)
				return err
			})
		},
	)
	return n, err
}

func setSequences(
	ctx context.Context, q repo.SubscriberTxQueryer, seqs []model.Sequence,
) (n int, err error) {
	for _, seq := range seqs {
		if seq.LastValue == nil {
			continue
		}
		if err := q.SetSequence(ctx, seq); err != nil {
			return n, fmt.Errorf(
				"setting sequence %s.%s: %w", seq.Schema, seq.Name, err,
			)
		}
		n++
	}
	return n, nil
}
