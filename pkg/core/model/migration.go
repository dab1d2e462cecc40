// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package model

import (
	"errors"
	"fmt"
)

// These errors are returned (wrapped with the field name) when a field
// of Migration is read before its producing step has run, or when a
// producing step tries to set an already produced field.
var (
	ErrNotProduced      = errors.New("field is not produced yet")
	ErrAlreadyProduced  = errors.New("field is already produced")
	ErrInvalidLSN       = errors.New("zero LSN is not a valid position")
	ErrInvalidState     = errors.New("invalid state transition")
	ErrInvalidMigration = errors.New("invalid migration")
)

// Migration is the mutable record which is threaded through all steps
// of one migration run. The static fields are filled at construction
// time. Other fields are produced by specific steps and may only be
// read after being produced:
//
//   - owner is produced by the master coordinator (ResolveOwner),
//   - pgMajor by the replica inspector (after pausing replay),
//   - identity by the replica inspector (ExtractIdentity),
//   - lsn by the master coordinator (CapturePosition), exactly once.
//
// A Migration must not be used concurrently.
type Migration struct {
	Master  Server // current primary server
	Replica Server // current physical replica
	Target  Server // new server which will become a logical subscriber

	SQLUser  string // role which is used for all SQL connections
	Database string // name of the migrated database

	SlotName         string // logical replication slot on the master
	PublicationName  string // publication on the master database
	SubscriptionName string // subscription on the target database

	owner    *string
	pgMajor  *uint
	identity *ReplicaIdentity
	lsn      *LSN
	state    State
}

// NewMigration creates a Migration in the Start state. The name is
// reused as the slot, publication, and subscription identifier.
func NewMigration(
	master, replica, target Server, sqlUser, database, name string,
) (*Migration, error) {
	m := &Migration{
		Master:           master,
		Replica:          replica,
		Target:           target,
		SQLUser:          sqlUser,
		Database:         database,
		SlotName:         name,
		PublicationName:  name,
		SubscriptionName: name,
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate checks that all static fields are present.
func (m *Migration) Validate() error {
	switch {
	case m.Master.Host == "":
		return fmt.Errorf("%w: master host is empty", ErrInvalidMigration)
	case m.Replica.Host == "":
		return fmt.Errorf("%w: replica host is empty", ErrInvalidMigration)
	case m.Target.Host == "":
		return fmt.Errorf("%w: target host is empty", ErrInvalidMigration)
	case m.SQLUser == "":
		return fmt.Errorf("%w: sql user is empty", ErrInvalidMigration)
	case m.Database == "":
		return fmt.Errorf("%w: database is empty", ErrInvalidMigration)
	case m.SlotName == "" || m.PublicationName == "" ||
		m.SubscriptionName == "":
		return fmt.Errorf("%w: replication name is empty", ErrInvalidMigration)
	}
	return nil
}

// Owner returns the owning role of the source database.
func (m *Migration) Owner() (string, error) {
	if m.owner == nil {
		return "", fmt.Errorf("owner: %w", ErrNotProduced)
	}
	return *m.owner, nil
}

// SetOwner records the owning role of the source database.
func (m *Migration) SetOwner(owner string) error {
	if m.owner != nil {
		return fmt.Errorf("owner: %w", ErrAlreadyProduced)
	}
	m.owner = &owner
	return nil
}

// PostgresMajorVersion returns the replica server major version.
func (m *Migration) PostgresMajorVersion() (uint, error) {
	if m.pgMajor == nil {
		return 0, fmt.Errorf("postgres major version: %w", ErrNotProduced)
	}
	return *m.pgMajor, nil
}

// SetPostgresMajorVersion records the replica server major version.
func (m *Migration) SetPostgresMajorVersion(major uint) error {
	if m.pgMajor != nil {
		return fmt.Errorf("postgres major version: %w", ErrAlreadyProduced)
	}
	m.pgMajor = &major
	return nil
}

// Identity returns the replica identity.
func (m *Migration) Identity() (ReplicaIdentity, error) {
	if m.identity == nil {
		return ReplicaIdentity{}, fmt.Errorf("identity: %w", ErrNotProduced)
	}
	return *m.identity, nil
}

// SetIdentity records the replica identity.
func (m *Migration) SetIdentity(id ReplicaIdentity) error {
	if m.identity != nil {
		return fmt.Errorf("identity: %w", ErrAlreadyProduced)
	}
	m.identity = &id
	return nil
}

// CapturedLSN returns the replay position at which the replica was
// frozen. It must be read only after CaptureLSN.
func (m *Migration) CapturedLSN() (LSN, error) {
	if m.lsn == nil {
		return 0, fmt.Errorf("captured lsn: %w", ErrNotProduced)
	}
	return *m.lsn, nil
}

// CaptureLSN records the handoff position. It may be called only once
// per migration and the position may not be zero.
func (m *Migration) CaptureLSN(lsn LSN) error {
	if m.lsn != nil {
		return fmt.Errorf("captured lsn: %w", ErrAlreadyProduced)
	}
	if lsn == 0 {
		return ErrInvalidLSN
	}
	m.lsn = &lsn
	return nil
}

// State returns the current state of the migration.
func (m *Migration) State() State {
	return m.state
}

// Advance moves the migration to the `to` state. Only the next state
// of the linear sequence or the Aborted state are accepted, and no
// transition may leave a terminal state.
func (m *Migration) Advance(to State) error {
	switch {
	case m.state.Terminal():
		return fmt.Errorf(
			"%w: %s is terminal", ErrInvalidState, m.state,
		)
	case to == Aborted, to == m.state+1:
		m.state = to
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidState, m.state, to)
}

// Snapshot is a read-only copy of a Migration, suitable for journaling.
// Unproduced fields are left nil.
type Snapshot struct {
	State            State            `json:"state"`
	Master           Server           `json:"master"`
	Replica          Server           `json:"replica"`
	Target           Server           `json:"target"`
	SQLUser          string           `json:"sql_user"`
	Database         string           `json:"database"`
	SlotName         string           `json:"slot_name"`
	PublicationName  string           `json:"publication_name"`
	SubscriptionName string           `json:"subscription_name"`
	Owner            *string          `json:"owner,omitempty"`
	PgMajor          *uint            `json:"postgres_major_version,omitempty"`
	Identity         *ReplicaIdentity `json:"replica_identity,omitempty"`
	CapturedLSN      *LSN             `json:"captured_lsn,omitempty"`
}

// Snapshot returns a copy of the m fields.
func (m *Migration) Snapshot() Snapshot {
	s := Snapshot{
		State:            m.state,
		Master:           m.Master,
		Replica:          m.Replica,
		Target:           m.Target,
		SQLUser:          m.SQLUser,
		Database:         m.Database,
		SlotName:         m.SlotName,
		PublicationName:  m.PublicationName,
		SubscriptionName: m.SubscriptionName,
	}
	if m.owner != nil {
		o := *m.owner
		s.Owner = &o
	}
	if m.pgMajor != nil {
		v := *m.pgMajor
		s.PgMajor = &v
	}
	if m.identity != nil {
		id := *m.identity
		s.Identity = &id
	}
	if m.lsn != nil {
		l := *m.lsn
		s.CapturedLSN = &l
	}
	return s
}
