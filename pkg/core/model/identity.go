// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package model

// ReplicaIdentity contains the facts which identify a physical replica
// from the primary server point of view. They are read from the
// replica persisted configuration file.
type ReplicaIdentity struct {
	// ApplicationName is the name which the replica walreceiver
	// presents to the primary. It keys pg_stat_replication rows.
	ApplicationName string `json:"application_name"`

	// PrimarySlotName is the physical replication slot on the primary
	// which is consumed by this replica.
	PrimarySlotName string `json:"primary_slot_name"`
}

// Server identifies a PostgreSQL server by its host and port.
// The host may be a unix socket directory, like /tmp.
type Server struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Sequence describes one sequence of a database and its last value.
// LastValue is nil when the sequence was never used.
type Sequence struct {
	Schema    string
	Name      string
	LastValue *int64
}
