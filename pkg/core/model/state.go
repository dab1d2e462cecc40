// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package model

import "fmt"

// State is a step of the linear migration state machine. Each run
// starts from Start and advances one state at a time until it reaches
// ReplicaResumed. Any state may move to Aborted, which is terminal.
type State int

// These constants list the migration states in their only valid order.
const (
	Start State = iota
	MasterChecked
	SlotAndPubReady
	TargetClean
	ReplicaPaused
	IdentityExtracted
	PositionCaptured
	RolesSynced
	DataSynced
	SubscriptionPinned
	SubscriptionEnabled
	ReplicaResumed
	Aborted
)

var stateNames = [...]string{
	Start:               "START",
	MasterChecked:       "MASTER_CHECKED",
	SlotAndPubReady:     "SLOT_AND_PUB_READY",
	TargetClean:         "TARGET_CLEAN",
	ReplicaPaused:       "REPLICA_PAUSED",
	IdentityExtracted:   "IDENTITY_EXTRACTED",
	PositionCaptured:    "POSITION_CAPTURED",
	RolesSynced:         "ROLES_SYNCED",
	DataSynced:          "DATA_SYNCED",
	SubscriptionPinned:  "SUBSCRIPTION_PINNED",
	SubscriptionEnabled: "SUBSCRIPTION_ENABLED",
	ReplicaResumed:      "REPLICA_RESUMED",
	Aborted:             "ABORTED",
}

// String returns the upper-case name of s.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("STATE(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText implements encoding.TextMarshaler interface.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler interface.
func (s *State) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if name == string(text) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("%w: unknown state %q", ErrInvalidState, text)
}

// Terminal reports whether no transition may leave s.
func (s State) Terminal() bool {
	return s == ReplicaResumed || s == Aborted
}
