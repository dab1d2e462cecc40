// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package model

// Subscription describes a logical replication subscription which is
// created on the target database. It never copies the initial data
// and never creates its slot, because data arrives via dump/restore
// and the slot is created on the master beforehand. It is created
// disabled, so streaming starts only after its origin is advanced.
type Subscription struct {
	Name        string // subscription name on the target
	Publication string // publication name on the master database
	Slot        string // existing logical slot on the master
	Source      Server // master server to connect to
	Database    string // master database to connect to
	User        string // role used by the subscription connection
}
