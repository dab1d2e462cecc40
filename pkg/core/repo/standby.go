// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package repo

import (
	"context"

	"github.com/momeni/pg-logidater/pkg/core/model"
)

// Standby interface presents expectations from a repository which
// controls the WAL replay of a physical replica.
type Standby interface {
	Conn(Conn) StandbyQueryer
}

// StandbyQueryer lists the operations which may be run on a physical
// replica (hot standby) server.
type StandbyQueryer interface {
	// ServerVersion returns the parsed server_version setting.
	ServerVersion(ctx context.Context) (model.SemVer, error)

	// IsReplayPaused reports whether WAL replay is paused.
	IsReplayPaused(ctx context.Context) (bool, error)

	// PauseReplay asks the server to pause WAL replay. Pausing is
	// asynchronous, so callers should verify it by IsReplayPaused.
	PauseReplay(ctx context.Context) error

	// ResumeReplay resumes a paused WAL replay.
	ResumeReplay(ctx context.Context) error
}
