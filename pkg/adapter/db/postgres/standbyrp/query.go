// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package standbyrp

import (
	"context"

	"github.com/momeni/pg-logidater/pkg/adapter/db/postgres"
)

// IsReplayPaused reports whether a pause of the WAL replay is requested
// or in effect. It fails on a server which is not in recovery.
func IsReplayPaused[Q postgres.Queryer](ctx context.Context, q Q) (bool, error) {
	paused, _, err := postgres.QueryValue[bool](
		ctx, q, "SELECT pg_is_wal_replay_paused()",
	)
	return paused, err
}

func PauseReplay[Q postgres.Queryer](ctx context.Context, q Q) error {
	_, err := q.Exec(ctx, "SELECT pg_wal_replay_pause()")
	return err
}

func ResumeReplay[Q postgres.Queryer](ctx context.Context, q Q) error {
	_, err := q.Exec(ctx, "SELECT pg_wal_replay_resume()")
	return err
}
