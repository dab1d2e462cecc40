// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package standbyrp_test

import (
	"context"
	"testing"
	"time"

	"github.com/momeni/pg-logidater/internal/test/dbcontainer"
	"github.com/momeni/pg-logidater/pkg/adapter/db/postgres/standbyrp"
	"github.com/momeni/pg-logidater/pkg/core/repo"
	"github.com/stretchr/testify/require"
)

func TestReplayControlNeedsRecovery(t *testing.T) {
	ctx := context.Background()
	_, pool, dfrs, ok := dbcontainer.New(ctx, 60*time.Second, t)
	for _, f := range dfrs {
		defer f()
	}
	if !ok {
		return // errors are already logged
	}
	err := pool.Conn(ctx, func(ctx context.Context, c repo.Conn) error {
		r := require.New(t)
		q := standbyrp.New().Conn(c)
		v, err := q.ServerVersion(ctx)
		r.NoError(err)
		r.Equal(uint(16), v[0])
		// the test container is a primary, so replay cannot be managed
		_, err = q.IsReplayPaused(ctx)
		r.Error(err)
		r.Error(q.PauseReplay(ctx))
		return nil
	})
	require.NoError(t, err)
}
