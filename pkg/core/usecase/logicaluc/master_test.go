// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package logicaluc_test

import (
	"context"
	"testing"

	"github.com/momeni/pg-logidater/pkg/core/usecase/logicaluc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMaster() (*cluster, *server, *logicaluc.MasterCoordinator) {
	cl := newCluster()
	s := cl.add(masterHost)
	s.databases[database] = owner
	return cl, s, logicaluc.NewMasterCoordinator(dialer{cl}, publisher{})
}

func TestReconcileIsIdempotent(t *testing.T) {
	cases := map[string]struct {
		slot, active, pub bool
		events            []string
	}{
		"absent": {},
		"stale": {
			slot: true, pub: true,
			events: []string{
				"db1: drop slot repl1",
				"db1: drop publication repl1",
			},
		},
		"active": {
			slot: true, active: true,
			events: []string{
				"db1: terminate slot repl1 consumer",
				"db1: drop slot repl1",
			},
		},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			cl, s, mc := newMaster()
			if c.slot {
				s.slots[replName] = c.active
			}
			s.pubs[replName] = c.pub
			q := publisher{}.Conn(&conn{cl: cl, srv: s, db: database})
			for i := 0; i < 2; i++ {
				require.NoError(t, mc.ReconcileSlot(ctx, q, replName))
				require.NoError(t, mc.ReconcilePublication(ctx, q, replName))
				assert.Equal(t, c.events, cl.events, "pass %d", i+1)
			}
			assert.Empty(t, s.slots)
			assert.False(t, s.pubs[replName])
		})
	}
}

func TestCreateToleratesConcurrentCreation(t *testing.T) {
	ctx := context.Background()
	cl, s, mc := newMaster()
	q := publisher{}.Conn(&conn{cl: cl, srv: s, db: database})
	require.NoError(t, mc.ReconcileSlot(ctx, q, replName))
	require.NoError(t, mc.ReconcilePublication(ctx, q, replName))

	// another actor wins the race for both names
	s.slots[replName] = false
	s.pubs[replName] = true

	assert.NoError(t, mc.CreateSlot(ctx, q, replName))
	assert.NoError(t, mc.CreatePublication(ctx, q, replName))
	assert.Equal(t, map[string]bool{replName: false}, s.slots)
	assert.True(t, s.pubs[replName])
	assert.Empty(t, cl.events)
}
