// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package jsonfile_test

import (
	"context"
	"strings"
	"testing"

	"github.com/momeni/pg-logidater/pkg/adapter/journal/jsonfile"
	"github.com/momeni/pg-logidater/pkg/core/model"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func TestRecordAppendsLines(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	j := jsonfile.New(fs, "/var/lib/logidater/journal.jsonl")

	m, err := model.NewMigration(
		model.Server{Host: "db1", Port: 5432},
		model.Server{Host: "db2", Port: 5432},
		model.Server{Host: "db3", Port: 5432},
		"postgres", "bitbucket", "repl1",
	)
	r.NoError(err)
	r.NoError(j.Record(ctx, "run-1", m.Snapshot()))
	r.NoError(m.Advance(model.MasterChecked))
	r.NoError(m.SetOwner("bitbucket_owner"))
	r.NoError(m.CaptureLSN(0x3000060))
	r.NoError(j.Record(ctx, "run-1", m.Snapshot()))

	b, err := afero.ReadFile(fs, "/var/lib/logidater/journal.jsonl")
	r.NoError(err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	r.Len(lines, 2)
	r.Contains(lines[0], `"state":"START"`)
	r.NotContains(lines[0], "captured_lsn")
	r.Contains(lines[1], `"state":"MASTER_CHECKED"`)
	r.Contains(lines[1], `"captured_lsn":"0/3000060"`)

	entries, err := j.Read()
	r.NoError(err)
	r.Len(entries, 2)
	r.Equal("run-1", entries[1].Run)
	r.Equal(model.MasterChecked, entries[1].Snapshot.State)
	r.NotNil(entries[1].Snapshot.CapturedLSN)
	r.Equal(model.LSN(0x3000060), *entries[1].Snapshot.CapturedLSN)
	r.Equal("bitbucket_owner", *entries[1].Snapshot.Owner)
	r.Equal(m.Snapshot(), entries[1].Snapshot)
	r.False(entries[1].Time.IsZero())
}
