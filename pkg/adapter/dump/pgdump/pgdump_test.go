// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package pgdump_test

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/momeni/pg-logidater/pkg/adapter/dump/pgdump"
	"github.com/momeni/pg-logidater/pkg/core/cerr"
	"github.com/momeni/pg-logidater/pkg/core/model"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// script writes an executable shell script which prints its arguments
// to stdout and the `stderr` text to its standard error.
func script(t *testing.T, stderr string, status int) string {
	path := filepath.Join(t.TempDir(), "prog")
	body := "#!/bin/sh\necho \"$@\"\n"
	if stderr != "" {
		body += "echo '" + stderr + "' >&2\n"
	}
	body += "exit " + strconv.Itoa(status) + "\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return path
}

var (
	replica = model.Server{Host: "db2", Port: 5432}
	target  = model.Server{Host: "db3", Port: 6432}
)

func newDumper(t *testing.T, prog string, strict bool) (*pgdump.Dumper, afero.Fs) {
	fs := afero.NewMemMapFs()
	d, err := pgdump.New(pgdump.Config{
		PgDump:    prog,
		PgDumpAll: prog,
		Psql:      prog,
		TmpDir:    "/var/tmp/logidater",
		LogDir:    "/var/log/logidater",
		User:      "postgres",
		Strict:    strict,
		Fs:        fs,
	})
	require.NoError(t, err)
	return d, fs
}

func TestDumpAndRestore(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()
	d, fs := newDumper(t, script(t, "", 0), false)
	r.NoError(d.CheckTools(ctx))

	roles, err := d.DumpRoles(ctx, replica, "postgres")
	r.NoError(err)
	r.Equal("/var/tmp/logidater/db2-roles.sql", roles)
	out, err := afero.ReadFile(fs, "/var/log/logidater/roles_dump.log")
	r.NoError(err)
	r.Equal("--roles-only -f /var/tmp/logidater/db2-roles.sql "+
		"-h db2 -p 5432 -U postgres\n", string(out))

	data, err := d.DumpDatabase(ctx, replica, "postgres", "bitbucket")
	r.NoError(err)
	r.Equal("/var/tmp/logidater/db2-bitbucket.sql", data)
	out, err = afero.ReadFile(fs, "/var/log/logidater/bitbucket_dump.log")
	r.NoError(err)
	r.Contains(string(out), "--no-publications --no-subscriptions")
	r.Contains(string(out), "-d bitbucket")

	r.NoError(d.Restore(ctx, target, "bitbucket", data, "bitbucket"))
	out, err = afero.ReadFile(fs, "/var/log/logidater/bitbucket_restore.log")
	r.NoError(err)
	r.Equal("-X -q -f /var/tmp/logidater/db2-bitbucket.sql -d bitbucket "+
		"-h db3 -p 6432 -U postgres\n", string(out))
	errOut, err := afero.ReadFile(fs, "/var/log/logidater/bitbucket_restore.err")
	r.NoError(err)
	r.Empty(errOut)
}

func TestFailingProgram(t *testing.T) {
	d, fs := newDumper(t, script(t, "pg_dump: error: connection refused", 1), false)
	_, err := d.DumpDatabase(context.Background(), replica, "postgres", "bitbucket")
	require.Error(t, err)
	assert.Equal(t, cerr.ExternalProcess, cerr.KindOf(err))
	errOut, err := afero.ReadFile(fs, "/var/log/logidater/bitbucket_dump.err")
	require.NoError(t, err)
	assert.Contains(t, string(errOut), "connection refused")
}

func TestStderrOutput(t *testing.T) {
	prog := script(t, `ERROR:  role "postgres" already exists`, 0)
	d, _ := newDumper(t, prog, false)
	err := d.Restore(context.Background(), target, "postgres", "/r.sql", "roles")
	assert.NoError(t, err, "stderr output is only a warning by default")

	d, _ = newDumper(t, prog, true)
	err = d.Restore(context.Background(), target, "postgres", "/r.sql", "roles")
	require.Error(t, err, "stderr output is fatal in strict mode")
	assert.Equal(t, cerr.ExternalProcess, cerr.KindOf(err))
}

func TestCheckTools(t *testing.T) {
	d, _ := newDumper(t, "/nonexistent/pg_dump", false)
	err := d.CheckTools(context.Background())
	require.Error(t, err)
	assert.Equal(t, cerr.Precondition, cerr.KindOf(err))
}
