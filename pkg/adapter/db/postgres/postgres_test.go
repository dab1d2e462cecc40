// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package postgres_test

import (
	"errors"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/momeni/pg-logidater/pkg/adapter/db/postgres"
	"github.com/momeni/pg-logidater/pkg/core/cerr"
	"github.com/momeni/pg-logidater/pkg/core/model"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	assert.NoError(t, postgres.Classify(nil))
	for _, code := range []string{"42710", "42P04", "42704", "3D000"} {
		err := fmt.Errorf("exec: %w", &pgconn.PgError{Code: code})
		c := postgres.Classify(err)
		assert.True(t, cerr.IsConflict(c), "code=%s", code)
		assert.Equal(t, code, postgres.Code(c))
	}
	err := &pgconn.PgError{Code: "42601"}
	assert.False(t, cerr.IsConflict(postgres.Classify(err)))
	plain := errors.New("connection reset")
	assert.Equal(t, plain, postgres.Classify(plain))
	assert.Empty(t, postgres.Code(plain))
}

func TestIdent(t *testing.T) {
	q, err := postgres.Ident("repl1")
	require.NoError(t, err)
	assert.Equal(t, `"repl1"`, q)
	q, err = postgres.Ident("Bit_Bucket")
	require.NoError(t, err)
	assert.Equal(t, `"Bit_Bucket"`, q)
	for _, bad := range []string{
		"", "1db", "db-1", `x"; DROP DATABASE y; --`, "naïve",
		"a123456789012345678901234567890123456789012345678901234567890123",
	} {
		_, err := postgres.Ident(bad)
		assert.Error(t, err, "name=%q", bad)
	}
	assert.Equal(t, `"public"."users_id_seq"`,
		postgres.QualifiedIdent("public", "users_id_seq"))
	assert.Equal(t, `'it''s'`, postgres.Literal("it's"))
}

func TestConnInfo(t *testing.T) {
	ci, err := postgres.ConnInfo("host", "db1.example.com", "port", "5432")
	require.NoError(t, err)
	assert.Equal(t, "host=db1.example.com port=5432", ci)
	_, err = postgres.ConnInfo("host", "db1 password=x")
	assert.Error(t, err)
	_, err = postgres.ConnInfo("host", "db1'")
	assert.Error(t, err)
	_, err = postgres.ConnInfo("host")
	assert.Error(t, err)
}

func TestDialerPassFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/pgpass", []byte(`# comment
db1:5432:bitbucket:postgres:first
*:5432:*:postgres:wild
db2:5432:bitbucket:postgres:with\:colon\\
`), 0o600))
	require.NoError(t, afero.WriteFile(fs, "/escaped",
		[]byte(`db2:5432:bitbucket:postgres:with\:colon\\`), 0o600,
	))
	cases := map[string]struct {
		file, host string
		port       int
		db, pass   string
	}{
		"exact":              {"/pgpass", "db1", 5432, "bitbucket", "first"},
		"wildcards":          {"/pgpass", "db1", 5432, "postgres", "wild"},
		"first match wins":   {"/pgpass", "db2", 5432, "bitbucket", "wild"},
		"no match":           {"/pgpass", "db1", 6432, "bitbucket", ""},
		"escaped separators": {"/escaped", "db2", 5432, "bitbucket", `with:colon\`},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			d := &postgres.Dialer{User: "postgres", PassFile: c.file, Fs: fs}
			raw, err := d.URL(model.Server{Host: c.host, Port: c.port}, c.db)
			require.NoError(t, err)
			u, err := url.Parse(raw)
			require.NoError(t, err)
			pass, _ := u.User.Password()
			assert.Equal(t, c.pass, pass)
		})
	}
}

func TestDialerURL(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(
		fs, "/etc/logidater/pgpass", []byte("db1:5432:*:postgres:s3cr@t\n"), 0o600,
	))
	d := &postgres.Dialer{
		User:           "postgres",
		PassFile:       "/etc/logidater/pgpass",
		ConnectTimeout: 10 * time.Second,
		AppName:        "logidater",
		Fs:             fs,
	}
	raw, err := d.URL(model.Server{Host: "db1", Port: 5432}, "bitbucket")
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "postgresql", u.Scheme)
	assert.Equal(t, "db1:5432", u.Host)
	assert.Equal(t, "/bitbucket", u.Path)
	pass, ok := u.User.Password()
	assert.True(t, ok)
	assert.Equal(t, "s3cr@t", pass)
	assert.Equal(t, "10", u.Query().Get("connect_timeout"))
	assert.Equal(t, "logidater", u.Query().Get("application_name"))

	raw, err = d.URL(model.Server{Host: "db3", Port: 5432}, "postgres")
	require.NoError(t, err)
	u, err = url.Parse(raw)
	require.NoError(t, err)
	_, ok = u.User.Password()
	assert.False(t, ok, "no password line matches db3")

	d.PassFile = "/missing"
	_, err = d.URL(model.Server{Host: "db1", Port: 5432}, "postgres")
	assert.Error(t, err)
}
