// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package postgres

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/jackc/pgpassfile"
	"github.com/momeni/pg-logidater/pkg/core/log"
	"github.com/momeni/pg-logidater/pkg/core/model"
	"github.com/momeni/pg-logidater/pkg/core/repo"
	"github.com/spf13/afero"
)

// Dialer creates connection pools for all servers of a migration using
// one role. Passwords are looked up in a pgpass formatted file.
type Dialer struct {
	User           string        // role name for all connections
	PassFile       string        // optional pgpass file path
	ConnectTimeout time.Duration // zero means waiting indefinitely
	AppName        string        // application_name of connections

	Fs afero.Fs // file system which keeps the PassFile
}

// ConnectionPool creates a pool for the `database` database of the
// `srv` server. The pool is tested by acquiring one connection, so
// unreachable servers and authentication failures are reported here.
func (d *Dialer) ConnectionPool(
	ctx context.Context, srv model.Server, database string,
) (repo.Pool, error) {
	u, err := d.URL(srv, database)
	if err != nil {
		return nil, err
	}
	log.Debug(
		ctx, "connecting",
		log.Host(srv.Host), log.Object("database", database),
	)
	p, err := NewPool(ctx, u)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// URL returns the postgresql connection URL of the `database` database
// of the `srv` server, embedding the password which matches them in the
// PassFile (if any).
func (d *Dialer) URL(srv model.Server, database string) (string, error) {
	pass, err := d.password(srv, database)
	if err != nil {
		return "", err
	}
	u := url.URL{
		Scheme: "postgresql",
		User:   url.User(d.User),
		Host:   net.JoinHostPort(srv.Host, strconv.Itoa(srv.Port)),
		Path:   database,
	}
	if pass != "" {
		u.User = url.UserPassword(d.User, pass)
	}
	q := url.Values{}
	if d.ConnectTimeout > 0 {
		secs := int(d.ConnectTimeout.Round(time.Second) / time.Second)
		q.Set("connect_timeout", strconv.Itoa(max(secs, 1)))
	}
	if d.AppName != "" {
		q.Set("application_name", d.AppName)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (d *Dialer) password(srv model.Server, database string) (string, error) {
	if d.PassFile == "" {
		return "", nil
	}
	fs := d.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	f, err := fs.Open(d.PassFile)
	if err != nil {
		return "", fmt.Errorf("opening pass-file: %w", err)
	}
	defer f.Close()
	pf, err := pgpassfile.ParsePassfile(f)
	if err != nil {
		return "", fmt.Errorf("parsing pass-file: %w", err)
	}
	return pf.FindPassword(
		srv.Host, strconv.Itoa(srv.Port), database, d.User,
	), nil
}
