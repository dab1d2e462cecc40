// Copyright (c) 2023-2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package dbcontainer is an internal helper for the test packages.
// This packages facilitates creation of a temporary postgres:16
// podman container and connecting to it, using a *postgres.Pool
// connection pool.
// It may be used in all integration-level test suites which require
// a real PostgreSQL DBMS server.
package dbcontainer

import (
	"context"
	"errors"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/bitcomplete/sqltestutil"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/momeni/pg-logidater/pkg/adapter/db/postgres"
	"github.com/momeni/pg-logidater/pkg/core/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Container describes a started postgres container, so tests may
// dial it with a postgres.Dialer.
type Container struct {
	*sqltestutil.PostgresContainer

	Server   model.Server
	User     string
	Password string
	Database string
}

// New creates and starts up a postgres podman container.
// The podman.service needs to be started and the DOCKER_HOST
// environment variable needs to be initialized beforehand like
// DOCKER_HOST=unix://$XDG_RUNTIME_DIR/podman/podman.sock
// in order to be identified by this function properly. Without it,
// the calling test is skipped.
// The ctx will be used during the container start up and shutdown,
// while the timeout will be considered only during the start up phase.
func New(ctx context.Context, timeout time.Duration, t *testing.T) (
	pg *Container,
	pool *postgres.Pool,
	dfrs []func(),
	ok bool,
) {
	if os.Getenv("DOCKER_HOST") == "" {
		t.Skip("DOCKER_HOST is not set, skipping integration tests")
	}
	ctx2, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	dbmsVer := "16"
	c, err := sqltestutil.StartPostgresContainer(ctx2, dbmsVer)
	ok = assert.NoError(t, err, "failed to set up a test database")
	if !ok {
		return
	}
	dfrs = append(dfrs, func() {
		err := c.Shutdown(ctx)
		assert.NoError(t, err, "failed to shutdown test database")
	})
	u := c.ConnectionString()
	pg, err = parse(c, u)
	ok = assert.NoError(t, err, "parsing test database url")
	if !ok {
		return
	}
	for pool == nil {
		pool, err = postgres.NewPool(ctx2, u)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.SQLState() == "57P03" {
			continue // the database system is starting up
		}
		var netErr net.Error
		if ctx2.Err() == nil && errors.As(err, &netErr) {
			continue // tolerate network errors until a timeout
		}
		ok = assert.NoError(t, err, "cannot connect to test database")
		if !ok {
			return
		}
	}
	dfrs = append(dfrs, func() {
		err := pool.Close()
		assert.NoError(t, err, "failed to close the connections pool")
	})
	return
}

func parse(c *sqltestutil.PostgresContainer, u string) (*Container, error) {
	pu, err := url.Parse(u)
	if err != nil {
		return nil, err
	}
	port, err := strconv.Atoi(pu.Port())
	if err != nil {
		return nil, err
	}
	pass, _ := pu.User.Password()
	return &Container{
		PostgresContainer: c,
		Server:            model.Server{Host: pu.Hostname(), Port: port},
		User:              pu.User.Username(),
		Password:          pass,
		Database:          strings.TrimPrefix(pu.Path, "/"),
	}, nil
}

// Dialer returns a postgres.Dialer which authenticates as the
// container superuser using a pgpass file in a temporary directory.
func (c *Container) Dialer(t *testing.T) *postgres.Dialer {
	path := t.TempDir() + "/pgpass"
	line := "*:*:*:" + c.User + ":" + c.Password + "\n"
	require.NoError(t, os.WriteFile(path, []byte(line), 0o600))
	return &postgres.Dialer{
		User:           c.User,
		PassFile:       path,
		ConnectTimeout: 10 * time.Second,
		AppName:        "logidater-test",
	}
}
