// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package postgres provides the PostgreSQL connection pool, connection,
// and transaction types which implement the repo.Pool, repo.Conn, and
// repo.Tx interfaces using GORM. It also hosts the helpers which are
// shared by the repository packages, such as the classification of
// server errors and quoting of identifiers and literals.
package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/momeni/pg-logidater/pkg/core/cerr"
)

// SQLSTATE codes which indicate that an object which was going to be
// created already exists, or an object which was going to be dropped
// or altered is missing. See
// https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	DuplicateObject   = "42710"
	DuplicateDatabase = "42P04"
	UndefinedObject   = "42704"
	InvalidCatalog    = "3D000"
)

var conflictCodes = map[string]bool{
	DuplicateObject:   true,
	DuplicateDatabase: true,
	UndefinedObject:   true,
	InvalidCatalog:    true,
}

// Code returns the SQLSTATE code of the PostgreSQL error which is
// wrapped by err, or an empty string if err is not a server error.
func Code(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// Classify wraps err as a cerr.ConflictError if it reports an already
// existing or a missing object, so callers may tolerate it. Other
// errors are returned unchanged.
func Classify(err error) error {
	if err == nil || !conflictCodes[Code(err)] {
		return err
	}
	return cerr.Conflict(err)
}
