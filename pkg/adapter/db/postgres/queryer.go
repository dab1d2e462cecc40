// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package postgres

import (
	"context"
	"fmt"

	"github.com/momeni/pg-logidater/pkg/core/repo"
)

// Queryer is satisfied by the connection and transaction types of this
// package, so helpers may be written once for both of them.
type Queryer interface {
	*Conn | *Tx
	repo.Queryer
}

// QueryValue runs sql, which must select one column, and scans the
// first row into a T value. If no row is returned, found is false.
func QueryValue[T any, Q Queryer](
	ctx context.Context, q Q, sql string, args ...any,
) (v T, found bool, err error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return v, false, err
	}
	defer rows.Close()
	if !rows.Next() {
		return v, false, rows.Err()
	}
	if err = rows.Scan(&v); err != nil {
		return v, false, fmt.Errorf("scanning: %w", err)
	}
	return v, true, rows.Err()
}

// Setting returns the current value of the `name` run-time parameter.
func Setting[Q Queryer](ctx context.Context, q Q, name string) (string, error) {
	v, _, err := QueryValue[string](ctx, q, "SELECT current_setting($1)", name)
	if err != nil {
		return "", fmt.Errorf("current_setting(%q): %w", name, err)
	}
	return v, nil
}
