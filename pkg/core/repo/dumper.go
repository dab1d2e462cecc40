// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package repo

import (
	"context"

	"github.com/momeni/pg-logidater/pkg/core/model"
)

// Dumper wraps the external dump and restore utilities. Each method
// runs one external process whose standard output and standard error
// are kept in distinct log files. Returned errors are fatal errors of
// the cerr.ExternalProcess kind.
type Dumper interface {
	// CheckTools ensures that the external utilities can be found.
	CheckTools(ctx context.Context) error

	// DumpRoles dumps all roles of the `src` server and returns the
	// path of the produced SQL script.
	DumpRoles(ctx context.Context, src model.Server, user string) (
		script string, err error,
	)

	// DumpDatabase dumps the schema and data of the `db` database of
	// the `src` server, excluding publications and subscriptions, and
	// returns the path of the produced SQL script.
	DumpDatabase(
		ctx context.Context, src model.Server, user, db string,
	) (script string, err error)

	// Restore replays the `script` SQL file into the `db` database of
	// the `dst` server. The `label` names the restore log files.
	Restore(
		ctx context.Context, dst model.Server, db, script, label string,
	) error
}
