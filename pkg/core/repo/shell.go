// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package repo

import "context"

// ShellHandler is called with an open shell session. The session is
// closed when the handler returns, regardless of its result.
type ShellHandler func(context.Context, ShellSession) error

// Shell opens remote shell sessions.
type Shell interface {
	// Session connects to `host`, calls `handler` with the session,
	// and closes it afterwards (also on error paths).
	Session(ctx context.Context, host string, handler ShellHandler) error
}

// ShellSession runs commands on a remote host.
type ShellSession interface {
	// Run executes `cmd` and returns its standard output. Standard
	// error output is logged, but does not fail the command. Commands
	// which do not finish in the configured timeout fail.
	Run(ctx context.Context, cmd string) (string, error)
}
