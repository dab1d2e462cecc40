// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package repo

import (
	"context"

	"github.com/momeni/pg-logidater/pkg/core/model"
)

// Journal records the progress of migration runs, so a run which was
// interrupted in the middle may be inspected by an operator.
type Journal interface {
	// Record appends the `s` snapshot of the `run` migration run.
	Record(ctx context.Context, run string, s model.Snapshot) error
}
