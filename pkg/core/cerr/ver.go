// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package cerr

import (
	"fmt"

	"github.com/momeni/pg-logidater/pkg/core/model"
)

// MismatchingMajorError indicates an error condition where a semantic
// version with a specific major component was expected, but another
// version was present. The first element is the expected major version
// and the second element is the actual version.
type MismatchingMajorError struct {
	Expected uint
	Actual   model.SemVer
}

// Error returns a string representation of `mme` error instance. This
// method causes *MismatchingMajorError to implement error interface.
func (mme *MismatchingMajorError) Error() string {
	return fmt.Sprintf(
		"expected v%d.x.y, but got v%s", mme.Expected, mme.Actual.String(),
	)
}
