// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package vers_test

import (
	"testing"

	"github.com/momeni/pg-logidater/pkg/adapter/config/vers"
	"github.com/momeni/pg-logidater/pkg/core/cerr"
	"github.com/momeni/pg-logidater/pkg/core/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAndValidate(t *testing.T) {
	vc, err := vers.Load([]byte("version: 1.2.0\nmaster:\n  host: db1\n"))
	require.NoError(t, err)
	assert.Equal(t, model.SemVer{1, 2, 0}, vc.Version)
	assert.NoError(t, vc.Validate(1, 2))
	assert.Error(t, vc.Validate(1, 1))

	err = vc.Validate(2, 0)
	var mme *cerr.MismatchingMajorError
	require.ErrorAs(t, err, &mme)
	assert.Equal(t, uint(2), mme.Expected)
	assert.Equal(t, model.SemVer{1, 2, 0}, mme.Actual)

	_, err = vers.Load([]byte("version: one"))
	assert.Error(t, err)
}
