// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package command

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/momeni/pg-logidater/pkg/adapter/config"
	"github.com/momeni/pg-logidater/pkg/core/log"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `version: 1.0.0
master: {host: db1}
replica: {host: db2}
target: {host: db3}
database: {name: bitbucket}
replication: {name: repl1}
ssh: {insecure-ignore-host-key: true}
`

func TestLoadSettingsWithOverrides(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/cfg.yaml", []byte(testConfig), 0o600))
	prev := osFs
	osFs = fs
	t.Cleanup(func() {
		osFs = prev
		cfg = nil
	})

	rootCmd.SetContext(context.Background())
	require.NoError(t, rootCmd.ParseFlags([]string{
		"-c", "/cfg.yaml", "--replica", "db4", "-n", "repl2",
		"--log-level", "debug",
	}))
	require.NoError(t, loadSettings(rootCmd, nil))

	require.NotNil(t, cfg)
	assert.Equal(t, "db1", cfg.Master.Host)
	assert.Equal(t, "db4", cfg.Replica.Host)
	assert.Equal(t, "repl2", cfg.Replication.Name)
	assert.Equal(t, "postgres", cfg.Database.SQLUser)
	assert.True(t, log.From(rootCmd.Context()).Enabled(
		context.Background(), -4,
	), "debug level is enabled")

	d, m, err := newMigration()
	require.NoError(t, err)
	assert.Equal(t, "postgres", d.User)
	assert.Equal(t, "repl2", m.PublicationName)
	assert.Equal(t, 5432, m.Replica.Port)
}

func TestApplyOnlyChangedFlags(t *testing.T) {
	fv := flagValues{master: "db9", database: "other", sqlUser: "admin"}
	c, err := config.Parse([]byte(testConfig))
	require.NoError(t, err)
	fv.apply(c, func(name string) bool { return name == "database" })
	assert.Equal(t, "db1", c.Master.Host)
	assert.Equal(t, "other", c.Database.Name)
	assert.Equal(t, "", c.Database.SQLUser)
}

func TestPrompter(t *testing.T) {
	cases := map[string]bool{
		"y\n":     true,
		"YES\n":   true,
		" yes ":   true,
		"n\n":     false,
		"\n":      false,
		"maybe\n": false,
	}
	for answer, expected := range cases {
		out := &bytes.Buffer{}
		p := &prompter{in: strings.NewReader(answer), out: out}
		ok, err := p.Confirm(context.Background(), "drop bitbucket?")
		require.NoError(t, err, "answer %q", answer)
		assert.Equal(t, expected, ok, "answer %q", answer)
		assert.Equal(t, "drop bitbucket? [y/N]: ", out.String())
	}

	p := &prompter{in: strings.NewReader(""), out: &bytes.Buffer{}}
	_, err := p.Confirm(context.Background(), "drop bitbucket?")
	assert.Error(t, err, "closed input is not an answer")
}
