// Copyright (c) 2023-2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package config is an adapter which accepts yaml formatted config
// files from its users and allows the logidater to instantiate its
// adapters (SQL dialer, ssh shell, dump programs runner, and journal)
// and the migration context using those loaded settings.
// The parsed configuration may be overridden by the command line
// flags and then must be validated (and normalized) before use.
// Validated settings are passed to their ultimate components as plain
// params and config structs of the relevant adapter packages, so the
// adapters do not depend on the yaml file format.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/momeni/pg-logidater/pkg/adapter/config/settings"
	"github.com/momeni/pg-logidater/pkg/adapter/config/vers"
	"github.com/momeni/pg-logidater/pkg/adapter/db/postgres"
	"github.com/momeni/pg-logidater/pkg/adapter/dump/pgdump"
	"github.com/momeni/pg-logidater/pkg/adapter/journal/jsonfile"
	"github.com/momeni/pg-logidater/pkg/adapter/shell/ssh"
	"github.com/momeni/pg-logidater/pkg/core/log"
	"github.com/momeni/pg-logidater/pkg/core/model"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Major and Minor are the latest supported config format version.
const (
	Major = 1
	Minor = 0
)

// DefaultPath is used when neither the config flag nor the EnvPath
// environment variable are given.
const DefaultPath = "/etc/logidater/config.yaml"

// EnvPath names the environment variable which may keep the config
// file path.
const EnvPath = "LOGIDATER_CONFIG"

const (
	defaultPGPort  = 5432
	defaultSSHPort = 22
	defaultSQLUser = "postgres"
	defaultAppName = "pg-logidater"
)

var (
	defaultConnectTimeout = settings.Duration(10 * time.Second)
	defaultCommandTimeout = settings.Duration(60 * time.Second)
	minTimeout            = settings.Duration(time.Second)
	maxTimeout            = settings.Duration(time.Hour)
)

// Config is the top-level configuration settings of logidater.
type Config struct {
	vers.Config `yaml:",inline"`

	Master  Server `yaml:"master"`
	Replica Server `yaml:"replica"`
	Target  Server `yaml:"target"`

	Database    Database    `yaml:"database"`
	Replication Replication `yaml:"replication"`
	SSH         SSH         `yaml:"ssh"`
	Dump        Dump        `yaml:"dump"`
	Journal     Journal     `yaml:"journal"`
	Log         Log         `yaml:"log"`
}

// Server locates one PostgreSQL server. Zero port means 5432.
type Server struct {
	Host string `yaml:"host" validate:"required,hostname_rfc1123|ip"`
	Port int    `yaml:"port" validate:"min=1,max=65535"`
}

// Database contains the SQL connection settings which are shared by
// all servers. Passwords are looked up in the PassFile (with the
// pgpass format) if it is given.
type Database struct {
	Name           string             `yaml:"name" validate:"required,max=63"`
	SQLUser        string             `yaml:"sql-user" validate:"required"`
	PassFile       string             `yaml:"pass-file"`
	ConnectTimeout *settings.Duration `yaml:"connect-timeout"`
	AppName        string             `yaml:"application-name"`
}

// Replication contains the name which is used for the logical slot,
// publication, and subscription.
type Replication struct {
	Name string `yaml:"name" validate:"required,max=63"`
}

// SSH contains the remote shell settings which are used for reading
// the replica configuration files.
type SSH struct {
	User                  string             `yaml:"user" validate:"required"`
	Port                  int                `yaml:"port" validate:"min=1,max=65535"`
	KeyFiles              []string           `yaml:"key-files" validate:"dive,required"`
	KnownHosts            string             `yaml:"known-hosts" validate:"required_unless=InsecureIgnoreHostKey true"`
	InsecureIgnoreHostKey bool               `yaml:"insecure-ignore-host-key"`
	UseAgent              bool               `yaml:"use-agent"`
	ConnectTimeout        *settings.Duration `yaml:"connect-timeout"`
	CommandTimeout        *settings.Duration `yaml:"command-timeout"`
}

// Dump contains the client programs paths and their output directories.
type Dump struct {
	PgDump    string `yaml:"pg_dump"`
	PgDumpAll string `yaml:"pg_dumpall"`
	Psql      string `yaml:"psql"`
	TmpDir    string `yaml:"tmp-dir"`
	LogDir    string `yaml:"log-dir"`
	Strict    *bool  `yaml:"strict"`
}

// Journal locates the migration journal file. An empty path disables
// the journal.
type Journal struct {
	Path string `yaml:"path"`
}

// Log contains the logger settings.
type Log struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error critical"`
	Format string `yaml:"format" validate:"omitempty,oneof=text json"`
}

// ResolvePath returns the config file path which is given by the flag
// argument, or the EnvPath environment variable, or the DefaultPath in
// that order of precedence. The explicit result is false only for the
// DefaultPath.
func ResolvePath(flag string) (path string, explicit bool) {
	if flag != "" {
		return flag, true
	}
	if p, found := os.LookupEnv(EnvPath); found && p != "" {
		return p, true
	}
	return DefaultPath, false
}

// Load reads and parses the config file from the `path` of fsys.
// A missing file is only acceptable if it was not explicitly asked,
// then an empty Config (with the latest version) is returned, so all
// settings may be provided by flags.
// The returned Config is not validated yet. Callers should override
// the desired settings and then call ValidateAndNormalize.
func Load(fsys afero.Fs, path string, explicit bool) (*Config, error) {
	data, err := afero.ReadFile(fsys, path)
	switch {
	case errors.Is(err, fs.ErrNotExist) && !explicit:
		c := &Config{}
		c.Version = model.SemVer{Major, Minor, 0}
		return c, nil
	case err != nil:
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %q: %w", path, err)
	}
	return c, nil
}

// Parse checks the version of data and then unmarshals it into a new
// Config instance. Unknown items are rejected, so misspelled settings
// are not ignored silently.
func Parse(data []byte) (*Config, error) {
	vc, err := vers.Load(data)
	if err != nil {
		return nil, fmt.Errorf("loading version: %w", err)
	}
	if err := vc.Validate(Major, Minor); err != nil {
		return nil, fmt.Errorf(
			"expecting version v%d.%d: %w", Major, Minor, err,
		)
	}
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	c := &Config{}
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decoding yaml: %w", err)
	}
	return c, nil
}

// ValidateAndNormalize fills the default values of the missing
// settings, verifies the ranges of timeouts, and validates the
// resulting settings using their struct tags.
func (c *Config) ValidateAndNormalize() error {
	if err := c.Validate(Major, Minor); err != nil {
		return fmt.Errorf(
			"expecting version v%d.%d: %w", Major, Minor, err,
		)
	}
	for _, s := range []*Server{&c.Master, &c.Replica, &c.Target} {
		if s.Port == 0 {
			s.Port = defaultPGPort
		}
	}
	if c.Database.SQLUser == "" {
		c.Database.SQLUser = defaultSQLUser
	}
	if c.Database.AppName == "" {
		c.Database.AppName = defaultAppName
	}
	if c.SSH.User == "" {
		c.SSH.User = defaultSQLUser
	}
	if c.SSH.Port == 0 {
		c.SSH.Port = defaultSSHPort
	}
	settings.OverwriteNil(&c.Database.ConnectTimeout, &defaultConnectTimeout)
	settings.OverwriteNil(&c.SSH.ConnectTimeout, &defaultConnectTimeout)
	settings.OverwriteNil(&c.SSH.CommandTimeout, &defaultCommandTimeout)
	settings.Nil2Zero(&c.Dump.Strict)
	timeouts := map[string]**settings.Duration{
		"database.connect-timeout": &c.Database.ConnectTimeout,
		"ssh.connect-timeout":      &c.SSH.ConnectTimeout,
		"ssh.command-timeout":      &c.SSH.CommandTimeout,
	}
	for name, d := range timeouts {
		if err := settings.VerifyRange(
			d, &minTimeout, &maxTimeout,
		); err != nil {
			return fmt.Errorf(
				"VerifyRange(%s=%v, minb=%v, maxb=%v): %w",
				name, *err.Value.Marshal(),
				*minTimeout.Marshal(), *maxTimeout.Marshal(), err,
			)
		}
	}
	if err := validate(c); err != nil {
		return err
	}
	if err := postgres.ValidateIdentifier(c.Replication.Name); err != nil {
		return fmt.Errorf("replication name: %w", err)
	}
	if err := postgres.ValidateIdentifier(c.Database.Name); err != nil {
		return fmt.Errorf("database name: %w", err)
	}
	return nil
}

func validate(c *Config) error {
	err := validator.New(validator.WithRequiredStructEnabled()).Struct(c)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, ferr := range verrs {
		msgs = append(msgs, fmt.Sprintf(
			"%s: failed on %q", ferr.Namespace(), ferr.Tag(),
		))
	}
	return fmt.Errorf("invalid settings: %s", strings.Join(msgs, "; "))
}

// Migration creates the migration context of the configured servers,
// database, and replication name.
func (c *Config) Migration() (*model.Migration, error) {
	return model.NewMigration(
		model.Server(c.Master), model.Server(c.Replica),
		model.Server(c.Target),
		c.Database.SQLUser, c.Database.Name, c.Replication.Name,
	)
}

// Dialer returns the SQL connections dialer, reading the pass file
// from fsys.
func (c *Config) Dialer(fsys afero.Fs) *postgres.Dialer {
	return &postgres.Dialer{
		User:           c.Database.SQLUser,
		PassFile:       c.Database.PassFile,
		ConnectTimeout: time.Duration(*c.Database.ConnectTimeout),
		AppName:        c.Database.AppName,
		Fs:             fsys,
	}
}

// Shell returns the ssh settings, reading the key and known hosts
// files from fsys. The ssh-agent socket is taken from SSH_AUTH_SOCK
// when the agent usage is enabled.
func (c *Config) Shell(fsys afero.Fs) ssh.Config {
	sc := ssh.Config{
		User:                  c.SSH.User,
		Port:                  c.SSH.Port,
		KeyFiles:              c.SSH.KeyFiles,
		KnownHosts:            c.SSH.KnownHosts,
		InsecureIgnoreHostKey: c.SSH.InsecureIgnoreHostKey,
		ConnectTimeout:        time.Duration(*c.SSH.ConnectTimeout),
		CommandTimeout:        time.Duration(*c.SSH.CommandTimeout),
		Fs:                    fsys,
	}
	if c.SSH.UseAgent {
		sc.AgentSocket = ssh.AgentSocket()
	}
	return sc
}

// Dumper returns the dump programs settings. The restore scripts run
// with the SQL user and the same pass file as the SQL connections.
func (c *Config) Dumper(fsys afero.Fs) pgdump.Config {
	return pgdump.Config{
		PgDump:    c.Dump.PgDump,
		PgDumpAll: c.Dump.PgDumpAll,
		Psql:      c.Dump.Psql,
		TmpDir:    c.Dump.TmpDir,
		LogDir:    c.Dump.LogDir,
		User:      c.Database.SQLUser,
		PassFile:  c.Database.PassFile,
		Strict:    *c.Dump.Strict,
		Fs:        fsys,
	}
}

// JournalFile returns the journal which appends to the configured path
// of fsys. The ok result is false if the journal is disabled.
func (c *Config) JournalFile(fsys afero.Fs) (j *jsonfile.Journal, ok bool) {
	if c.Journal.Path == "" {
		return nil, false
	}
	return jsonfile.New(fsys, c.Journal.Path), true
}

// Logger creates a logger which writes to w with the configured format
// and level. Missing settings select the text format and info level.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if c.Log.Level != "" {
		level, _ = log.ParseLevel(c.Log.Level)
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
