// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package pgdump provides a reification of the repo.Dumper interface
// which runs the pg_dump, pg_dumpall, and psql client programs.
package pgdump

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/momeni/pg-logidater/pkg/core/cerr"
	"github.com/momeni/pg-logidater/pkg/core/log"
	"github.com/momeni/pg-logidater/pkg/core/model"
	"github.com/spf13/afero"
)

// Config contains the paths of the client programs and directories.
type Config struct {
	PgDump    string // pg_dump program, looked up in PATH if not absolute
	PgDumpAll string // pg_dumpall program
	Psql      string // psql program

	TmpDir string // directory which receives the dumped SQL scripts
	LogDir string // directory which receives the programs output

	// User is the role which runs the restore scripts.
	User string

	// PassFile is passed to the programs as PGPASSFILE, if not empty.
	PassFile string

	// Strict makes any standard error output of a successful program
	// fatal. Otherwise, it is logged as a warning.
	Strict bool

	Fs afero.Fs // file system which receives the log files
}

// Dumper runs the client programs with the Config settings.
type Dumper struct {
	cfg Config
}

// New instantiates a Dumper, filling empty program names with their
// defaults and creating the tmp and log directories.
func New(c Config) (*Dumper, error) {
	if c.PgDump == "" {
		c.PgDump = "pg_dump"
	}
	if c.PgDumpAll == "" {
		c.PgDumpAll = "pg_dumpall"
	}
	if c.Psql == "" {
		c.Psql = "psql"
	}
	if c.User == "" {
		c.User = "postgres"
	}
	if c.TmpDir == "" {
		c.TmpDir = os.TempDir()
	}
	if c.LogDir == "" {
		c.LogDir = c.TmpDir
	}
	if c.Fs == nil {
		c.Fs = afero.NewOsFs()
	}
	for _, dir := range []string{c.TmpDir, c.LogDir} {
		if err := c.Fs.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating %q: %w", dir, err)
		}
	}
	return &Dumper{cfg: c}, nil
}

// CheckTools ensures that all client programs can be found.
func (d *Dumper) CheckTools(ctx context.Context) error {
	var missing []string
	for _, p := range []string{d.cfg.PgDump, d.cfg.PgDumpAll, d.cfg.Psql} {
		path, err := exec.LookPath(p)
		if err != nil {
			missing = append(missing, p)
			continue
		}
		log.Debug(ctx, "found client program", log.Object("path", path))
	}
	if len(missing) > 0 {
		log.Critical(
			ctx, "client programs are missing",
			log.Object("programs", strings.Join(missing, ", ")),
		)
		return cerr.Preconditionf(
			"client programs are not found: %s", strings.Join(missing, ", "),
		)
	}
	return nil
}

func connArgs(srv model.Server, user string) []string {
	return []string{
		"-h", srv.Host,
		"-p", strconv.Itoa(srv.Port),
		"-U", user,
	}
}

// DumpRoles dumps all roles of the `src` server, without passwords if
// the server does not allow reading them.
func (d *Dumper) DumpRoles(
	ctx context.Context, src model.Server, user string,
) (string, error) {
	script := filepath.Join(d.cfg.TmpDir, src.Host+"-roles.sql")
	args := append([]string{"--roles-only", "-f", script}, connArgs(src, user)...)
	if err := d.run(ctx, "roles_dump", d.cfg.PgDumpAll, args...); err != nil {
		return "", err
	}
	return script, nil
}

// DumpDatabase dumps the `db` database of the `src` server as a plain
// SQL script, excluding publications and subscriptions.
func (d *Dumper) DumpDatabase(
	ctx context.Context, src model.Server, user, db string,
) (string, error) {
	script := filepath.Join(d.cfg.TmpDir, src.Host+"-"+db+".sql")
	args := append([]string{
		"--no-publications", "--no-subscriptions", "-f", script, "-d", db,
	}, connArgs(src, user)...)
	if err := d.run(ctx, db+"_dump", d.cfg.PgDump, args...); err != nil {
		return "", err
	}
	return script, nil
}

// Restore runs the `script` SQL file with psql in the `db` database
// of the `dst` server, connecting with the configured role.
// Errors of individual statements (such as already existing roles) do
// not stop psql, but they are reported through its standard error.
func (d *Dumper) Restore(
	ctx context.Context, dst model.Server, db, script, label string,
) error {
	args := append(
		[]string{"-X", "-q", "-f", script, "-d", db},
		connArgs(dst, d.cfg.User)...,
	)
	return d.run(ctx, label+"_restore", d.cfg.Psql, args...)
}

// run executes `prog` with `args`, storing its standard output and
// error in the <label>.log and <label>.err files of the log directory.
func (d *Dumper) run(
	ctx context.Context, label, prog string, args ...string,
) error {
	cmd := exec.CommandContext(ctx, prog, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Env = os.Environ()
	if d.cfg.PassFile != "" {
		cmd.Env = append(cmd.Env, "PGPASSFILE="+d.cfg.PassFile)
	}
	log.Debug(
		ctx, "running client program",
		log.Object("program", prog), log.Object("args", strings.Join(args, " ")),
	)
	runErr := cmd.Run()
	logPath := filepath.Join(d.cfg.LogDir, label+".log")
	errPath := filepath.Join(d.cfg.LogDir, label+".err")
	if err := errors.Join(
		afero.WriteFile(d.cfg.Fs, logPath, stdout.Bytes(), 0o640),
		afero.WriteFile(d.cfg.Fs, errPath, stderr.Bytes(), 0o640),
	); err != nil {
		log.Warn(ctx, "writing program logs", log.Err("err", err))
	}
	if runErr != nil {
		log.Critical(
			ctx, "client program failed",
			log.Object("program", prog), log.Object("stderr_log", errPath),
			log.Err("err", runErr),
		)
		return cerr.Fatal(cerr.ExternalProcess, fmt.Errorf(
			"%s (see %s): %w", filepath.Base(prog), errPath, runErr,
		))
	}
	if stderr.Len() == 0 {
		return nil
	}
	if d.cfg.Strict {
		log.Critical(
			ctx, "client program reported errors",
			log.Object("program", prog), log.Object("stderr_log", errPath),
		)
		return cerr.Fatal(cerr.ExternalProcess, fmt.Errorf(
			"%s reported errors (see %s)", filepath.Base(prog), errPath,
		))
	}
	log.Warn(
		ctx, "client program reported errors",
		log.Object("program", prog), log.Object("stderr_log", errPath),
	)
	return nil
}
