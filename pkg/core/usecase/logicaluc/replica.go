// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package logicaluc

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/momeni/pg-logidater/pkg/core/cerr"
	"github.com/momeni/pg-logidater/pkg/core/log"
	"github.com/momeni/pg-logidater/pkg/core/model"
	"github.com/momeni/pg-logidater/pkg/core/repo"
)

const (
	// DataDirCommand prints the PGDATA value which is exported by the
	// postgres user login profile on the replica host.
	DataDirCommand = `awk -F '=' '/PGDATA=/{print $NF}' ~/.bash_profile`

	// AutoConfFile keeps the standby settings since PostgreSQL 12.
	AutoConfFile = "postgresql.auto.conf"

	// RecoveryConfFile keeps the standby settings before PostgreSQL 12.
	RecoveryConfFile = "recovery.conf"

	recoveryConfLastMajor = 11
)

// ReplicaInspector freezes the physical replica and reads its identity
// (as known by the master) from its configuration files.
type ReplicaInspector struct {
	dialer  repo.Dialer
	standby repo.Standby
	shell   repo.Shell
}

// NewReplicaInspector instantiates a ReplicaInspector which connects
// to the replica using `d` for SQL queries (run by `s`) and using `sh`
// for reading its files.
func NewReplicaInspector(
	d repo.Dialer, s repo.Standby, sh repo.Shell,
) *ReplicaInspector {
	return &ReplicaInspector{dialer: d, standby: s, shell: sh}
}

// Pause pauses the WAL replay of the replica and confirms it by
// querying the replay status again. An already paused replay is
// resumed first, so the freeze point belongs to this run. The server
// major version is recorded in `m` too, since it decides where the
// standby settings may be found.
func (ri *ReplicaInspector) Pause(
	ctx context.Context, m *model.Migration,
) error {
	return withConn(
		ctx, ri.dialer, m.Replica, MaintenanceDB,
		func(ctx context.Context, c repo.Conn) error {
			q := ri.standby.Conn(c)
			if err := ri.pause(ctx, q, m.Replica.Host); err != nil {
				return err
			}
			v, err := q.ServerVersion(ctx)
			if err != nil {
				return fmt.Errorf("reading server version: %w", err)
			}
			log.Info(
				ctx, "replica server version",
				log.Host(m.Replica.Host), slog.String("version", v.String()),
			)
			return m.SetPostgresMajorVersion(v[0])
		},
	)
}

func (ri *ReplicaInspector) pause(
	ctx context.Context, q repo.StandbyQueryer, host string,
) error {
	paused, err := q.IsReplayPaused(ctx)
	if err != nil {
		return fmt.Errorf("checking replay status: %w", err)
	}
	if paused {
		log.Warn(
			ctx, "replica replay is already paused, resuming it",
			log.Host(host),
		)
		if err := q.ResumeReplay(ctx); err != nil {
			return fmt.Errorf("resuming replay: %w", err)
		}
	}
	log.Info(ctx, "pausing replica replay", log.Host(host))
	if err := q.PauseReplay(ctx); err != nil {
		return fmt.Errorf("pausing replay: %w", err)
	}
	paused, err = q.IsReplayPaused(ctx)
	if err != nil {
		return fmt.Errorf("confirming replay pause: %w", err)
	}
	if !paused {
		log.Critical(ctx, "replica replay did not pause", log.Host(host))
		return cerr.Preconditionf("replay of %s is not paused", host)
	}
	return nil
}

// Resume resumes the WAL replay of the replica.
func (ri *ReplicaInspector) Resume(
	ctx context.Context, m *model.Migration,
) error {
	return withConn(
		ctx, ri.dialer, m.Replica, MaintenanceDB,
		func(ctx context.Context, c repo.Conn) error {
			log.Info(ctx, "resuming replica replay", log.Host(m.Replica.Host))
			return ri.standby.Conn(c).ResumeReplay(ctx)
		},
	)
}

// ResumeIfPaused resumes the WAL replay of the replica only if it is
// paused, reporting whether a resumption was performed.
func (ri *ReplicaInspector) ResumeIfPaused(
	ctx context.Context, replica model.Server,
) (resumed bool, err error) {
	err = withConn(
		ctx, ri.dialer, replica, MaintenanceDB,
		func(ctx context.Context, c repo.Conn) error {
			q := ri.standby.Conn(c)
			paused, err := q.IsReplayPaused(ctx)
			if err != nil || !paused {
				return err
			}
			log.Info(ctx, "resuming replica replay", log.Host(replica.Host))
			resumed = true
			return q.ResumeReplay(ctx)
		},
	)
	return resumed, err
}

// ExtractIdentity reads the standby settings file of the replica over
// the remote shell and records the application name and primary slot
// name which identify it to the master in `m`. The Pause method must
// have recorded the server major version beforehand.
func (ri *ReplicaInspector) ExtractIdentity(
	ctx context.Context, m *model.Migration,
) error {
	major, err := m.PostgresMajorVersion()
	if err != nil {
		return err
	}
	host := m.Replica.Host
	var conf string
	err = ri.shell.Session(
		ctx, host,
		func(ctx context.Context, s repo.ShellSession) error {
			out, err := s.Run(ctx, DataDirCommand)
			if err != nil {
				return fmt.Errorf("finding data directory: %w", err)
			}
			dataDir := lastLine(out)
			if dataDir == "" {
				log.Critical(ctx, "PGDATA is not exported", log.Host(host))
				return cerr.Preconditionf(
					"PGDATA is not found in the profile of %s", host,
				)
			}
			file := path.Join(dataDir, StandbyConfFile(major))
			log.Debug(ctx, "reading standby settings", slog.String("path", file))
			conf, err = s.Run(ctx, "cat "+shellQuote(file))
			if err != nil {
				return fmt.Errorf("reading %s: %w", file, err)
			}
			return nil
		},
	)
	if err != nil {
		return fmt.Errorf("inspecting %s: %w", host, err)
	}
	id, err := ParseReplicaIdentity(conf)
	if err != nil {
		log.Critical(
			ctx, "replica identity is incomplete",
			log.Host(host), log.Err("err", err),
		)
		return err
	}
	log.Info(
		ctx, "extracted replica identity",
		log.Host(host),
		log.Object("application_name", id.ApplicationName),
		log.Object("primary_slot_name", id.PrimarySlotName),
	)
	return m.SetIdentity(id)
}

// StandbyConfFile returns the name of the file which keeps the standby
// settings for the given server major version.
func StandbyConfFile(major uint) string {
	if major <= recoveryConfLastMajor {
		return RecoveryConfFile
	}
	return AutoConfFile
}

// ParseReplicaIdentity finds the application_name and primary_slot_name
// settings in a standby configuration file content. Lines are scanned
// from the end, so the last assignment of each key wins, the same way
// that the server reads them. The application_name may be given as a
// standalone setting or as a part of the primary_conninfo setting.
// Missing keys cause a fatal precondition error.
func ParseReplicaIdentity(conf string) (model.ReplicaIdentity, error) {
	var id model.ReplicaIdentity
	lines := strings.Split(conf, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if id.ApplicationName == "" {
			id.ApplicationName = applicationName(line)
		}
		if id.PrimarySlotName == "" {
			if k, v, ok := setting(line); ok && k == "primary_slot_name" {
				id.PrimarySlotName = v
			}
		}
		if id.ApplicationName != "" && id.PrimarySlotName != "" {
			return id, nil
		}
	}
	switch {
	case id.ApplicationName == "":
		return id, cerr.Preconditionf("application_name is not configured")
	case id.PrimarySlotName == "":
		return id, cerr.Preconditionf("primary_slot_name is not configured")
	}
	return id, nil
}

// lastLine returns the last non-empty line of `out`, so noise which a
// login profile may print ahead of the command output is ignored.
func lastLine(out string) string {
	lines := strings.Split(out, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}

// shellQuote quotes `arg` as one single-quoted word of a POSIX shell.
func shellQuote(arg string) string {
	return "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
}

// setting splits a `key = value` line, removing the quotes around the
// value and any trailing comment. Within a quoted value, a doubled or
// backslash-escaped quote stands for one quote character.
func setting(line string) (key, value string, ok bool) {
	key, value, ok = strings.Cut(line, "=")
	if !ok {
		return "", "", false
	}
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)
	if !strings.HasPrefix(value, "'") {
		if c := strings.Index(value, "#"); c >= 0 {
			value = strings.TrimSpace(value[:c])
		}
		return key, value, true
	}
	var b strings.Builder
	for i := 1; i < len(value); i++ {
		c := value[i]
		switch {
		case c == '\\' && i+1 < len(value):
			i++
			b.WriteByte(value[i])
		case c != '\'':
			b.WriteByte(c)
		case i+1 < len(value) && value[i+1] == '\'':
			i++
			b.WriteByte(c)
		default:
			return key, b.String(), true
		}
	}
	return key, b.String(), true
}

// applicationName returns the application_name which is assigned in
// `line`, either directly or within a quoted connection string.
func applicationName(line string) string {
	key, value, ok := setting(line)
	if !ok {
		return ""
	}
	switch key {
	case "application_name":
		return value
	case "primary_conninfo":
		return conninfo(value)["application_name"]
	}
	return ""
}

// conninfo parses the `keyword = value` pairs of a libpq connection
// string. Values may be single-quoted and use backslash escapes. Later
// pairs override earlier ones.
func conninfo(s string) map[string]string {
	kv := make(map[string]string)
	for {
		s = strings.TrimLeft(s, " \t\r\n")
		eq := strings.IndexByte(s, '=')
		if eq < 0 {
			return kv
		}
		k := strings.TrimSpace(s[:eq])
		s = strings.TrimLeft(s[eq+1:], " \t\r\n")
		quoted := strings.HasPrefix(s, "'")
		if quoted {
			s = s[1:]
		}
		var b strings.Builder
		i := 0
		for ; i < len(s); i++ {
			c := s[i]
			if c == '\\' && i+1 < len(s) {
				i++
				b.WriteByte(s[i])
				continue
			}
			if quoted && c == '\'' {
				i++
				break
			}
			if !quoted && strings.IndexByte(" \t\r\n", c) >= 0 {
				break
			}
			b.WriteByte(c)
		}
		kv[k] = b.String()
		s = s[i:]
	}
}
