// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package command provides the root and sub-commands of logidater.
// Commands are organized using the cobra library.
// The root command only loads the settings and creates the logger,
// while the sub-commands run the use cases:
//
//	./logidater setup [--force-clean] [-c /path/of/config.yaml]
//	./logidater teardown [-c /path/of/config.yaml]
//	./logidater sync-sequences [-c /path/of/config.yaml]
//
// Servers, database, SQL user, and replication name may be given by
// flags too, overriding the config file items, e.g.,
//
//	./logidater setup --master db1 --replica db2 --target db3 \
//	    -d bitbucket -U postgres -n repl1
package command

import (
	"context"
	"fmt"
	"os"

	"github.com/momeni/pg-logidater/pkg/adapter/config"
	"github.com/momeni/pg-logidater/pkg/adapter/db/postgres"
	"github.com/momeni/pg-logidater/pkg/adapter/db/postgres/publisherrp"
	"github.com/momeni/pg-logidater/pkg/adapter/db/postgres/standbyrp"
	"github.com/momeni/pg-logidater/pkg/adapter/db/postgres/subscriberrp"
	"github.com/momeni/pg-logidater/pkg/core/log"
	"github.com/momeni/pg-logidater/pkg/core/model"
	"github.com/momeni/pg-logidater/pkg/core/repo"
	"github.com/momeni/pg-logidater/pkg/core/usecase/logicaluc"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var (
	cfgPath string
	flags   flagValues
	cfg     *config.Config
	osFs    = afero.NewOsFs()
)

var rootCmd = &cobra.Command{
	Use:   "logidater",
	Short: "Turns a physical replica into a logical subscriber",
	Long: `Logidater creates a new logical subscriber of a PostgreSQL
database without copying its contents from the master server.
It pauses the WAL replay of an existing physical replica, records the
position which the replica has reached, dumps the roles and database
from the paused replica into the target server, and finally creates a
subscription on the target which continues from the recorded position
using a publication and logical slot which were prepared on the master.

Settings are read from a yaml file which is given by the -c flag, or
the LOGIDATER_CONFIG environment variable, or the default path of
/etc/logidater/config.yaml (which may be missing). Command line flags
override the file settings.`,
	PersistentPreRunE: loadSettings,
	SilenceUsage:      true,
}

// Execute runs the rootCmd which in turn parses CLI arguments and
// flags and runs the most specific cobra command. Any error causes
// the exit code 1.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&cfgPath, "config", "c", "", "config file path")
	pf.StringVar(
		&flags.logLevel, "log-level", "",
		"debug, info, warn, error, or critical",
	)
	pf.StringVar(&flags.master, "master", "", "master server host")
	pf.StringVar(&flags.replica, "replica", "", "physical replica host")
	pf.StringVar(&flags.target, "target", "", "new subscriber host")
	pf.StringVarP(&flags.database, "database", "d", "", "migrated database")
	pf.StringVarP(&flags.sqlUser, "user", "U", "", "SQL role of all servers")
	pf.StringVarP(
		&flags.name, "name", "n", "",
		"name of the slot, publication, and subscription",
	)
}

// flagValues keeps the values of flags which may override the config
// file settings.
type flagValues struct {
	logLevel string
	master   string
	replica  string
	target   string
	database string
	sqlUser  string
	name     string
}

// apply overwrites the settings of c whose flags were changed.
func (fv *flagValues) apply(c *config.Config, changed func(string) bool) {
	overrides := []struct {
		flag  string
		dst   *string
		value string
	}{
		{"log-level", &c.Log.Level, fv.logLevel},
		{"master", &c.Master.Host, fv.master},
		{"replica", &c.Replica.Host, fv.replica},
		{"target", &c.Target.Host, fv.target},
		{"database", &c.Database.Name, fv.database},
		{"user", &c.Database.SQLUser, fv.sqlUser},
		{"name", &c.Replication.Name, fv.name},
	}
	for _, o := range overrides {
		if changed(o.flag) {
			*o.dst = o.value
		}
	}
}

func loadSettings(cmd *cobra.Command, _ []string) error {
	path, explicit := config.ResolvePath(cfgPath)
	c, err := config.Load(osFs, path, explicit)
	if err != nil {
		return fmt.Errorf("config.Load(%q): %w", path, err)
	}
	flags.apply(c, cmd.Flags().Changed)
	if err = c.ValidateAndNormalize(); err != nil {
		return fmt.Errorf("validating settings: %w", err)
	}
	cfg = c
	ctx := log.WithLogger(cmd.Context(), c.Logger(os.Stderr))
	cmd.SetContext(ctx)
	return nil
}

// newMigration returns the SQL dialer and the migration context of cfg.
func newMigration() (*postgres.Dialer, *model.Migration, error) {
	m, err := cfg.Migration()
	if err != nil {
		return nil, nil, fmt.Errorf("creating migration: %w", err)
	}
	return cfg.Dialer(osFs), m, nil
}

// newCoordinators creates the master, replica, and target components
// using the SQL repositories of the postgres adapter. The sh and dp
// may be nil for commands which never read the replica files or
// transfer the roles and data.
func newCoordinators(
	d repo.Dialer, sh repo.Shell, dp repo.Dumper,
) (
	*logicaluc.MasterCoordinator,
	*logicaluc.ReplicaInspector,
	*logicaluc.TargetProvisioner,
) {
	mc := logicaluc.NewMasterCoordinator(d, publisherrp.New())
	ri := logicaluc.NewReplicaInspector(d, standbyrp.New(), sh)
	tp := logicaluc.NewTargetProvisioner(d, subscriberrp.New(), dp)
	return mc, ri, tp
}
