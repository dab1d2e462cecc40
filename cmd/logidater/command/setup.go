// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package command

import (
	"fmt"
	"os"

	"github.com/momeni/pg-logidater/pkg/adapter/dump/pgdump"
	"github.com/momeni/pg-logidater/pkg/adapter/shell/ssh"
	"github.com/momeni/pg-logidater/pkg/core/log"
	"github.com/momeni/pg-logidater/pkg/core/usecase/logicaluc"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var forceClean bool

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Set up the target as a logical subscriber of the master",
	Long: `Set up the target server as a logical subscriber of the master
server, seeding its contents from the paused physical replica.

The steps are run strictly in order and the first failing step aborts
the run, leaving all servers as they are for inspection (the replica
may remain paused). The teardown sub-command may be used for cleaning
up after an aborted run.

If the migrated database already exists on the target, it is dropped
(with its subscription) only if --force-clean is given or the operator
confirms it on an interactive terminal. Otherwise, setup aborts before
changing the target or pausing the replica.`,
	Args: cobra.NoArgs,
	RunE: setup,
}

func setup(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	d, m, err := newMigration()
	if err != nil {
		return err
	}
	sh, err := ssh.New(cfg.Shell(osFs))
	if err != nil {
		return fmt.Errorf("creating ssh shell: %w", err)
	}
	defer func() {
		if err := sh.Close(); err != nil {
			log.Warn(ctx, "closing ssh shell", log.Err("err", err))
		}
	}()
	dp, err := pgdump.New(cfg.Dumper(osFs))
	if err != nil {
		return fmt.Errorf("creating dumper: %w", err)
	}
	mc, ri, tp := newCoordinators(d, sh, dp)
	opts := make([]logicaluc.Option, 0, 3)
	if j, ok := cfg.JournalFile(osFs); ok {
		opts = append(opts, logicaluc.WithJournal(j))
	}
	if forceClean {
		opts = append(opts, logicaluc.WithForceClean())
	}
	if term.IsTerminal(int(os.Stdin.Fd())) {
		p := &prompter{in: os.Stdin, out: os.Stderr}
		opts = append(opts, logicaluc.WithConfirmer(p.Confirm))
	}
	uc, err := logicaluc.NewSetup(mc, ri, tp, opts...)
	if err != nil {
		return fmt.Errorf("creating setup use case: %w", err)
	}
	if err = uc.Run(ctx, m); err != nil {
		return fmt.Errorf("setup run %s: %w", uc.RunID(), err)
	}
	log.Info(ctx, "logical subscriber is ready",
		log.Host(m.Target.Host), log.Object("subscription", m.SubscriptionName),
	)
	return nil
}

func init() {
	setupCmd.Flags().BoolVar(
		&forceClean, "force-clean", false,
		"drop an existing target database without confirmation",
	)
	rootCmd.AddCommand(setupCmd)
}
