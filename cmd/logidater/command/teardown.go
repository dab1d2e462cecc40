// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package command

import (
	"fmt"

	"github.com/momeni/pg-logidater/pkg/core/log"
	"github.com/momeni/pg-logidater/pkg/core/usecase/logicaluc"
	"github.com/spf13/cobra"
)

var teardownCmd = &cobra.Command{
	Use:   "teardown",
	Short: "Tear down a prior setup",
	Long: `Tear down a prior (complete or aborted) setup by dropping the
subscription and database on the target, dropping the publication and
logical slot on the master, and resuming the WAL replay of the replica
if it is paused. Missing objects are skipped, so teardown may be
repeated safely.`,
	Args: cobra.NoArgs,
	RunE: teardown,
}

func teardown(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	d, m, err := newMigration()
	if err != nil {
		return err
	}
	mc, ri, tp := newCoordinators(d, nil, nil)
	if err = logicaluc.NewTeardown(mc, ri, tp).Run(ctx, m); err != nil {
		return fmt.Errorf("teardown: %w", err)
	}
	log.Info(ctx, "teardown is completed", log.Object("name", m.SlotName))
	return nil
}

func init() {
	rootCmd.AddCommand(teardownCmd)
}
