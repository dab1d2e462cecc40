// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package command

import (
	"fmt"
	"log/slog"

	"github.com/momeni/pg-logidater/pkg/core/log"
	"github.com/momeni/pg-logidater/pkg/core/usecase/logicaluc"
	"github.com/spf13/cobra"
)

var sequencesCmd = &cobra.Command{
	Use:   "sync-sequences",
	Short: "Copy the sequence values from the master to the target",
	Long: `Copy the last values of all sequences of the migrated database
from the master to the target. Logical replication does not carry the
sequence values, so this should be run just before switching clients
to the target server.`,
	Args: cobra.NoArgs,
	RunE: syncSequences,
}

func syncSequences(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	d, m, err := newMigration()
	if err != nil {
		return err
	}
	mc, _, tp := newCoordinators(d, nil, nil)
	n, err := logicaluc.NewSequences(mc, tp).Run(ctx, m)
	if err != nil {
		return fmt.Errorf("syncing sequences: %w", err)
	}
	log.Info(ctx, "sequences are synced", slog.Int("count", n))
	return nil
}

func init() {
	rootCmd.AddCommand(sequencesCmd)
}
