/*
Copyright The CloudNativePG Contributors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package switchwal implements the switch-wal command: force the primary
// to close its current WAL segment, optionally preceded by a checkpoint
// and followed by a wait until the new segment is archived.
package switchwal

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cloudnative-pg/barman-host-manager/internal/barmanerrors"
	"github.com/cloudnative-pg/barman-host-manager/internal/basebackup"
	"github.com/cloudnative-pg/barman-host-manager/internal/catalog"
	"github.com/cloudnative-pg/barman-host-manager/internal/cmdutil"
)

// NewCmd builds the switch-wal command.
func NewCmd(g *cmdutil.Globals) *cobra.Command {
	var force bool
	var archive bool
	var archiveTimeout time.Duration

	cmd := &cobra.Command{
		Use:           "switch-wal SERVER",
		Short:         "Force a WAL segment switch on the primary",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ExactArgs(1),
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			bctx, err := g.Load()
			if err != nil {
				return err
			}
			server, cat, err := cmdutil.ResolveServer(bctx, args[0])
			if err != nil {
				return err
			}

			conn, err := basebackup.Dial(server.Name, server.Conn)
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx := cobraCmd.Context()
			if force {
				if err := conn.Checkpoint(ctx); err != nil {
					return err
				}
			}
			// pg_switch_wal() names the segment the switch closes; switchWAL
			// returns no name, so the wait loop below polls for any newly
			// archived segment rather than a specific one.
			before := latestArchived(cat)
			if err := conn.SwitchWAL(ctx); err != nil {
				return err
			}

			out := cobraCmd.OutOrStdout()
			if !archive {
				fmt.Fprintf(out, "switch-wal: %s: segment switched\n", args[0])
				return nil
			}
			if archiveTimeout <= 0 {
				archiveTimeout = time.Minute
			}
			if err := waitForNewSegment(ctx, cat, before, archiveTimeout); err != nil {
				return err
			}
			fmt.Fprintf(out, "switch-wal: %s: segment switched and archived\n", args[0])
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "checkpoint before switching")
	cmd.Flags().BoolVar(&archive, "archive", false, "wait until the new segment is archived")
	cmd.Flags().DurationVar(&archiveTimeout, "archive-timeout", time.Minute, "how long to wait with --archive")
	return cmd
}

func latestArchived(cat *catalog.Catalog) int {
	records, err := catalog.ReadXlogDB(cat.Home)
	if err != nil {
		return 0
	}
	return len(records)
}

func waitForNewSegment(ctx context.Context, cat *catalog.Catalog, before int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		records, err := catalog.ReadXlogDB(cat.Home)
		if err == nil && len(records) > before {
			return nil
		}
		if time.Now().After(deadline) {
			return barmanerrors.New(barmanerrors.KindTimeout, "switch-wal: timed out waiting for the new segment to archive", nil)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}
