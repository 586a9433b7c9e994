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

// Package sync implements the sync-backup, sync-wals and sync-info
// commands: a passive node mirroring a primary barman host's catalog for
// one server over its configured remote shell.
package sync

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cloudnative-pg/barman-host-manager/internal/barmanerrors"
	"github.com/cloudnative-pg/barman-host-manager/internal/catalog"
	"github.com/cloudnative-pg/barman-host-manager/internal/cmdutil"
	"github.com/cloudnative-pg/barman-host-manager/internal/config"
	"github.com/cloudnative-pg/barman-host-manager/internal/orchestrator"
)

// NewCmd builds the sync-info command group: sync-info, plus sync-backup
// and sync-wals as subcommands, all operating on one server's passive
// mirror.
func NewCmd(g *cmdutil.Globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "sync-info SERVER",
		Short:         "Report what a passive node's catalog mirror is missing",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ExactArgs(1),
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			server, cat, err := resolve(g, args[0])
			if err != nil {
				return err
			}
			info, err := orchestrator.SyncInfo(cobraCmd.Context(), server, cat)
			if err != nil {
				return err
			}
			out := cobraCmd.OutOrStdout()
			fmt.Fprintf(out, "sync-info: %s: %d backup(s) missing, %d WAL(s) missing (%d known remotely)\n",
				args[0], len(info.MissingBackups), len(info.MissingWALs), info.RemoteWALCount)
			for _, id := range info.MissingBackups {
				fmt.Fprintf(out, "  missing backup: %s\n", id)
			}
			return nil
		},
	}

	cmd.AddCommand(newSyncBackupCmd(g))
	cmd.AddCommand(newSyncWALsCmd(g))
	return cmd
}

func newSyncBackupCmd(g *cmdutil.Globals) *cobra.Command {
	return &cobra.Command{
		Use:           "sync-backup SERVER BACKUP_ID",
		Short:         "Mirror one backup from the primary barman host",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ExactArgs(2),
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			server, cat, err := resolve(g, args[0])
			if err != nil {
				return err
			}
			if err := orchestrator.SyncBackup(cobraCmd.Context(), server, cat, args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cobraCmd.OutOrStdout(), "sync-backup: %s: backup %s mirrored\n", args[0], args[1])
			return nil
		},
	}
}

func newSyncWALsCmd(g *cmdutil.Globals) *cobra.Command {
	return &cobra.Command{
		Use:           "sync-wals SERVER",
		Short:         "Mirror every missing WAL segment from the primary barman host",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ExactArgs(1),
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			server, cat, err := resolve(g, args[0])
			if err != nil {
				return err
			}
			n, err := orchestrator.SyncWALs(cobraCmd.Context(), server, cat)
			if err != nil {
				return err
			}
			fmt.Fprintf(cobraCmd.OutOrStdout(), "sync-wals: %s: %d WAL segment(s) mirrored\n", args[0], n)
			return nil
		},
	}
}

func resolve(g *cmdutil.Globals, name string) (*config.Server, *catalog.Catalog, error) {
	bctx, err := g.Load()
	if err != nil {
		return nil, nil, err
	}
	server, cat, err := cmdutil.OpenServer(bctx, name)
	if err != nil {
		return nil, nil, err
	}
	if !server.Passive {
		return nil, nil, barmanerrors.New(barmanerrors.KindConfigError, name+" is not a passive server (passive: true is required for sync-*)", nil)
	}
	return server, cat, nil
}
