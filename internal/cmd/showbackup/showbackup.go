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

// Package showbackup implements the show-backup command.
package showbackup

import (
	"fmt"

	"github.com/cheynewallace/tabby"
	"github.com/spf13/cobra"

	"github.com/cloudnative-pg/barman-host-manager/internal/cmdutil"
)

// NewCmd builds the show-backup command.
func NewCmd(g *cmdutil.Globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "show-backup SERVER BACKUP_ID",
		Short:         "Show the full detail recorded for one backup",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ExactArgs(2),
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			bctx, err := g.Load()
			if err != nil {
				return err
			}
			_, cat, err := cmdutil.ResolveServer(bctx, args[0])
			if err != nil {
				return err
			}
			b, err := cat.Lookup(args[1])
			if err != nil {
				return err
			}

			out := cobraCmd.OutOrStdout()
			t := tabby.NewCustom(cmdutil.NewTabWriter(out))
			t.AddLine("backup_id", b.ID)
			t.AddLine("status", b.Status)
			t.AddLine("server_name", b.ServerName)
			t.AddLine("backup_type", b.BackupType)
			t.AddLine("parent_backup_id", valueOr(b.ParentBackupID, "-"))
			t.AddLine("mode", b.Mode)
			t.AddLine("begin_time", b.BeginTime)
			t.AddLine("end_time", b.EndTime)
			t.AddLine("begin_wal", b.BeginWAL)
			t.AddLine("end_wal", b.EndWAL)
			t.AddLine("timeline", b.Timeline)
			t.AddLine("size", b.Size)
			t.AddLine("deduplicated_size", b.DeduplicatedSize)
			t.AddLine("compression", valueOr(b.Compression, "none"))
			t.AddLine("keep_target", valueOr(string(b.KeepTarget), "-"))
			t.AddLine("name", valueOr(b.Name, "-"))
			if b.Error != "" {
				t.AddLine("error", b.Error)
			}
			for _, ts := range b.Tablespaces {
				t.AddLine(fmt.Sprintf("tablespace[%s]", ts.Name), ts.Location)
			}
			t.Print()
			return nil
		},
	}
	return cmd
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
