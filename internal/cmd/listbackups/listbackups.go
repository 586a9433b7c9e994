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

// Package listbackups implements the list-backups command.
package listbackups

import (
	"fmt"
	"time"

	"github.com/cheynewallace/tabby"
	"github.com/spf13/cobra"
	"github.com/thoas/go-funk"

	"github.com/cloudnative-pg/barman-host-manager/internal/catalog"
	"github.com/cloudnative-pg/barman-host-manager/internal/cmdutil"
)

// NewCmd builds the list-backups command.
func NewCmd(g *cmdutil.Globals) *cobra.Command {
	var minimal bool

	cmd := &cobra.Command{
		Use:           "list-backups SERVER",
		Short:         "List the backups recorded for SERVER",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ExactArgs(1),
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			bctx, err := g.Load()
			if err != nil {
				return err
			}
			_, cat, err := cmdutil.ResolveServer(bctx, args[0])
			if err != nil {
				return err
			}

			out := cobraCmd.OutOrStdout()
			backups := cat.Backups()

			if minimal {
				ids := funk.Map(backups, func(b *catalog.Backup) string { return b.ID }).([]string)
				for _, id := range ids {
					fmt.Fprintln(out, id)
				}
				return nil
			}

			t := tabby.NewCustom(cmdutil.NewTabWriter(out))
			t.AddHeader("BACKUP ID", "STATUS", "TYPE", "BEGIN", "END", "SIZE", "NAME")
			for _, b := range backups {
				t.AddLine(b.ID, b.Status, b.BackupType, formatTime(b.BeginTime), formatTime(b.EndTime), b.Size, b.Name)
			}
			for _, id := range cat.CorruptBackupIDs() {
				t.AddLine(id, "CORRUPT", "-", "-", "-", "-", "-")
			}
			t.Print()
			return nil
		},
	}

	cmd.Flags().BoolVar(&minimal, "minimal", false, "print only backup ids, one per line")
	return cmd
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}
