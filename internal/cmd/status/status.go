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

// Package status implements the status command: a read-only snapshot of
// one server's health, without running archiving or retention.
package status

import (
	"github.com/cheynewallace/tabby"
	"github.com/spf13/cobra"

	"github.com/cloudnative-pg/barman-host-manager/internal/catalog"
	"github.com/cloudnative-pg/barman-host-manager/internal/cmdutil"
	"github.com/cloudnative-pg/barman-host-manager/internal/orchestrator"
)

// NewCmd builds the status command.
func NewCmd(g *cmdutil.Globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "status SERVER",
		Short:         "Show a point-in-time health snapshot of SERVER",
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

			out := cobraCmd.OutOrStdout()
			t := tabby.NewCustom(cmdutil.NewTabWriter(out))

			backups := cat.Backups()
			t.AddLine("server", server.Name)
			t.AddLine("backups", len(backups))
			if last := lastDone(backups); last != nil {
				t.AddLine("last_backup", last.ID)
				t.AddLine("last_backup_status", last.Status)
			} else {
				t.AddLine("last_backup", "-")
			}
			if point := cat.FirstRecoverabilityPoint(); point != nil {
				t.AddLine("first_recoverability_point", point.Format("2006-01-02 15:04:05"))
			} else {
				t.AddLine("first_recoverability_point", "-")
			}

			for _, c := range orchestrator.Diagnose(cobraCmd.Context(), bctx, server, cat) {
				status := "OK"
				if !c.OK {
					status = "FAILED: " + c.Detail
				}
				t.AddLine(c.Name, status)
			}
			t.Print()
			return nil
		},
	}
	return cmd
}

func lastDone(backups []*catalog.Backup) *catalog.Backup {
	for i := len(backups) - 1; i >= 0; i-- {
		if backups[i].IsDone() {
			return backups[i]
		}
	}
	return nil
}
