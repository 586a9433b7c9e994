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

// Package replicationstatus implements the replication-status command:
// report streaming replication lag and liveness for a server's connected
// standbys and WAL streamer.
package replicationstatus

import (
	"fmt"

	"github.com/cheynewallace/tabby"
	"github.com/spf13/cobra"

	"github.com/cloudnative-pg/barman-host-manager/internal/cmdutil"
	"github.com/cloudnative-pg/barman-host-manager/internal/orchestrator"
)

// NewCmd builds the replication-status command.
func NewCmd(g *cmdutil.Globals) *cobra.Command {
	var source string
	var target string
	var minimal bool

	cmd := &cobra.Command{
		Use:           "replication-status SERVER",
		Short:         "Report streaming replication lag and liveness for a server",
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

			rows, err := orchestrator.ReplicationStatus(cobraCmd.Context(), server, cat,
				orchestrator.ReplicationSource(source), orchestrator.ReplicationTarget(target))
			if err != nil {
				return err
			}

			out := cobraCmd.OutOrStdout()
			if len(rows) == 0 {
				fmt.Fprintf(out, "replication-status: %s: no connected replication consumers\n", args[0])
				return nil
			}

			if minimal {
				for _, r := range rows {
					fmt.Fprintf(out, "%s %s %s\n", r.Target, r.ApplicationName, r.State)
				}
				return nil
			}

			t := tabby.NewCustom(cmdutil.NewTabWriter(out))
			t.AddHeader("TARGET", "APPLICATION", "STATE", "SENT", "WRITE", "FLUSH", "REPLAY", "SYNC")
			for _, r := range rows {
				t.AddLine(r.Target, r.ApplicationName, r.State, r.SentLSN, r.WriteLSN, r.FlushLSN, r.ReplayLSN, r.SyncState)
			}
			t.Print()
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "backup-host or wal-host (default wal-host)")
	cmd.Flags().StringVar(&target, "target", "all", "hot-standby, wal-streamer, or all")
	cmd.Flags().BoolVar(&minimal, "minimal", false, "machine-readable one-line-per-row output")
	return cmd
}
