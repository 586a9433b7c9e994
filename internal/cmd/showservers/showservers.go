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

// Package showservers implements the show-servers command.
package showservers

import (
	"github.com/cheynewallace/tabby"
	"github.com/spf13/cobra"

	"github.com/cloudnative-pg/barman-host-manager/internal/cmdutil"
)

// NewCmd builds the show-servers command.
func NewCmd(g *cmdutil.Globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "show-servers SERVER",
		Short:         "Show the fully-resolved configuration of SERVER",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ExactArgs(1),
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			bctx, err := g.Load()
			if err != nil {
				return err
			}
			server, err := bctx.Config.Server(args[0])
			if err != nil {
				return err
			}

			out := cobraCmd.OutOrStdout()
			t := tabby.NewCustom(cmdutil.NewTabWriter(out))
			t.AddLine("description", server.Description)
			t.AddLine("conn", server.Conn)
			t.AddLine("stream_conn", server.StreamConn)
			t.AddLine("backup_method", server.BackupMethod)
			t.AddLine("archiver", server.Archiver)
			t.AddLine("streaming_archiver", server.StreamingArchiver)
			t.AddLine("slot_name", server.SlotName)
			t.AddLine("retention_policy", server.RetentionPolicy)
			t.AddLine("minimum_redundancy", server.MinimumRedundancy)
			t.AddLine("compression", server.Compression)
			t.AddLine("reuse_backup", server.ReuseBackup)
			t.AddLine("parallel_jobs", server.ParallelJobs)
			t.AddLine("bandwidth_limit", server.BandwidthLimit)
			t.AddLine("network_compression", server.NetworkCompression)
			t.AddLine("barman_home", server.BarmanHome)
			t.AddLine("active", server.Active)
			t.AddLine("passive", server.Passive)
			t.Print()
			return nil
		},
	}
	return cmd
}
