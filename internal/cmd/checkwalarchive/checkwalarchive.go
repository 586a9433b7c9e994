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

// Package checkwalarchive implements the check-wal-archive command: the
// safety check run before enabling archiving on a server, refusing to
// proceed when the archive already holds WAL that would conflict with a
// fresh PostgreSQL instance starting from timeline 1.
package checkwalarchive

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cloudnative-pg/barman-host-manager/internal/cmdutil"
	"github.com/cloudnative-pg/barman-host-manager/internal/walfile"
)

// NewCmd builds the check-wal-archive command.
func NewCmd(g *cmdutil.Globals) *cobra.Command {
	var timeline uint32

	cmd := &cobra.Command{
		Use:           "check-wal-archive SERVER",
		Short:         "Verify the WAL archive is safe to start archiving into",
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

			if timeline == 0 {
				timeline = 1
			}
			if len(cat.Backups()) > 0 {
				// An archive that already has backups recorded was
				// deliberately initialized for this server; any WAL present
				// is expected, not a conflict.
				return nil
			}
			records, err := cat.WALRange(
				walfile.Segment{Timeline: timeline},
				walfile.Segment{Timeline: timeline + 1},
				0,
			)
			if err != nil {
				return err
			}
			if len(records) > 0 {
				return fmt.Errorf(
					"check-wal-archive: %s already contains %d WAL segment(s) on timeline %d but has no recorded backup; "+
						"archiving a fresh instance into it would corrupt the catalog", args[0], len(records), timeline)
			}
			return nil
		},
	}

	cmd.Flags().Uint32Var(&timeline, "timeline", 0, "timeline the new instance will start archiving on (default 1)")
	return cmd
}
