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

// Package keep implements the keep command: mark a backup exempt from
// retention-policy deletion, or release a previous exemption.
package keep

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cloudnative-pg/barman-host-manager/internal/catalog"
	"github.com/cloudnative-pg/barman-host-manager/internal/cmdutil"
)

// NewCmd builds the keep command.
func NewCmd(g *cmdutil.Globals) *cobra.Command {
	var target string
	var release bool
	var status bool

	cmd := &cobra.Command{
		Use:           "keep SERVER BACKUP_ID",
		Short:         "Mark a backup as kept (exempt from retention), or release it",
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
			if status {
				if b.KeepTarget == catalog.KeepTargetNone {
					fmt.Fprintf(out, "%s: not kept\n", b.ID)
				} else {
					fmt.Fprintf(out, "%s: keep %s\n", b.ID, b.KeepTarget)
				}
				return nil
			}

			if release {
				b.KeepTarget = catalog.KeepTargetNone
				if err := catalog.WriteBackupInfo(cat.Home, b); err != nil {
					return err
				}
				fmt.Fprintf(out, "keep: %s released\n", b.ID)
				return nil
			}

			switch target {
			case "full":
				b.KeepTarget = catalog.KeepTargetFull
			case "standalone":
				b.KeepTarget = catalog.KeepTargetStandalone
			default:
				return fmt.Errorf("keep: --target must be full or standalone, got %q", target)
			}
			if !b.IsDone() {
				return fmt.Errorf("keep: %s is not DONE (status=%s)", b.ID, b.Status)
			}
			if err := catalog.WriteBackupInfo(cat.Home, b); err != nil {
				return err
			}
			fmt.Fprintf(out, "keep: %s kept (%s)\n", b.ID, b.KeepTarget)
			return nil
		},
	}

	cmd.Flags().StringVar(&target, "target", "", "full or standalone")
	cmd.Flags().BoolVar(&release, "release", false, "release a previous keep")
	cmd.Flags().BoolVar(&status, "status", false, "print the current keep status and exit")
	return cmd
}
