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

// Package generatemanifest implements the generate-manifest command:
// (re)compute the backup_manifest for an already-taken backup, for backups
// that predate autogenerate_manifest or whose manifest was lost.
package generatemanifest

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cloudnative-pg/barman-host-manager/internal/basebackup"
	"github.com/cloudnative-pg/barman-host-manager/internal/catalog"
	"github.com/cloudnative-pg/barman-host-manager/internal/cmdutil"
)

// NewCmd builds the generate-manifest command.
func NewCmd(g *cmdutil.Globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "generate-manifest SERVER BACKUP_ID",
		Short:         "Generate (or regenerate) a backup's verification manifest",
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
			if !b.IsDone() {
				return fmt.Errorf("generate-manifest: %s is not DONE (status=%s)", b.ID, b.Status)
			}

			root := catalog.BackupDataDir(cat.Home, b.ID)
			manifest, err := basebackup.GenerateManifest(root)
			if err != nil {
				return err
			}
			if err := basebackup.WriteManifest(root, manifest); err != nil {
				return err
			}
			fmt.Fprintf(cobraCmd.OutOrStdout(), "generate-manifest: %s: wrote manifest for %d file(s)\n", b.ID, len(manifest.Files))
			return nil
		},
	}
	return cmd
}
