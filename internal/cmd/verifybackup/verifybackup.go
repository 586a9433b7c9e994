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

// Package verifybackup implements the verify-backup command: re-hash every
// file the stored backup_manifest claims and report any divergence, the
// pg_verifybackup-equivalent integrity check.
package verifybackup

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cloudnative-pg/barman-host-manager/internal/barmanerrors"
	"github.com/cloudnative-pg/barman-host-manager/internal/basebackup"
	"github.com/cloudnative-pg/barman-host-manager/internal/catalog"
	"github.com/cloudnative-pg/barman-host-manager/internal/cmdutil"
)

// NewCmd builds the verify-backup command.
func NewCmd(g *cmdutil.Globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "verify-backup SERVER BACKUP_ID",
		Short:         "Verify a backup's files against its stored manifest",
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

			root := catalog.BackupDataDir(cat.Home, b.ID)
			manifest, err := basebackup.ReadManifest(root)
			if err != nil {
				return err
			}
			mismatches, err := basebackup.Verify(root, manifest)
			if err != nil {
				return err
			}
			out := cobraCmd.OutOrStdout()
			if len(mismatches) == 0 {
				fmt.Fprintf(out, "verify-backup: %s: OK, %d file(s) verified\n", b.ID, len(manifest.Files))
				return nil
			}
			for _, m := range mismatches {
				fmt.Fprintf(out, "verify-backup: %s: %s: %s\n", b.ID, m.Path, m.Reason)
			}
			return barmanerrors.New(barmanerrors.KindChecksumMismatch,
				fmt.Sprintf("%s: %d file(s) failed verification", b.ID, len(mismatches)), nil)
		},
	}
	return cmd
}
