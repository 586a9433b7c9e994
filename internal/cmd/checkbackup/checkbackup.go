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

// Package checkbackup implements the check-backup command: a lightweight
// sanity check of one backup's recorded metadata, short of the full
// checksum verification verify-backup performs.
package checkbackup

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cloudnative-pg/barman-host-manager/internal/catalog"
	"github.com/cloudnative-pg/barman-host-manager/internal/cmdutil"
)

// NewCmd builds the check-backup command.
func NewCmd(g *cmdutil.Globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "check-backup SERVER BACKUP_ID",
		Short:         "Sanity-check one backup's recorded metadata",
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
			return check(cat, b)
		},
	}
	return cmd
}

func check(cat *catalog.Catalog, b *catalog.Backup) error {
	if !b.IsDone() {
		return fmt.Errorf("check-backup: %s is not DONE (status=%s)", b.ID, b.Status)
	}
	if b.BeginWAL == "" || b.EndWAL == "" {
		return fmt.Errorf("check-backup: %s is missing its begin/end WAL range", b.ID)
	}
	if b.IsIncremental() {
		if _, err := cat.Lookup(b.ParentBackupID); err != nil {
			return fmt.Errorf("check-backup: %s references missing parent %s: %w", b.ID, b.ParentBackupID, err)
		}
	}
	if ok, err := cat.HasWAL(b.BeginWAL); err != nil {
		return fmt.Errorf("check-backup: %s: %w", b.ID, err)
	} else if !ok {
		return fmt.Errorf("check-backup: %s: begin_wal %s is not in xlog.db", b.ID, b.BeginWAL)
	}
	return nil
}
