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

// Package rebuildxlogdb implements the rebuild-xlogdb command: regenerate
// xlog.db from the WAL files actually present on disk, recovering from a
// corrupt or lost index.
package rebuildxlogdb

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cloudnative-pg/barman-host-manager/internal/catalog"
	"github.com/cloudnative-pg/barman-host-manager/internal/cmdutil"
)

// NewCmd builds the rebuild-xlogdb command.
func NewCmd(g *cmdutil.Globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "rebuild-xlogdb SERVER",
		Short:         "Regenerate xlog.db from the WAL files present on disk",
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
			records, err := catalog.RebuildXlogDB(cat.Home)
			if err != nil {
				return err
			}
			fmt.Fprintf(cobraCmd.OutOrStdout(), "rebuild-xlogdb: %s: %d record(s) rebuilt\n", args[0], len(records))
			return nil
		},
	}
	return cmd
}
