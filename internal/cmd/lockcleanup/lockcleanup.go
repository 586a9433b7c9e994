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

// Package lockcleanup implements the lock-directory-cleanup command:
// remove every stale (unheld) lock file across every configured server.
package lockcleanup

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cloudnative-pg/barman-host-manager/internal/cmdutil"
	"github.com/cloudnative-pg/barman-host-manager/internal/orchestrator"
)

// NewCmd builds the lock-directory-cleanup command.
func NewCmd(g *cmdutil.Globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "lock-directory-cleanup",
		Short:         "Remove stale lock files across every configured server",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cobraCmd *cobra.Command, _ []string) error {
			bctx, err := g.Load()
			if err != nil {
				return err
			}
			out := cobraCmd.OutOrStdout()
			for _, name := range bctx.Config.SortedServerNames() {
				server, err := bctx.Config.Server(name)
				if err != nil {
					return err
				}
				removed, err := orchestrator.CleanStaleLocks(server.BarmanHome, name)
				if err != nil {
					return err
				}
				for _, r := range removed {
					fmt.Fprintf(out, "lock-directory-cleanup: %s: removed %s\n", name, r)
				}
			}
			return nil
		},
	}
	return cmd
}
