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

// Package deletecmd implements the delete command: remove one backup,
// named by id or alias, from the catalog.
package deletecmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cloudnative-pg/barman-host-manager/internal/catalog"
	"github.com/cloudnative-pg/barman-host-manager/internal/cmdutil"
	"github.com/cloudnative-pg/barman-host-manager/internal/hooks"
)

// NewCmd builds the delete command.
func NewCmd(g *cmdutil.Globals) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:           "delete SERVER BACKUP_ID",
		Short:         "Delete one backup from the catalog",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ExactArgs(2),
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			bctx, err := g.Load()
			if err != nil {
				return err
			}
			server, cat, err := cmdutil.ResolveServer(bctx, args[0])
			if err != nil {
				return err
			}
			b, err := cat.Lookup(args[1])
			if err != nil {
				return err
			}
			if b.KeepTarget != catalog.KeepTargetNone && !force {
				return fmt.Errorf("delete: %s is kept (%s); pass --force to delete it anyway", b.ID, b.KeepTarget)
			}

			ctx := cobraCmd.Context()
			logger := bctx.Logger.WithName("delete")
			env := hooks.Env{Server: server.Name, BackupID: b.ID}
			if err := hooks.Run(ctx, logger, server.Hooks.PreDelete, hooks.PhasePre, false, env); err != nil {
				return err
			}

			deleteErr := cat.Delete(b)

			status := "DONE"
			if deleteErr != nil {
				status = "FAILED"
			}
			postEnv := env
			postEnv.Status = status
			if hookErr := hooks.Run(ctx, logger, server.Hooks.PostDelete, hooks.PhasePost, false, postEnv); hookErr != nil && deleteErr == nil {
				return hookErr
			}
			if deleteErr != nil {
				return deleteErr
			}

			fmt.Fprintf(cobraCmd.OutOrStdout(), "delete: %s removed\n", b.ID)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "delete even if the backup is marked keep")
	return cmd
}
