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

// Package configswitch implements the config-switch command: set or clear
// a server's retention-policy model through the config-update overlay.
package configswitch

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cloudnative-pg/barman-host-manager/internal/cmdutil"
	"github.com/cloudnative-pg/barman-host-manager/internal/config"
)

// NewCmd builds the config-switch command.
func NewCmd(g *cmdutil.Globals) *cobra.Command {
	var reset bool

	cmd := &cobra.Command{
		Use:           "config-switch SERVER {MODEL|--reset}",
		Short:         "Switch a server's retention-policy model, or reset its overlay",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.RangeArgs(1, 2),
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			overlayPath, err := g.OverlayFilePath()
			if err != nil {
				return err
			}
			bctx, err := g.Load()
			if err != nil {
				return err
			}
			name := args[0]
			if _, err := bctx.Config.Server(name); err != nil {
				return err
			}

			if reset {
				if err := config.ResetOverlay(overlayPath, name); err != nil {
					return err
				}
				fmt.Fprintf(cobraCmd.OutOrStdout(), "config-switch: %s: overlay reset\n", name)
				return nil
			}

			if len(args) != 2 {
				return fmt.Errorf("config-switch: MODEL is required unless --reset is given")
			}
			update := config.OverlayUpdate{RetentionPolicy: args[1]}
			if err := config.WriteOverlay(overlayPath, name, update); err != nil {
				return err
			}
			fmt.Fprintf(cobraCmd.OutOrStdout(), "config-switch: %s: retention_policy set to %q\n", name, args[1])
			return nil
		},
	}

	cmd.Flags().BoolVar(&reset, "reset", false, "drop this server's overlay entry")
	return cmd
}
