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

// Package configupdate implements the config-update command: apply a JSON
// document of per-server overrides to the config-update overlay file,
// which merges on top of the global and per-server files at load time.
package configupdate

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cloudnative-pg/barman-host-manager/internal/cmdutil"
	"github.com/cloudnative-pg/barman-host-manager/internal/config"
)

type updateDoc struct {
	Server            string `json:"server"`
	RetentionPolicy   string `json:"retention_policy"`
	MinimumRedundancy int    `json:"minimum_redundancy"`
	Compression       string `json:"compression"`
	Active            *bool  `json:"active"`
}

// NewCmd builds the config-update command.
func NewCmd(g *cmdutil.Globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "config-update JSON",
		Short:         "Apply per-server overrides through the config-update overlay",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ExactArgs(1),
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			var doc updateDoc
			if err := json.Unmarshal([]byte(args[0]), &doc); err != nil {
				return fmt.Errorf("config-update: invalid JSON: %w", err)
			}
			if doc.Server == "" {
				return fmt.Errorf("config-update: JSON document must name a \"server\"")
			}

			overlayPath, err := g.OverlayFilePath()
			if err != nil {
				return err
			}
			bctx, err := g.Load()
			if err != nil {
				return err
			}
			if _, err := bctx.Config.Server(doc.Server); err != nil {
				return err
			}

			update := config.OverlayUpdate{
				RetentionPolicy:   doc.RetentionPolicy,
				MinimumRedundancy: doc.MinimumRedundancy,
				Compression:       config.Compression(doc.Compression),
				Active:            doc.Active,
			}
			if err := config.WriteOverlay(overlayPath, doc.Server, update); err != nil {
				return err
			}
			fmt.Fprintf(cobraCmd.OutOrStdout(), "config-update: %s: overlay updated\n", doc.Server)
			return nil
		},
	}
	return cmd
}
