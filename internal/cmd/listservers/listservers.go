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

// Package listservers implements the list-servers command.
package listservers

import (
	"fmt"

	"github.com/cheynewallace/tabby"
	"github.com/spf13/cobra"

	"github.com/cloudnative-pg/barman-host-manager/internal/cmdutil"
)

// NewCmd builds the list-servers command.
func NewCmd(g *cmdutil.Globals) *cobra.Command {
	var minimal bool

	cmd := &cobra.Command{
		Use:           "list-servers",
		Short:         "List every configured server",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cobraCmd *cobra.Command, _ []string) error {
			bctx, err := g.Load()
			if err != nil {
				return err
			}
			au := cmdutil.Colors(cobraCmd, g.NoColor)
			out := cobraCmd.OutOrStdout()

			names := bctx.Config.SortedServerNames()
			if minimal {
				for _, name := range names {
					fmt.Fprintln(out, name)
				}
				return nil
			}

			t := tabby.NewCustom(cmdutil.NewTabWriter(out))
			t.AddHeader("SERVER", "DESCRIPTION", "ARCHIVER", "STREAMING", "PASSIVE")
			for _, name := range names {
				server := bctx.Config.Servers[name]
				archiver := au.Red("off")
				if server.Archiver {
					archiver = au.Green("on")
				}
				streaming := au.Red("off")
				if server.StreamingArchiver {
					streaming = au.Green("on")
				}
				t.AddLine(name, server.Description, archiver, streaming, server.Passive)
			}
			t.Print()
			return nil
		},
	}

	cmd.Flags().BoolVar(&minimal, "minimal", false, "print only server names, one per line")
	return cmd
}
