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

// Package check implements the check command: run every diagnostic for
// one server, or every configured server when none is named.
package check

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/cloudnative-pg/barman-host-manager/internal/cmdutil"
	"github.com/cloudnative-pg/barman-host-manager/internal/orchestrator"
)

// NewCmd builds the check command.
func NewCmd(g *cmdutil.Globals) *cobra.Command {
	var nagios bool

	cmd := &cobra.Command{
		Use:           "check [SERVER]",
		Short:         "Run every diagnostic check for SERVER, or every server",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.MaximumNArgs(1),
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			bctx, err := g.Load()
			if err != nil {
				return err
			}

			names := bctx.Config.SortedServerNames()
			if len(args) == 1 {
				names = []string{args[0]}
			}

			allOK := true
			var failing []string
			out := cobraCmd.OutOrStdout()

			for _, name := range names {
				server, cat, err := cmdutil.ResolveServer(bctx, name)
				if err != nil {
					return err
				}
				results := orchestrator.Diagnose(cobraCmd.Context(), bctx, server, cat)
				for _, r := range results {
					if !r.OK {
						allOK = false
						failing = append(failing, name+"."+r.Name)
					}
					if !nagios {
						status := "OK"
						if !r.OK {
							status = "FAILED (" + r.Detail + ")"
						}
						fmt.Fprintf(out, "%s %s: %s\n", name, r.Name, status)
					}
				}
			}

			if nagios {
				printNagios(out, allOK, failing)
			}
			if !allOK {
				return fmt.Errorf("check: %d failing diagnostic(s)", len(failing))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&nagios, "nagios", false, "emit a single Nagios-plugin-compatible status line")
	return cmd
}

func printNagios(out io.Writer, ok bool, failing []string) {
	if ok {
		fmt.Fprintln(out, "BARMAN OK - No failed checks")
		return
	}
	fmt.Fprintf(out, "BARMAN CRITICAL - %d issue(s): %v\n", len(failing), failing)
}
