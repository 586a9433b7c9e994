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

// Package terminateprocess implements the terminate-process command:
// signal a specific OS process directly, bypassing any supervision tree.
package terminateprocess

import (
	"fmt"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cloudnative-pg/barman-host-manager/internal/cmdutil"
	"github.com/cloudnative-pg/barman-host-manager/internal/orchestrator"
)

// NewCmd builds the terminate-process command.
func NewCmd(g *cmdutil.Globals) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:           "terminate-process SERVER TASK",
		Short:         "Terminate a process reported by list-processes",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ExactArgs(2),
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			if _, err := g.Load(); err != nil {
				return err
			}
			pid, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("terminate-process: TASK must be a PID, got %q", args[1])
			}
			sig := syscall.SIGTERM
			if force {
				sig = syscall.SIGKILL
			}
			if err := orchestrator.TerminateProcess(pid, sig); err != nil {
				return err
			}
			fmt.Fprintf(cobraCmd.OutOrStdout(), "terminate-process: sent %s to %d\n", sig, pid)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "send SIGKILL instead of SIGTERM")
	return cmd
}
