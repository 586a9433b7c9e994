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

// Package listprocesses implements the list-processes command. It runs as
// a separate, short-lived process from the long-running cron daemon that
// actually supervises receivers, so it observes state the same way a
// reconciler would after a restart: by reading the receiver's PID file
// from disk and probing liveness, rather than through an in-process
// walstreamer.Supervisor handle.
package listprocesses

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/cheynewallace/tabby"
	"github.com/spf13/cobra"

	"github.com/cloudnative-pg/barman-host-manager/internal/cmdutil"
)

// NewCmd builds the list-processes command.
func NewCmd(g *cmdutil.Globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "list-processes SERVER",
		Short:         "List the long-lived receiver process tracked for a server",
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

			pidPath := filepath.Join(cat.Home, ".receive-wal.pid")
			data, err := os.ReadFile(pidPath) //nolint:gosec
			out := cobraCmd.OutOrStdout()
			t := tabby.NewCustom(cmdutil.NewTabWriter(out))
			t.AddHeader("KIND", "PID", "ALIVE")
			if err != nil {
				t.Print()
				return nil
			}
			pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
			if err != nil {
				t.Print()
				return nil
			}
			alive := processAlive(pid)
			t.AddLine("receive-wal", pid, alive)
			t.Print()
			return nil
		},
	}
	return cmd
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
