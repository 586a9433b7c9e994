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

// Package cron implements the cron command: one maintenance pass over
// every active server (archiving, streamer reconciliation, retention,
// backup sanity checks, stale-lock cleanup), or, with --daemon, a
// long-running process that ticks the same pass on its own schedule
// instead of relying on the OS's cron invoking it repeatedly.
package cron

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cloudnative-pg/barman-host-manager/internal/cmdutil"
	"github.com/cloudnative-pg/barman-host-manager/internal/metrics"
	"github.com/cloudnative-pg/barman-host-manager/internal/orchestrator"
)

// NewCmd builds the cron command.
func NewCmd(g *cmdutil.Globals) *cobra.Command {
	var keepDescriptors bool
	var daemon bool
	var schedule string

	cmd := &cobra.Command{
		Use:           "cron",
		Short:         "Run one maintenance pass over every active server",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cobraCmd *cobra.Command, _ []string) error {
			bctx, err := g.Load()
			if err != nil {
				return err
			}
			// keep-descriptors is accepted for compatibility with wrapper
			// scripts that still pass it; this implementation never closes
			// inherited file descriptors before dispatching hooks, so there
			// is nothing for the flag to change.
			_ = keepDescriptors

			orch := &orchestrator.Orchestrator{Ctx: bctx, Exporter: metrics.NewExporter()}
			out := cobraCmd.OutOrStdout()

			if !daemon {
				reports, errs := orch.MaintainAll(cobraCmd.Context())
				for name, r := range reports {
					archived := 0
					if r.ArchiveResult != nil {
						for _, o := range r.ArchiveResult.Outcomes {
							if o.Installed {
								archived++
							}
						}
					}
					fmt.Fprintf(out, "cron: %s: %d WAL archived, %d diagnostic(s) run\n", name, archived, len(r.Diagnostics))
				}
				if len(errs) > 0 {
					for name, err := range errs {
						fmt.Fprintf(out, "cron: %s: FAILED: %v\n", name, err)
					}
					return fmt.Errorf("cron: %d server(s) failed maintenance", len(errs))
				}
				return nil
			}

			if schedule == "" {
				schedule = "0 */5 * * * *"
			}
			sched := orchestrator.NewScheduler(orch)
			if err := sched.Every(schedule); err != nil {
				return fmt.Errorf("cron: invalid --schedule %q: %w", schedule, err)
			}
			ctx, stop := signal.NotifyContext(cobraCmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			fmt.Fprintf(out, "cron: running as a daemon on schedule %q\n", schedule)
			sched.Run(ctx)
			return nil
		},
	}

	cmd.Flags().BoolVar(&keepDescriptors, "keep-descriptors", false, "compatibility flag, accepted but unused")
	cmd.Flags().BoolVar(&daemon, "daemon", false, "stay resident and tick on --schedule instead of running once")
	cmd.Flags().StringVar(&schedule, "schedule", "", "cron.WithSeconds() expression for --daemon (default every 5 minutes)")
	return cmd
}
