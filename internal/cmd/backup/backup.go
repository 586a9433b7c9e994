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

// Package backup implements the backup command, driving the Base Backup
// Executor for one server.
package backup

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/cloudnative-pg/barman-host-manager/internal/basebackup"
	"github.com/cloudnative-pg/barman-host-manager/internal/cmdutil"
	"github.com/cloudnative-pg/barman-host-manager/internal/config"
)

// NewCmd builds the backup command.
func NewCmd(g *cmdutil.Globals) *cobra.Command {
	var (
		incremental          string
		name                 string
		reuseBackup          string
		immediateCheckpoint  bool
		wait                 bool
		waitTimeout          time.Duration
		jobs                 int
		retryTimes           int
		retrySleep           time.Duration
		manifest             bool
		bwlimit              int64
		keepPartialOnFailure bool
	)

	cmd := &cobra.Command{
		Use:           "backup SERVER",
		Short:         "Take a new base backup of SERVER",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ExactArgs(1),
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			bctx, err := g.Load()
			if err != nil {
				return err
			}
			server, cat, err := cmdutil.OpenServer(bctx, args[0])
			if err != nil {
				return err
			}

			effective := *server
			if reuseBackup != "" {
				effective.ReuseBackup = config.ReuseBackupMode(reuseBackup)
			}
			if immediateCheckpoint {
				effective.ImmediateCheckpoint = true
			}
			if jobs > 0 {
				effective.ParallelJobs = jobs
			}
			if retryTimes > 0 {
				effective.BasebackupRetryTimes = retryTimes
			}
			if retrySleep > 0 {
				effective.BasebackupRetrySleep = retrySleep
			}
			if bwlimit > 0 {
				effective.BandwidthLimit = bwlimit
			}
			if manifest {
				effective.AutogenerateManifest = true
			}

			var conn *basebackup.ManagementConn
			if effective.BackupMethod != config.MethodSnapshot {
				conn, err = basebackup.Dial(effective.Name, effective.Conn)
				if err != nil {
					return err
				}
				defer conn.Close() //nolint:errcheck
			}

			executor := &basebackup.Executor{
				Server:  &effective,
				Catalog: cat,
				Ctx:     bctx.ForServer(effective.Name),
				Conn:    conn,
			}
			_, err = executor.Run(cobraCmd.Context(), basebackup.Options{
				Name:                 name,
				IncrementalParent:    incremental,
				Wait:                 wait,
				WaitTimeout:          waitTimeout,
				KeepPartialOnFailure: keepPartialOnFailure,
			})
			return err
		},
	}

	cmd.Flags().StringVar(&incremental, "incremental", "", "backup id of the parent for a native incremental backup")
	cmd.Flags().StringVar(&name, "name", "", "human-friendly name recorded on the backup")
	cmd.Flags().StringVar(&reuseBackup, "reuse-backup", "", "override reuse_backup: off, copy or link")
	cmd.Flags().BoolVar(&immediateCheckpoint, "immediate-checkpoint", false, "force a fast checkpoint at backup start")
	cmd.Flags().BoolVar(&wait, "wait", false, "wait for the backup's WAL range to reach the archive before returning")
	cmd.Flags().DurationVar(&waitTimeout, "wait-timeout", 0, "maximum time to wait with --wait")
	cmd.Flags().IntVar(&jobs, "jobs", 0, "override parallel_jobs")
	cmd.Flags().IntVar(&retryTimes, "retry-times", 0, "override basebackup_retry_times")
	cmd.Flags().DurationVar(&retrySleep, "retry-sleep", 0, "override basebackup_retry_sleep")
	cmd.Flags().BoolVar(&manifest, "manifest", false, "force backup_manifest generation")
	cmd.Flags().Int64Var(&bwlimit, "bwlimit", 0, "override bandwidth_limit in bytes/s")
	cmd.Flags().BoolVar(&keepPartialOnFailure, "keep-partial-on-failure", false, "do not remove the data directory when the backup fails")

	return cmd
}
