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

// Package orchestrator is the Server Orchestrator: the cron-driven
// maintenance loop that ties the catalog, WAL archiver, retention engine
// and metrics exporter together into the per-server routine the "cron"
// and "diagnose" commands drive.
package orchestrator

import (
	"context"
	"path/filepath"
	"sort"

	"github.com/cloudnative-pg/barman-host-manager/internal/barmanctx"
	"github.com/cloudnative-pg/barman-host-manager/internal/catalog"
	"github.com/cloudnative-pg/barman-host-manager/internal/catalog/lock"
	"github.com/cloudnative-pg/barman-host-manager/internal/compression"
	"github.com/cloudnative-pg/barman-host-manager/internal/config"
	"github.com/cloudnative-pg/barman-host-manager/internal/hooks"
	"github.com/cloudnative-pg/barman-host-manager/internal/metrics"
	"github.com/cloudnative-pg/barman-host-manager/internal/retention"
	"github.com/cloudnative-pg/barman-host-manager/internal/streamdriver"
	"github.com/cloudnative-pg/barman-host-manager/internal/walarchive"
	"github.com/cloudnative-pg/barman-host-manager/internal/walstreamer"
)

// Orchestrator drives one maintenance pass across every configured
// server. It holds no per-server state itself beyond the receiver
// supervisor; MaintainServer is safe to call concurrently for distinct
// servers.
type Orchestrator struct {
	Ctx      *barmanctx.Context
	Exporter *metrics.Exporter

	// Streamers supervises streaming_archiver receivers. Nil disables
	// receiver management entirely (a one-shot "cron" invocation has no
	// business starting a long-lived subprocess it won't stick around to
	// supervise).
	Streamers *walstreamer.Supervisor
	// StreamDriver builds the receiver argv; defaults to a plain
	// streamdriver.NativeDriver when nil.
	StreamDriver streamdriver.Driver
}

// New builds an Orchestrator. exporter may be nil, in which case
// maintenance runs without recording metrics (used by commands that only
// need the side effects, like a one-shot "cron" invocation without a
// metrics server running alongside it).
func New(ctx *barmanctx.Context, exporter *metrics.Exporter) *Orchestrator {
	return &Orchestrator{Ctx: ctx, Exporter: exporter}
}

// Report summarizes one server's maintenance pass.
type Report struct {
	Server        string
	ArchiveResult *walarchive.Result
	RetentionPlan retention.Plan
	Diagnostics   []CheckResult
}

// MaintainServer runs the full maintenance routine for one server:
// archive any WAL sitting in incoming/streaming, reload the catalog,
// evaluate retention, run diagnostics, and record everything observed
// against the metrics exporter.
func (o *Orchestrator) MaintainServer(ctx context.Context, server *config.Server) (*Report, error) {
	home := serverHome(o.Ctx.Config, server)
	cat, err := catalog.Open(server.Name, home)
	if err != nil {
		return nil, err
	}
	if err := cat.EnsureLayout(); err != nil {
		return nil, err
	}

	report := &Report{Server: server.Name}

	if server.Archiver {
		archiver := &walarchive.Archiver{
			Catalog:      cat,
			Compression:  compression.Algorithm(server.Compression),
			ParallelJobs: server.ParallelJobs,
			RetryTimes:   server.ArchiveRetryTimes,
			RetrySleep:   server.ArchiveRetrySleep,
			Logger:       o.Ctx.Logger.WithName("walarchive"),
		}
		result, err := archiver.ArchiveIngress(ctx)
		if err != nil {
			return report, err
		}
		report.ArchiveResult = result
		if o.Exporter != nil {
			installed, failed := countOutcomes(result)
			o.Exporter.ObserveWALArchived(server.Name, installed)
			o.Exporter.ObserveWALArchiveFailed(server.Name, failed)
		}
	}

	if server.StreamingArchiver && o.Streamers != nil {
		if err := o.ensureReceiver(cat, server); err != nil {
			o.Ctx.Logger.Error(err, "failed to ensure streaming receiver", "server", server.Name)
		}
	}

	if err := cat.Reload(); err != nil {
		return report, err
	}

	if o.Exporter != nil {
		if last := lastDoneBackup(cat); last != nil {
			o.Exporter.ObserveBackupOutcome(server.Name, true, last.EndTime, last.Size)
		}
		o.Exporter.ObserveFirstRecoverabilityPoint(server.Name, cat.FirstRecoverabilityPoint())
	}

	policy, err := retention.ParsePolicy(server.RetentionPolicy)
	if err != nil {
		return report, err
	}
	report.RetentionPlan = retention.Evaluate(cat, policy, server.MinimumRedundancy, o.Ctx.Clock.Now())
	if o.Exporter != nil {
		o.Exporter.ObserveRetentionPlan(server.Name, len(report.RetentionPlan.ObsoleteBackups), report.RetentionPlan.MinimumRedundancyWarning)
	}
	if err := o.applyRetentionPlan(ctx, cat, server, report.RetentionPlan); err != nil {
		o.Ctx.Logger.Error(err, "failed to apply retention plan", "server", server.Name)
	} else if len(report.RetentionPlan.ObsoleteBackups) > 0 {
		if err := cat.Reload(); err != nil {
			return report, err
		}
	}

	report.Diagnostics = Diagnose(ctx, o.Ctx, server, cat)
	if o.Exporter != nil {
		for _, c := range report.Diagnostics {
			if c.Name == checkReplicationSlot {
				o.Exporter.ObserveReplicationSlot(server.Name, c.OK)
			}
		}
	}

	return report, nil
}

// ensureReceiver starts server's streaming receiver if it is not already
// running, a no-op on every call after the first.
func (o *Orchestrator) ensureReceiver(cat *catalog.Catalog, server *config.Server) error {
	driver := o.StreamDriver
	if driver == nil {
		driver = streamdriver.NativeDriver{}
	}
	argv, err := driver.Command(server, filepath.Join(cat.Home, "streaming"))
	if err != nil {
		return err
	}
	return o.Streamers.Start(cat, argv, o.Ctx.Logger.WithName("walstreamer"), o.Ctx.Clock, true)
}

// applyRetentionPlan deletes every backup and WAL segment retention.Evaluate
// marked obsolete, under the same backup/delete lock exclusivity a manual
// "delete" invocation observes (spec: backup and delete never run
// concurrently). Deletion is skipped entirely, not partially, when either
// lock is already held elsewhere — a concurrent backup or manual delete
// in flight — leaving the plan for the next cron tick to pick back up
// rather than racing it.
func (o *Orchestrator) applyRetentionPlan(ctx context.Context, cat *catalog.Catalog, server *config.Server, plan retention.Plan) error {
	if len(plan.ObsoleteBackups) == 0 && len(plan.ObsoleteWALs) == 0 {
		return nil
	}

	backupLock, err := cat.Lock(lock.KindBackup)
	if err != nil {
		return err
	}
	defer backupLock.Release() //nolint:errcheck

	deleteLock, err := cat.Lock(lock.KindDelete)
	if err != nil {
		return err
	}
	defer deleteLock.Release() //nolint:errcheck

	logger := o.Ctx.Logger.WithName("retention")

	// Newest obsolete backup first: an incremental chain's child always
	// carries a later ID than its parent, and Catalog.Delete refuses to
	// remove a backup that still has children on disk.
	obsoleteBackups := append([]string(nil), plan.ObsoleteBackups...)
	sort.Sort(sort.Reverse(sort.StringSlice(obsoleteBackups)))

	for _, id := range obsoleteBackups {
		b, err := cat.Lookup(id)
		if err != nil {
			logger.Error(err, "looking up obsolete backup", "server", server.Name, "backup", id)
			continue
		}

		env := hooks.Env{Server: server.Name, BackupID: b.ID}
		if err := hooks.Run(ctx, logger, server.Hooks.PreDelete, hooks.PhasePre, false, env); err != nil {
			logger.Error(err, "pre_delete_script aborted retention delete", "server", server.Name, "backup", id)
			continue
		}

		deleteErr := cat.Delete(b)
		status := "DONE"
		if deleteErr != nil {
			status = "FAILED"
			logger.Error(deleteErr, "deleting obsolete backup", "server", server.Name, "backup", id)
		}
		postEnv := env
		postEnv.Status = status
		if hookErr := hooks.Run(ctx, logger, server.Hooks.PostDelete, hooks.PhasePost, false, postEnv); hookErr != nil {
			logger.Error(hookErr, "post_delete_script failed", "server", server.Name, "backup", id)
		}
	}

	if err := cat.DeleteWALs(plan.ObsoleteWALs); err != nil {
		logger.Error(err, "deleting obsolete WALs", "server", server.Name)
		return err
	}
	return nil
}

func countOutcomes(r *walarchive.Result) (installed, failed int) {
	for _, o := range r.Outcomes {
		if o.Installed {
			installed++
		}
		if o.Err != nil {
			failed++
		}
	}
	return installed, failed
}

func lastDoneBackup(cat *catalog.Catalog) *catalog.Backup {
	backups := cat.Backups()
	for i := len(backups) - 1; i >= 0; i-- {
		if backups[i].IsDone() {
			return backups[i]
		}
	}
	return nil
}

func serverHome(cfg *config.Config, server *config.Server) string {
	if server.BarmanHome != "" {
		return server.BarmanHome
	}
	return cfg.Global.BarmanHome + "/" + server.Name
}

// MaintainAll runs MaintainServer for every configured server, continuing
// past a single server's failure so one misconfigured or unreachable
// server never blocks maintenance of the rest; failures are returned
// alongside their server name rather than aborting the whole pass.
func (o *Orchestrator) MaintainAll(ctx context.Context) (map[string]*Report, map[string]error) {
	reports := make(map[string]*Report, len(o.Ctx.Config.Servers))
	errs := make(map[string]error)
	for name, server := range o.Ctx.Config.Servers {
		if server.Passive {
			continue
		}
		report, err := o.MaintainServer(ctx, server)
		if err != nil {
			errs[name] = err
			continue
		}
		reports[name] = report
	}
	return reports, errs
}
