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

package basebackup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cloudnative-pg/barman-host-manager/internal/barmanctx"
	"github.com/cloudnative-pg/barman-host-manager/internal/barmanerrors"
	"github.com/cloudnative-pg/barman-host-manager/internal/catalog"
	"github.com/cloudnative-pg/barman-host-manager/internal/catalog/lock"
	"github.com/cloudnative-pg/barman-host-manager/internal/config"
	"github.com/cloudnative-pg/barman-host-manager/internal/copydriver"
	"github.com/cloudnative-pg/barman-host-manager/internal/hooks"
)

const backupIDLayout = "20060102T150405"

// Options are the per-invocation knobs layered on top of a server's static
// configuration.
type Options struct {
	Name                 string
	IncrementalParent    string
	Wait                 bool
	WaitTimeout          time.Duration
	KeepPartialOnFailure bool
}

// Executor runs the Base Backup Executor protocol for one server.
type Executor struct {
	Server  *config.Server
	Catalog *catalog.Catalog
	Ctx     *barmanctx.Context
	Conn    *ManagementConn
	Driver  SnapshotDriver // only consulted for backup_method=snapshot
}

// Run drives the whole begin-to-end protocol, returning the finished
// Backup record (DONE or FAILED — FAILED is returned alongside a non-nil
// error, never silently dropped).
func (e *Executor) Run(ctx context.Context, opts Options) (*catalog.Backup, error) {
	l, err := e.Catalog.Lock(lock.KindBackup)
	if err != nil {
		return nil, err
	}
	defer l.Release() //nolint:errcheck

	backup := &catalog.Backup{
		ID:         e.Ctx.Clock.Now().Format(backupIDLayout),
		Status:     catalog.StatusStarted,
		ServerName: e.Server.Name,
		Name:       opts.Name,
		Mode:       string(e.Server.BackupMethod),
	}
	if opts.IncrementalParent != "" {
		backup.ParentBackupID = opts.IncrementalParent
		backup.BackupType = catalog.BackupTypeIncremental
	} else {
		backup.BackupType = backupTypeForMethod(e.Server.BackupMethod)
	}

	if err := catalog.WriteBackupInfo(e.Catalog.Home, backup); err != nil {
		return nil, err
	}

	if err := e.dispatchHook(ctx, hooks.PhasePre, backup, ""); err != nil {
		backup.Status = catalog.StatusFailed
		backup.Error = err.Error()
		_ = catalog.WriteBackupInfo(e.Catalog.Home, backup)
		return backup, err
	}

	result, runErr := e.runProtocol(ctx, backup, opts)

	status := string(catalog.StatusDone)
	hookErr := ""
	if runErr != nil {
		status = string(catalog.StatusFailed)
		hookErr = runErr.Error()
		backup.Status = catalog.StatusFailed
		backup.Error = hookErr
		if !opts.KeepPartialOnFailure {
			_ = os.RemoveAll(backupDataDir(e.Ctx.Config.Global.BarmanHome, e.Server.Name, backup.ID))
		}
	} else {
		backup.Status = catalog.StatusDone
	}
	_ = catalog.WriteBackupInfo(e.Catalog.Home, backup)

	// post hooks always run even on failure, with BARMAN_STATUS reflecting
	// the true outcome.
	if hookErr2 := e.dispatchHookWithStatus(ctx, hooks.PhasePost, backup, status, hookErr); hookErr2 != nil && runErr == nil {
		runErr = hookErr2
	}

	return result, runErr
}

func backupTypeForMethod(method config.BackupMethod) catalog.BackupType {
	switch method {
	case config.MethodSnapshot:
		return catalog.BackupTypeSnapshot
	case config.MethodRsyncLike, config.MethodLocalRsync:
		return catalog.BackupTypeRsync
	default:
		return catalog.BackupTypeFull
	}
}

func (e *Executor) runProtocol(ctx context.Context, backup *catalog.Backup, opts Options) (*catalog.Backup, error) {
	switch e.Server.BackupMethod {
	case config.MethodSnapshot:
		return e.runSnapshot(ctx, backup)
	case config.MethodNativeBasebackup:
		return e.runNative(ctx, backup, opts)
	default:
		return e.runRsyncLike(ctx, backup, opts)
	}
}

func (e *Executor) runRsyncLike(ctx context.Context, backup *catalog.Backup, opts Options) (*catalog.Backup, error) {
	info, err := e.Conn.Inspect(ctx)
	if err != nil {
		return backup, err
	}
	backup.Version = parseVersionInt(info.Version)
	backup.SystemIdentifier = info.SystemIdentifier
	backup.PGData = info.DataDirectory
	for _, ts := range info.Tablespaces {
		backup.Tablespaces = append(backup.Tablespaces, catalog.Tablespace{Name: ts.Name, OID: ts.OID, Location: ts.Location})
	}

	begin, err := e.Conn.BeginBackup(ctx, "barman backup "+backup.ID, false)
	if err != nil {
		return backup, err
	}
	backup.BeginXlog = begin.LSN
	backup.BeginWAL = begin.WALFile
	backup.BeginTime = begin.Time
	backup.Timeline = begin.Timeline
	_ = catalog.WriteBackupInfo(e.Catalog.Home, backup)

	backup.Status = catalog.StatusCopying
	_ = catalog.WriteBackupInfo(e.Catalog.Home, backup)

	dataDir := backupDataDir(e.Ctx.Config.Global.BarmanHome, e.Server.Name, backup.ID)
	keepaliveStop := e.startKeepalive(ctx)
	defer keepaliveStop()

	referenceDir := ""
	if opts.IncrementalParent != "" {
		referenceDir = backupDataDir(e.Ctx.Config.Global.BarmanHome, e.Server.Name, opts.IncrementalParent)
	}

	copyResult, err := copydriver.Run(ctx, copydriver.Options{
		Source:              info.DataDirectory,
		Destination:         dataDir,
		ReferenceDir:        referenceDir,
		ReuseMode:           copydriver.ReuseMode(e.Server.ReuseBackup),
		ParallelJobs:        e.Server.ParallelJobs,
		BatchSize:           e.Server.ParallelJobsStartBatchSize,
		BatchPeriod:         e.Server.ParallelJobsStartBatchPeriod,
		RetryTimes:          e.Server.BasebackupRetryTimes,
		RetrySleep:          e.Server.BasebackupRetrySleep,
		BandwidthLimitBytes: e.Server.BandwidthLimit,
		Exclude:             excludeFromPhysicalBackup,
	})
	if err != nil {
		return backup, err
	}
	if copyErr := copyResult.FirstError(); copyErr != nil {
		return backup, copyErr
	}
	backup.Size = copyResult.TotalBytes()

	if e.Server.PrimaryConnInfo != "" {
		if err := e.switchWALOnPrimary(ctx); err != nil {
			e.Ctx.Logger.Error(err, "WAL switch on primary failed", "server", e.Server.Name)
		}
	}

	end, err := e.Conn.EndBackup(ctx, false)
	if err != nil {
		return backup, err
	}
	backup.EndXlog = end.LSN
	backup.EndWAL = end.WALFile
	backup.EndTime = end.Time

	if opts.Wait {
		if err := e.waitForWALRange(backup.BeginWAL, backup.EndWAL, opts.WaitTimeout); err != nil {
			return backup, err
		}
	}

	if e.Server.AutogenerateManifest {
		manifest, err := GenerateManifest(dataDir)
		if err != nil {
			return backup, err
		}
		if err := WriteManifest(dataDir, manifest); err != nil {
			return backup, err
		}
	}

	return backup, nil
}

func (e *Executor) runNative(ctx context.Context, backup *catalog.Backup, opts Options) (*catalog.Backup, error) {
	info, err := e.Conn.Inspect(ctx)
	if err != nil {
		return backup, err
	}
	backup.Version = parseVersionInt(info.Version)
	backup.SystemIdentifier = info.SystemIdentifier
	backup.PGData = info.DataDirectory

	dataDir := backupDataDir(e.Ctx.Config.Global.BarmanHome, e.Server.Name, backup.ID)
	backup.Status = catalog.StatusCopying
	_ = catalog.WriteBackupInfo(e.Catalog.Home, backup)

	checkpoint := "spread"
	if e.Server.ImmediateCheckpoint {
		checkpoint = "fast"
	}

	nativeOpts := NativeBasebackupOptions{
		ConnInfo:    e.Server.Conn,
		TargetDir:   dataDir,
		Compression: string(e.Server.Compression),
		Checkpoint:  checkpoint,
	}
	if opts.IncrementalParent != "" {
		parentManifest := filepath.Join(backupDataDir(e.Ctx.Config.Global.BarmanHome, e.Server.Name, opts.IncrementalParent), "backup_manifest")
		nativeOpts.Incremental = parentManifest
	}

	if err := RunNativeBasebackup(ctx, e.Ctx.Logger, nativeOpts); err != nil {
		return backup, err
	}

	backup.EndTime = e.Ctx.Clock.Now()
	return backup, nil
}

func (e *Executor) runSnapshot(ctx context.Context, backup *catalog.Backup) (*catalog.Backup, error) {
	driver := e.Driver
	if driver == nil {
		driver = NullSnapshotDriver{}
	}

	info, err := e.Conn.Inspect(ctx)
	if err != nil {
		return backup, err
	}
	backup.SystemIdentifier = info.SystemIdentifier
	backup.PGData = info.DataDirectory

	snap, err := driver.Snapshot(ctx, "barman backup "+backup.ID, info.DataDirectory, info.Tablespaces)
	if err != nil {
		return backup, err
	}
	data, marshalErr := marshalSnapshotInfo(snap)
	if marshalErr != nil {
		return backup, marshalErr
	}
	backup.SnapshotsInfo = data
	backup.EndTime = e.Ctx.Clock.Now()
	return backup, nil
}

func (e *Executor) switchWALOnPrimary(ctx context.Context) error {
	primary, err := Dial(e.Server.Name+"-primary", e.Server.PrimaryConnInfo)
	if err != nil {
		return err
	}
	defer primary.Close() //nolint:errcheck

	switchCtx, cancel := context.WithTimeout(ctx, e.Server.PrimaryCheckpointTimeout)
	defer cancel()
	return primary.SwitchWAL(switchCtx)
}

func (e *Executor) startKeepalive(ctx context.Context) func() {
	interval := e.Server.KeepaliveInterval
	if interval <= 0 {
		return func() {}
	}
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = e.Conn.Keepalive(ctx)
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return func() { close(stop) }
}

func (e *Executor) waitForWALRange(beginWAL, endWAL string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 1 * time.Hour
	}
	deadline := e.Ctx.Clock.Now().Add(timeout)
	for {
		if err := e.Catalog.Reload(); err != nil {
			return err
		}
		present, err := e.Catalog.HasWAL(endWAL)
		if err != nil {
			return err
		}
		if present {
			return nil
		}
		if e.Ctx.Clock.Now().After(deadline) {
			return barmanerrors.New(barmanerrors.KindTimeout,
				fmt.Sprintf("timed out waiting for WAL %s to be archived", endWAL), nil)
		}
		time.Sleep(time.Second)
	}
}

func (e *Executor) dispatchHook(ctx context.Context, phase hooks.Phase, backup *catalog.Backup, status string) error {
	return e.dispatchHookWithStatus(ctx, phase, backup, status, "")
}

func (e *Executor) dispatchHookWithStatus(ctx context.Context, phase hooks.Phase, backup *catalog.Backup, status, errMsg string) error {
	script := e.Server.Hooks.Pre
	if phase == hooks.PhasePost {
		script = e.Server.Hooks.Post
	}
	env := hooks.Env{
		Server:    e.Server.Name,
		BackupID:  backup.ID,
		Status:    status,
		Error:     errMsg,
		BackupDir: backupDataDir(e.Ctx.Config.Global.BarmanHome, e.Server.Name, backup.ID),
	}
	return hooks.Run(ctx, e.Ctx.Logger, script, phase, false, env)
}

func backupDataDir(home, server, backupID string) string {
	return filepath.Join(home, server, "base", backupID)
}

// excludeFromPhysicalBackup mirrors PostgreSQL's own pg_basebackup
// exclusion list for files that must never be copied into a physical
// backup (transient server state, not cluster data).
func excludeFromPhysicalBackup(rel string) bool {
	switch rel {
	case "postmaster.pid", "postmaster.opts", "backup_label.old", "pg_internal.init":
		return true
	}
	return false
}
