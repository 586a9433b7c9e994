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

// Package recovery implements the Recovery Planner :
// resolving a backup/target pair into a base-backup chain, a required WAL
// range, and a generated recovery configuration, without performing the
// actual file materialization (left to the recover command, which drives
// this package plus internal/copydriver).
package recovery

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cloudnative-pg/barman-host-manager/internal/barmanerrors"
	"github.com/cloudnative-pg/barman-host-manager/internal/catalog"
	"github.com/cloudnative-pg/barman-host-manager/internal/walfile"
)

// TargetKind selects which recovery target dimension a Target uses.
type TargetKind int

// The recognized recovery target kinds. At most one is active per Target.
const (
	TargetNone TargetKind = iota
	TargetTime
	TargetXID
	TargetLSN
	TargetName
	TargetImmediate
)

// TargetAction is what the restored server does once it reaches its target.
type TargetAction string

// The recognized target actions.
const (
	TargetActionPause    TargetAction = "pause"
	TargetActionShutdown TargetAction = "shutdown"
	TargetActionPromote  TargetAction = "promote"
)

// Target describes exactly zero or one recovery stop point: at most one
// of Time/XID/LSN/Name is set, matched against Kind.
type Target struct {
	Kind      TargetKind
	Time      time.Time
	XID       string
	LSN       string
	Name      string
	TLI       *uint32
	Exclusive bool
}

// StagingLocation is where the Recovery Planner stages decompressed data
// before materializing it to the destination.
type StagingLocation string

// The supported staging locations.
const (
	StagingLocal  StagingLocation = "local"
	StagingRemote StagingLocation = "remote"
)

// Request is the full set of inputs to Plan, mirroring the recover
// subcommand's documented flags.
type Request struct {
	Server               string
	BackupIDOrAlias      string
	Destination          string
	Target               Target
	GetWAL               bool
	StandbyMode          bool
	TargetAction         TargetAction
	RecoveryConfFilename string
	StagingPath          string
	StagingLocation      StagingLocation
	RemoteSSHCommand     string
	TablespaceMap        map[string]string // original location -> new path
	BandwidthLimit       int64
	ParallelJobs         int
}

// Plan is the fully-resolved outcome of planning a recovery: which
// backups to materialize, which WALs to stage or fetch on demand, and the
// recovery configuration text to write at the destination.
type Plan struct {
	Request Request

	// Chain holds the base backups to apply in order, root first, the
	// requested backup last. Length 1 unless the requested backup is a
	// native-basebackup incremental.
	Chain []*catalog.Backup

	Timeline     uint32
	WALFrom      string
	WALTo        string // "" means open-ended: replay forward to the target live
	StagingDir   string
	RecoveryConf string
}

// DefaultRecoveryConfFilename is the engine's standard auto-conf file, used
// when a request does not override it.
const DefaultRecoveryConfFilename = "postgresql.auto.conf"

// BuildPlan resolves req against c into an executable Plan. It does not
// touch the filesystem beyond validating the destination; materialization
// is the caller's job.
func BuildPlan(c *catalog.Catalog, req Request) (*Plan, error) {
	backup, err := c.Lookup(req.BackupIDOrAlias)
	if err != nil {
		return nil, err
	}
	if !backup.IsDone() {
		return nil, barmanerrors.New(barmanerrors.KindNotFound,
			fmt.Sprintf("backup %s is not in DONE state (status=%s)", backup.ID, backup.Status), nil)
	}

	chain, err := c.Chain(backup)
	if err != nil {
		return nil, err
	}

	timeline := backup.Timeline
	if req.Target.TLI != nil {
		timeline = *req.Target.TLI
	}

	if err := validateDestination(req.Destination); err != nil {
		return nil, err
	}

	stagingDir := req.StagingPath
	if stagingDir != "" {
		stagingDir = strings.TrimSuffix(stagingDir, "/") + "/barman-staging-" + req.Server + "-" + backup.ID
	}

	plan := &Plan{
		Request:    req,
		Chain:      chain,
		Timeline:   timeline,
		WALFrom:    backup.BeginWAL,
		WALTo:      walTargetUpperBound(req.Target, timeline),
		StagingDir: stagingDir,
	}
	plan.RecoveryConf = GenerateRecoveryConfig(req, backup, timeline)
	return plan, nil
}

// walTargetUpperBound returns the exclusive upper bound segment name when
// the target pins one: for an lsn target, the segment after the one holding
// the LSN (assuming the default 16 MiB segment size). It returns "" for an
// open-ended replay (time/xid/name/immediate targets, which cannot be
// resolved to a segment without replaying WAL content).
func walTargetUpperBound(t Target, timeline uint32) string {
	if t.Kind != TargetLSN {
		return ""
	}
	off, err := walfile.LSN(t.LSN).Parse()
	if err != nil {
		return ""
	}
	seg := walfile.Segment{
		Timeline:  timeline,
		LogID:     uint32(off >> 32),
		SegmentNo: uint32((off & 0xFFFFFFFF) / walfile.DefaultWALSegmentSize),
	}
	return seg.Next(nil, nil).Name()
}

// validateDestination requires the destination be empty-or-absent,
// creating it if it does not exist yet.
func validateDestination(dest string) error {
	info, err := os.Stat(dest)
	if os.IsNotExist(err) {
		if mkErr := os.MkdirAll(dest, 0o750); mkErr != nil {
			return barmanerrors.New(barmanerrors.KindCopyFailed, "creating recovery destination", mkErr)
		}
		return nil
	}
	if err != nil {
		return barmanerrors.New(barmanerrors.KindCopyFailed, "inspecting recovery destination", err)
	}
	if !info.IsDir() {
		return barmanerrors.New(barmanerrors.KindConfigError, dest+" is not a directory", nil)
	}
	entries, err := os.ReadDir(dest)
	if err != nil {
		return barmanerrors.New(barmanerrors.KindCopyFailed, "reading recovery destination", err)
	}
	if len(entries) > 0 {
		return barmanerrors.New(barmanerrors.KindConfigError, dest+" is not empty", nil)
	}
	return nil
}

// GenerateRecoveryConfig renders the recovery configuration text: restore
// command (when GetWAL is set), recovery target parameters, timeline,
// standby mode and target action.
func GenerateRecoveryConfig(req Request, backup *catalog.Backup, timeline uint32) string {
	var b strings.Builder

	if req.GetWAL {
		fmt.Fprintf(&b, "restore_command = 'barman-wal-restore %s %%f %%p'\n", req.Server)
	}

	switch req.Target.Kind {
	case TargetTime:
		fmt.Fprintf(&b, "recovery_target_time = '%s'\n", req.Target.Time.Format("2006-01-02 15:04:05Z07:00"))
	case TargetXID:
		fmt.Fprintf(&b, "recovery_target_xid = '%s'\n", req.Target.XID)
	case TargetLSN:
		fmt.Fprintf(&b, "recovery_target_lsn = '%s'\n", req.Target.LSN)
	case TargetName:
		fmt.Fprintf(&b, "recovery_target_name = '%s'\n", req.Target.Name)
	case TargetImmediate:
		b.WriteString("recovery_target = 'immediate'\n")
	case TargetNone:
		// no target: replay to the end of available WAL
	}

	if req.Target.Kind != TargetNone {
		if req.Target.Exclusive {
			b.WriteString("recovery_target_inclusive = 'false'\n")
		} else {
			b.WriteString("recovery_target_inclusive = 'true'\n")
		}
		action := req.TargetAction
		if action == "" {
			action = TargetActionPause
		}
		fmt.Fprintf(&b, "recovery_target_action = '%s'\n", action)
	}

	fmt.Fprintf(&b, "recovery_target_timeline = '%d'\n", timeline)

	if req.StandbyMode {
		b.WriteString("# standby_mode: create standby.signal at the destination\n")
	} else {
		b.WriteString("# recovery: create recovery.signal at the destination\n")
	}

	return b.String()
}

// RecoveryConfFilename returns the effective output filename for req,
// applying the documented default.
func RecoveryConfFilename(req Request) string {
	if req.RecoveryConfFilename != "" {
		return req.RecoveryConfFilename
	}
	return DefaultRecoveryConfFilename
}

// RelocateTablespace resolves the destination path for a tablespace's
// original location, applying req's --tablespace NAME:PATH overrides
// (keyed by the tablespace's recorded Location) and returning the original
// location unchanged otherwise.
func RelocateTablespace(req Request, originalLocation string) string {
	if override, ok := req.TablespaceMap[originalLocation]; ok {
		return override
	}
	return originalLocation
}
