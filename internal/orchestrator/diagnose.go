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

package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/cloudnative-pg/barman-host-manager/internal/barmanctx"
	"github.com/cloudnative-pg/barman-host-manager/internal/catalog"
	"github.com/cloudnative-pg/barman-host-manager/internal/config"
	"github.com/cloudnative-pg/barman-host-manager/internal/walstreamer"
)

// Check names are stable identifiers, used both for display and for
// picking out specific results (e.g. replication slot health feeding the
// metrics exporter) without string-matching free-form text.
const (
	checkDirectoriesWritable = "directories"
	checkWALArchiving        = "wal_archiving"
	checkLastBackup          = "backup_age"
	checkReplicationSlot     = "replication_slot"
)

// CheckResult is the outcome of one diagnostic check for one server.
type CheckResult struct {
	Name   string
	OK     bool
	Detail string
}

// Diagnose runs every applicable check for server against cat, the way
// the "check" and "diagnose" commands surface server health. A check
// that does not apply to server's configuration (no slot_name or conninfo,
// no last_backup_maximum_age) is simply omitted, not reported as failing.
func Diagnose(ctx context.Context, bctx *barmanctx.Context, server *config.Server, cat *catalog.Catalog) []CheckResult {
	var results []CheckResult

	results = append(results, checkDirectories(cat))
	results = append(results, checkArchivingFreshness(bctx, server, cat))

	if r, ok := checkBackupAge(bctx, server, cat); ok {
		results = append(results, r)
	}

	if server.SlotName != "" && server.Conn != "" {
		results = append(results, checkSlot(ctx, server))
	}

	return results
}

func checkDirectories(cat *catalog.Catalog) CheckResult {
	for _, sub := range []string{"base", "wals", "incoming", "streaming", "errors"} {
		dir := filepath.Join(cat.Home, sub)
		probe := filepath.Join(dir, ".write-probe")
		if err := os.WriteFile(probe, []byte{}, 0o600); err != nil { //nolint:gosec
			return CheckResult{Name: checkDirectoriesWritable, OK: false, Detail: "cannot write to " + dir + ": " + err.Error()}
		}
		_ = os.Remove(probe)
	}
	return CheckResult{Name: checkDirectoriesWritable, OK: true}
}

func checkArchivingFreshness(bctx *barmanctx.Context, server *config.Server, cat *catalog.Catalog) CheckResult {
	if !server.Archiver && !server.StreamingArchiver {
		return CheckResult{Name: checkWALArchiving, OK: true, Detail: "archiving disabled"}
	}

	records, err := catalog.ReadXlogDB(cat.Home)
	if err != nil {
		return CheckResult{Name: checkWALArchiving, OK: false, Detail: err.Error()}
	}
	if len(records) == 0 {
		return CheckResult{Name: checkWALArchiving, OK: true, Detail: "no WAL archived yet"}
	}

	maxAge := server.ArchiveRetrySleep * time.Duration(server.ArchiveRetryTimes+1)
	if maxAge <= 0 {
		maxAge = 10 * time.Minute
	}
	last := records[len(records)-1]
	age := bctx.Clock.Now().Sub(last.Time)
	if age > maxAge {
		return CheckResult{Name: checkWALArchiving, OK: false,
			Detail: "last WAL archived " + age.String() + " ago, exceeding the expected interval"}
	}
	return CheckResult{Name: checkWALArchiving, OK: true}
}

func checkBackupAge(bctx *barmanctx.Context, server *config.Server, cat *catalog.Catalog) (CheckResult, bool) {
	if server.LastBackupMaximumAge <= 0 {
		return CheckResult{}, false
	}
	last := lastDoneBackup(cat)
	if last == nil {
		return CheckResult{Name: checkLastBackup, OK: false, Detail: "no successful backup exists"}, true
	}
	age := bctx.Clock.Now().Sub(last.EndTime)
	if age > server.LastBackupMaximumAge {
		return CheckResult{Name: checkLastBackup, OK: false,
			Detail: "most recent backup is " + age.String() + " old, exceeding last_backup_maximum_age"}, true
	}
	if server.LastBackupMinimumSize > 0 && last.Size < server.LastBackupMinimumSize {
		return CheckResult{Name: checkLastBackup, OK: false,
			Detail: "most recent backup is smaller than last_backup_minimum_size"}, true
	}
	return CheckResult{Name: checkLastBackup, OK: true}, true
}

func checkSlot(ctx context.Context, server *config.Server) CheckResult {
	healthy, err := walstreamer.SlotHealthy(ctx, server.Conn, server.SlotName)
	if err != nil {
		return CheckResult{Name: checkReplicationSlot, OK: false, Detail: err.Error()}
	}
	if !healthy {
		return CheckResult{Name: checkReplicationSlot, OK: false, Detail: "replication slot " + server.SlotName + " does not exist"}
	}
	return CheckResult{Name: checkReplicationSlot, OK: true}
}
