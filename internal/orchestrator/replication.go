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
	"strconv"
	"strings"
	"syscall"

	"github.com/cloudnative-pg/barman-host-manager/internal/barmanerrors"
	"github.com/cloudnative-pg/barman-host-manager/internal/basebackup"
	"github.com/cloudnative-pg/barman-host-manager/internal/catalog"
	"github.com/cloudnative-pg/barman-host-manager/internal/config"
)

// ReplicationSource selects where replication-status looks for state.
type ReplicationSource string

// The recognized replication-status sources.
const (
	SourceBackupHost ReplicationSource = "backup-host"
	SourceWALHost     ReplicationSource = "wal-host"
)

// ReplicationTarget selects which replication consumers to report on.
type ReplicationTarget string

// The recognized replication-status targets.
const (
	TargetHotStandby ReplicationTarget = "hot-standby"
	TargetWALStreamer ReplicationTarget = "wal-streamer"
	TargetAll         ReplicationTarget = "all"
)

// ReplicationStatusRow is one reported replication consumer's state,
// unifying what a live pg_stat_replication row (backup-host source) and
// what the local receiver daemon's own observed state (wal-host source)
// can each provide.
type ReplicationStatusRow struct {
	Target          ReplicationTarget
	ApplicationName string
	State           string
	SentLSN         string
	WriteLSN        string
	FlushLSN        string
	ReplayLSN       string
	SyncState       string
}

// ReplicationStatus reports replication-status rows for server, per the
// requested source and target filter.
func ReplicationStatus(ctx context.Context, server *config.Server, cat *catalog.Catalog, source ReplicationSource, target ReplicationTarget) ([]ReplicationStatusRow, error) {
	switch source {
	case SourceWALHost, "":
		return walHostStatus(cat, target)
	case SourceBackupHost:
		return backupHostStatus(ctx, server, target)
	default:
		return nil, barmanerrors.New(barmanerrors.KindConfigError, "unknown replication-status source "+string(source), nil)
	}
}

// backupHostStatus queries pg_stat_replication on the management
// connection: the view the target's own streamers/standbys register in,
// which is only reachable from the backup host side.
func backupHostStatus(ctx context.Context, server *config.Server, target ReplicationTarget) ([]ReplicationStatusRow, error) {
	conninfo := server.Conn
	if conninfo == "" {
		return nil, barmanerrors.New(barmanerrors.KindConfigError, "server "+server.Name+" has no conn to query replication status from", nil)
	}

	conn, err := basebackup.Dial(server.Name, conninfo)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	rows, err := conn.ReplicationStatus(ctx)
	if err != nil {
		return nil, err
	}

	var out []ReplicationStatusRow
	for _, r := range rows {
		kind := classifyConsumer(r.ApplicationName, r.State)
		if target != TargetAll && target != "" && kind != target {
			continue
		}
		out = append(out, ReplicationStatusRow{
			Target:          kind,
			ApplicationName: r.ApplicationName,
			State:           r.State,
			SentLSN:         r.SentLSN,
			WriteLSN:        r.WriteLSN,
			FlushLSN:        r.FlushLSN,
			ReplayLSN:       r.ReplayLSN,
			SyncState:       r.SyncState,
		})
	}
	return out, nil
}

// classifyConsumer guesses whether a pg_stat_replication row belongs to a
// hot standby or to this system's own WAL streamer: an application_name
// containing "receive" (pg_receivewal's default application name) is taken
// to be the streamer; anything else is assumed to be a standby.
func classifyConsumer(applicationName, _ string) ReplicationTarget {
	if strings.Contains(applicationName, "receive") {
		return TargetWALStreamer
	}
	return TargetHotStandby
}

// walHostStatus reports this host's own view of its WAL streamer: whether
// the receive-wal daemon is alive, read off its PID file, since the
// replication-status invocation is always a separate, short-lived process
// from the daemon itself.
func walHostStatus(cat *catalog.Catalog, target ReplicationTarget) ([]ReplicationStatusRow, error) {
	if target == TargetHotStandby {
		return nil, nil
	}

	row := ReplicationStatusRow{Target: TargetWALStreamer, ApplicationName: cat.Server}
	pidPath := filepath.Join(cat.Home, ".receive-wal-daemon.pid")
	data, err := os.ReadFile(pidPath) //nolint:gosec
	if err != nil {
		row.State = "stopped"
		return []ReplicationStatusRow{row}, nil
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		row.State = "unknown"
		return []ReplicationStatusRow{row}, nil
	}
	proc, err := os.FindProcess(pid)
	if err != nil || proc.Signal(syscall.Signal(0)) != nil {
		row.State = "stopped"
	} else {
		row.State = "streaming"
	}
	return []ReplicationStatusRow{row}, nil
}
