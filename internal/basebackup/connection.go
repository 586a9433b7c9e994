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

// Package basebackup drives a PostgreSQL management connection through
// begin-backup/end-backup, copying the data directory via
// internal/copydriver or the database's own streaming base-backup
// utility, and recording the result in the Catalog.
package basebackup

import (
	"context"
	"database/sql"
	"time"

	"github.com/sony/gobreaker/v2"

	_ "github.com/lib/pq"

	"github.com/cloudnative-pg/barman-host-manager/internal/barmanerrors"
)

// ManagementConn wraps a management connection to the target database,
// tripping a circuit breaker after repeated failures so a persistently
// unreachable server fails fast instead of hanging every dependent
// operation on its own connection timeout.
type ManagementConn struct {
	db      *sql.DB
	breaker *gobreaker.CircuitBreaker[any]
}

// Dial opens a management connection to conninfo. name identifies this
// connection's circuit breaker in logs/metrics (normally the server name).
func Dial(name, conninfo string) (*ManagementConn, error) {
	db, err := sql.Open("postgres", conninfo)
	if err != nil {
		return nil, barmanerrors.New(barmanerrors.KindConnectionError, "opening management connection", err)
	}

	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "management-conn-" + name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})

	return &ManagementConn{db: db, breaker: breaker}, nil
}

// Close releases the underlying connection.
func (m *ManagementConn) Close() error {
	return m.db.Close()
}

// ServerInfo is the subset of server identity recorded at begin-backup
// time.
type ServerInfo struct {
	Version          string
	SystemIdentifier string
	DataDirectory    string
	Tablespaces      []TablespaceInfo
}

// TablespaceInfo mirrors a row of pg_tablespace joined with its on-disk
// location.
type TablespaceInfo struct {
	Name     string
	OID      int64
	Location string
}

// Inspect gathers the server identity information begin-backup needs.
func (m *ManagementConn) Inspect(ctx context.Context) (*ServerInfo, error) {
	result, err := m.breaker.Execute(func() (any, error) {
		info := &ServerInfo{}
		row := m.db.QueryRowContext(ctx, "SELECT current_setting('server_version'), system_identifier::text, current_setting('data_directory') FROM pg_control_system()")
		if err := row.Scan(&info.Version, &info.SystemIdentifier, &info.DataDirectory); err != nil {
			return nil, err
		}

		rows, err := m.db.QueryContext(ctx, "SELECT spcname, oid, pg_tablespace_location(oid) FROM pg_tablespace WHERE spcname NOT IN ('pg_default', 'pg_global')")
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		for rows.Next() {
			var ts TablespaceInfo
			if err := rows.Scan(&ts.Name, &ts.OID, &ts.Location); err != nil {
				return nil, err
			}
			info.Tablespaces = append(info.Tablespaces, ts)
		}
		return info, rows.Err()
	})
	if err != nil {
		return nil, barmanerrors.New(barmanerrors.KindConnectionError, "inspecting server", err)
	}
	return result.(*ServerInfo), nil
}

// BeginBackupResult is what the begin-backup primitive reports back.
type BeginBackupResult struct {
	LSN      string
	WALFile  string
	Time     time.Time
	Timeline uint32
}

// BeginBackup calls the database's begin-backup primitive in concurrent
// mode (pg_backup_start), or exclusive mode when exclusive is true and the
// engine still supports it.
func (m *ManagementConn) BeginBackup(ctx context.Context, label string, exclusive bool) (*BeginBackupResult, error) {
	fn := "pg_backup_start"
	if exclusive {
		fn = "pg_start_backup"
	}

	result, err := m.breaker.Execute(func() (any, error) {
		var lsn string
		query := "SELECT " + fn + "($1, true)"
		if err := m.db.QueryRowContext(ctx, query, label).Scan(&lsn); err != nil {
			return nil, err
		}

		res := &BeginBackupResult{LSN: lsn, Time: time.Now().UTC()}
		if err := m.db.QueryRowContext(ctx, "SELECT pg_walfile_name($1)", lsn).Scan(&res.WALFile); err != nil {
			return nil, err
		}
		if err := m.db.QueryRowContext(ctx, "SELECT timeline_id FROM pg_control_checkpoint()").Scan(&res.Timeline); err != nil {
			return nil, err
		}
		return res, nil
	})
	if err != nil {
		return nil, barmanerrors.New(barmanerrors.KindConnectionError, "calling begin-backup", err)
	}
	return result.(*BeginBackupResult), nil
}

// EndBackupResult is what the end-backup primitive reports back.
type EndBackupResult struct {
	LSN     string
	WALFile string
	Time    time.Time
}

// EndBackup calls the database's end-backup primitive (pg_backup_stop).
func (m *ManagementConn) EndBackup(ctx context.Context, exclusive bool) (*EndBackupResult, error) {
	fn := "pg_backup_stop"
	if exclusive {
		fn = "pg_stop_backup"
	}

	result, err := m.breaker.Execute(func() (any, error) {
		var lsn string
		if err := m.db.QueryRowContext(ctx, "SELECT lsn FROM "+fn+"(true)").Scan(&lsn); err != nil {
			return nil, err
		}
		res := &EndBackupResult{LSN: lsn, Time: time.Now().UTC()}
		if err := m.db.QueryRowContext(ctx, "SELECT pg_walfile_name($1)", lsn).Scan(&res.WALFile); err != nil {
			return nil, err
		}
		return res, nil
	})
	if err != nil {
		return nil, barmanerrors.New(barmanerrors.KindConnectionError, "calling end-backup", err)
	}
	return result.(*EndBackupResult), nil
}

// SwitchWAL forces a WAL segment switch, used on the primary at
// end-of-backup for replica servers.
func (m *ManagementConn) SwitchWAL(ctx context.Context) error {
	_, err := m.breaker.Execute(func() (any, error) {
		_, err := m.db.ExecContext(ctx, "SELECT pg_switch_wal()")
		return nil, err
	})
	if err != nil {
		return barmanerrors.New(barmanerrors.KindConnectionError, "switching WAL", err)
	}
	return nil
}

// Checkpoint forces an immediate checkpoint, used by switch-wal --force
// before the segment switch so the new segment starts from a clean point.
func (m *ManagementConn) Checkpoint(ctx context.Context) error {
	_, err := m.breaker.Execute(func() (any, error) {
		_, err := m.db.ExecContext(ctx, "CHECKPOINT")
		return nil, err
	})
	if err != nil {
		return barmanerrors.New(barmanerrors.KindConnectionError, "forcing checkpoint", err)
	}
	return nil
}

// ReplicationRow mirrors one row of pg_stat_replication for a connected
// standby or WAL streamer.
type ReplicationRow struct {
	ApplicationName string
	ClientAddr      string
	State           string
	SentLSN         string
	WriteLSN        string
	FlushLSN        string
	ReplayLSN       string
	SyncState       string
}

// ReplicationStatus queries pg_stat_replication for every connected
// standby/streamer, used by replication-status to report lag per target.
func (m *ManagementConn) ReplicationStatus(ctx context.Context) ([]ReplicationRow, error) {
	result, err := m.breaker.Execute(func() (any, error) {
		rows, err := m.db.QueryContext(ctx, `
			SELECT application_name, COALESCE(client_addr::text, ''), state,
			       COALESCE(sent_lsn::text, ''), COALESCE(write_lsn::text, ''),
			       COALESCE(flush_lsn::text, ''), COALESCE(replay_lsn::text, ''),
			       COALESCE(sync_state, '')
			FROM pg_stat_replication`)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []ReplicationRow
		for rows.Next() {
			var r ReplicationRow
			if err := rows.Scan(&r.ApplicationName, &r.ClientAddr, &r.State,
				&r.SentLSN, &r.WriteLSN, &r.FlushLSN, &r.ReplayLSN, &r.SyncState); err != nil {
				return nil, err
			}
			out = append(out, r)
		}
		return out, rows.Err()
	})
	if err != nil {
		return nil, barmanerrors.New(barmanerrors.KindConnectionError, "querying replication status", err)
	}
	rows, _ := result.([]ReplicationRow)
	return rows, nil
}

// Keepalive runs a trivial query on the management connection to prevent
// idle disconnection during a long-running copy.
func (m *ManagementConn) Keepalive(ctx context.Context) error {
	_, err := m.breaker.Execute(func() (any, error) {
		_, err := m.db.ExecContext(ctx, "SELECT 1")
		return nil, err
	})
	return err
}
