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
	"archive/tar"
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/google/shlex"
	shellquote "github.com/kballard/go-shellquote"

	"github.com/cloudnative-pg/barman-host-manager/internal/barmanerrors"
	"github.com/cloudnative-pg/barman-host-manager/internal/catalog"
	"github.com/cloudnative-pg/barman-host-manager/internal/config"
)

// A passive node mirrors a primary barman host's catalog for one server
// over that server's configured remote shell (primary_ssh_command),
// rather than running backups itself. The primary is assumed to use the
// same BarmanHome layout, so a passive node's cat.Home names the same
// relative tree on both ends.

// runRemote executes remoteArgv on the host named by sshCommand and
// returns its stdout. sshCommand is parsed and quoted the same way
// internal/streamdriver builds a remote-shell receiver command line.
func runRemote(ctx context.Context, sshCommand string, remoteArgv []string) ([]byte, error) {
	sshArgv, err := shlex.Split(sshCommand)
	if err != nil {
		return nil, barmanerrors.New(barmanerrors.KindConfigError, "parsing primary_ssh_command", err)
	}
	if len(sshArgv) == 0 {
		return nil, barmanerrors.New(barmanerrors.KindConfigError, "primary_ssh_command is empty", nil)
	}

	remote := shellquote.Join(remoteArgv...)
	args := append(append([]string{}, sshArgv[1:]...), remote)

	cmd := exec.CommandContext(ctx, sshArgv[0], args...) //nolint:gosec
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, barmanerrors.New(barmanerrors.KindConnectionError, "running remote command: "+stderr.String(), err)
	}
	return stdout.Bytes(), nil
}

// SyncInfoReport is what sync-info reports: the remote catalog's backups
// and WAL records, diffed against the local passive mirror.
type SyncInfoReport struct {
	RemoteBackups  []string
	MissingBackups []string
	RemoteWALCount int
	MissingWALs    []catalog.WALRecord
}

// SyncInfo fetches the primary's backup list and xlog.db for server and
// reports what the local passive mirror is missing, without copying
// anything.
func SyncInfo(ctx context.Context, server *config.Server, cat *catalog.Catalog) (*SyncInfoReport, error) {
	remoteBackups, err := remoteBackupIDs(ctx, server, cat.Home)
	if err != nil {
		return nil, err
	}
	remoteWALs, err := remoteXlogDB(ctx, server, cat.Home)
	if err != nil {
		return nil, err
	}

	localBackups, _, _ := catalog.ListBackups(cat.Home)
	localIDs := make(map[string]bool, len(localBackups))
	for _, b := range localBackups {
		localIDs[b.ID] = true
	}

	report := &SyncInfoReport{RemoteBackups: remoteBackups, RemoteWALCount: len(remoteWALs)}
	for _, id := range remoteBackups {
		if !localIDs[id] {
			report.MissingBackups = append(report.MissingBackups, id)
		}
	}

	localWALs, err := catalog.ReadXlogDB(cat.Home)
	if err != nil {
		return nil, err
	}
	localWALNames := make(map[string]bool, len(localWALs))
	for _, r := range localWALs {
		localWALNames[r.Name] = true
	}
	for _, r := range remoteWALs {
		if !localWALNames[r.Name] {
			report.MissingWALs = append(report.MissingWALs, r)
		}
	}
	return report, nil
}

// SyncWALs copies every WAL segment the primary has and the local mirror
// lacks, and appends them to the local xlog.db.
func SyncWALs(ctx context.Context, server *config.Server, cat *catalog.Catalog) (int, error) {
	info, err := SyncInfo(ctx, server, cat)
	if err != nil {
		return 0, err
	}

	for _, rec := range info.MissingWALs {
		// The remote host mirrors the same BarmanHome layout, so the
		// archived segment lives at the same relative path on both ends.
		walPath, err := cat.WALPath(rec.Name, rec.Compression)
		if err != nil {
			return 0, err
		}
		data, err := runRemote(ctx, server.PrimarySSHCommand, []string{"cat", walPath})
		if err != nil {
			return 0, barmanerrors.New(barmanerrors.KindCopyFailed, "fetching "+rec.Name, err)
		}
		if err := os.MkdirAll(filepath.Dir(walPath), 0o750); err != nil {
			return 0, barmanerrors.New(barmanerrors.KindCopyFailed, "creating wal directory", err)
		}
		if err := os.WriteFile(walPath, data, 0o640); err != nil {
			return 0, barmanerrors.New(barmanerrors.KindCopyFailed, "writing "+rec.Name, err)
		}
		if err := catalog.AppendWALRecord(cat.Home, rec); err != nil {
			return 0, err
		}
	}
	return len(info.MissingWALs), nil
}

// SyncBackup mirrors one backup's metadata and data directory from the
// primary, streaming its data tree over the remote shell as a tar stream
// (the same wire shape put-wal's own tar handling expects, minus the
// checksum manifest put-wal requires for untrusted WAL ingress — a
// passive mirror trusts its configured primary).
func SyncBackup(ctx context.Context, server *config.Server, cat *catalog.Catalog, backupID string) error {
	infoPath := filepath.Join(cat.Home, "base", backupID, "backup.info")
	raw, err := runRemote(ctx, server.PrimarySSHCommand, []string{"cat", infoPath})
	if err != nil {
		return barmanerrors.New(barmanerrors.KindCopyFailed, "fetching backup.info for "+backupID, err)
	}
	backup, err := catalog.ParseBackupInfo(raw)
	if err != nil {
		return err
	}

	remoteDataDir := catalog.BackupDataDir(cat.Home, backupID)
	tarData, err := runRemote(ctx, server.PrimarySSHCommand, []string{"tar", "-C", remoteDataDir, "-cf", "-", "."})
	if err != nil {
		return barmanerrors.New(barmanerrors.KindCopyFailed, "streaming backup data for "+backupID, err)
	}

	localDataDir := catalog.BackupDataDir(cat.Home, backupID)
	if err := os.MkdirAll(localDataDir, 0o750); err != nil {
		return barmanerrors.New(barmanerrors.KindCopyFailed, "creating local backup directory", err)
	}
	if err := extractTar(bytes.NewReader(tarData), localDataDir); err != nil {
		return err
	}

	return catalog.WriteBackupInfo(cat.Home, backup)
}

func extractTar(r io.Reader, destDir string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return barmanerrors.New(barmanerrors.KindCopyFailed, "reading backup tar stream", err)
		}
		dest := filepath.Join(destDir, hdr.Name) //nolint:gosec
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dest, 0o750); err != nil {
				return barmanerrors.New(barmanerrors.KindCopyFailed, "creating "+hdr.Name, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
				return barmanerrors.New(barmanerrors.KindCopyFailed, "creating directory for "+hdr.Name, err)
			}
			f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
			if err != nil {
				return barmanerrors.New(barmanerrors.KindCopyFailed, "creating "+hdr.Name, err)
			}
			if _, err := io.Copy(f, tr); err != nil { //nolint:gosec
				f.Close()
				return barmanerrors.New(barmanerrors.KindCopyFailed, "writing "+hdr.Name, err)
			}
			f.Close()
		}
	}
}

func remoteBackupIDs(ctx context.Context, server *config.Server, remoteHome string) ([]string, error) {
	out, err := runRemote(ctx, server.PrimarySSHCommand, []string{"ls", filepath.Join(remoteHome, "base")})
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, line := range splitLines(out) {
		if line != "" {
			ids = append(ids, line)
		}
	}
	return ids, nil
}

func remoteXlogDB(ctx context.Context, server *config.Server, remoteHome string) ([]catalog.WALRecord, error) {
	out, err := runRemote(ctx, server.PrimarySSHCommand, []string{"cat", filepath.Join(remoteHome, "xlog.db")})
	if err != nil {
		return nil, err
	}
	var records []catalog.WALRecord
	for _, line := range splitLines(out) {
		if line == "" {
			continue
		}
		rec, err := catalog.ParseWALRecord(line)
		if err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func splitLines(data []byte) []string {
	var lines []string
	start := 0
	for i, b := range data {
		if b == '\n' {
			lines = append(lines, string(data[start:i]))
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, string(data[start:]))
	}
	return lines
}
