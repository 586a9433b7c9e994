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

package catalog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cloudnative-pg/barman-host-manager/internal/barmanerrors"
)

const backupInfoTimeLayout = "2006-01-02 15:04:05.999999-07:00"

// backupInfoFileName is the fixed name of the metadata file inside every
// base/<backup_id>/ directory.
const backupInfoFileName = "backup.info"

// ParseBackupInfo decodes the key=value text format. Unknown keys are
// ignored, so the format can grow without breaking older readers.
func ParseBackupInfo(data []byte) (*Backup, error) {
	b := &Backup{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		if err := assignBackupInfoField(b, key, value); err != nil {
			return nil, barmanerrors.New(barmanerrors.KindCatalogCorrupt, "parsing "+backupInfoFileName, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, barmanerrors.New(barmanerrors.KindCatalogCorrupt, "reading "+backupInfoFileName, err)
	}
	return b, nil
}

func assignBackupInfoField(b *Backup, key, value string) error {
	switch key {
	case "backup_id":
		b.ID = value
	case "status":
		b.Status = Status(value)
	case "server_name":
		b.ServerName = value
	case "system_identifier":
		b.SystemIdentifier = value
	case "version":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("version: %w", err)
		}
		b.Version = n
	case "pgdata":
		b.PGData = value
	case "begin_wal":
		b.BeginWAL = value
	case "end_wal":
		b.EndWAL = value
	case "begin_xlog":
		b.BeginXlog = value
	case "end_xlog":
		b.EndXlog = value
	case "begin_offset":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("begin_offset: %w", err)
		}
		b.BeginOffset = n
	case "end_offset":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("end_offset: %w", err)
		}
		b.EndOffset = n
	case "begin_time":
		t, err := parseBackupInfoTime(value)
		if err != nil {
			return fmt.Errorf("begin_time: %w", err)
		}
		b.BeginTime = t
	case "end_time":
		t, err := parseBackupInfoTime(value)
		if err != nil {
			return fmt.Errorf("end_time: %w", err)
		}
		b.EndTime = t
	case "timeline":
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return fmt.Errorf("timeline: %w", err)
		}
		b.Timeline = uint32(n)
	case "size":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("size: %w", err)
		}
		b.Size = n
	case "deduplicated_size":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("deduplicated_size: %w", err)
		}
		b.DeduplicatedSize = n
	case "included_files":
		if value != "" && value != "None" {
			if err := json.Unmarshal([]byte(value), &b.IncludedFiles); err != nil {
				return fmt.Errorf("included_files: %w", err)
			}
		}
	case "tablespaces":
		if value != "" && value != "None" {
			if err := json.Unmarshal([]byte(value), &b.Tablespaces); err != nil {
				return fmt.Errorf("tablespaces: %w", err)
			}
		}
	case "mode":
		b.Mode = value
	case "backup_type":
		b.BackupType = BackupType(value)
	case "parent_backup_id":
		b.ParentBackupID = value
	case "compression":
		b.Compression = value
	case "error":
		b.Error = value
	case "keep_target":
		b.KeepTarget = KeepTarget(value)
	case "snapshots_info":
		if value != "" && value != "None" {
			b.SnapshotsInfo = json.RawMessage(value)
		}
	case "name":
		b.Name = value
	}
	return nil
}

func parseBackupInfoTime(value string) (time.Time, error) {
	if value == "" || value == "None" {
		return time.Time{}, nil
	}
	t, err := time.Parse(backupInfoTimeLayout, value)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// Marshal renders the backup.info key=value text format, in a stable key
// order.
func (b *Backup) Marshal() []byte {
	var buf bytes.Buffer
	write := func(key, value string) {
		fmt.Fprintf(&buf, "%s=%s\n", key, value)
	}
	writeTime := func(key string, t time.Time) {
		if t.IsZero() {
			write(key, "None")
			return
		}
		write(key, t.Format(backupInfoTimeLayout))
	}
	writeJSON := func(key string, v interface{}) {
		data, err := json.Marshal(v)
		if err != nil || string(data) == "null" {
			write(key, "None")
			return
		}
		write(key, string(data))
	}

	write("backup_id", b.ID)
	write("status", string(b.Status))
	write("server_name", b.ServerName)
	write("system_identifier", b.SystemIdentifier)
	write("version", strconv.Itoa(b.Version))
	write("pgdata", b.PGData)
	write("begin_wal", b.BeginWAL)
	write("end_wal", b.EndWAL)
	write("begin_xlog", b.BeginXlog)
	write("end_xlog", b.EndXlog)
	write("begin_offset", strconv.FormatInt(b.BeginOffset, 10))
	write("end_offset", strconv.FormatInt(b.EndOffset, 10))
	writeTime("begin_time", b.BeginTime)
	writeTime("end_time", b.EndTime)
	write("timeline", strconv.FormatUint(uint64(b.Timeline), 10))
	write("size", strconv.FormatInt(b.Size, 10))
	write("deduplicated_size", strconv.FormatInt(b.DeduplicatedSize, 10))
	writeJSON("included_files", b.IncludedFiles)
	writeJSON("tablespaces", b.Tablespaces)
	write("mode", b.Mode)
	write("backup_type", string(b.BackupType))
	write("parent_backup_id", b.ParentBackupID)
	write("compression", b.Compression)
	write("error", b.Error)
	write("keep_target", string(b.KeepTarget))
	if len(b.SnapshotsInfo) == 0 {
		write("snapshots_info", "None")
	} else {
		write("snapshots_info", string(b.SnapshotsInfo))
	}
	write("name", b.Name)

	return buf.Bytes()
}

// backupDir returns the base/<backup_id> directory for a backup under home.
func backupDir(home, id string) string {
	return filepath.Join(home, "base", id)
}

// BackupDataDir returns the directory holding one backup's copied cluster
// data, for commands (generate-manifest, verify-backup, list-files) that
// need to walk it directly rather than go through the catalog.
func BackupDataDir(home, id string) string {
	return backupDir(home, id)
}

// WriteBackupInfo atomically (temp-file + fsync + rename) persists b to
// <home>/base/<id>/backup.info.
func WriteBackupInfo(home string, b *Backup) error {
	dir := backupDir(home, b.ID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return barmanerrors.New(barmanerrors.KindCatalogCorrupt, "creating backup directory", err)
	}
	return atomicWriteFile(filepath.Join(dir, backupInfoFileName), b.Marshal())
}

// ReadBackupInfo loads and parses <home>/base/<id>/backup.info.
func ReadBackupInfo(home, id string) (*Backup, error) {
	data, err := os.ReadFile(filepath.Join(backupDir(home, id), backupInfoFileName)) //nolint:gosec
	if err != nil {
		if os.IsNotExist(err) {
			return nil, barmanerrors.NotFound("", "backup "+id)
		}
		return nil, barmanerrors.New(barmanerrors.KindCatalogCorrupt, "reading "+backupInfoFileName, err)
	}
	return ParseBackupInfo(data)
}

// ListBackups enumerates every backup.info under <home>/base, sorted
// chronologically by ID (the timestamp-shaped backup id sorts correctly as
// a string). Entries whose backup.info cannot be parsed are skipped with
// their id recorded in corrupt, per the CatalogCorrupt read policy: a bad
// entry is excluded from aliases rather than failing the whole listing.
func ListBackups(home string) (backups []*Backup, corrupt []string, err error) {
	entries, readErr := os.ReadDir(filepath.Join(home, "base"))
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return nil, nil, nil
		}
		return nil, nil, barmanerrors.New(barmanerrors.KindCatalogCorrupt, "listing backups", readErr)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		b, err := ReadBackupInfo(home, entry.Name())
		if err != nil {
			corrupt = append(corrupt, entry.Name())
			continue
		}
		backups = append(backups, b)
	}

	sort.Slice(backups, func(i, j int) bool { return backups[i].ID < backups[j].ID })
	return backups, corrupt, nil
}

// atomicWriteFile writes data to path via a sibling temp file, fsyncing the
// temp file's contents before renaming it into place, per the durability
// ordering every catalog mutation follows.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return barmanerrors.New(barmanerrors.KindCatalogCorrupt, "creating temp file", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return barmanerrors.New(barmanerrors.KindCatalogCorrupt, "writing temp file", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return barmanerrors.New(barmanerrors.KindCatalogCorrupt, "fsyncing temp file", err)
	}
	if err := tmp.Close(); err != nil {
		return barmanerrors.New(barmanerrors.KindCatalogCorrupt, "closing temp file", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return barmanerrors.New(barmanerrors.KindCatalogCorrupt, "renaming into place", err)
	}
	return nil
}
