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
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cloudnative-pg/barman-host-manager/internal/barmanerrors"
	"github.com/cloudnative-pg/barman-host-manager/internal/walfile"
)

// xlogDBFileName is the fixed name of the append-only WAL journal.
const xlogDBFileName = "xlog.db"

// WALRecord is one line of xlog.db: the name, size, archival timestamp and
// compression algorithm ("" for none) of an ingested WAL segment.
type WALRecord struct {
	Name        string
	Size        int64
	Time        time.Time
	Compression string
}

// Line renders the record in the stable TSV format: name<TAB>size<TAB>
// unix_time<TAB>compression, LF-terminated, no trailing whitespace.
func (r WALRecord) Line() string {
	compression := r.Compression
	if compression == "" {
		compression = "none"
	}
	return fmt.Sprintf("%s\t%d\t%d\t%s", r.Name, r.Size, r.Time.Unix(), compression)
}

// ParseWALRecord decodes one xlog.db line.
func ParseWALRecord(line string) (WALRecord, error) {
	fields := strings.Split(line, "\t")
	if len(fields) != 4 {
		return WALRecord{}, fmt.Errorf("malformed xlog.db record: %q", line)
	}
	size, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return WALRecord{}, fmt.Errorf("malformed xlog.db size: %w", err)
	}
	unixTime, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return WALRecord{}, fmt.Errorf("malformed xlog.db time: %w", err)
	}
	compression := fields[3]
	if compression == "none" {
		compression = ""
	}
	return WALRecord{
		Name:        fields[0],
		Size:        size,
		Time:        time.Unix(unixTime, 0).UTC(),
		Compression: compression,
	}, nil
}

func xlogDBPath(home string) string {
	return filepath.Join(home, xlogDBFileName)
}

// ReadXlogDB loads every record from <home>/xlog.db. A missing file is an
// empty, valid journal (an empty catalog is valid).
func ReadXlogDB(home string) ([]WALRecord, error) {
	data, err := os.ReadFile(xlogDBPath(home)) //nolint:gosec
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, barmanerrors.New(barmanerrors.KindCatalogCorrupt, "reading "+xlogDBFileName, err)
	}

	var records []WALRecord
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		rec, err := ParseWALRecord(line)
		if err != nil {
			return nil, barmanerrors.New(barmanerrors.KindCatalogCorrupt, "parsing "+xlogDBFileName, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, barmanerrors.New(barmanerrors.KindCatalogCorrupt, "reading "+xlogDBFileName, err)
	}
	return records, nil
}

// AppendWALRecord appends one record to xlog.db. The caller is responsible
// for fsyncing the archived segment file before calling this, and this
// call itself fsyncs the journal before returning so the caller may
// safely unlink the source next.
func AppendWALRecord(home string, rec WALRecord) error {
	f, err := os.OpenFile(xlogDBPath(home), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640) //nolint:gosec
	if err != nil {
		return barmanerrors.New(barmanerrors.KindCatalogCorrupt, "opening "+xlogDBFileName, err)
	}
	defer f.Close()

	if _, err := f.WriteString(rec.Line() + "\n"); err != nil {
		return barmanerrors.New(barmanerrors.KindCatalogCorrupt, "appending to "+xlogDBFileName, err)
	}
	return f.Sync()
}

// RebuildXlogDB walks wals/** under home, recomputes each record from the
// file on disk and rewrites xlog.db atomically. It is idempotent: running
// it twice in succession yields a byte-identical file (testable property
// 6), because sortRecords produces a total, deterministic order.
func RebuildXlogDB(home string) ([]WALRecord, error) {
	root := filepath.Join(home, "wals")
	var records []WALRecord

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		plain, compression := stripCompressionExt(name)
		if !walfile.IsWALFile(plain) && !walfile.IsHistoryFile(plain) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		records = append(records, WALRecord{
			Name:        plain,
			Size:        info.Size(),
			Time:        info.ModTime().UTC(),
			Compression: compression,
		})
		return nil
	})
	if err != nil {
		return nil, barmanerrors.New(barmanerrors.KindCatalogCorrupt, "walking wals/", err)
	}

	sortRecords(records)

	var buf bytes.Buffer
	for _, rec := range records {
		buf.WriteString(rec.Line())
		buf.WriteByte('\n')
	}
	if err := atomicWriteFile(xlogDBPath(home), buf.Bytes()); err != nil {
		return nil, err
	}
	return records, nil
}

// sortRecords sorts WAL records by name within a timeline; records for
// different timelines keep relative ingestion order (stable sort), per
// the xlog.db record ordering rule.
func sortRecords(records []WALRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		ti := records[i].Name[:8]
		tj := records[j].Name[:8]
		if ti != tj {
			return false
		}
		return records[i].Name < records[j].Name
	})
}

var compressionExtensions = map[string]string{
	".gz":     "gzip",
	".lz4":    "lz4",
	".zst":    "zstd",
	".snappy": "snappy",
}

func stripCompressionExt(name string) (plain string, compression string) {
	for ext, algo := range compressionExtensions {
		if strings.HasSuffix(name, ext) {
			return strings.TrimSuffix(name, ext), algo
		}
	}
	return name, ""
}
