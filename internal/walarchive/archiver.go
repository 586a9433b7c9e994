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

// Package walarchive implements the WAL Archiver: it moves eligible
// files out of incoming/ and streaming/ into the WAL store,
// validating, compressing and updating xlog.db as it goes.
package walarchive

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cloudnative-pg/barman-host-manager/internal/barmanerrors"
	"github.com/cloudnative-pg/barman-host-manager/internal/catalog"
	"github.com/cloudnative-pg/barman-host-manager/internal/compression"
	"github.com/cloudnative-pg/barman-host-manager/internal/logging"
	"github.com/cloudnative-pg/barman-host-manager/internal/walfile"
)

// Archiver moves WAL segments from a server's ingress directories into its
// permanent wals/ store.
type Archiver struct {
	Catalog      *catalog.Catalog
	Compression  compression.Algorithm
	ParallelJobs int
	RetryTimes   int
	RetrySleep   time.Duration
	Logger       logging.Logger
}

// FileOutcome records what happened to one ingress file.
type FileOutcome struct {
	Name      string
	Installed bool
	Skipped   bool // already archived, content identical (exactly-once no-op)
	Err       error
}

// Result is the outcome of one archiving pass.
type Result struct {
	Outcomes []FileOutcome
}

// AnyInstalled reports whether at least one file was newly installed.
func (r *Result) AnyInstalled() bool {
	for _, o := range r.Outcomes {
		if o.Installed {
			return true
		}
	}
	return false
}

// FirstError returns the first persistent failure recorded, or nil.
func (r *Result) FirstError() error {
	for _, o := range r.Outcomes {
		if o.Err != nil {
			return o.Err
		}
	}
	return nil
}

// ArchiveIngress processes every eligible file currently sitting in
// incoming/ and streaming/, in the ordering the protocol requires:
// ascending segment name within a timeline, with any .partial file
// processed last (and only installed once a full successor or a history
// file confirms the boundary).
func (a *Archiver) ArchiveIngress(ctx context.Context) (*Result, error) {
	incoming, err := a.listIngress(filepath.Join(a.Catalog.Home, "incoming"))
	if err != nil {
		return nil, err
	}
	streaming, err := a.listIngress(filepath.Join(a.Catalog.Home, "streaming"))
	if err != nil {
		return nil, err
	}

	ordered := orderIngress(append(incoming, streaming...))

	jobs := a.ParallelJobs
	if jobs < 1 {
		jobs = 1
	}

	result := &Result{Outcomes: make([]FileOutcome, len(ordered))}
	sem := make(chan struct{}, jobs)
	var wg sync.WaitGroup

	for i, item := range ordered {
		i, item := i, item
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			result.Outcomes[i] = a.archiveOne(ctx, item)
		}()
	}
	wg.Wait()

	return result, nil
}

type ingressFile struct {
	path string
	name string
}

func (a *Archiver) listIngress(dir string) ([]ingressFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, barmanerrors.New(barmanerrors.KindCopyFailed, "listing "+dir, err)
	}
	var files []ingressFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		files = append(files, ingressFile{path: filepath.Join(dir, e.Name()), name: e.Name()})
	}
	return files, nil
}

// orderIngress sorts eligible files in ascending name order within a
// timeline, pushing every .partial file to the end regardless of name.
func orderIngress(files []ingressFile) []ingressFile {
	sort.SliceStable(files, func(i, j int) bool {
		iPartial := isPartial(files[i].name)
		jPartial := isPartial(files[j].name)
		if iPartial != jPartial {
			return !iPartial
		}
		return files[i].name < files[j].name
	})
	return files
}

func isPartial(name string) bool {
	_, ok := walfile.IsPartialWALFile(name)
	return ok
}

func (a *Archiver) archiveOne(ctx context.Context, item ingressFile) FileOutcome {
	if !walfile.IsValidArchiverInput(item.name) {
		a.quarantine(item, "does not match any recognized WAL file shape")
		return FileOutcome{Name: item.name, Err: barmanerrors.New(barmanerrors.KindConfigError,
			"invalid archiver input "+item.name, nil)}
	}

	installName := item.name
	if partialName, ok := walfile.IsPartialWALFile(item.name); ok {
		installName = partialName
		ready, err := a.partialSuccessorArrived(installName)
		if err != nil {
			return FileOutcome{Name: item.name, Err: err}
		}
		if !ready {
			// Left in incoming/streaming untouched: a .partial is never
			// advertised as archived until a full successor or a newer
			// timeline's history file confirms the boundary behind it.
			return FileOutcome{Name: item.name}
		}
	}

	already, err := a.Catalog.HasWAL(installName)
	if err != nil {
		return FileOutcome{Name: item.name, Err: err}
	}
	if already {
		identical, err := a.contentMatchesArchived(installName, item.path)
		if err != nil {
			return FileOutcome{Name: item.name, Err: err}
		}
		if identical {
			_ = os.Remove(item.path)
			return FileOutcome{Name: item.name, Skipped: true}
		}
		a.quarantine(item, "differs from the already-archived copy of "+installName)
		a.Logger.Warning("quarantined WAL with differing content", "wal", installName)
		return FileOutcome{Name: item.name, Skipped: true}
	}

	var lastErr error
	for attempt := 0; attempt <= a.RetryTimes; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return FileOutcome{Name: item.name, Err: ctx.Err()}
			case <-time.After(a.RetrySleep):
			}
		}
		if err := a.installOne(item, installName); err != nil {
			lastErr = err
			continue
		}
		return FileOutcome{Name: item.name, Installed: true}
	}

	a.quarantine(item, "exceeded archive retry budget: "+lastErr.Error())
	return FileOutcome{Name: item.name, Err: barmanerrors.New(barmanerrors.KindCopyFailed,
		"archiving "+item.name, lastErr)}
}

func (a *Archiver) contentMatchesArchived(segmentName, incomingPath string) (bool, error) {
	archivedPath, err := a.Catalog.WALPath(segmentName, string(a.Compression))
	if err != nil {
		return false, err
	}
	archived, err := os.ReadFile(archivedPath) //nolint:gosec
	if err != nil {
		return false, nil // treat "cannot read archived copy" as "not identical", conservative
	}
	driver, err := compression.Get(a.Compression)
	if err != nil {
		return false, err
	}
	reader, err := driver.NewReader(bytes.NewReader(archived))
	if err != nil {
		return false, nil
	}
	defer reader.Close()
	decompressed, err := io.ReadAll(reader)
	if err != nil {
		return false, nil
	}

	incoming, err := os.ReadFile(incomingPath) //nolint:gosec
	if err != nil {
		return false, err
	}
	return string(decompressed) == string(incoming), nil
}

func (a *Archiver) installOne(item ingressFile, segmentName string) error {
	seg, err := walfile.SegmentFromName(segmentName)
	var destDir string
	if err != nil {
		// .history files are not parseable segments; keep them in a
		// flat directory keyed by their own name's first 8 hex chars.
		destDir = filepath.Join(a.Catalog.Home, "wals", segmentName[:8]+"00000000")
	} else {
		destDir = filepath.Join(a.Catalog.Home, "wals", seg.Prefix16())
	}
	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return barmanerrors.New(barmanerrors.KindCopyFailed, "creating wal subdirectory", err)
	}

	destPath := filepath.Join(destDir, segmentName+a.Compression.Extension())

	srcFile, err := os.Open(item.path) //nolint:gosec
	if err != nil {
		return &barmanerrors.CopyFailed{Transient: true, Path: item.path, Err: err}
	}
	defer srcFile.Close()

	info, err := srcFile.Stat()
	if err != nil {
		return &barmanerrors.CopyFailed{Transient: true, Path: item.path, Err: err}
	}

	tmpPath := destPath + ".tmp"
	out, err := os.Create(tmpPath) //nolint:gosec
	if err != nil {
		return &barmanerrors.CopyFailed{Transient: true, Path: destPath, Err: err}
	}

	driver, err := compression.Get(a.Compression)
	if err != nil {
		out.Close()
		return barmanerrors.New(barmanerrors.KindConfigError, "resolving compression driver", err)
	}
	writer, err := driver.NewWriter(out)
	if err != nil {
		out.Close()
		return &barmanerrors.CopyFailed{Transient: false, Path: destPath, Err: err}
	}
	if _, err := io.Copy(writer, srcFile); err != nil {
		writer.Close()
		out.Close()
		return &barmanerrors.CopyFailed{Transient: true, Path: destPath, Err: err}
	}
	if err := writer.Close(); err != nil {
		out.Close()
		return &barmanerrors.CopyFailed{Transient: false, Path: destPath, Err: err}
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return &barmanerrors.CopyFailed{Transient: true, Path: destPath, Err: err}
	}
	if err := out.Close(); err != nil {
		return &barmanerrors.CopyFailed{Transient: true, Path: destPath, Err: err}
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return &barmanerrors.CopyFailed{Transient: true, Path: destPath, Err: err}
	}

	// Durability ordering: file fsynced (above) and renamed into place
	// before the xlog.db record is appended, which itself
	// fsyncs before we unlink the source.
	if walfile.IsHistoryFile(segmentName) {
		// history files are not WAL segments proper; no xlog.db record.
	} else {
		if err := catalog.AppendWALRecord(a.Catalog.Home, catalog.WALRecord{
			Name:        segmentName,
			Size:        info.Size(),
			Time:        time.Now().UTC(),
			Compression: string(a.Compression),
		}); err != nil {
			return err
		}
	}

	if err := os.Remove(item.path); err != nil {
		return &barmanerrors.CopyFailed{Transient: true, Path: item.path, Err: err}
	}
	return nil
}

// partialSuccessorArrived reports whether installName's .partial tail is
// safe to install: either its immediate successor segment is already
// archived on the same timeline, or a later timeline's history file is
// already archived, confirming installName was the last segment its
// timeline ever produced.
func (a *Archiver) partialSuccessorArrived(installName string) (bool, error) {
	seg, err := walfile.SegmentFromName(installName)
	if err != nil {
		return false, nil
	}
	next := seg.Next(nil, nil)
	hasNext, err := a.Catalog.HasWAL(next.Name())
	if err != nil {
		return false, err
	}
	if hasNext {
		return true, nil
	}
	return a.hasNewerHistoryFile(seg.Timeline)
}

// hasNewerHistoryFile reports whether wals/ already holds a .history file
// for a timeline strictly newer than timeline.
func (a *Archiver) hasNewerHistoryFile(timeline uint32) (bool, error) {
	walsDir := filepath.Join(a.Catalog.Home, "wals")
	prefixes, err := os.ReadDir(walsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, barmanerrors.New(barmanerrors.KindCopyFailed, "listing "+walsDir, err)
	}
	for _, prefix := range prefixes {
		if !prefix.IsDir() {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(walsDir, prefix.Name()))
		if err != nil {
			continue
		}
		for _, e := range entries {
			name := strings.TrimSuffix(e.Name(), a.Compression.Extension())
			if !walfile.IsHistoryFile(name) {
				continue
			}
			tli, err := strconv.ParseUint(strings.TrimSuffix(name, ".history"), 16, 32)
			if err != nil {
				continue
			}
			if uint32(tli) > timeline {
				return true, nil
			}
		}
	}
	return false, nil
}

func (a *Archiver) quarantine(item ingressFile, reason string) {
	errDir := filepath.Join(a.Catalog.Home, "errors")
	_ = os.MkdirAll(errDir, 0o750)
	dest := filepath.Join(errDir, item.name)
	_ = os.Rename(item.path, dest)
	_ = os.WriteFile(dest+".error", []byte(reason+"\n"), 0o640)
	a.Logger.Warning("quarantined WAL ingress file", "file", item.name, "reason", reason)
}
