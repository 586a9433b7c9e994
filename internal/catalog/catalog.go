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
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cloudnative-pg/barman-host-manager/internal/barmanerrors"
	"github.com/cloudnative-pg/barman-host-manager/internal/catalog/lock"
)

// subdirectories making up a server's home tree.
var subdirectories = []string{"base", "wals", "incoming", "streaming", "errors"}

// Catalog is the on-disk registry of backups and WAL segments for a single
// server, rooted at Home.
type Catalog struct {
	Server string
	Home   string

	backups []*Backup
	corrupt []string
}

// Open loads the backup list for a server rooted at home. It does not
// error on a missing tree: an uninitialized server is simply empty until
// EnsureLayout is called.
func Open(server, home string) (*Catalog, error) {
	backups, corrupt, err := ListBackups(home)
	if err != nil {
		return nil, err
	}
	return &Catalog{Server: server, Home: home, backups: backups, corrupt: corrupt}, nil
}

// EnsureLayout creates every fixed subdirectory of the server home tree if
// missing.
func (c *Catalog) EnsureLayout() error {
	if err := os.MkdirAll(c.Home, 0o750); err != nil {
		return barmanerrors.New(barmanerrors.KindCatalogCorrupt, "creating server home", err)
	}
	for _, sub := range subdirectories {
		if err := os.MkdirAll(filepath.Join(c.Home, sub), 0o750); err != nil {
			return barmanerrors.New(barmanerrors.KindCatalogCorrupt, "creating "+sub, err)
		}
	}
	return nil
}

// Reload re-reads the backup list from disk, discarding any cached state.
func (c *Catalog) Reload() error {
	backups, corrupt, err := ListBackups(c.Home)
	if err != nil {
		return err
	}
	c.backups = backups
	c.corrupt = corrupt
	return nil
}

// Backups returns every parsed backup, chronologically ordered by id.
func (c *Catalog) Backups() []*Backup { return c.backups }

// CorruptBackupIDs returns the ids of backup.info files that failed to
// parse; these are excluded from every alias lookup.
func (c *Catalog) CorruptBackupIDs() []string { return c.corrupt }

// Lookup resolves a backup id or one of the documented aliases (first,
// oldest, last, latest, last-full, latest-full, last-failed).
func (c *Catalog) Lookup(idOrAlias string) (*Backup, error) {
	switch idOrAlias {
	case "first", "oldest":
		if len(c.backups) == 0 {
			return nil, barmanerrors.NotFound(c.Server, "any backup")
		}
		return c.backups[0], nil
	case "last", "latest":
		if len(c.backups) == 0 {
			return nil, barmanerrors.NotFound(c.Server, "any backup")
		}
		return c.backups[len(c.backups)-1], nil
	case "last-full", "latest-full":
		for i := len(c.backups) - 1; i >= 0; i-- {
			if !c.backups[i].IsIncremental() {
				return c.backups[i], nil
			}
		}
		return nil, barmanerrors.NotFound(c.Server, "a full backup")
	case "last-failed":
		for i := len(c.backups) - 1; i >= 0; i-- {
			if c.backups[i].Status == StatusFailed {
				return c.backups[i], nil
			}
		}
		return nil, barmanerrors.NotFound(c.Server, "a failed backup")
	}

	for _, b := range c.backups {
		if b.ID == idOrAlias {
			return b, nil
		}
	}
	return nil, barmanerrors.NotFound(c.Server, "backup "+idOrAlias)
}

// FirstRecoverabilityPoint returns the earliest end_time across every DONE
// backup, i.e. the earliest point in time recovery is possible to.
func (c *Catalog) FirstRecoverabilityPoint() *time.Time {
	for _, b := range c.backups {
		if b.IsDone() {
			t := b.EndTime
			return &t
		}
	}
	return nil
}

// ClosestBackupBefore returns the latest DONE backup whose end_time is at
// or before target, or nil if none qualifies.
func (c *Catalog) ClosestBackupBefore(target time.Time) *Backup {
	var best *Backup
	for _, b := range c.backups {
		if !b.IsDone() {
			continue
		}
		if b.EndTime.After(target) {
			continue
		}
		if best == nil || b.EndTime.After(best.EndTime) {
			best = b
		}
	}
	return best
}

// NextBackupAfter returns the chronologically next backup after b, or nil
// if b is the most recent.
func (c *Catalog) NextBackupAfter(b *Backup) *Backup {
	for i, candidate := range c.backups {
		if candidate.ID == b.ID && i+1 < len(c.backups) {
			return c.backups[i+1]
		}
	}
	return nil
}

// Chain walks parent_backup_id pointers from b back to its root, returning
// the chain in root-first order (index 0 is the full backup).
func (c *Catalog) Chain(b *Backup) ([]*Backup, error) {
	chain := []*Backup{b}
	current := b
	for current.IsIncremental() {
		parent, err := c.Lookup(current.ParentBackupID)
		if err != nil {
			return nil, barmanerrors.New(barmanerrors.KindCatalogCorrupt,
				"incremental backup "+current.ID+" references missing parent "+current.ParentBackupID, err)
		}
		chain = append([]*Backup{parent}, chain...)
		current = parent
	}
	return chain, nil
}

// Lock acquires the named catalog lock for this server.
func (c *Catalog) Lock(kind lock.Kind) (*lock.Lock, error) {
	return lock.Acquire(c.Home, kind, c.Server)
}

// Children returns every backup in the catalog whose parent_backup_id
// points at b.
func (c *Catalog) Children(b *Backup) []*Backup {
	var children []*Backup
	for _, candidate := range c.backups {
		if candidate.ParentBackupID == b.ID {
			children = append(children, candidate)
		}
	}
	return children
}

// Delete removes b's backup directory from disk. It refuses to delete a
// backup that still has incremental children recorded against it: barman
// has historically offered to "promote" the oldest child to root instead,
// but silently rewriting another backup's parent pointer during a delete
// is exactly the kind of surprising action-at-a-distance worth refusing
// rather than automating. The caller must delete the children first.
func (c *Catalog) Delete(b *Backup) error {
	if children := c.Children(b); len(children) > 0 {
		ids := make([]string, len(children))
		for i, child := range children {
			ids[i] = child.ID
		}
		return barmanerrors.New(barmanerrors.KindConfigError,
			"refusing to delete "+b.ID+": incremental backups depend on it ("+strings.Join(ids, ", ")+")", nil)
	}
	if err := os.RemoveAll(backupDir(c.Home, b.ID)); err != nil {
		return barmanerrors.New(barmanerrors.KindCopyFailed, "removing backup directory for "+b.ID, err)
	}
	return nil
}

// DeleteWALs removes the named WAL segments from wals/ and drops their
// xlog.db records, skipping any name not currently recorded (already
// removed, or never archived) rather than erroring on it.
func (c *Catalog) DeleteWALs(names []string) error {
	if len(names) == 0 {
		return nil
	}
	toDelete := make(map[string]bool, len(names))
	for _, n := range names {
		toDelete[n] = true
	}

	records, err := ReadXlogDB(c.Home)
	if err != nil {
		return err
	}

	kept := make([]WALRecord, 0, len(records))
	for _, rec := range records {
		if !toDelete[rec.Name] {
			kept = append(kept, rec)
			continue
		}
		path, err := c.WALPath(rec.Name, rec.Compression)
		if err != nil {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return barmanerrors.New(barmanerrors.KindCopyFailed, "removing WAL "+rec.Name, err)
		}
	}

	var buf bytes.Buffer
	for _, rec := range kept {
		buf.WriteString(rec.Line())
		buf.WriteByte('\n')
	}
	return atomicWriteFile(xlogDBPath(c.Home), buf.Bytes())
}
