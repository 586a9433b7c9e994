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

package walstreamer

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/lib/pq"

	"github.com/cloudnative-pg/barman-host-manager/internal/barmanerrors"
	"github.com/cloudnative-pg/barman-host-manager/internal/walfile"
)

// CreateSlot creates a physical replication slot named slotName on the
// server reached via conninfo. ifNotExists makes the call idempotent when
// the slot already exists.
func CreateSlot(ctx context.Context, conninfo, slotName string, ifNotExists bool) error {
	db, err := sql.Open("postgres", conninfo)
	if err != nil {
		return barmanerrors.New(barmanerrors.KindConnectionError, "opening management connection", err)
	}
	defer db.Close()

	exists, err := slotExists(ctx, db, slotName)
	if err != nil {
		return err
	}
	if exists {
		if ifNotExists {
			return nil
		}
		return barmanerrors.New(barmanerrors.KindConfigError, fmt.Sprintf("replication slot %q already exists", slotName), nil)
	}

	_, err = db.ExecContext(ctx, "SELECT pg_create_physical_replication_slot($1)", slotName)
	if err != nil {
		return barmanerrors.New(barmanerrors.KindConnectionError, "creating replication slot "+slotName, err)
	}
	return nil
}

// DropSlot drops the named physical replication slot, if present.
func DropSlot(ctx context.Context, conninfo, slotName string) error {
	db, err := sql.Open("postgres", conninfo)
	if err != nil {
		return barmanerrors.New(barmanerrors.KindConnectionError, "opening management connection", err)
	}
	defer db.Close()

	_, err = db.ExecContext(ctx, "SELECT pg_drop_replication_slot($1)", slotName)
	if err != nil {
		return barmanerrors.New(barmanerrors.KindConnectionError, "dropping replication slot "+slotName, err)
	}
	return nil
}

// SlotHealthy reports whether slotName exists (used by the
// check-diagnostics routine); the slot's active flag is not inspected.
func SlotHealthy(ctx context.Context, conninfo, slotName string) (bool, error) {
	db, err := sql.Open("postgres", conninfo)
	if err != nil {
		return false, barmanerrors.New(barmanerrors.KindConnectionError, "opening management connection", err)
	}
	defer db.Close()
	return slotExists(ctx, db, slotName)
}

func slotExists(ctx context.Context, db *sql.DB, slotName string) (bool, error) {
	var exists bool
	row := db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM pg_replication_slots WHERE slot_name = $1)", slotName)
	if err := row.Scan(&exists); err != nil {
		return false, barmanerrors.New(barmanerrors.KindConnectionError, "querying pg_replication_slots", err)
	}
	return exists, nil
}

// clearStreamingPartials removes every .partial file in streaming/,
// implementing the "clear unarchived partials" step of the reset
// operation. Only .partial tails are removed; any already closed
// segment is left for the archiver to pick up normally.
func clearStreamingPartials(home string) error {
	dir := filepath.Join(home, "streaming")
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return barmanerrors.New(barmanerrors.KindCatalogCorrupt, "reading streaming directory", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if _, ok := walfile.IsPartialWALFile(name); ok {
			if err := os.Remove(filepath.Join(dir, name)); err != nil {
				return barmanerrors.New(barmanerrors.KindCopyFailed, "removing partial "+name, err)
			}
		}
	}
	return nil
}
