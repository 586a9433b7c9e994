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

// Package listfiles implements the list-files command: enumerate the
// regular files belonging to one backup's data directory, or the WAL
// segments it requires, depending on --target.
package listfiles

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cloudnative-pg/barman-host-manager/internal/barmanerrors"
	"github.com/cloudnative-pg/barman-host-manager/internal/catalog"
	"github.com/cloudnative-pg/barman-host-manager/internal/cmdutil"
	"github.com/cloudnative-pg/barman-host-manager/internal/walfile"
)

// NewCmd builds the list-files command.
func NewCmd(g *cmdutil.Globals) *cobra.Command {
	var target string

	cmd := &cobra.Command{
		Use:           "list-files SERVER BACKUP_ID",
		Short:         "List a backup's data files or the WAL segments it requires",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ExactArgs(2),
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			bctx, err := g.Load()
			if err != nil {
				return err
			}
			_, cat, err := cmdutil.ResolveServer(bctx, args[0])
			if err != nil {
				return err
			}
			backup, err := cat.Lookup(args[1])
			if err != nil {
				return err
			}

			out := cobraCmd.OutOrStdout()
			switch target {
			case "", "data":
				return listDataFiles(cat, backup, out)
			case "wal", "full":
				return listWAL(cat, backup, out, true)
			case "standalone":
				return listWAL(cat, backup, out, false)
			default:
				return fmt.Errorf("list-files: unknown --target %q", target)
			}
		},
	}

	cmd.Flags().StringVar(&target, "target", "data", "data, wal, standalone, or full")
	return cmd
}

func listDataFiles(cat *catalog.Catalog, backup *catalog.Backup, out io.Writer) error {
	root := catalog.BackupDataDir(cat.Home, backup.ID)
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		fmt.Fprintln(out, rel)
		return nil
	})
	if err != nil {
		return barmanerrors.New(barmanerrors.KindCopyFailed, "walking backup data directory", err)
	}
	return nil
}

// listWAL prints the backup's required WAL segments: its own begin-to-end
// range for "standalone", or forward to the latest archived segment on
// its timeline for "wal"/"full" (everything needed to recover past it).
func listWAL(cat *catalog.Catalog, backup *catalog.Backup, out io.Writer, openEnded bool) error {
	from, err := walfile.SegmentFromName(backup.BeginWAL)
	if err != nil {
		return barmanerrors.New(barmanerrors.KindCatalogCorrupt, "parsing begin_wal", err)
	}

	if !openEnded {
		to, err := walfile.SegmentFromName(backup.EndWAL)
		if err != nil {
			return barmanerrors.New(barmanerrors.KindCatalogCorrupt, "parsing end_wal", err)
		}
		records, err := cat.WALRange(from, to, backup.Timeline)
		if err != nil {
			return err
		}
		for _, r := range records {
			fmt.Fprintln(out, r.Name)
		}
		fmt.Fprintln(out, backup.EndWAL)
		return nil
	}

	all, err := catalog.ReadXlogDB(cat.Home)
	if err != nil {
		return err
	}
	for _, r := range all {
		seg, err := walfile.SegmentFromName(r.Name)
		if err != nil {
			continue
		}
		if seg.Timeline != backup.Timeline {
			continue
		}
		if seg.Less(from) {
			continue
		}
		fmt.Fprintln(out, r.Name)
	}
	return nil
}
