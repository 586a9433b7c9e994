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

// Package archivewal implements the archive-wal command, the receiving
// end of PostgreSQL's archive_command.
package archivewal

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cloudnative-pg/barman-host-manager/internal/barmanctx"
	"github.com/cloudnative-pg/barman-host-manager/internal/catalog"
	"github.com/cloudnative-pg/barman-host-manager/internal/cmdutil"
	"github.com/cloudnative-pg/barman-host-manager/internal/compression"
	"github.com/cloudnative-pg/barman-host-manager/internal/config"
	"github.com/cloudnative-pg/barman-host-manager/internal/walarchive"
)

// NewCmd builds the archive-wal command.
func NewCmd(g *cmdutil.Globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "archive-wal SERVER WAL_PATH",
		Short:         "Archive a single WAL file produced by archive_command",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ExactArgs(2),
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			bctx, err := g.Load()
			if err != nil {
				return err
			}
			server, cat, err := cmdutil.OpenServer(bctx, args[0])
			if err != nil {
				return err
			}
			return run(cobraCmd.Context(), bctx, server, cat, args[1])
		},
	}
	return cmd
}

// run copies walPath (the %p argument archive_command receives) into the
// server's incoming/ dropbox, fsyncs it, then drives the WAL Archiver over
// the whole ingress directory so a concurrent archive-wal invocation's
// files get picked up too rather than racing each other's directory scans.
func run(ctx context.Context, bctx *barmanctx.Context, server *config.Server, cat *catalog.Catalog, walPath string) error {
	name := filepath.Base(walPath)
	dest := filepath.Join(cat.Home, "incoming", name)

	if err := copyFile(walPath, dest); err != nil {
		return fmt.Errorf("archive-wal: staging %s: %w", name, err)
	}

	archiver := &walarchive.Archiver{
		Catalog:      cat,
		Compression:  compression.Algorithm(server.Compression),
		ParallelJobs: server.ParallelJobs,
		RetryTimes:   server.ArchiveRetryTimes,
		RetrySleep:   server.ArchiveRetrySleep,
		Logger:       bctx.Logger.WithName("archive-wal"),
	}
	result, err := archiver.ArchiveIngress(ctx)
	if err != nil {
		return err
	}

	for _, outcome := range result.Outcomes {
		if outcome.Name != name {
			continue
		}
		if outcome.Err != nil {
			return fmt.Errorf("archive-wal: %s: %w", name, outcome.Err)
		}
		if !outcome.Installed && !outcome.Skipped {
			return fmt.Errorf("archive-wal: %s was not installed", name)
		}
		return nil
	}
	return fmt.Errorf("archive-wal: %s was not processed by this ingress pass", name)
}

func copyFile(src, dest string) error {
	in, err := os.Open(src) //nolint:gosec
	if err != nil {
		return err
	}
	defer in.Close() //nolint:errcheck

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640) //nolint:gosec
	if err != nil {
		return err
	}
	defer out.Close() //nolint:errcheck

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
