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

package basebackup

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/cloudnative-pg/barman-host-manager/internal/barmanerrors"
	"github.com/cloudnative-pg/barman-host-manager/internal/logging"
)

// NativeBasebackupOptions configures one native-basebackup run: the copy
// driver is the database's own streaming base-backup utility rather than
// internal/copydriver.
type NativeBasebackupOptions struct {
	Binary      string // defaults to "pg_basebackup"
	ConnInfo    string
	TargetDir   string
	Format      string // "plain" or "tar"
	Compression string // "" (none), "gzip", "lz4", "zstd"
	Checkpoint  string // "fast" (immediate_checkpoint) or "spread"
	Incremental string // path to the parent backup's manifest, when doing a block-level incremental
}

// RunNativeBasebackup shells out to the engine's streaming base-backup
// utility. Format/compression negotiation against server capabilities is
// the caller's responsibility (internal/capabilities); this function only
// renders the already-negotiated choice into command-line flags.
func RunNativeBasebackup(ctx context.Context, logger logging.Logger, opts NativeBasebackupOptions) error {
	binary := opts.Binary
	if binary == "" {
		binary = "pg_basebackup"
	}

	format := opts.Format
	if format == "" {
		format = "plain"
	}

	args := []string{
		"--pgdata", opts.TargetDir,
		"--dbname", opts.ConnInfo,
		"--format", formatFlag(format),
		"--wal-method=stream",
		"--progress",
		"--no-password",
	}

	if opts.Checkpoint == "fast" {
		args = append(args, "--checkpoint=fast")
	}
	if opts.Compression != "" {
		args = append(args, fmt.Sprintf("--compress=%s", opts.Compression))
	}
	if opts.Incremental != "" {
		args = append(args, "--incremental="+opts.Incremental)
	}

	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	cmd.Stdout = logging.LogWriter{Logger: logger, FieldName: "stdout"}
	cmd.Stderr = logging.LogWriter{Logger: logger, FieldName: "stderr"}

	if err := cmd.Run(); err != nil {
		return barmanerrors.New(barmanerrors.KindCopyFailed, binary+" failed", err)
	}
	return nil
}

func formatFlag(format string) string {
	switch format {
	case "tar":
		return "tar"
	default:
		return "plain"
	}
}
