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

// Package getwal implements the get-wal command: the restore_command side
// of WAL retrieval, fetching one archived segment (or .history file) and
// streaming it, decompressed unless asked to keep it packed.
package getwal

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/cloudnative-pg/barman-host-manager/internal/cmdutil"
	"github.com/cloudnative-pg/barman-host-manager/internal/compression"
)

// NewCmd builds the get-wal command.
func NewCmd(g *cmdutil.Globals) *cobra.Command {
	var keepCompression bool
	var outputPath string

	cmd := &cobra.Command{
		Use:           "get-wal SERVER WAL_NAME",
		Short:         "Fetch one archived WAL file",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ExactArgs(2),
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			bctx, err := g.Load()
			if err != nil {
				return err
			}
			server, cat, err := cmdutil.ResolveServer(bctx, args[0])
			if err != nil {
				return err
			}
			name := args[1]

			path, err := cat.WALPath(name, string(server.Compression))
			if err != nil {
				return err
			}
			f, err := os.Open(path) //nolint:gosec
			if err != nil {
				return fmt.Errorf("get-wal: %s: %w", name, err)
			}
			defer f.Close()

			var src io.Reader = f
			if !keepCompression && server.Compression != "" {
				driver, err := compression.Get(compression.Algorithm(server.Compression))
				if err != nil {
					return err
				}
				rc, err := driver.NewReader(f)
				if err != nil {
					return fmt.Errorf("get-wal: %s: %w", name, err)
				}
				defer rc.Close()
				src = rc
			}

			dest := cobraCmd.OutOrStdout()
			if outputPath != "" {
				out, err := os.OpenFile(outputPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
				if err != nil {
					return fmt.Errorf("get-wal: %s: %w", name, err)
				}
				defer out.Close()
				dest = out
			}

			if _, err := io.Copy(dest, src); err != nil {
				return fmt.Errorf("get-wal: %s: %w", name, err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&keepCompression, "keep-compression", false, "do not decompress, stream the file as stored")
	cmd.Flags().StringVarP(&outputPath, "output-directory", "o", "", "write to this path instead of stdout")
	return cmd
}
