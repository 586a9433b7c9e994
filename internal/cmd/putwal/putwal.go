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

// Package putwal implements the put-wal command: the remote-push
// counterpart of archive-wal, reading a tar stream of exactly one WAL file
// plus its checksum manifest from stdin and staging it into incoming/ only
// once every listed checksum has verified.
package putwal

import (
	"archive/tar"
	"bufio"
	"bytes"
	"crypto/md5"  //nolint:gosec // legacy manifest compatibility only, not used for security
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cloudnative-pg/barman-host-manager/internal/barmanerrors"
	"github.com/cloudnative-pg/barman-host-manager/internal/cmdutil"
)

// NewCmd builds the put-wal command.
func NewCmd(g *cmdutil.Globals) *cobra.Command {
	var testOnly bool

	cmd := &cobra.Command{
		Use:           "put-wal SERVER",
		Short:         "Accept one WAL file pushed as a tar stream on stdin",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ExactArgs(1),
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			bctx, err := g.Load()
			if err != nil {
				return err
			}
			_, cat, err := cmdutil.ResolveServer(bctx, args[0])
			if err != nil {
				return err
			}

			files, err := readTar(cobraCmd.InOrStdin())
			if err != nil {
				return barmanerrors.New(barmanerrors.KindProtocolError, "put-wal: "+args[0], err)
			}
			sums, dataName, err := splitManifest(files)
			if err != nil {
				return barmanerrors.New(barmanerrors.KindProtocolError, "put-wal: "+args[0], err)
			}
			if err := verifyChecksums(files, sums); err != nil {
				return barmanerrors.New(barmanerrors.KindChecksumMismatch, "put-wal: "+args[0], err)
			}
			if testOnly {
				fmt.Fprintf(cobraCmd.OutOrStdout(), "put-wal: %s validated, nothing written (--test)\n", dataName)
				return nil
			}

			dest := filepath.Join(cat.Home, "incoming", dataName)
			if err := writeAtomic(dest, files[dataName]); err != nil {
				return barmanerrors.New(barmanerrors.KindCopyFailed, "put-wal: staging "+dataName, err)
			}
			fmt.Fprintf(cobraCmd.OutOrStdout(), "put-wal: %s staged\n", dataName)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&testOnly, "test", "t", false, "validate the stream but do not write anything")
	return cmd
}

func readTar(r io.Reader) (map[string][]byte, error) {
	files := make(map[string][]byte)
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading tar stream: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", hdr.Name, err)
		}
		files[filepath.Base(hdr.Name)] = data
	}
	return files, nil
}

// splitManifest pulls the checksum manifest out of files and returns it
// alongside the name of the one remaining data file. Exactly two logical
// files are accepted: a manifest and one WAL (or .partial) file.
func splitManifest(files map[string][]byte) (map[string]string, string, error) {
	var manifestName, dataName string
	for name := range files {
		if name == "SHA256SUMS" || name == "MD5SUMS" {
			manifestName = name
			continue
		}
		if dataName != "" {
			return nil, "", fmt.Errorf("unexpected extra file %q in stream", name)
		}
		dataName = name
	}
	if manifestName == "" {
		return nil, "", fmt.Errorf("missing SHA256SUMS/MD5SUMS manifest")
	}
	if dataName == "" {
		return nil, "", fmt.Errorf("missing WAL data file")
	}

	sums := make(map[string]string)
	scanner := bufio.NewScanner(bytes.NewReader(files[manifestName]))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, "", fmt.Errorf("malformed manifest line %q", line)
		}
		sums[filepath.Base(fields[1])] = strings.ToLower(fields[0])
	}
	if err := scanner.Err(); err != nil {
		return nil, "", fmt.Errorf("reading manifest: %w", err)
	}
	return sums, dataName, nil
}

func verifyChecksums(files map[string][]byte, sums map[string]string) error {
	for name, want := range sums {
		data, ok := files[name]
		if !ok {
			return fmt.Errorf("manifest names %q but it was not in the stream", name)
		}
		got, err := checksumFor(data, want)
		if err != nil {
			return err
		}
		if !strings.EqualFold(got, want) {
			return fmt.Errorf("checksum mismatch for %s: manifest says %s, computed %s", name, want, got)
		}
	}
	return nil
}

// checksumFor picks the digest matching the manifest entry's length: 64
// hex chars for sha256 (the documented default), 32 for the legacy md5
// manifest some older clients still send.
func checksumFor(data []byte, want string) (string, error) {
	switch len(want) {
	case sha256.Size * 2:
		sum := sha256.Sum256(data)
		return hex.EncodeToString(sum[:]), nil
	case md5.Size * 2:
		sum := md5.Sum(data) //nolint:gosec
		return hex.EncodeToString(sum[:]), nil
	default:
		return "", fmt.Errorf("unrecognized checksum length %d", len(want))
	}
}

// writeAtomic writes data to a temp file in dest's directory and renames
// it into place, so a failed or interrupted call leaves incoming/
// unchanged (property 5: put-wal is atomic).
func writeAtomic(dest string, data []byte) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".put-wal-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, dest)
}
