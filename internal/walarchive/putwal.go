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

package walarchive

import (
	"archive/tar"
	"crypto/md5" //nolint:gosec
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cloudnative-pg/barman-host-manager/internal/barmanerrors"
	"github.com/cloudnative-pg/barman-host-manager/internal/walfile"
)

const (
	sha256SumsName = "SHA256SUMS"
	md5SumsName    = "MD5SUMS"
)

// PutWAL ingests the tar stream documented in "Wire format
// for put-wal": exactly one WAL data file plus a checksum manifest
// (SHA256SUMS, or MD5SUMS for backward compatibility). Every listed file
// is validated against its checksum before anything is installed; a
// mismatch fails the whole call with ChecksumMismatch and leaves
// incoming/ unchanged (testable property 5).
func PutWAL(home string, r io.Reader) error {
	tr := tar.NewReader(r)

	type stagedFile struct {
		name string
		data []byte
	}
	var files []stagedFile
	var manifest map[string]string
	var manifestIsMD5 bool

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return barmanerrors.New(barmanerrors.KindProtocolError, "reading put-wal tar stream", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		name := filepath.Base(hdr.Name)
		data, err := io.ReadAll(tr)
		if err != nil {
			return barmanerrors.New(barmanerrors.KindProtocolError, "reading put-wal entry "+name, err)
		}

		switch name {
		case sha256SumsName:
			manifest, err = parseChecksumManifest(data)
			if err != nil {
				return err
			}
		case md5SumsName:
			manifest, err = parseChecksumManifest(data)
			if err != nil {
				return err
			}
			manifestIsMD5 = true
		default:
			if !walfile.IsValidArchiverInput(name) {
				return barmanerrors.New(barmanerrors.KindProtocolError,
					"put-wal stream contains an unrecognized file "+name, nil)
			}
			files = append(files, stagedFile{name: name, data: data})
		}
	}

	if manifest == nil {
		return barmanerrors.New(barmanerrors.KindProtocolError, "put-wal stream is missing a checksum manifest", nil)
	}
	if len(files) != 1 {
		return barmanerrors.New(barmanerrors.KindProtocolError,
			fmt.Sprintf("put-wal stream must carry exactly one data file, got %d", len(files)), nil)
	}

	file := files[0]
	expected, ok := manifest[file.name]
	if !ok {
		return barmanerrors.New(barmanerrors.KindChecksumMismatch,
			"checksum manifest has no entry for "+file.name, nil)
	}

	var h hash.Hash
	if manifestIsMD5 {
		h = md5.New() //nolint:gosec
	} else {
		h = sha256.New()
	}
	h.Write(file.data)
	actual := hex.EncodeToString(h.Sum(nil))
	if actual != expected {
		return barmanerrors.New(barmanerrors.KindChecksumMismatch,
			fmt.Sprintf("checksum mismatch for %s: expected %s, got %s", file.name, expected, actual), nil)
	}

	incomingDir := filepath.Join(home, "incoming")
	if err := os.MkdirAll(incomingDir, 0o750); err != nil {
		return barmanerrors.New(barmanerrors.KindCopyFailed, "creating incoming directory", err)
	}

	destPath := filepath.Join(incomingDir, file.name)
	tmpPath := destPath + ".tmp"
	if err := os.WriteFile(tmpPath, file.data, 0o640); err != nil {
		return barmanerrors.New(barmanerrors.KindCopyFailed, "staging put-wal payload", err)
	}
	f, err := os.OpenFile(tmpPath, os.O_RDWR, 0o640) //nolint:gosec
	if err == nil {
		_ = f.Sync()
		_ = f.Close()
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return barmanerrors.New(barmanerrors.KindCopyFailed, "installing put-wal payload", err)
	}

	return nil
}

func parseChecksumManifest(data []byte) (map[string]string, error) {
	manifest := map[string]string{}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, barmanerrors.New(barmanerrors.KindProtocolError,
				"malformed checksum manifest line: "+line, nil)
		}
		manifest[fields[1]] = fields[0]
	}
	return manifest, nil
}
