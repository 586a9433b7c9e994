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

// Package capabilities detects which optional server-side features a given
// PostgreSQL engine version exposes, so the Base Backup Executor can
// negotiate compression, format, and incremental support instead of
// hard-coding a minimum supported version.
package capabilities

import "github.com/blang/semver"

// Capabilities records which optional engine features are available for a
// given PostgreSQL server version. Every field defaults to false, so a
// version below every threshold detects as the empty value.
type Capabilities struct {
	Version *semver.Version

	// HasTemporaryReplicationSlots reports pg_basebackup's/streamer's
	// ability to create a slot that is dropped automatically on disconnect.
	HasTemporaryReplicationSlots bool

	// HasServerSideCompression reports support for negotiating compression
	// on the server rather than the client, reducing wire bytes.
	HasServerSideCompression bool

	// HasLZ4Compression and HasZSTDCompression report support for those
	// compression methods in the native-basebackup protocol, on top of the
	// always-available gzip.
	HasLZ4Compression  bool
	HasZSTDCompression bool

	// HasIncrementalBasebackup reports support for block-level incremental
	// base backups anchored on a prior full backup's WAL summary.
	HasIncrementalBasebackup bool

	// HasWALSummarization reports whether the engine maintains the WAL
	// summary files an incremental base backup is computed against.
	HasWALSummarization bool

	// HasManifestChecksums reports whether pg_basebackup can emit a
	// backup_manifest with per-file checksums during the backup itself.
	HasManifestChecksums bool

	// HasWaitForArchive reports support for --wait-for-archive / the
	// equivalent pg_backup_stop(wait_for_archive) semantics.
	HasWaitForArchive bool

	// HasTablespaceMapping reports support for relocating tablespaces with
	// --tablespace-mapping during a native basebackup.
	HasTablespaceMapping bool
}

// Detect returns the Capabilities implied by a PostgreSQL server version.
// Thresholds mirror the engine's actual release history for these features;
// Detect never errors, a nil version simply detects the empty Capabilities.
func Detect(version *semver.Version) (*Capabilities, error) {
	c := &Capabilities{Version: version}
	if version == nil {
		return c, nil
	}

	if atLeast(version, 9, 6) {
		c.HasWaitForArchive = true
	}
	if atLeast(version, 10, 0) {
		c.HasTemporaryReplicationSlots = true
	}
	if atLeast(version, 12, 0) {
		c.HasTablespaceMapping = true
	}
	if atLeast(version, 13, 0) {
		c.HasManifestChecksums = true
	}
	if atLeast(version, 15, 0) {
		c.HasServerSideCompression = true
		c.HasLZ4Compression = true
	}
	if atLeast(version, 16, 0) {
		c.HasZSTDCompression = true
	}
	if atLeast(version, 17, 0) {
		c.HasWALSummarization = true
		c.HasIncrementalBasebackup = true
	}

	return c, nil
}

func atLeast(v *semver.Version, major, minor uint64) bool {
	if v.Major != major {
		return v.Major > major
	}
	return v.Minor >= minor
}
