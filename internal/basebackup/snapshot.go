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

import "context"

// SnapshotInfo is the provider-side reference a SnapshotDriver returns:
// this system never interprets disk snapshot contents, only records
// enough to ask the provider for them again later. Method "snapshot"
// stores only label, metadata, and these references.
type SnapshotInfo struct {
	Provider   string            `json:"provider"`
	Label      string            `json:"label"`
	References map[string]string `json:"references"` // volume/disk name -> provider snapshot id
}

// SnapshotDriver is the sealed interface method "snapshot" drives instead
// of internal/copydriver. Every concrete cloud integration lives behind
// this interface; none is implemented here since the provider APIs
// themselves are explicitly out of scope.
type SnapshotDriver interface {
	// Snapshot takes a provider-side snapshot of every volume backing
	// dataDirectory and the given tablespaces, returning opaque
	// references the Recovery Planner will later ask the same provider
	// to resolve.
	Snapshot(ctx context.Context, label, dataDirectory string, tablespaces []TablespaceInfo) (*SnapshotInfo, error)
}

// NullSnapshotDriver rejects every call. It is the default when no
// provider-specific driver has been configured, so a server misconfigured
// with backup_method=snapshot fails fast with a clear error rather than
// silently falling back to a different method.
type NullSnapshotDriver struct{}

// Snapshot always fails: see NullSnapshotDriver's doc comment.
func (NullSnapshotDriver) Snapshot(_ context.Context, _, _ string, _ []TablespaceInfo) (*SnapshotInfo, error) {
	return nil, errNoSnapshotDriver
}

var errNoSnapshotDriver = snapshotDriverError("no snapshot driver configured for this server")

type snapshotDriverError string

func (e snapshotDriverError) Error() string { return string(e) }
