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

package orchestrator

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/cloudnative-pg/barman-host-manager/internal/catalog/lock"
)

// CleanStaleLocks removes every *.lock file directly under home that is
// not currently held. It distinguishes "stale" from "held" the only
// reliable way available: attempting a non-blocking acquire. A lock file
// whose holder process has died no longer blocks flock(2), so the
// acquire succeeds and the now-pointless file is removed; a lock
// actually in use fails to acquire and is left alone.
func CleanStaleLocks(home, server string) ([]string, error) {
	entries, err := os.ReadDir(home)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var removed []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".lock") {
			continue
		}
		kind := lock.Kind(strings.TrimSuffix(strings.TrimPrefix(e.Name(), "."), ".lock"))

		held, err := lock.Acquire(home, kind, server)
		if err != nil {
			continue // genuinely held: leave it in place
		}
		_ = held.Release()

		path := filepath.Join(home, e.Name())
		if err := os.Remove(path); err != nil {
			return removed, err
		}
		removed = append(removed, e.Name())
	}
	return removed, nil
}
