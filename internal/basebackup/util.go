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
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/cloudnative-pg/barman-host-manager/internal/barmanerrors"
)

var versionPrefixRegex = regexp.MustCompile(`^(\d+)(?:\.(\d+))?`)

// parseVersionInt renders a "server_version" string (e.g. "16.2") into the
// same 6-digit integer convention PostgreSQL's own libpq clients use
// (160002), so it can be compared with internal/capabilities thresholds.
func parseVersionInt(serverVersion string) int {
	m := versionPrefixRegex.FindStringSubmatch(strings.TrimSpace(serverVersion))
	if m == nil {
		return 0
	}
	major, _ := strconv.Atoi(m[1])
	minor := 0
	if m[2] != "" {
		minor, _ = strconv.Atoi(m[2])
	}
	if major >= 10 {
		return major*10000 + minor
	}
	return major*10000 + minor*100
}

func marshalSnapshotInfo(s *SnapshotInfo) (json.RawMessage, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, barmanerrors.New(barmanerrors.KindFatalInternal, "marshaling snapshot info", err)
	}
	return data, nil
}
