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

// Package retention evaluates a server's retention_policy against its
// catalog to produce obsolete-backup and obsolete-WAL sets, honoring
// minimum_redundancy and keep annotations.
package retention

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cloudnative-pg/barman-host-manager/internal/catalog"
	"github.com/cloudnative-pg/barman-host-manager/internal/walfile"
)

// PolicyKind distinguishes the two supported policy shapes.
type PolicyKind int

// The supported retention policy kinds.
const (
	PolicyNone PolicyKind = iota
	PolicyRedundancy
	PolicyRecoveryWindow
)

// Unit is the time unit a RECOVERY WINDOW policy is expressed in.
type Unit int

// The supported recovery-window units.
const (
	UnitDays Unit = iota
	UnitWeeks
	UnitMonths
)

// Policy is a parsed retention_policy value.
type Policy struct {
	Kind       PolicyKind
	Redundancy int
	Window     int
	Unit       Unit
}

var redundancyRegex = regexp.MustCompile(`(?i)^REDUNDANCY\s+(\d+)$`)
var recoveryWindowRegex = regexp.MustCompile(`(?i)^RECOVERY WINDOW OF\s+(\d+)\s+(DAY|DAYS|WEEK|WEEKS|MONTH|MONTHS)$`)

// ParsePolicy parses the retention_policy configuration string. An empty
// string means "retain everything" (PolicyNone).
func ParsePolicy(s string) (Policy, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Policy{Kind: PolicyNone}, nil
	}
	if m := redundancyRegex.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		return Policy{Kind: PolicyRedundancy, Redundancy: n}, nil
	}
	if m := recoveryWindowRegex.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		unit := parseUnit(m[2])
		return Policy{Kind: PolicyRecoveryWindow, Window: n, Unit: unit}, nil
	}
	return Policy{}, fmt.Errorf("unrecognized retention_policy: %q", s)
}

func parseUnit(s string) Unit {
	switch strings.ToUpper(s) {
	case "WEEK", "WEEKS":
		return UnitWeeks
	case "MONTH", "MONTHS":
		return UnitMonths
	default:
		return UnitDays
	}
}

// windowDuration converts the policy's window into a time.Duration,
// approximating months as 30 days (consistent with barman's own
// convention, since calendar months have no fixed duration).
func (p Policy) windowDuration() time.Duration {
	days := p.Window
	switch p.Unit {
	case UnitWeeks:
		days *= 7
	case UnitMonths:
		days *= 30
	}
	return time.Duration(days) * 24 * time.Hour
}

// Plan is the result of evaluating a policy against a catalog.
type Plan struct {
	ObsoleteBackups          []string
	ObsoleteWALs             []string
	MinimumRedundancyWarning bool
}

// Evaluate computes the retention plan for c under policy, honoring
// minimumRedundancy (the floor on surviving DONE backups) and per-backup
// keep annotations. now is injected so the recovery-window comparison is
// deterministic in tests.
func Evaluate(c *catalog.Catalog, policy Policy, minimumRedundancy int, now time.Time) Plan {
	backups := c.Backups()

	done := make([]*catalog.Backup, 0, len(backups))
	for _, b := range backups {
		if b.IsDone() {
			done = append(done, b)
		}
	}

	obsolete := map[string]bool{}

	switch policy.Kind {
	case PolicyRedundancy:
		keepCount := policy.Redundancy
		nonKept := 0
		for i := len(done) - 1; i >= 0; i-- {
			b := done[i]
			if b.KeepTarget != catalog.KeepTargetNone {
				continue
			}
			nonKept++
			if nonKept > keepCount {
				obsolete[b.ID] = true
			}
		}
	case PolicyRecoveryWindow:
		cutoff := now.Add(-policy.windowDuration())
		// Keep the newest backup whose end_time <= cutoff, plus every
		// newer one; everything strictly older than that anchor is
		// obsolete.
		var anchorIndex = -1
		for i := len(done) - 1; i >= 0; i-- {
			if !done[i].EndTime.After(cutoff) {
				anchorIndex = i
				break
			}
		}
		if anchorIndex > 0 {
			for i := 0; i < anchorIndex; i++ {
				if done[i].KeepTarget == catalog.KeepTargetNone {
					obsolete[done[i].ID] = true
				}
			}
		}
	case PolicyNone:
		// retain everything
	}

	survivingDone := 0
	for _, b := range done {
		if !obsolete[b.ID] {
			survivingDone++
		}
	}

	plan := Plan{}
	if minimumRedundancy > 0 && survivingDone < minimumRedundancy {
		// RetentionViolation: downgrade to a warning, never silently delete.
		plan.MinimumRedundancyWarning = true
		obsolete = map[string]bool{}
	}

	for id := range obsolete {
		plan.ObsoleteBackups = append(plan.ObsoleteBackups, id)
	}
	sort.Strings(plan.ObsoleteBackups)

	plan.ObsoleteWALs = obsoleteWALs(c, backups, obsolete)
	sort.Strings(plan.ObsoleteWALs)
	return plan
}

// obsoleteWALs computes the WAL segments no longer required by any
// non-obsolete backup: a backup requires every WAL in
// [begin_wal, next_non_obsolete_backup.begin_wal) on its timeline, and the
// oldest surviving backup's begin_wal is therefore the boundary below
// which nothing in xlog.db is reachable from any DONE backup still kept.
// A catalog with no surviving anchor (every backup obsolete, or none done
// yet) reports no obsolete WALs at all: deleting WAL without a backup to
// recover from is never safe to infer.
func obsoleteWALs(c *catalog.Catalog, backups []*catalog.Backup, obsoleteBackups map[string]bool) []string {
	var anchors []walfile.Segment
	for _, b := range backups {
		if !b.IsDone() || obsoleteBackups[b.ID] {
			continue
		}
		seg, err := walfile.SegmentFromName(b.BeginWAL)
		if err != nil {
			continue
		}
		anchors = append(anchors, seg)
	}
	if len(anchors) == 0 {
		return nil
	}
	sort.Slice(anchors, func(i, j int) bool { return anchors[i].Less(anchors[j]) })
	earliest := anchors[0]

	records, err := catalog.ReadXlogDB(c.Home)
	if err != nil {
		return nil
	}

	var obsoleteWALNames []string
	for _, rec := range records {
		seg, err := walfile.SegmentFromName(rec.Name)
		if err != nil {
			continue // .history and backup-label records never expire here.
		}
		if seg.Timeline == earliest.Timeline && seg.Less(earliest) {
			obsoleteWALNames = append(obsoleteWALNames, rec.Name)
		}
	}
	return obsoleteWALNames
}
