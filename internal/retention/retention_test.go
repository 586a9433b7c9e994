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

package retention

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/cloudnative-pg/barman-host-manager/internal/catalog"
)

func seedRetentionCatalog(entries []*catalog.Backup) *catalog.Catalog {
	home := GinkgoT().TempDir()
	c, err := catalog.Open("main", home)
	Expect(err).ToNot(HaveOccurred())
	Expect(c.EnsureLayout()).To(Succeed())
	for _, b := range entries {
		Expect(catalog.WriteBackupInfo(home, b)).To(Succeed())
	}
	Expect(c.Reload()).To(Succeed())
	return c
}

func doneBackup(id string, end time.Time) *catalog.Backup {
	return &catalog.Backup{
		ID:         id,
		Status:     catalog.StatusDone,
		BeginWAL:   "00000001000000000000000" + id[len(id)-1:],
		BeginTime:  end.Add(-time.Hour),
		EndTime:    end,
		Timeline:   1,
		KeepTarget: catalog.KeepTargetNone,
	}
}

var _ = Describe("ParsePolicy", func() {
	It("parses an empty string as PolicyNone", func() {
		p, err := ParsePolicy("")
		Expect(err).ToNot(HaveOccurred())
		Expect(p.Kind).To(Equal(PolicyNone))
	})

	It("parses REDUNDANCY n", func() {
		p, err := ParsePolicy("REDUNDANCY 3")
		Expect(err).ToNot(HaveOccurred())
		Expect(p.Kind).To(Equal(PolicyRedundancy))
		Expect(p.Redundancy).To(Equal(3))
	})

	It("parses RECOVERY WINDOW OF n DAYS/WEEKS/MONTHS", func() {
		p, err := ParsePolicy("RECOVERY WINDOW OF 2 WEEKS")
		Expect(err).ToNot(HaveOccurred())
		Expect(p.Kind).To(Equal(PolicyRecoveryWindow))
		Expect(p.Window).To(Equal(2))
		Expect(p.Unit).To(Equal(UnitWeeks))
	})

	It("rejects garbage", func() {
		_, err := ParsePolicy("whatever")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Evaluate", func() {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

	It("keeps only the newest N backups under REDUNDANCY", func() {
		c := seedRetentionCatalog([]*catalog.Backup{
			doneBackup("20260101T000000", now.Add(-96*time.Hour)),
			doneBackup("20260102T000000", now.Add(-72*time.Hour)),
			doneBackup("20260103T000000", now.Add(-48*time.Hour)),
			doneBackup("20260104T000000", now.Add(-24*time.Hour)),
		})
		policy, err := ParsePolicy("REDUNDANCY 2")
		Expect(err).ToNot(HaveOccurred())

		plan := Evaluate(c, policy, 0, now)
		Expect(plan.ObsoleteBackups).To(ConsistOf("20260101T000000", "20260102T000000"))
	})

	It("never drops below minimum_redundancy and raises a warning instead", func() {
		c := seedRetentionCatalog([]*catalog.Backup{
			doneBackup("20260101T000000", now.Add(-96*time.Hour)),
			doneBackup("20260102T000000", now.Add(-72*time.Hour)),
		})
		policy, err := ParsePolicy("REDUNDANCY 1")
		Expect(err).ToNot(HaveOccurred())

		plan := Evaluate(c, policy, 2, now)
		Expect(plan.ObsoleteBackups).To(BeEmpty())
		Expect(plan.MinimumRedundancyWarning).To(BeTrue())
	})

	It("honors a keep-full override under REDUNDANCY", func() {
		old := doneBackup("20260101T000000", now.Add(-96*time.Hour))
		old.KeepTarget = catalog.KeepTargetFull
		c := seedRetentionCatalog([]*catalog.Backup{
			old,
			doneBackup("20260102T000000", now.Add(-72*time.Hour)),
			doneBackup("20260103T000000", now.Add(-48*time.Hour)),
		})
		policy, err := ParsePolicy("REDUNDANCY 1")
		Expect(err).ToNot(HaveOccurred())

		plan := Evaluate(c, policy, 0, now)
		Expect(plan.ObsoleteBackups).ToNot(ContainElement("20260101T000000"))
	})

	It("retains every backup with end_time after the recovery window cutoff", func() {
		c := seedRetentionCatalog([]*catalog.Backup{
			doneBackup("20260101T000000", now.Add(-240*time.Hour)),
			doneBackup("20260102T000000", now.Add(-168*time.Hour)),
			doneBackup("20260103T000000", now.Add(-24*time.Hour)),
		})
		policy, err := ParsePolicy("RECOVERY WINDOW OF 7 DAYS")
		Expect(err).ToNot(HaveOccurred())

		plan := Evaluate(c, policy, 0, now)
		Expect(plan.ObsoleteBackups).To(ConsistOf("20260101T000000"))
	})

	It("marks every WAL strictly before the oldest surviving backup's begin_wal obsolete", func() {
		c := seedRetentionCatalog([]*catalog.Backup{
			doneBackup("20260101T000001", now.Add(-96*time.Hour)),
			doneBackup("20260101T000002", now.Add(-72*time.Hour)),
			doneBackup("20260101T000003", now.Add(-48*time.Hour)),
		})
		for _, name := range []string{
			"000000010000000000000001",
			"000000010000000000000002",
			"000000010000000000000003",
		} {
			Expect(catalog.AppendWALRecord(c.Home, catalog.WALRecord{Name: name, Size: 16 << 20})).To(Succeed())
		}
		policy, err := ParsePolicy("REDUNDANCY 1")
		Expect(err).ToNot(HaveOccurred())

		plan := Evaluate(c, policy, 0, now)
		Expect(plan.ObsoleteBackups).To(ConsistOf("20260101T000001", "20260101T000002"))
		Expect(plan.ObsoleteWALs).To(ConsistOf("000000010000000000000001", "000000010000000000000002"))
	})

	It("reports no obsolete WALs when every backup is obsolete (no surviving anchor)", func() {
		c := seedRetentionCatalog([]*catalog.Backup{
			doneBackup("20260101T000001", now.Add(-96*time.Hour)),
		})
		Expect(catalog.AppendWALRecord(c.Home, catalog.WALRecord{Name: "000000010000000000000001", Size: 16 << 20})).To(Succeed())
		policy, err := ParsePolicy("REDUNDANCY 0")
		Expect(err).ToNot(HaveOccurred())

		plan := Evaluate(c, policy, 0, now)
		Expect(plan.ObsoleteBackups).To(ConsistOf("20260101T000001"))
		Expect(plan.ObsoleteWALs).To(BeEmpty())
	})

	It("retains everything under PolicyNone", func() {
		c := seedRetentionCatalog([]*catalog.Backup{
			doneBackup("20260101T000000", now.Add(-999*time.Hour)),
		})
		plan := Evaluate(c, Policy{Kind: PolicyNone}, 0, now)
		Expect(plan.ObsoleteBackups).To(BeEmpty())
	})
})
