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

package catalog

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func seedCatalog(home string, backups ...*Backup) *Catalog {
	for _, b := range backups {
		Expect(WriteBackupInfo(home, b)).To(Succeed())
	}
	c, err := Open("main", home)
	Expect(err).ToNot(HaveOccurred())
	return c
}

var _ = Describe("Backup catalog", func() {
	var home string

	BeforeEach(func() {
		home = GinkgoT().TempDir()
	})

	It("loads backups sorted chronologically by id", func() {
		c := seedCatalog(home,
			&Backup{ID: "20210102T120000", Status: StatusDone,
				BeginTime: time.Date(2021, 1, 2, 12, 0, 0, 0, time.UTC),
				EndTime:   time.Date(2021, 1, 2, 12, 30, 0, 0, time.UTC)},
			&Backup{ID: "20210101T120000", Status: StatusDone,
				BeginTime: time.Date(2021, 1, 1, 12, 0, 0, 0, time.UTC),
				EndTime:   time.Date(2021, 1, 1, 12, 30, 0, 0, time.UTC)},
			&Backup{ID: "20210103T120000", Status: StatusDone,
				BeginTime: time.Date(2021, 1, 3, 12, 0, 0, 0, time.UTC),
				EndTime:   time.Date(2021, 1, 3, 12, 30, 0, 0, time.UTC)},
		)

		Expect(c.Backups()).To(HaveLen(3))
		Expect(c.Backups()[0].ID).To(Equal("20210101T120000"))
		Expect(c.Backups()[1].ID).To(Equal("20210102T120000"))
		Expect(c.Backups()[2].ID).To(Equal("20210103T120000"))
	})

	It("resolves last/latest/first/oldest aliases", func() {
		c := seedCatalog(home,
			&Backup{ID: "20210101T000000", Status: StatusDone},
			&Backup{ID: "20210103T000000", Status: StatusDone},
			&Backup{ID: "20210102T000000", Status: StatusDone},
		)

		first, err := c.Lookup("first")
		Expect(err).ToNot(HaveOccurred())
		Expect(first.ID).To(Equal("20210101T000000"))

		last, err := c.Lookup("latest")
		Expect(err).ToNot(HaveOccurred())
		Expect(last.ID).To(Equal("20210103T000000"))
	})

	It("excludes incremental backups from last-full", func() {
		c := seedCatalog(home,
			&Backup{ID: "20210101T000000", Status: StatusDone, BackupType: BackupTypeFull},
			&Backup{ID: "20210102T000000", Status: StatusDone, BackupType: BackupTypeIncremental,
				ParentBackupID: "20210101T000000"},
		)

		full, err := c.Lookup("last-full")
		Expect(err).ToNot(HaveOccurred())
		Expect(full.ID).To(Equal("20210101T000000"))
	})

	It("returns NotFound for an unknown id", func() {
		c := seedCatalog(home)
		_, err := c.Lookup("20210101T000000")
		Expect(err).To(HaveOccurred())
	})

	It("computes the first recoverability point", func() {
		c := seedCatalog(home,
			&Backup{ID: "20210101T000000", Status: StatusDone,
				EndTime: time.Date(2021, 1, 1, 12, 30, 0, 0, time.UTC)},
			&Backup{ID: "20210102T000000", Status: StatusDone,
				EndTime: time.Date(2021, 1, 2, 12, 30, 0, 0, time.UTC)},
		)
		Expect(*c.FirstRecoverabilityPoint()).To(Equal(time.Date(2021, 1, 1, 12, 30, 0, 0, time.UTC)))
	})

	It("finds the closest DONE backup at or before a target time", func() {
		c := seedCatalog(home,
			&Backup{ID: "20210101T120000", Status: StatusDone,
				EndTime: time.Date(2021, 1, 1, 12, 30, 0, 0, time.UTC)},
			&Backup{ID: "20210102T120000", Status: StatusDone,
				EndTime: time.Date(2021, 1, 2, 12, 30, 0, 0, time.UTC)},
			&Backup{ID: "20210103T120000", Status: StatusDone,
				EndTime: time.Date(2021, 1, 3, 12, 30, 0, 0, time.UTC)},
		)

		closest := c.ClosestBackupBefore(time.Now())
		Expect(closest.ID).To(Equal("20210103T120000"))

		closest = c.ClosestBackupBefore(time.Date(2021, 1, 2, 12, 30, 0, 0, time.UTC))
		Expect(closest.ID).To(Equal("20210102T120000"))

		closest = c.ClosestBackupBefore(time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC))
		Expect(closest).To(BeNil())
	})

	It("walks an incremental chain back to its root", func() {
		c := seedCatalog(home,
			&Backup{ID: "20210101T000000", Status: StatusDone, BackupType: BackupTypeFull},
			&Backup{ID: "20210102T000000", Status: StatusDone, BackupType: BackupTypeIncremental,
				ParentBackupID: "20210101T000000"},
			&Backup{ID: "20210103T000000", Status: StatusDone, BackupType: BackupTypeIncremental,
				ParentBackupID: "20210102T000000"},
		)
		leaf, err := c.Lookup("20210103T000000")
		Expect(err).ToNot(HaveOccurred())

		chain, err := c.Chain(leaf)
		Expect(err).ToNot(HaveOccurred())
		Expect(chain).To(HaveLen(3))
		Expect(chain[0].ID).To(Equal("20210101T000000"))
		Expect(chain[2].ID).To(Equal("20210103T000000"))
	})

	It("deletes a leaf backup's directory", func() {
		c := seedCatalog(home, &Backup{ID: "20210101T000000", Status: StatusDone})
		b, err := c.Lookup("20210101T000000")
		Expect(err).ToNot(HaveOccurred())

		Expect(c.Delete(b)).To(Succeed())
		_, err = ReadBackupInfo(home, "20210101T000000")
		Expect(err).To(HaveOccurred())
	})

	It("refuses to delete a backup that still has incremental children", func() {
		c := seedCatalog(home,
			&Backup{ID: "20210101T000000", Status: StatusDone, BackupType: BackupTypeFull},
			&Backup{ID: "20210102T000000", Status: StatusDone, BackupType: BackupTypeIncremental,
				ParentBackupID: "20210101T000000"},
		)
		root, err := c.Lookup("20210101T000000")
		Expect(err).ToNot(HaveOccurred())

		err = c.Delete(root)
		Expect(err).To(HaveOccurred())
		_, readErr := ReadBackupInfo(home, "20210101T000000")
		Expect(readErr).ToNot(HaveOccurred())
	})

	It("removes the named WALs from disk and xlog.db, leaving the rest", func() {
		c := seedCatalog(home)
		Expect(c.EnsureLayout()).To(Succeed())

		for _, name := range []string{
			"000000010000000000000001",
			"000000010000000000000002",
			"000000010000000000000003",
		} {
			Expect(AppendWALRecord(home, WALRecord{Name: name, Size: 16 << 20})).To(Succeed())
			path, err := c.WALPath(name, "")
			Expect(err).ToNot(HaveOccurred())
			Expect(os.MkdirAll(filepath.Dir(path), 0o750)).To(Succeed())
			Expect(os.WriteFile(path, []byte("x"), 0o640)).To(Succeed())
		}

		Expect(c.DeleteWALs([]string{"000000010000000000000001", "000000010000000000000002"})).To(Succeed())

		records, err := ReadXlogDB(home)
		Expect(err).ToNot(HaveOccurred())
		Expect(records).To(HaveLen(1))
		Expect(records[0].Name).To(Equal("000000010000000000000003"))

		deletedPath, err := c.WALPath("000000010000000000000001", "")
		Expect(err).ToNot(HaveOccurred())
		_, statErr := os.Stat(deletedPath)
		Expect(os.IsNotExist(statErr)).To(BeTrue())

		keptPath, err := c.WALPath("000000010000000000000003", "")
		Expect(err).ToNot(HaveOccurred())
		_, statErr = os.Stat(keptPath)
		Expect(statErr).ToNot(HaveOccurred())
	})
})
