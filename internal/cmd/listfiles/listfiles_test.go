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

package listfiles

import (
	"bytes"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/cloudnative-pg/barman-host-manager/internal/catalog"
)

func seedBackup(home string) *catalog.Backup {
	backup := &catalog.Backup{
		ID:         "20260101T000000",
		Status:     catalog.StatusDone,
		ServerName: "main",
		Timeline:   1,
		BeginWAL:   "000000010000000000000001",
		EndWAL:     "000000010000000000000002",
	}
	Expect(catalog.WriteBackupInfo(home, backup)).To(Succeed())
	dataDir := catalog.BackupDataDir(home, backup.ID)
	Expect(os.MkdirAll(filepath.Join(dataDir, "base", "1"), 0o750)).To(Succeed())
	Expect(os.WriteFile(filepath.Join(dataDir, "base", "1", "1"), []byte("x"), 0o640)).To(Succeed())
	return backup
}

var _ = Describe("listDataFiles", func() {
	It("lists every regular file under the backup's data directory, relative to its root", func() {
		home := GinkgoT().TempDir()
		backup := seedBackup(home)
		cat, err := catalog.Open("main", home)
		Expect(err).ToNot(HaveOccurred())

		var out bytes.Buffer
		Expect(listDataFiles(cat, backup, &out)).To(Succeed())
		Expect(out.String()).To(ContainSubstring(filepath.Join("base", "1", "1")))
	})
})

var _ = Describe("listWAL", func() {
	It("lists the backup's own WAL range for standalone, including end_wal", func() {
		home := GinkgoT().TempDir()
		backup := seedBackup(home)
		Expect(catalog.AppendWALRecord(home, catalog.WALRecord{Name: "000000010000000000000001", Size: 16 << 20})).To(Succeed())
		cat, err := catalog.Open("main", home)
		Expect(err).ToNot(HaveOccurred())

		var out bytes.Buffer
		Expect(listWAL(cat, backup, &out, false)).To(Succeed())
		Expect(out.String()).To(ContainSubstring("000000010000000000000001"))
		Expect(out.String()).To(ContainSubstring("000000010000000000000002"))
	})

	It("lists forward from begin_wal for wal/full, regardless of end_wal", func() {
		home := GinkgoT().TempDir()
		backup := seedBackup(home)
		Expect(catalog.AppendWALRecord(home, catalog.WALRecord{Name: "000000010000000000000001", Size: 16 << 20})).To(Succeed())
		Expect(catalog.AppendWALRecord(home, catalog.WALRecord{Name: "000000010000000000000005", Size: 16 << 20})).To(Succeed())
		cat, err := catalog.Open("main", home)
		Expect(err).ToNot(HaveOccurred())

		var out bytes.Buffer
		Expect(listWAL(cat, backup, &out, true)).To(Succeed())
		Expect(out.String()).To(ContainSubstring("000000010000000000000001"))
		Expect(out.String()).To(ContainSubstring("000000010000000000000005"))
	})
})
