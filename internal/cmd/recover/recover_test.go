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

package recover

import (
	"bytes"
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/cloudnative-pg/barman-host-manager/internal/catalog"
	"github.com/cloudnative-pg/barman-host-manager/internal/recovery"
)

var _ = Describe("parseTarget", func() {
	It("defaults to no target when nothing is given", func() {
		target, err := parseTarget("", "", "", "", false, 0, false)
		Expect(err).ToNot(HaveOccurred())
		Expect(target.Kind).To(Equal(recovery.TargetNone))
	})

	It("parses a target-time in space-separated form", func() {
		target, err := parseTarget("2026-01-02 03:04:05", "", "", "", false, 0, false)
		Expect(err).ToNot(HaveOccurred())
		Expect(target.Kind).To(Equal(recovery.TargetTime))
	})

	It("rejects more than one target dimension", func() {
		_, err := parseTarget("2026-01-02 03:04:05", "", "", "restore_point", false, 0, false)
		Expect(err).To(HaveOccurred())
	})

	It("carries the requested timeline override", func() {
		target, err := parseTarget("", "", "", "", false, 7, false)
		Expect(err).ToNot(HaveOccurred())
		Expect(target.TLI).ToNot(BeNil())
		Expect(*target.TLI).To(Equal(uint32(7)))
	})
})

var _ = Describe("parseTablespaceMap", func() {
	It("returns nil for no overrides", func() {
		m, err := parseTablespaceMap(nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(m).To(BeNil())
	})

	It("parses NAME:PATH pairs", func() {
		m, err := parseTablespaceMap([]string{"pg_tbl1:/mnt/tbl1"})
		Expect(err).ToNot(HaveOccurred())
		Expect(m).To(HaveKeyWithValue("pg_tbl1", "/mnt/tbl1"))
	})

	It("rejects a pair with no colon", func() {
		_, err := parseTablespaceMap([]string{"pg_tbl1=/mnt/tbl1"})
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("materialize", func() {
	It("copies the backup chain and stages the required WAL range", func() {
		home := GinkgoT().TempDir()
		dest := filepath.Join(GinkgoT().TempDir(), "dest")

		backup := &catalog.Backup{
			ID:         "20260101T000000",
			Status:     catalog.StatusDone,
			ServerName: "main",
			Timeline:   1,
			BeginWAL:   "000000010000000000000001",
			EndWAL:     "000000010000000000000001",
		}
		Expect(catalog.WriteBackupInfo(home, backup)).To(Succeed())

		dataDir := catalog.BackupDataDir(home, backup.ID)
		Expect(os.WriteFile(filepath.Join(dataDir, "PG_VERSION"), []byte("16\n"), 0o640)).To(Succeed())

		Expect(catalog.AppendWALRecord(home, catalog.WALRecord{Name: "000000010000000000000001", Size: 16 << 20})).To(Succeed())

		walPath, err := filepath.Abs(filepath.Join(home, "wals", "0000000100000000", "000000010000000000000001"))
		Expect(err).ToNot(HaveOccurred())
		Expect(os.MkdirAll(filepath.Dir(walPath), 0o750)).To(Succeed())
		Expect(os.WriteFile(walPath, []byte("walcontent"), 0o640)).To(Succeed())

		cat, err := catalog.Open("main", home)
		Expect(err).ToNot(HaveOccurred())

		req := recovery.Request{Server: "main", BackupIDOrAlias: backup.ID, Destination: dest}
		plan, err := recovery.BuildPlan(cat, req)
		Expect(err).ToNot(HaveOccurred())

		var out bytes.Buffer
		Expect(materialize(context.Background(), cat, plan, &out)).To(Succeed())

		Expect(filepath.Join(dest, "PG_VERSION")).To(BeAnExistingFile())
		Expect(filepath.Join(dest, "pg_wal", "000000010000000000000001")).To(BeAnExistingFile())
	})
})
