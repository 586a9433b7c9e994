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
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/cloudnative-pg/barman-host-manager/internal/catalog"
	"github.com/cloudnative-pg/barman-host-manager/internal/config"
)

var _ = Describe("splitLines", func() {
	It("splits on newlines without producing a trailing empty element", func() {
		Expect(splitLines([]byte("a\nb\nc\n"))).To(Equal([]string{"a", "b", "c"}))
	})

	It("keeps a final line with no trailing newline", func() {
		Expect(splitLines([]byte("a\nb"))).To(Equal([]string{"a", "b"}))
	})

	It("returns nothing for empty input", func() {
		Expect(splitLines(nil)).To(BeEmpty())
	})
})

// SyncInfo's "remote" calls are built as "<primary_ssh_command> '<remote
// command>'"; using "sh -c" in place of a real ssh invocation runs the
// remote command against the local filesystem instead, which is enough to
// exercise the diffing logic end to end without a live second host.
var _ = Describe("SyncInfo", func() {
	It("reports a remote backup directory the local catalog never parsed as missing", func() {
		home := GinkgoT().TempDir()
		cat := newTestCatalog(home, "main")
		server := &config.Server{Name: "main", PrimarySSHCommand: "sh -c"}

		known := &catalog.Backup{
			ID:         "20260101T000000",
			Status:     catalog.StatusDone,
			ServerName: "main",
			BeginWAL:   "000000010000000000000001",
			EndWAL:     "000000010000000000000001",
		}
		Expect(catalog.WriteBackupInfo(cat.Home, known)).To(Succeed())

		// a bare directory with no backup.info: ls sees it, ListBackups does not.
		Expect(os.MkdirAll(filepath.Join(cat.Home, "base", "20260102T000000"), 0o750)).To(Succeed())

		// the "sh -c" stand-in for ssh runs `cat <home>/xlog.db` for real.
		Expect(os.WriteFile(filepath.Join(cat.Home, "xlog.db"), nil, 0o640)).To(Succeed())

		info, err := SyncInfo(context.Background(), server, cat)
		Expect(err).ToNot(HaveOccurred())
		Expect(info.RemoteBackups).To(ContainElements("20260101T000000", "20260102T000000"))
		Expect(info.MissingBackups).To(ConsistOf("20260102T000000"))
	})

	It("reports no missing WALs when the local xlog.db already has everything it lists", func() {
		home := GinkgoT().TempDir()
		cat := newTestCatalog(home, "main")
		server := &config.Server{Name: "main", PrimarySSHCommand: "sh -c"}

		Expect(catalog.AppendWALRecord(cat.Home, catalog.WALRecord{Name: "000000010000000000000001", Size: 16 << 20})).To(Succeed())

		info, err := SyncInfo(context.Background(), server, cat)
		Expect(err).ToNot(HaveOccurred())
		Expect(info.RemoteWALCount).To(Equal(1))
		Expect(info.MissingWALs).To(BeEmpty())
	})

	It("errors when primary_ssh_command is empty", func() {
		home := GinkgoT().TempDir()
		cat := newTestCatalog(home, "main")
		server := &config.Server{Name: "main"}

		_, err := SyncInfo(context.Background(), server, cat)
		Expect(err).To(HaveOccurred())
	})
})
