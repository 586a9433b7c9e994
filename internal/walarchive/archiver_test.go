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

package walarchive

import (
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/cloudnative-pg/barman-host-manager/internal/catalog"
	"github.com/cloudnative-pg/barman-host-manager/internal/compression"
	"github.com/cloudnative-pg/barman-host-manager/internal/logging"
)

func newTestCatalog() *catalog.Catalog {
	home := GinkgoT().TempDir()
	c, err := catalog.Open("main", home)
	Expect(err).ToNot(HaveOccurred())
	Expect(c.EnsureLayout()).To(Succeed())
	return c
}

func dropIncoming(c *catalog.Catalog, name, content string) {
	Expect(os.WriteFile(filepath.Join(c.Home, "incoming", name), []byte(content), 0o640)).To(Succeed())
}

var _ = Describe("WAL archiver", func() {
	It("installs complete segments in ascending order and leaves .partial untouched", func() {
		c := newTestCatalog()
		dropIncoming(c, "000000010000000000000001", "segment-1")
		dropIncoming(c, "000000010000000000000002", "segment-2")
		dropIncoming(c, "000000010000000000000003.partial", "segment-3-tail")

		a := &Archiver{Catalog: c, ParallelJobs: 2, Logger: logging.Log}
		result, err := a.ArchiveIngress(context.Background())
		Expect(err).ToNot(HaveOccurred())
		Expect(result.FirstError()).ToNot(HaveOccurred())

		present, err := c.HasWAL("000000010000000000000001")
		Expect(err).ToNot(HaveOccurred())
		Expect(present).To(BeTrue())
		present, err = c.HasWAL("000000010000000000000002")
		Expect(err).ToNot(HaveOccurred())
		Expect(present).To(BeTrue())

		_, err = os.Stat(filepath.Join(c.Home, "incoming", "000000010000000000000003.partial"))
		Expect(err).ToNot(HaveOccurred())

		records, err := catalog.ReadXlogDB(c.Home)
		Expect(err).ToNot(HaveOccurred())
		Expect(records).To(HaveLen(2))
		Expect(records[0].Name).To(Equal("000000010000000000000001"))
		Expect(records[1].Name).To(Equal("000000010000000000000002"))
	})

	It("quarantines a file that does not match any recognized WAL shape", func() {
		c := newTestCatalog()
		dropIncoming(c, "not-a-wal-file.tmp", "garbage")

		a := &Archiver{Catalog: c, ParallelJobs: 1, Logger: logging.Log}
		result, err := a.ArchiveIngress(context.Background())
		Expect(err).ToNot(HaveOccurred())
		Expect(result.FirstError()).To(HaveOccurred())

		_, statErr := os.Stat(filepath.Join(c.Home, "errors", "not-a-wal-file.tmp"))
		Expect(statErr).ToNot(HaveOccurred())
	})

	It("is a no-op the second time around for an unchanged file (exactly-once)", func() {
		c := newTestCatalog()
		dropIncoming(c, "000000010000000000000001", "segment-1")
		a := &Archiver{Catalog: c, ParallelJobs: 1, Logger: logging.Log}

		_, err := a.ArchiveIngress(context.Background())
		Expect(err).ToNot(HaveOccurred())

		dropIncoming(c, "000000010000000000000001", "segment-1")
		result, err := a.ArchiveIngress(context.Background())
		Expect(err).ToNot(HaveOccurred())
		Expect(result.Outcomes[0].Skipped).To(BeTrue())

		records, err := catalog.ReadXlogDB(c.Home)
		Expect(err).ToNot(HaveOccurred())
		Expect(records).To(HaveLen(1))
	})

	It("records the configured compression algorithm and extension", func() {
		c := newTestCatalog()
		dropIncoming(c, "000000010000000000000001", "segment-1")
		a := &Archiver{Catalog: c, Compression: compression.Gzip, ParallelJobs: 1, Logger: logging.Log}

		_, err := a.ArchiveIngress(context.Background())
		Expect(err).ToNot(HaveOccurred())

		path, err := c.WALPath("000000010000000000000001", "gzip")
		Expect(err).ToNot(HaveOccurred())
		_, statErr := os.Stat(path)
		Expect(statErr).ToNot(HaveOccurred())

		records, err := catalog.ReadXlogDB(c.Home)
		Expect(err).ToNot(HaveOccurred())
		Expect(records[0].Compression).To(Equal("gzip"))
	})
})
