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
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/cloudnative-pg/barman-host-manager/internal/walfile"
)

var _ = Describe("WAL range enumeration", func() {
	It("enumerates a half-open [from, to) range on one timeline", func() {
		home := GinkgoT().TempDir()
		c := &Catalog{Server: "main", Home: home}

		for i := 1; i <= 5; i++ {
			seg := walfile.Segment{Timeline: 1, LogID: 0, SegmentNo: uint32(i)}
			Expect(AppendWALRecord(home, WALRecord{Name: seg.Name(), Size: 1, Time: time.Unix(int64(i), 0)})).To(Succeed())
		}

		from := walfile.Segment{Timeline: 1, LogID: 0, SegmentNo: 2}
		to := walfile.Segment{Timeline: 1, LogID: 0, SegmentNo: 4}
		records, err := c.WALRange(from, to, 1)
		Expect(err).ToNot(HaveOccurred())
		Expect(records).To(HaveLen(2))
		Expect(records[0].Name).To(Equal(from.Name()))
	})

	It("computes the archive path honoring the compression extension", func() {
		c := &Catalog{Home: "/var/lib/barman/main"}
		path, err := c.WALPath("000000010000000000000001", "gzip")
		Expect(err).ToNot(HaveOccurred())
		Expect(path).To(Equal("/var/lib/barman/main/wals/0000000100000000/000000010000000000000001.gz"))
	})

	It("reports HasWAL accurately", func() {
		home := GinkgoT().TempDir()
		c := &Catalog{Home: home}
		present, err := c.HasWAL("000000010000000000000001")
		Expect(err).ToNot(HaveOccurred())
		Expect(present).To(BeFalse())

		Expect(AppendWALRecord(home, WALRecord{Name: "000000010000000000000001", Time: time.Unix(1, 0)})).To(Succeed())
		present, err = c.HasWAL("000000010000000000000001")
		Expect(err).ToNot(HaveOccurred())
		Expect(present).To(BeTrue())
	})
})
