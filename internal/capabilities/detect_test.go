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

package capabilities

import (
	"github.com/blang/semver"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Detecting PostgreSQL server capabilities", func() {
	It("enables every feature for 17 and above", func() {
		version, err := semver.ParseTolerant("17.0.0")
		Expect(err).ToNot(HaveOccurred())
		c, err := Detect(&version)
		Expect(err).ToNot(HaveOccurred())
		Expect(c).To(Equal(&Capabilities{
			Version:                      &version,
			HasWaitForArchive:            true,
			HasTemporaryReplicationSlots: true,
			HasTablespaceMapping:         true,
			HasManifestChecksums:         true,
			HasServerSideCompression:     true,
			HasLZ4Compression:            true,
			HasZSTDCompression:           true,
			HasWALSummarization:          true,
			HasIncrementalBasebackup:     true,
		}))
	})

	It("has no incremental backup support below 17", func() {
		version, err := semver.ParseTolerant("16.2.0")
		Expect(err).ToNot(HaveOccurred())
		c, err := Detect(&version)
		Expect(err).ToNot(HaveOccurred())
		Expect(c.HasIncrementalBasebackup).To(BeFalse())
		Expect(c.HasZSTDCompression).To(BeTrue())
	})

	It("has no server-side compression below 15", func() {
		version, err := semver.ParseTolerant("14.5.0")
		Expect(err).ToNot(HaveOccurred())
		c, err := Detect(&version)
		Expect(err).ToNot(HaveOccurred())
		Expect(c.HasServerSideCompression).To(BeFalse())
		Expect(c.HasManifestChecksums).To(BeTrue())
	})

	It("detects nothing below 9.6", func() {
		version, err := semver.ParseTolerant("9.5.0")
		Expect(err).ToNot(HaveOccurred())
		c, err := Detect(&version)
		Expect(err).ToNot(HaveOccurred())
		Expect(*c).To(Equal(Capabilities{Version: &version}))
	})

	It("tolerates a nil version", func() {
		c, err := Detect(nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(*c).To(Equal(Capabilities{}))
	})
})
