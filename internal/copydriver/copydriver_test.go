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

package copydriver

import (
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func writeTree(root string, files map[string]string) {
	for rel, content := range files {
		path := filepath.Join(root, rel)
		Expect(os.MkdirAll(filepath.Dir(path), 0o750)).To(Succeed())
		Expect(os.WriteFile(path, []byte(content), 0o640)).To(Succeed())
	}
}

var _ = Describe("Run", func() {
	It("copies every regular file, preserving relative structure", func() {
		src := GinkgoT().TempDir()
		dest := filepath.Join(GinkgoT().TempDir(), "dest")
		writeTree(src, map[string]string{
			"base/PG_VERSION":    "16",
			"base/pg_wal/ignore": "x",
		})

		result, err := Run(context.Background(), Options{Source: src, Destination: dest, ParallelJobs: 2})
		Expect(err).ToNot(HaveOccurred())
		Expect(result.FirstError()).ToNot(HaveOccurred())
		Expect(result.Files).To(HaveLen(2))

		data, err := os.ReadFile(filepath.Join(dest, "base/PG_VERSION"))
		Expect(err).ToNot(HaveOccurred())
		Expect(string(data)).To(Equal("16"))
	})

	It("honors an Exclude callback", func() {
		src := GinkgoT().TempDir()
		dest := filepath.Join(GinkgoT().TempDir(), "dest")
		writeTree(src, map[string]string{
			"keep.txt":       "a",
			"postmaster.pid": "b",
		})

		result, err := Run(context.Background(), Options{
			Source: src, Destination: dest, ParallelJobs: 1,
			Exclude: func(rel string) bool { return rel == "postmaster.pid" },
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(result.Files).To(HaveLen(1))
		Expect(result.Files[0].RelPath).To(Equal("keep.txt"))
	})

	It("hardlinks unchanged files from a reference directory in ReuseLink mode", func() {
		src := GinkgoT().TempDir()
		ref := GinkgoT().TempDir()
		dest := filepath.Join(GinkgoT().TempDir(), "dest")
		writeTree(src, map[string]string{"data.bin": "payload"})
		writeTree(ref, map[string]string{"data.bin": "payload"})

		result, err := Run(context.Background(), Options{
			Source: src, Destination: dest, ParallelJobs: 1,
			ReferenceDir: ref, ReuseMode: ReuseLink,
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(result.Files[0].Reused).To(BeTrue())

		destInfo, err := os.Stat(filepath.Join(dest, "data.bin"))
		Expect(err).ToNot(HaveOccurred())
		refInfo, err := os.Stat(filepath.Join(ref, "data.bin"))
		Expect(err).ToNot(HaveOccurred())
		Expect(os.SameFile(destInfo, refInfo)).To(BeTrue())
	})

	It("falls back to a fresh copy when no reference file exists", func() {
		src := GinkgoT().TempDir()
		ref := GinkgoT().TempDir()
		dest := filepath.Join(GinkgoT().TempDir(), "dest")
		writeTree(src, map[string]string{"only-in-source.bin": "payload"})

		result, err := Run(context.Background(), Options{
			Source: src, Destination: dest, ParallelJobs: 1,
			ReferenceDir: ref, ReuseMode: ReuseLink,
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(result.Files[0].Reused).To(BeFalse())
		Expect(result.Files[0].Size).To(Equal(int64(len("payload"))))
	})

	It("fails fast when the source root does not exist", func() {
		src := GinkgoT().TempDir()
		dest := filepath.Join(GinkgoT().TempDir(), "dest")
		// Point Source at a nonexistent directory: the source walk fails
		// before any file copy is attempted, so Run returns promptly.
		missing := filepath.Join(src, "missing-root")

		start := time.Now()
		_, err := Run(context.Background(), Options{Source: missing, Destination: dest, ParallelJobs: 1})
		Expect(time.Since(start)).To(BeNumerically("<", time.Second))
		Expect(err).To(HaveOccurred())
	})
})
