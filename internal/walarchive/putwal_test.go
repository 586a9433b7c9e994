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
	"archive/tar"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func buildPutWALTar(walName string, walContent []byte, sumsName, sumsContent string) []byte {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	entries := []struct {
		name string
		data []byte
	}{
		{walName, walContent},
		{sumsName, []byte(sumsContent)},
	}
	for _, e := range entries {
		Expect(tw.WriteHeader(&tar.Header{Name: e.name, Size: int64(len(e.data)), Mode: 0o640})).To(Succeed())
		_, err := tw.Write(e.data)
		Expect(err).ToNot(HaveOccurred())
	}
	Expect(tw.Close()).To(Succeed())
	return buf.Bytes()
}

var _ = Describe("put-wal ingress", func() {
	It("installs a WAL file whose checksum matches the SHA256SUMS manifest", func() {
		home := GinkgoT().TempDir()
		walName := "000000010000000000000005"
		content := []byte("wal payload")
		sum := sha256.Sum256(content)
		manifest := fmt.Sprintf("%s  %s\n", hex.EncodeToString(sum[:]), walName)

		data := buildPutWALTar(walName, content, sha256SumsName, manifest)
		Expect(PutWAL(home, bytes.NewReader(data))).To(Succeed())

		installed, err := os.ReadFile(filepath.Join(home, "incoming", walName))
		Expect(err).ToNot(HaveOccurred())
		Expect(installed).To(Equal(content))
	})

	It("fails with ChecksumMismatch and leaves incoming/ empty on a wrong hash", func() {
		home := GinkgoT().TempDir()
		walName := "000000010000000000000005"
		content := []byte("wal payload")
		manifest := fmt.Sprintf("%s  %s\n", "0000000000000000000000000000000000000000000000000000000000000000", walName)

		data := buildPutWALTar(walName, content, sha256SumsName, manifest)
		err := PutWAL(home, bytes.NewReader(data))
		Expect(err).To(HaveOccurred())

		entries, readErr := os.ReadDir(filepath.Join(home, "incoming"))
		if readErr == nil {
			Expect(entries).To(BeEmpty())
		}
	})

	It("rejects a stream with no checksum manifest", func() {
		home := GinkgoT().TempDir()
		var buf bytes.Buffer
		tw := tar.NewWriter(&buf)
		Expect(tw.WriteHeader(&tar.Header{Name: "000000010000000000000005", Size: 4, Mode: 0o640})).To(Succeed())
		_, err := tw.Write([]byte("data"))
		Expect(err).ToNot(HaveOccurred())
		Expect(tw.Close()).To(Succeed())

		err = PutWAL(home, bytes.NewReader(buf.Bytes()))
		Expect(err).To(HaveOccurred())
	})
})
