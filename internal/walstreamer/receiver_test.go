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

package walstreamer

import (
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/cloudnative-pg/barman-host-manager/internal/logging"
)

var _ = Describe("backoffDelay", func() {
	It("is zero for no failures", func() {
		Expect(backoffDelay(0)).To(Equal(time.Duration(0)))
	})

	It("doubles per consecutive failure up to the cap", func() {
		Expect(backoffDelay(1)).To(Equal(1 * time.Second))
		Expect(backoffDelay(2)).To(Equal(2 * time.Second))
		Expect(backoffDelay(3)).To(Equal(4 * time.Second))
		Expect(backoffDelay(10)).To(Equal(60 * time.Second))
	})
})

var _ = Describe("Receiver", func() {
	It("runs a short-lived command successfully and reports Stopped after graceful cancellation", func() {
		home := GinkgoT().TempDir()
		r := New("main", home, []string{"sleep", "5"}, logging.Log, nil)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- r.Serve(ctx) }()

		Eventually(func() State { return r.State() }).Should(Equal(StateRunning))
		cancel()
		Eventually(done).Should(Receive())
		Expect(r.State()).To(Equal(StateStopped))
	})

	It("records a consecutive failure and backs off after a non-zero exit", func() {
		home := GinkgoT().TempDir()
		r := New("main", home, []string{"false"}, logging.Log, nil)

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = r.Serve(ctx)

		Expect(r.FailureCount()).To(Equal(1))
		Expect(r.LastError()).To(HaveOccurred())
	})

	It("writes and removes a PID file across a clean run", func() {
		home := GinkgoT().TempDir()
		r := New("main", home, []string{"sleep", "5"}, logging.Log, nil)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- r.Serve(ctx) }()

		Eventually(func() bool {
			_, ok := r.ReadPID()
			return ok
		}).Should(BeTrue())

		cancel()
		Eventually(done).Should(Receive())

		_, ok := r.ReadPID()
		Expect(ok).To(BeFalse())
	})
})

var _ = Describe("clearStreamingPartials", func() {
	It("removes only .partial files from streaming/", func() {
		home := GinkgoT().TempDir()
		streamingDir := filepath.Join(home, "streaming")
		Expect(os.MkdirAll(streamingDir, 0o750)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(streamingDir, "000000010000000000000001.partial"), []byte("x"), 0o640)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(streamingDir, "000000010000000000000000"), []byte("y"), 0o640)).To(Succeed())

		Expect(clearStreamingPartials(home)).To(Succeed())

		entries, err := os.ReadDir(streamingDir)
		Expect(err).ToNot(HaveOccurred())
		Expect(entries).To(HaveLen(1))
		Expect(entries[0].Name()).To(Equal("000000010000000000000000"))
	})

	It("is a no-op when streaming/ does not exist", func() {
		home := GinkgoT().TempDir()
		Expect(clearStreamingPartials(home)).To(Succeed())
	})
})
