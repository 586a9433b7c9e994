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
	"strconv"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/cloudnative-pg/barman-host-manager/internal/config"
)

var _ = Describe("classifyConsumer", func() {
	It("classifies a receive-wal-style application_name as the WAL streamer", func() {
		Expect(classifyConsumer("barman_receive_wal", "streaming")).To(Equal(TargetWALStreamer))
	})

	It("classifies anything else as a hot standby", func() {
		Expect(classifyConsumer("standby1", "streaming")).To(Equal(TargetHotStandby))
	})
})

var _ = Describe("walHostStatus", func() {
	It("reports stopped when no PID file exists", func() {
		cat := newTestCatalog(GinkgoT().TempDir(), "main")
		rows, err := walHostStatus(cat, TargetAll)
		Expect(err).ToNot(HaveOccurred())
		Expect(rows).To(HaveLen(1))
		Expect(rows[0].State).To(Equal("stopped"))
		Expect(rows[0].Target).To(Equal(TargetWALStreamer))
	})

	It("reports streaming when the PID file names a live process", func() {
		cat := newTestCatalog(GinkgoT().TempDir(), "main")
		pidPath := filepath.Join(cat.Home, ".receive-wal-daemon.pid")
		Expect(os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())), 0o640)).To(Succeed())

		rows, err := walHostStatus(cat, TargetAll)
		Expect(err).ToNot(HaveOccurred())
		Expect(rows[0].State).To(Equal("streaming"))
	})

	It("reports stopped when the PID file names a process that is gone", func() {
		cat := newTestCatalog(GinkgoT().TempDir(), "main")
		pidPath := filepath.Join(cat.Home, ".receive-wal-daemon.pid")
		Expect(os.WriteFile(pidPath, []byte(strconv.Itoa(1<<30)), 0o640)).To(Succeed())

		rows, err := walHostStatus(cat, TargetAll)
		Expect(err).ToNot(HaveOccurred())
		Expect(rows[0].State).To(Equal("stopped"))
	})

	It("returns nothing when only hot-standby rows were requested", func() {
		cat := newTestCatalog(GinkgoT().TempDir(), "main")
		rows, err := walHostStatus(cat, TargetHotStandby)
		Expect(err).ToNot(HaveOccurred())
		Expect(rows).To(BeEmpty())
	})
})

var _ = Describe("ReplicationStatus", func() {
	It("rejects an unknown source", func() {
		cat := newTestCatalog(GinkgoT().TempDir(), "main")
		server := &config.Server{Name: "main"}
		_, err := ReplicationStatus(context.Background(), server, cat, ReplicationSource("nonsense"), TargetAll)
		Expect(err).To(HaveOccurred())
	})

	It("rejects backup-host source when the server has no conn configured", func() {
		cat := newTestCatalog(GinkgoT().TempDir(), "main")
		server := &config.Server{Name: "main"}
		_, err := ReplicationStatus(context.Background(), server, cat, SourceBackupHost, TargetAll)
		Expect(err).To(HaveOccurred())
	})

	It("defaults to the wal-host source when none is given", func() {
		cat := newTestCatalog(GinkgoT().TempDir(), "main")
		server := &config.Server{Name: "main"}
		rows, err := ReplicationStatus(context.Background(), server, cat, "", TargetAll)
		Expect(err).ToNot(HaveOccurred())
		Expect(rows).To(HaveLen(1))
		Expect(rows[0].Target).To(Equal(TargetWALStreamer))
	})
})
