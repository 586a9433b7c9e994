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

package receivewal

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"syscall"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/cloudnative-pg/barman-host-manager/internal/config"
	"github.com/cloudnative-pg/barman-host-manager/internal/walstreamer"
)

var _ = Describe("signalDaemon", func() {
	It("errors when no daemon PID file exists", func() {
		home := GinkgoT().TempDir()
		var out bytes.Buffer
		err := signalDaemon(home, syscall.SIGTERM, "main", "stop", &out)
		Expect(err).To(HaveOccurred())
	})

	It("errors when the PID file is corrupt", func() {
		home := GinkgoT().TempDir()
		Expect(os.WriteFile(daemonPIDPath(home), []byte("not-a-pid"), 0o640)).To(Succeed())
		var out bytes.Buffer
		err := signalDaemon(home, syscall.SIGTERM, "main", "stop", &out)
		Expect(err).To(HaveOccurred())
	})

	It("errors when the PID file names a process that no longer exists", func() {
		home := GinkgoT().TempDir()
		Expect(os.WriteFile(daemonPIDPath(home), []byte("2000000000"), 0o640)).To(Succeed())
		var out bytes.Buffer
		err := signalDaemon(home, syscall.SIGTERM, "main", "stop", &out)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("daemonPIDPath", func() {
	It("names .receive-wal-daemon.pid under the server home", func() {
		Expect(daemonPIDPath("/srv/barman/main")).To(Equal(filepath.Join("/srv/barman/main", ".receive-wal-daemon.pid")))
	})
})

var _ = Describe("handlePostRun", func() {
	It("reports the receiver stopped when the run ended without error", func() {
		sup := walstreamer.NewSupervisor("main")
		server := &config.Server{Name: "main"}
		var out bytes.Buffer
		Expect(handlePostRun(sup, server, nil, &out)).To(Succeed())
		Expect(out.String()).To(ContainSubstring("receiver stopped"))
	})

	It("propagates a non-context-canceled run error", func() {
		sup := walstreamer.NewSupervisor("main")
		server := &config.Server{Name: "main"}
		var out bytes.Buffer
		boom := errors.New("boom")
		Expect(handlePostRun(sup, server, boom, &out)).To(MatchError(boom))
	})
})
