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

package replicationstatus

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/cloudnative-pg/barman-host-manager/internal/cmdutil"
)

func writeConfig(home string) string {
	confPath := filepath.Join(home, "barman.conf")
	contents := fmt.Sprintf("global:\n  barman_home: %s\nservers:\n  main: {}\n", home)
	Expect(os.WriteFile(confPath, []byte(contents), 0o640)).To(Succeed())
	return confPath
}

var _ = Describe("replication-status", func() {
	It("reports the local receiver as stopped when no daemon is running", func() {
		home := GinkgoT().TempDir()
		confPath := writeConfig(home)

		g := &cmdutil.Globals{ConfigFile: confPath}
		cmd := NewCmd(g)
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetArgs([]string{"main", "--minimal"})

		Expect(cmd.Execute()).To(Succeed())
		Expect(out.String()).To(ContainSubstring("wal-streamer"))
		Expect(out.String()).To(ContainSubstring("stopped"))
	})

	It("errors for an unconfigured server", func() {
		home := GinkgoT().TempDir()
		confPath := writeConfig(home)

		g := &cmdutil.Globals{ConfigFile: confPath}
		cmd := NewCmd(g)
		cmd.SetArgs([]string{"does-not-exist"})
		cmd.SetOut(&bytes.Buffer{})

		Expect(cmd.Execute()).To(HaveOccurred())
	})
})
