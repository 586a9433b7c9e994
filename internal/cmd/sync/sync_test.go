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

package sync

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/cloudnative-pg/barman-host-manager/internal/cmdutil"
)

func writeConfig(home string, passive bool) string {
	confPath := filepath.Join(home, "barman.conf")
	contents := fmt.Sprintf(
		"global:\n  barman_home: %s\nservers:\n  main:\n    passive: %t\n    primary_ssh_command: \"sh -c\"\n",
		home, passive)
	Expect(os.WriteFile(confPath, []byte(contents), 0o640)).To(Succeed())
	return confPath
}

var _ = Describe("sync-info/sync-backup/sync-wals", func() {
	It("rejects a server that is not configured as passive", func() {
		home := GinkgoT().TempDir()
		confPath := writeConfig(home, false)

		g := &cmdutil.Globals{ConfigFile: confPath}
		cmd := NewCmd(g)
		cmd.SetArgs([]string{"main"})
		var out bytes.Buffer
		cmd.SetOut(&out)

		Expect(cmd.Execute()).To(HaveOccurred())
	})

	It("reports no missing backups or WALs for an empty passive mirror", func() {
		home := GinkgoT().TempDir()
		confPath := writeConfig(home, true)
		// SyncInfo's "sh -c" stand-in for ssh runs `cat <home>/main/xlog.db`
		// for real, so the file needs to exist even though nothing has
		// streamed yet.
		Expect(os.MkdirAll(filepath.Join(home, "main"), 0o750)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(home, "main", "xlog.db"), nil, 0o640)).To(Succeed())

		g := &cmdutil.Globals{ConfigFile: confPath}
		cmd := NewCmd(g)
		cmd.SetArgs([]string{"main"})
		var out bytes.Buffer
		cmd.SetOut(&out)

		Expect(cmd.Execute()).To(Succeed())
		Expect(out.String()).To(ContainSubstring("0 backup(s) missing"))
		Expect(out.String()).To(ContainSubstring("0 WAL(s) missing"))
	})

	It("registers sync-backup and sync-wals as subcommands", func() {
		home := GinkgoT().TempDir()
		confPath := writeConfig(home, true)
		g := &cmdutil.Globals{ConfigFile: confPath}
		cmd := NewCmd(g)

		names := map[string]bool{}
		for _, c := range cmd.Commands() {
			names[c.Name()] = true
		}
		Expect(names).To(HaveKey("sync-backup"))
		Expect(names).To(HaveKey("sync-wals"))
	})
})
