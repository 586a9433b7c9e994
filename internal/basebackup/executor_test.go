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

package basebackup

import (
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/cloudnative-pg/barman-host-manager/internal/barmanctx"
	"github.com/cloudnative-pg/barman-host-manager/internal/catalog"
	"github.com/cloudnative-pg/barman-host-manager/internal/catalog/lock"
	"github.com/cloudnative-pg/barman-host-manager/internal/config"
	"github.com/cloudnative-pg/barman-host-manager/internal/logging"
)

var _ = Describe("backupTypeForMethod", func() {
	It("classifies every known backup_method", func() {
		Expect(backupTypeForMethod(config.MethodSnapshot)).To(Equal(catalog.BackupTypeSnapshot))
		Expect(backupTypeForMethod(config.MethodRsyncLike)).To(Equal(catalog.BackupTypeRsync))
		Expect(backupTypeForMethod(config.MethodLocalRsync)).To(Equal(catalog.BackupTypeRsync))
		Expect(backupTypeForMethod(config.MethodNativeBasebackup)).To(Equal(catalog.BackupTypeFull))
	})
})

var _ = Describe("excludeFromPhysicalBackup", func() {
	It("excludes PostgreSQL's own transient server state", func() {
		Expect(excludeFromPhysicalBackup("postmaster.pid")).To(BeTrue())
		Expect(excludeFromPhysicalBackup("postmaster.opts")).To(BeTrue())
		Expect(excludeFromPhysicalBackup("backup_label.old")).To(BeTrue())
		Expect(excludeFromPhysicalBackup("pg_internal.init")).To(BeTrue())
	})

	It("lets ordinary cluster files through", func() {
		Expect(excludeFromPhysicalBackup("base/1/1234")).To(BeFalse())
		Expect(excludeFromPhysicalBackup("PG_VERSION")).To(BeFalse())
	})
})

var _ = Describe("backupDataDir", func() {
	It("joins home/server/base/id", func() {
		Expect(backupDataDir("/barman", "main", "20260101T000000")).
			To(Equal(filepath.Join("/barman", "main", "base", "20260101T000000")))
	})
})

var _ = Describe("Executor.Run failure semantics", func() {
	var (
		home   string
		server *config.Server
		cat    *catalog.Catalog
		cfg    *config.Config
	)

	BeforeEach(func() {
		home = GinkgoT().TempDir()
		serverHome := filepath.Join(home, "main")

		var err error
		cat, err = catalog.Open("main", serverHome)
		Expect(err).ToNot(HaveOccurred())
		Expect(cat.EnsureLayout()).To(Succeed())

		server = &config.Server{Name: "main", BackupMethod: config.MethodRsyncLike}
		cfg = &config.Config{Global: config.Global{BarmanHome: home}}
	})

	newExecutor := func() *Executor {
		conn, err := Dial("main", "postgres://nouser@127.0.0.1:1/nonexistentdb?sslmode=disable&connect_timeout=1")
		Expect(err).ToNot(HaveOccurred())
		return &Executor{
			Server:  server,
			Catalog: cat,
			Ctx: &barmanctx.Context{
				Config: cfg,
				Logger: logging.Log,
				Clock:  &barmanctx.FixedClock{},
			},
			Conn: conn,
		}
	}

	It("writes a STARTED backup.info before attempting the protocol, then FAILED on an unreachable server", func() {
		e := newExecutor()
		backup, err := e.Run(context.Background(), Options{})
		Expect(err).To(HaveOccurred())
		Expect(backup.Status).To(Equal(catalog.StatusFailed))
		Expect(backup.Error).ToNot(BeEmpty())

		onDisk, readErr := catalog.ReadBackupInfo(cat.Home, backup.ID)
		Expect(readErr).ToNot(HaveOccurred())
		Expect(onDisk.Status).To(Equal(catalog.StatusFailed))
	})

	It("removes the partial data on failure unless KeepPartialOnFailure is set", func() {
		e := newExecutor()
		clock := e.Ctx.Clock.(*barmanctx.FixedClock)
		backupID := clock.Now().Format(backupIDLayout)
		partialDir := backupDataDir(home, "main", backupID)
		Expect(os.MkdirAll(partialDir, 0o750)).To(Succeed())
		partialFile := filepath.Join(partialDir, "PG_VERSION")
		Expect(os.WriteFile(partialFile, []byte("16\n"), 0o640)).To(Succeed())

		_, err := e.Run(context.Background(), Options{})
		Expect(err).To(HaveOccurred())

		// Only the FAILED backup.info is written back into the directory.
		_, statErr := os.Stat(partialFile)
		Expect(os.IsNotExist(statErr)).To(BeTrue())
	})

	It("keeps the partial data directory on failure when KeepPartialOnFailure is set", func() {
		e := newExecutor()
		clock := e.Ctx.Clock.(*barmanctx.FixedClock)
		backupID := clock.Now().Format(backupIDLayout)
		partialDir := backupDataDir(home, "main", backupID)
		Expect(os.MkdirAll(partialDir, 0o750)).To(Succeed())

		_, err := e.Run(context.Background(), Options{KeepPartialOnFailure: true})
		Expect(err).To(HaveOccurred())

		info, statErr := os.Stat(partialDir)
		Expect(statErr).ToNot(HaveOccurred())
		Expect(info.IsDir()).To(BeTrue())
	})

	It("runs the post hook even on failure, with BARMAN_STATUS reflecting the true outcome", func() {
		e := newExecutor()
		statusFile := filepath.Join(GinkgoT().TempDir(), "status.txt")
		script := filepath.Join(GinkgoT().TempDir(), "post.sh")
		Expect(os.WriteFile(script, []byte("#!/bin/sh\necho \"$BARMAN_STATUS\" > \""+statusFile+"\"\n"), 0o750)).To(Succeed())
		server.Hooks.Post = script

		_, err := e.Run(context.Background(), Options{})
		Expect(err).To(HaveOccurred())

		data, readErr := os.ReadFile(statusFile)
		Expect(readErr).ToNot(HaveOccurred())
		Expect(string(data)).To(ContainSubstring("FAILED"))
	})

	It("aborts before the protocol runs when the backup lock is already held", func() {
		held, err := cat.Lock(lock.KindBackup)
		Expect(err).ToNot(HaveOccurred())
		defer held.Release() //nolint:errcheck

		e := newExecutor()
		_, runErr := e.Run(context.Background(), Options{})
		Expect(runErr).To(HaveOccurred())
	})
})
