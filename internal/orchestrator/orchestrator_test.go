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
	"syscall"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/cloudnative-pg/barman-host-manager/internal/barmanctx"
	"github.com/cloudnative-pg/barman-host-manager/internal/catalog"
	"github.com/cloudnative-pg/barman-host-manager/internal/catalog/lock"
	"github.com/cloudnative-pg/barman-host-manager/internal/config"
	"github.com/cloudnative-pg/barman-host-manager/internal/logging"
	"github.com/cloudnative-pg/barman-host-manager/internal/metrics"
	"github.com/cloudnative-pg/barman-host-manager/internal/walstreamer"
)

func newTestCatalog(home, server string) *catalog.Catalog {
	serverHome := filepath.Join(home, server)
	cat, err := catalog.Open(server, serverHome)
	Expect(err).ToNot(HaveOccurred())
	Expect(cat.EnsureLayout()).To(Succeed())
	return cat
}

var _ = Describe("Orchestrator.MaintainServer", func() {
	It("runs archiving, retention and diagnostics for a non-archiving server without error", func() {
		home := GinkgoT().TempDir()
		cfg := &config.Config{
			Global:  config.Global{BarmanHome: home},
			Servers: map[string]*config.Server{},
		}
		server := &config.Server{Name: "main", Archiver: false, RetentionPolicy: ""}
		cfg.Servers["main"] = server

		bctx := &barmanctx.Context{Config: cfg, Logger: logging.Log, Clock: &barmanctx.FixedClock{At: time.Now()}}
		newTestCatalog(home, "main")

		orch := New(bctx, metrics.NewExporter())
		report, err := orch.MaintainServer(context.Background(), server)
		Expect(err).ToNot(HaveOccurred())
		Expect(report.ArchiveResult).To(BeNil())
		Expect(report.RetentionPlan.ObsoleteBackups).To(BeEmpty())
	})

	It("starts a streaming receiver once for a streaming_archiver server", func() {
		home := GinkgoT().TempDir()
		cfg := &config.Config{
			Global:  config.Global{BarmanHome: home},
			Servers: map[string]*config.Server{},
		}
		server := &config.Server{Name: "main", StreamingArchiver: true, Conn: "host=127.0.0.1 dbname=postgres"}
		cfg.Servers["main"] = server

		bctx := &barmanctx.Context{Config: cfg, Logger: logging.Log, Clock: &barmanctx.FixedClock{At: time.Now()}}
		newTestCatalog(home, "main")

		orch := New(bctx, nil)
		orch.Streamers = walstreamer.NewSupervisor("test")

		_, err := orch.MaintainServer(context.Background(), server)
		Expect(err).ToNot(HaveOccurred())
		Expect(orch.Streamers.Receiver("main")).ToNot(BeNil())

		// a second pass must not error or replace the running receiver.
		_, err = orch.MaintainServer(context.Background(), server)
		Expect(err).ToNot(HaveOccurred())
	})

	It("deletes obsolete backups and their now-unreachable WALs under a redundancy policy", func() {
		home := GinkgoT().TempDir()
		cfg := &config.Config{
			Global:  config.Global{BarmanHome: home},
			Servers: map[string]*config.Server{},
		}
		server := &config.Server{Name: "main", RetentionPolicy: "REDUNDANCY 2"}
		cfg.Servers["main"] = server

		bctx := &barmanctx.Context{Config: cfg, Logger: logging.Log, Clock: &barmanctx.FixedClock{At: time.Now()}}
		cat := newTestCatalog(home, "main")

		base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		ids := make([]string, 0, 7)
		for i := 0; i < 7; i++ {
			end := base.Add(time.Duration(i) * 24 * time.Hour)
			id := end.Format("20060102T150405")
			b := &catalog.Backup{
				ID:         id,
				Status:     catalog.StatusDone,
				ServerName: "main",
				BeginWAL:   "00000001000000000000000" + string(rune('1'+i)),
				BeginTime:  end.Add(-time.Hour),
				EndTime:    end,
				Timeline:   1,
			}
			Expect(catalog.WriteBackupInfo(cat.Home, b)).To(Succeed())
			ids = append(ids, id)

			Expect(catalog.AppendWALRecord(cat.Home, catalog.WALRecord{
				Name: b.BeginWAL,
				Size: 16 << 20,
				Time: end,
			})).To(Succeed())
		}
		Expect(cat.Reload()).To(Succeed())

		orch := New(bctx, metrics.NewExporter())
		report, err := orch.MaintainServer(context.Background(), server)
		Expect(err).ToNot(HaveOccurred())

		Expect(report.RetentionPlan.ObsoleteBackups).To(HaveLen(5))
		Expect(report.RetentionPlan.ObsoleteBackups).To(ConsistOf(ids[0], ids[1], ids[2], ids[3], ids[4]))

		survivors, _, err := catalog.ListBackups(cat.Home)
		Expect(err).ToNot(HaveOccurred())
		Expect(survivors).To(HaveLen(2))

		records, err := catalog.ReadXlogDB(cat.Home)
		Expect(err).ToNot(HaveOccurred())
		names := make([]string, len(records))
		for i, rec := range records {
			names[i] = rec.Name
		}
		Expect(names).To(ConsistOf("000000010000000000000006", "000000010000000000000007"))
	})

	It("skips passive servers in MaintainAll", func() {
		home := GinkgoT().TempDir()
		passive := &config.Server{Name: "replica-host", Passive: true}
		cfg := &config.Config{
			Global:  config.Global{BarmanHome: home},
			Servers: map[string]*config.Server{"replica-host": passive},
		}
		bctx := &barmanctx.Context{Config: cfg, Logger: logging.Log, Clock: &barmanctx.FixedClock{At: time.Now()}}

		orch := New(bctx, nil)
		reports, errs := orch.MaintainAll(context.Background())
		Expect(reports).To(BeEmpty())
		Expect(errs).To(BeEmpty())
	})
})

var _ = Describe("Diagnose", func() {
	var (
		home   string
		cat    *catalog.Catalog
		server *config.Server
		bctx   *barmanctx.Context
	)

	BeforeEach(func() {
		home = GinkgoT().TempDir()
		cat = newTestCatalog(home, "main")
		server = &config.Server{Name: "main"}
		bctx = &barmanctx.Context{Logger: logging.Log, Clock: &barmanctx.FixedClock{At: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)}}
	})

	It("reports directories as writable when the server home exists", func() {
		results := Diagnose(context.Background(), bctx, server, cat)
		var found bool
		for _, r := range results {
			if r.Name == checkDirectoriesWritable {
				found = true
				Expect(r.OK).To(BeTrue())
			}
		}
		Expect(found).To(BeTrue())
	})

	It("flags stale WAL archiving when the last archived segment is older than the retry window", func() {
		server.Archiver = true
		server.ArchiveRetryTimes = 2
		server.ArchiveRetrySleep = time.Minute

		Expect(catalog.AppendWALRecord(cat.Home, catalog.WALRecord{
			Name: "000000010000000000000001",
			Size: 16 * 1024 * 1024,
			Time: bctx.Clock.Now().Add(-24 * time.Hour),
		})).To(Succeed())

		result := checkArchivingFreshness(bctx, server, cat)
		Expect(result.OK).To(BeFalse())
	})

	It("reports no successful backup when last_backup_maximum_age is set and no backup exists", func() {
		server.LastBackupMaximumAge = time.Hour
		result, applicable := checkBackupAge(bctx, server, cat)
		Expect(applicable).To(BeTrue())
		Expect(result.OK).To(BeFalse())
	})

	It("omits the backup-age check entirely when last_backup_maximum_age is unset", func() {
		_, applicable := checkBackupAge(bctx, server, cat)
		Expect(applicable).To(BeFalse())
	})
})

var _ = Describe("CleanStaleLocks", func() {
	It("removes a lock file whose holder already released it", func() {
		home := GinkgoT().TempDir()
		l, err := lock.Acquire(home, lock.KindBackup, "main")
		Expect(err).ToNot(HaveOccurred())
		Expect(l.Release()).To(Succeed())

		removed, err := CleanStaleLocks(home, "main")
		Expect(err).ToNot(HaveOccurred())
		Expect(removed).To(ContainElement(".backup.lock"))

		_, statErr := os.Stat(filepath.Join(home, ".backup.lock"))
		Expect(os.IsNotExist(statErr)).To(BeTrue())
	})

	It("leaves a currently held lock in place", func() {
		home := GinkgoT().TempDir()
		l, err := lock.Acquire(home, lock.KindBackup, "main")
		Expect(err).ToNot(HaveOccurred())
		defer l.Release() //nolint:errcheck

		removed, err := CleanStaleLocks(home, "main")
		Expect(err).ToNot(HaveOccurred())
		Expect(removed).To(BeEmpty())

		_, statErr := os.Stat(filepath.Join(home, ".backup.lock"))
		Expect(statErr).ToNot(HaveOccurred())
	})
})

var _ = Describe("ListProcesses and TerminateProcess", func() {
	It("returns no processes for servers with no registered receiver", func() {
		sup := walstreamer.NewSupervisor("test")
		infos := ListProcesses(sup, []string{"main"})
		Expect(infos).To(BeEmpty())
	})

	It("can signal an existing process without error", func() {
		err := TerminateProcess(os.Getpid(), syscall.Signal(0))
		Expect(err).ToNot(HaveOccurred())
	})

	It("errors when the process does not exist", func() {
		err := TerminateProcess(1<<30, syscall.SIGTERM)
		Expect(err).To(HaveOccurred())
	})
})
