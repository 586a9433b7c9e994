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

// Package config loads the declarative, per-server configuration.
// Parsing the CLI front-end itself is out of scope; this package only
// owns the typed result every component consumes.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cloudnative-pg/barman-host-manager/internal/barmanerrors"
)

// BackupMethod selects the copy driver a server's base backups use.
type BackupMethod string

// The supported backup methods.
const (
	MethodRsyncLike        BackupMethod = "rsync-like"
	MethodNativeBasebackup BackupMethod = "native-basebackup"
	MethodLocalRsync       BackupMethod = "local-rsync"
	MethodSnapshot         BackupMethod = "snapshot"
)

// ReuseBackupMode controls how a new rsync-like backup may reuse unchanged
// files from a previous one.
type ReuseBackupMode string

// The supported reuse_backup modes.
const (
	ReuseOff  ReuseBackupMode = "off"
	ReuseCopy ReuseBackupMode = "copy"
	ReuseLink ReuseBackupMode = "link"
)

// Compression names a WAL/base-backup compression algorithm.
type Compression string

// The supported compression algorithms.
const (
	CompressionNone   Compression = ""
	CompressionGzip   Compression = "gzip"
	CompressionLZ4    Compression = "lz4"
	CompressionZSTD   Compression = "zstd"
	CompressionSnappy Compression = "snappy"
)

// Global holds defaults applied to every server unless overridden.
type Global struct {
	BarmanHome                   string        `yaml:"barman_home"`
	Compression                  Compression   `yaml:"compression"`
	RetentionPolicy              string        `yaml:"retention_policy"`
	MinimumRedundancy            int           `yaml:"minimum_redundancy"`
	ParallelJobs                 int           `yaml:"parallel_jobs"`
	ParallelJobsStartBatchSize   int           `yaml:"parallel_jobs_start_batch_size"`
	ParallelJobsStartBatchPeriod time.Duration `yaml:"parallel_jobs_start_batch_period"`
	BasebackupRetryTimes         int           `yaml:"basebackup_retry_times"`
	BasebackupRetrySleep         time.Duration `yaml:"basebackup_retry_sleep"`
	ArchiveRetryTimes            int           `yaml:"archive_retry_times"`
	ArchiveRetrySleep            time.Duration `yaml:"archive_retry_sleep"`
	LastBackupMaximumAge         time.Duration `yaml:"last_backup_maximum_age"`
	LastBackupMinimumSize        int64         `yaml:"last_backup_minimum_size"`
	KeepaliveInterval            time.Duration `yaml:"keepalive_interval"`
	NetworkCompression           bool          `yaml:"network_compression"`
	ImmediateCheckpoint          bool          `yaml:"immediate_checkpoint"`
	StagingPath                  string        `yaml:"staging_path"`
	StagingLocation              string        `yaml:"staging_location"`
}

// Server is the fully-resolved configuration of a single backup target,
// Server attributes.
type Server struct {
	Name        string `yaml:"-"`
	Description string `yaml:"description"`

	Conn            string `yaml:"conn"`
	StreamConn      string `yaml:"stream_conn"`
	PrimaryConnInfo string `yaml:"primary_conninfo"`

	BackupMethod BackupMethod `yaml:"backup_method"`

	Archiver          bool   `yaml:"archiver"`
	StreamingArchiver bool   `yaml:"streaming_archiver"`
	SlotName          string `yaml:"slot_name"`

	RetentionPolicy   string `yaml:"retention_policy"`
	MinimumRedundancy int    `yaml:"minimum_redundancy"`

	Compression Compression     `yaml:"compression"`
	ReuseBackup ReuseBackupMode `yaml:"reuse_backup"`

	BarmanHome string `yaml:"-"` // derived: <Global.BarmanHome>/<Name>

	ParallelJobs                 int           `yaml:"parallel_jobs"`
	ParallelJobsStartBatchSize   int           `yaml:"parallel_jobs_start_batch_size"`
	ParallelJobsStartBatchPeriod time.Duration `yaml:"parallel_jobs_start_batch_period"`

	BasebackupRetryTimes int           `yaml:"basebackup_retry_times"`
	BasebackupRetrySleep time.Duration `yaml:"basebackup_retry_sleep"`
	ArchiveRetryTimes    int           `yaml:"archive_retry_times"`
	ArchiveRetrySleep    time.Duration `yaml:"archive_retry_sleep"`

	ImmediateCheckpoint      bool          `yaml:"immediate_checkpoint"`
	PrimaryCheckpointTimeout time.Duration `yaml:"primary_checkpoint_timeout"`

	BandwidthLimit     int64 `yaml:"bandwidth_limit"`
	NetworkCompression bool  `yaml:"network_compression"`

	AutogenerateManifest bool `yaml:"autogenerate_manifest"`

	LastBackupMaximumAge  time.Duration `yaml:"last_backup_maximum_age"`
	LastBackupMinimumSize int64         `yaml:"last_backup_minimum_size"`
	KeepaliveInterval     time.Duration `yaml:"keepalive_interval"`

	ConfigurationFilesDirectory string `yaml:"configuration_files_directory"`
	ConfigChangesQueue          string `yaml:"config_changes_queue"`

	StagingPath     string `yaml:"staging_path"`
	StagingLocation string `yaml:"staging_location"`

	Active  bool `yaml:"active"`
	Passive bool `yaml:"passive"`

	PrimarySSHCommand string `yaml:"primary_ssh_command"`

	Hooks Hooks `yaml:"hooks"`
}

// Hooks names the external programs dispatched around lifecycle events.
type Hooks struct {
	Pre               string `yaml:"pre_backup_script"`
	Post              string `yaml:"post_backup_script"`
	PreRetry          string `yaml:"pre_backup_retry_script"`
	PostRetry         string `yaml:"post_backup_retry_script"`
	PreArchive        string `yaml:"pre_archive_script"`
	PostArchive       string `yaml:"post_archive_script"`
	PreArchiveRetry   string `yaml:"pre_archive_retry_script"`
	PostArchiveRetry  string `yaml:"post_archive_retry_script"`
	PreRecovery       string `yaml:"pre_recovery_script"`
	PostRecovery      string `yaml:"post_recovery_script"`
	PreRecoveryRetry  string `yaml:"pre_recovery_retry_script"`
	PostRecoveryRetry string `yaml:"post_recovery_retry_script"`
	PreDelete         string `yaml:"pre_delete_script"`
	PostDelete        string `yaml:"post_delete_script"`
	PreWALDelete      string `yaml:"pre_wal_delete_script"`
	PostWALDelete     string `yaml:"post_wal_delete_script"`
}

// Config is the fully-resolved, process-wide configuration.
type Config struct {
	Global  Global
	Servers map[string]*Server
}

// rawDocument mirrors the on-disk YAML shape before defaults/overlay
// resolution: a global section plus a map of per-server sections.
type rawDocument struct {
	Global  Global             `yaml:"global"`
	Servers map[string]*Server `yaml:"servers"`
}

func applyGlobalDefaults(g *Global) {
	if g.BarmanHome == "" {
		g.BarmanHome = "/var/lib/barman"
	}
	if g.ParallelJobs == 0 {
		g.ParallelJobs = 1
	}
	if g.ParallelJobsStartBatchSize == 0 {
		g.ParallelJobsStartBatchSize = 10
	}
	if g.ParallelJobsStartBatchPeriod == 0 {
		g.ParallelJobsStartBatchPeriod = 1 * time.Second
	}
	if g.BasebackupRetryTimes == 0 {
		g.BasebackupRetryTimes = 0
	}
	if g.ArchiveRetryTimes == 0 {
		g.ArchiveRetryTimes = 3
	}
	if g.ArchiveRetrySleep == 0 {
		g.ArchiveRetrySleep = 10 * time.Second
	}
	if g.KeepaliveInterval == 0 {
		g.KeepaliveInterval = 60 * time.Second
	}
	if g.StagingLocation == "" {
		g.StagingLocation = "local"
	}
}

// mergeServerDefaults copies unset server fields from the global section.
func mergeServerDefaults(g Global, s *Server) {
	if s.Compression == "" {
		s.Compression = g.Compression
	}
	if s.RetentionPolicy == "" {
		s.RetentionPolicy = g.RetentionPolicy
	}
	if s.MinimumRedundancy == 0 {
		s.MinimumRedundancy = g.MinimumRedundancy
	}
	if s.ParallelJobs == 0 {
		s.ParallelJobs = g.ParallelJobs
	}
	if s.ParallelJobsStartBatchSize == 0 {
		s.ParallelJobsStartBatchSize = g.ParallelJobsStartBatchSize
	}
	if s.ParallelJobsStartBatchPeriod == 0 {
		s.ParallelJobsStartBatchPeriod = g.ParallelJobsStartBatchPeriod
	}
	if s.BasebackupRetryTimes == 0 {
		s.BasebackupRetryTimes = g.BasebackupRetryTimes
	}
	if s.BasebackupRetrySleep == 0 {
		s.BasebackupRetrySleep = g.BasebackupRetrySleep
	}
	if s.ArchiveRetryTimes == 0 {
		s.ArchiveRetryTimes = g.ArchiveRetryTimes
	}
	if s.ArchiveRetrySleep == 0 {
		s.ArchiveRetrySleep = g.ArchiveRetrySleep
	}
	if s.LastBackupMaximumAge == 0 {
		s.LastBackupMaximumAge = g.LastBackupMaximumAge
	}
	if s.LastBackupMinimumSize == 0 {
		s.LastBackupMinimumSize = g.LastBackupMinimumSize
	}
	if s.KeepaliveInterval == 0 {
		s.KeepaliveInterval = g.KeepaliveInterval
	}
	if s.StagingPath == "" {
		s.StagingPath = g.StagingPath
	}
	if s.StagingLocation == "" {
		s.StagingLocation = g.StagingLocation
	}
	if !s.Archiver && !s.StreamingArchiver {
		s.Archiver = true
	}
	if s.BackupMethod == "" {
		s.BackupMethod = MethodRsyncLike
	}
	s.BarmanHome = filepath.Join(g.BarmanHome, s.Name)
}

// Load reads the global configuration file plus every server file in
// serverConfDir, and merges in the config-update overlay file if present,
// following precedence: overlay > per-server file > global file >
// built-in default.
func Load(globalPath, serverConfDir, overlayPath string) (*Config, error) {
	cfg := &Config{Servers: map[string]*Server{}}

	if globalPath != "" {
		doc, err := readDocument(globalPath)
		if err != nil {
			return nil, err
		}
		cfg.Global = doc.Global
		for name, srv := range doc.Servers {
			srv.Name = name
			cfg.Servers[name] = srv
		}
	}
	applyGlobalDefaults(&cfg.Global)

	if serverConfDir != "" {
		entries, err := os.ReadDir(serverConfDir)
		if err != nil && !os.IsNotExist(err) {
			return nil, barmanerrors.New(barmanerrors.KindConfigError, "reading server configuration directory", err)
		}
		for _, entry := range entries {
			if entry.IsDir() || filepath.Ext(entry.Name()) != ".conf" {
				continue
			}
			doc, err := readDocument(filepath.Join(serverConfDir, entry.Name()))
			if err != nil {
				return nil, err
			}
			for name, srv := range doc.Servers {
				srv.Name = name
				cfg.Servers[name] = srv
			}
		}
	}

	if overlayPath != "" {
		if _, err := os.Stat(overlayPath); err == nil {
			doc, err := readDocument(overlayPath)
			if err != nil {
				return nil, err
			}
			for name, overlay := range doc.Servers {
				existing, ok := cfg.Servers[name]
				if !ok {
					overlay.Name = name
					cfg.Servers[name] = overlay
					continue
				}
				mergeOverlay(existing, overlay)
			}
		}
	}

	for _, srv := range cfg.Servers {
		mergeServerDefaults(cfg.Global, srv)
	}

	return cfg, nil
}

func readDocument(path string) (*rawDocument, error) {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, barmanerrors.New(barmanerrors.KindConfigError, "reading "+path, err)
	}
	var doc rawDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, barmanerrors.New(barmanerrors.KindConfigError, "parsing "+path, err)
	}
	return &doc, nil
}

// mergeOverlay copies every non-zero-value field set in overlay onto base.
// It is deliberately conservative: only the handful of fields config-update
// is documented to touch are merged (retention, compression, active flag),
// leaving identity/connection fields to the authoritative per-server file.
func mergeOverlay(base, overlay *Server) {
	if overlay.RetentionPolicy != "" {
		base.RetentionPolicy = overlay.RetentionPolicy
	}
	if overlay.MinimumRedundancy != 0 {
		base.MinimumRedundancy = overlay.MinimumRedundancy
	}
	if overlay.Compression != "" {
		base.Compression = overlay.Compression
	}
	base.Active = overlay.Active
}

// Server looks up a server by name, returning a NotFound error if absent.
func (c *Config) Server(name string) (*Server, error) {
	srv, ok := c.Servers[name]
	if !ok {
		return nil, barmanerrors.NotFound("", fmt.Sprintf("server %q", name))
	}
	return srv, nil
}

// SortedServerNames returns every configured server name in alphabetical
// order (map iteration order is not stable, and config-file order is not
// kept; this helper is for commands like list-servers that only need a
// deterministic order).
func (c *Config) SortedServerNames() []string {
	names := make([]string, 0, len(c.Servers))
	for name := range c.Servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// OverlayUpdate names the fields config-update is documented to touch;
// it mirrors the handful mergeOverlay merges on the read side.
type OverlayUpdate struct {
	RetentionPolicy   string
	MinimumRedundancy int
	Compression       Compression
	Active            *bool
}

// WriteOverlay merges update into the named server's entry in the overlay
// file at path (creating it if absent) and rewrites it, the write side of
// the overlay mergeOverlay consumes during Load.
func WriteOverlay(path, server string, update OverlayUpdate) error {
	doc, err := readOverlayDocument(path)
	if err != nil {
		return err
	}
	srv, ok := doc.Servers[server]
	if !ok {
		srv = &Server{}
		doc.Servers[server] = srv
	}
	if update.RetentionPolicy != "" {
		srv.RetentionPolicy = update.RetentionPolicy
	}
	if update.MinimumRedundancy != 0 {
		srv.MinimumRedundancy = update.MinimumRedundancy
	}
	if update.Compression != "" {
		srv.Compression = update.Compression
	}
	if update.Active != nil {
		srv.Active = *update.Active
	}
	return writeOverlayDocument(path, doc)
}

// ResetOverlay drops one server's entry from the overlay file, or the
// whole file when server is empty (config-switch --reset).
func ResetOverlay(path, server string) error {
	if server == "" {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return barmanerrors.New(barmanerrors.KindConfigError, "removing overlay "+path, err)
		}
		return nil
	}
	doc, err := readOverlayDocument(path)
	if err != nil {
		return err
	}
	delete(doc.Servers, server)
	return writeOverlayDocument(path, doc)
}

func readOverlayDocument(path string) (*rawDocument, error) {
	doc := &rawDocument{Servers: map[string]*Server{}}
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		if os.IsNotExist(err) {
			return doc, nil
		}
		return nil, barmanerrors.New(barmanerrors.KindConfigError, "reading overlay "+path, err)
	}
	if err := yaml.Unmarshal(data, doc); err != nil {
		return nil, barmanerrors.New(barmanerrors.KindConfigError, "parsing overlay "+path, err)
	}
	if doc.Servers == nil {
		doc.Servers = map[string]*Server{}
	}
	return doc, nil
}

func writeOverlayDocument(path string, doc *rawDocument) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return barmanerrors.New(barmanerrors.KindFatalInternal, "marshaling overlay", err)
	}
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return barmanerrors.New(barmanerrors.KindConfigError, "writing overlay "+path, err)
	}
	return nil
}
