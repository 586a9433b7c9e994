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

// Package cmdutil holds what every internal/cmd/<name> subcommand package
// needs and would otherwise duplicate: global flag wiring, configuration
// loading into a barmanctx.Context, per-server catalog resolution, and the
// table/color output helpers the listing and show commands share.
package cmdutil

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/logrusorgru/aurora/v4"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/cloudnative-pg/barman-host-manager/internal/barmanctx"
	"github.com/cloudnative-pg/barman-host-manager/internal/catalog"
	"github.com/cloudnative-pg/barman-host-manager/internal/config"
	"github.com/cloudnative-pg/barman-host-manager/internal/logging"
)

// Globals are the flags every subcommand inherits from the root command.
type Globals struct {
	ConfigFile    string
	ConfigDir     string
	OverlayPath   string
	Debug         bool
	Quiet         bool
	NoColor       bool
}

// AddFlags registers the global flags on the root command, inherited by
// every subcommand as persistent flags.
func (g *Globals) AddFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.StringVarP(&g.ConfigFile, "config", "c", "/etc/barman.conf", "global configuration file")
	flags.StringVar(&g.ConfigDir, "config-dir", "/etc/barman.d", "per-server configuration directory")
	flags.StringVar(&g.OverlayPath, "config-overlay", "", "config-update overlay file (defaults under config-dir)")
	flags.BoolVarP(&g.Debug, "debug", "d", false, "enable debug logging")
	flags.BoolVarP(&g.Quiet, "quiet", "q", false, "suppress non-essential output")
	flags.BoolVar(&g.NoColor, "no-color", false, "disable colored output even on a terminal")
}

// Load reads the configuration named by the global flags and builds the
// Context every component takes. It also installs the resulting logger as
// the package-level logging.Log default, so code paths that have not been
// threaded a Context explicitly (rare, mostly in tests) still log
// consistently with the rest of this invocation.
func (g *Globals) Load() (*barmanctx.Context, error) {
	overlay := g.OverlayPath
	if overlay == "" && g.ConfigDir != "" {
		overlay = g.ConfigDir + "/.barman.auto.conf"
	}

	cfg, err := config.Load(g.ConfigFile, g.ConfigDir, overlay)
	if err != nil {
		return nil, err
	}

	logging.Log = logging.New(g.Debug)

	return barmanctx.New(cfg), nil
}

// OverlayFilePath returns the config-update overlay path Load() will read
// and write: the explicit --config-overlay flag if set, otherwise
// .barman.auto.conf under --config-dir. config-switch and config-update
// need this path themselves since they write the overlay rather than
// just reading it through Load().
func (g *Globals) OverlayFilePath() (string, error) {
	if g.OverlayPath != "" {
		return g.OverlayPath, nil
	}
	if g.ConfigDir == "" {
		return "", fmt.Errorf("cannot determine the config-update overlay path: --config-dir is empty and --config-overlay was not set")
	}
	return g.ConfigDir + "/.barman.auto.conf", nil
}

// ResolveServer looks up name in ctx.Config and opens (but does not
// EnsureLayout on) its catalog, the read path every command that inspects
// rather than mutates a server wants.
func ResolveServer(ctx *barmanctx.Context, name string) (*config.Server, *catalog.Catalog, error) {
	server, err := ctx.Config.Server(name)
	if err != nil {
		return nil, nil, err
	}
	cat, err := catalog.Open(name, server.BarmanHome)
	if err != nil {
		return nil, nil, err
	}
	return server, cat, nil
}

// OpenServer is ResolveServer plus EnsureLayout, for commands that write
// into a server's tree (archive-wal, backup, receive-wal, ...).
func OpenServer(ctx *barmanctx.Context, name string) (*config.Server, *catalog.Catalog, error) {
	server, cat, err := ResolveServer(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	if err := cat.EnsureLayout(); err != nil {
		return nil, nil, err
	}
	return server, cat, nil
}

// TempName builds a collision-resistant name for a scratch file or
// directory a command creates under a shared path (the staging area a
// concurrent get-wal/put-wal or recover invocation might also be using).
func TempName(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

// Colors decides whether aurora should actually colorize, based on
// --no-color and whether stdout is a terminal at all (piping to a file or
// another process should never embed escape codes).
func Colors(cmd *cobra.Command, noColor bool) aurora.Aurora {
	enabled := !noColor
	if f, ok := cmd.OutOrStdout().(*os.File); ok {
		enabled = enabled && term.IsTerminal(int(f.Fd()))
	} else {
		enabled = false
	}
	return aurora.NewAurora(enabled)
}

// NewTabWriter builds the tabwriter.Writer tabby.NewCustom expects,
// wrapping w so table output from a command goes wherever cobra's own
// output does (a real terminal in normal use, a buffer in tests).
func NewTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

// Fatalf is a convenience for subcommands that want a one-line formatted
// error without cobra's "Error: " prefix duplicated by a wrapped fmt.Errorf
// at every call site.
func Fatalf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}
