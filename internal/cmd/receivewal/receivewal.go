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

// Package receivewal implements the receive-wal command: run the
// long-lived streaming receiver daemon for one server, or send a running
// daemon a management signal.
//
// The daemon itself (no management flag) is the foreground process:
// SIGTERM/SIGINT stop it gracefully, SIGHUP makes it reset the receiver
// (clear unarchived partials, restart from the current position). The
// management flags below are a convenience that look up the daemon's
// recorded PID and send it the matching signal from a second, short-lived
// invocation — the daemon process and the management CLI are always
// distinct OS processes.
package receivewal

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cloudnative-pg/barman-host-manager/internal/barmanctx"
	"github.com/cloudnative-pg/barman-host-manager/internal/catalog"
	"github.com/cloudnative-pg/barman-host-manager/internal/cmdutil"
	"github.com/cloudnative-pg/barman-host-manager/internal/config"
	"github.com/cloudnative-pg/barman-host-manager/internal/streamdriver"
	"github.com/cloudnative-pg/barman-host-manager/internal/walstreamer"
)

func daemonPIDPath(home string) string {
	return filepath.Join(home, ".receive-wal-daemon.pid")
}

// NewCmd builds the receive-wal command.
func NewCmd(g *cmdutil.Globals) *cobra.Command {
	var createSlot bool
	var ifNotExists bool
	var dropSlot bool
	var reset bool
	var stop bool

	cmd := &cobra.Command{
		Use:           "receive-wal SERVER",
		Short:         "Run (or manage) the streaming receiver daemon for one server",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ExactArgs(1),
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			bctx, err := g.Load()
			if err != nil {
				return err
			}
			server, cat, err := cmdutil.OpenServer(bctx, args[0])
			if err != nil {
				return err
			}
			out := cobraCmd.OutOrStdout()
			ctx := cobraCmd.Context()

			conninfo := server.StreamConn
			if conninfo == "" {
				conninfo = server.Conn
			}

			switch {
			case createSlot:
				if err := walstreamer.CreateSlot(ctx, conninfo, server.SlotName, ifNotExists); err != nil {
					return err
				}
				fmt.Fprintf(out, "receive-wal: %s: slot %q created\n", args[0], server.SlotName)
				return nil

			case dropSlot:
				if err := walstreamer.DropSlot(ctx, conninfo, server.SlotName); err != nil {
					return err
				}
				fmt.Fprintf(out, "receive-wal: %s: slot %q dropped\n", args[0], server.SlotName)
				return nil

			case stop:
				return signalDaemon(cat.Home, syscall.SIGTERM, args[0], "stop", out)

			case reset:
				return signalDaemon(cat.Home, syscall.SIGHUP, args[0], "reset", out)
			}

			return runDaemon(ctx, bctx, server, cat, ifNotExists, out)
		},
	}

	cmd.Flags().BoolVar(&createSlot, "create-slot", false, "create the replication slot and exit")
	cmd.Flags().BoolVar(&ifNotExists, "if-not-exists", false, "make --create-slot (or starting an already-running daemon) a no-op")
	cmd.Flags().BoolVar(&dropSlot, "drop-slot", false, "drop the replication slot and exit")
	cmd.Flags().BoolVar(&reset, "reset", false, "ask the running daemon to reset its receiver")
	cmd.Flags().BoolVar(&stop, "stop", false, "ask the running daemon to stop")
	return cmd
}

func signalDaemon(home string, sig syscall.Signal, server, verb string, out io.Writer) error {
	data, err := os.ReadFile(daemonPIDPath(home)) //nolint:gosec
	if err != nil {
		return fmt.Errorf("receive-wal: %s: no running daemon found: %w", server, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return fmt.Errorf("receive-wal: %s: corrupt daemon PID file: %w", server, err)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("receive-wal: %s: %w", server, err)
	}
	if err := proc.Signal(sig); err != nil {
		return fmt.Errorf("receive-wal: %s: signaling daemon pid %d: %w", server, pid, err)
	}
	fmt.Fprintf(out, "receive-wal: %s: sent %s to daemon pid %d\n", server, verb, pid)
	return nil
}

// runDaemon is the default (no management flag) invocation: it becomes
// the long-lived receiver daemon itself. It writes its own PID so a later
// --stop/--reset invocation can find it, starts the receiver, and blocks
// until a signal arrives: SIGHUP triggers Reset, SIGINT/SIGTERM stop the
// receiver and return.
func runDaemon(
	ctx context.Context,
	bctx *barmanctx.Context,
	server *config.Server,
	cat *catalog.Catalog,
	ifNotExists bool,
	out io.Writer,
) error {
	pidPath := daemonPIDPath(cat.Home)
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o640); err != nil {
		return fmt.Errorf("receive-wal: %s: writing daemon PID file: %w", server.Name, err)
	}
	defer os.Remove(pidPath)

	sup := walstreamer.NewSupervisor(server.Name)
	driver := streamdriver.Driver(streamdriver.RemoteShellDriver{Inner: streamdriver.NativeDriver{}})
	destDir := filepath.Join(cat.Home, "streaming")
	argv, err := driver.Command(server, destDir)
	if err != nil {
		return err
	}
	if err := sup.Start(cat, argv, bctx.Logger, bctx.Clock, ifNotExists); err != nil {
		return err
	}

	// sup.Run blocks until its context is canceled, so SIGHUP (reset in
	// place) and SIGINT/SIGTERM (stop and exit) each get their own
	// cancellation: a fresh runCtx per pass for the stop signals, and a
	// raw signal channel for SIGHUP that we can tell apart from the rest.
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	defer signal.Stop(sighup)

	fmt.Fprintf(out, "receive-wal: %s: receiver running (pid %d)\n", server.Name, os.Getpid())

	for {
		runCtx, stopNotify := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		runErr := make(chan error, 1)
		go func() { runErr <- sup.Run(runCtx) }()

		select {
		case <-sighup:
			stopNotify()
			<-runErr
			if err := sup.Reset(cat, argv, bctx.Logger, bctx.Clock, 30*time.Second); err != nil {
				return fmt.Errorf("receive-wal: %s: resetting receiver: %w", server.Name, err)
			}
			fmt.Fprintf(out, "receive-wal: %s: receiver reset\n", server.Name)
			continue

		case err := <-runErr:
			stopNotify()
			return handlePostRun(sup, server, err, out)
		}
	}
}

func handlePostRun(
	sup *walstreamer.Supervisor,
	server *config.Server,
	runErr error,
	out io.Writer,
) error {
	_ = sup.Stop(server.Name, 30*time.Second)
	if runErr != nil && runErr != context.Canceled {
		return runErr
	}
	fmt.Fprintf(out, "receive-wal: %s: receiver stopped\n", server.Name)
	return nil
}
