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

// Package streamdriver builds the argv the WAL Streamer Supervisor hands
// to walstreamer.Receiver: either a local pg_receivewal invocation, or
// that same invocation wrapped in an ssh call for a server whose
// streaming source is only reachable through a remote shell. Building
// the argv is deliberately kept separate from running it (walstreamer
// owns the subprocess lifecycle); this package only answers "what
// command line would stream this server's WAL."
package streamdriver

import (
	"fmt"

	"github.com/google/shlex"
	shellquote "github.com/kballard/go-shellquote"

	"github.com/cloudnative-pg/barman-host-manager/internal/config"
)

// Driver builds the receiver subprocess command line for one server,
// writing into destDir (the server's streaming/ directory).
type Driver interface {
	Command(server *config.Server, destDir string) ([]string, error)
}

// NativeDriver runs pg_receivewal directly on this host against the
// server's streaming connection string.
type NativeDriver struct {
	// Binary overrides the pg_receivewal executable name/path; empty
	// means "pg_receivewal", resolved via $PATH like every other
	// PostgreSQL client-side binary this system shells out to.
	Binary string
}

// Command builds the native pg_receivewal argv.
func (d NativeDriver) Command(server *config.Server, destDir string) ([]string, error) {
	conninfo := server.StreamConn
	if conninfo == "" {
		conninfo = server.Conn
	}
	if conninfo == "" {
		return nil, fmt.Errorf("streamdriver: server %s has no stream_conn or conn to receive from", server.Name)
	}

	bin := d.Binary
	if bin == "" {
		bin = "pg_receivewal"
	}

	argv := []string{bin, "--directory", destDir, "--dbname", conninfo, "--no-password"}
	if server.SlotName != "" {
		argv = append(argv, "--slot", server.SlotName)
	}
	if server.NetworkCompression {
		argv = append(argv, "--compress", "5")
	}
	return argv, nil
}

// RemoteShellDriver wraps Inner's command in an ssh invocation built from
// server.PrimarySSHCommand (a user-supplied "ssh [opts] user@host"-style
// string), for servers whose WAL source is reachable only through a
// remote shell rather than a direct streaming connection. The wrapped
// command still runs on the remote host and therefore still needs that
// host's own pg_receivewal and a destination path valid there; for this
// system's topology that is only meaningful for a passive node mirroring
// another barman host's streaming/ tree, which is why Inner is normally
// NativeDriver pointed at a path on the remote side.
type RemoteShellDriver struct {
	Inner Driver
}

// Command builds the ssh-wrapped argv. It returns Inner's own argv
// unmodified when server.PrimarySSHCommand is empty, so the zero value of
// RemoteShellDriver behaves exactly like its Inner driver for servers that
// do not use a remote shell at all.
func (d RemoteShellDriver) Command(server *config.Server, destDir string) ([]string, error) {
	inner := d.Inner
	if inner == nil {
		inner = NativeDriver{}
	}
	argv, err := inner.Command(server, destDir)
	if err != nil {
		return nil, err
	}
	if server.PrimarySSHCommand == "" {
		return argv, nil
	}

	sshArgv, err := shlex.Split(server.PrimarySSHCommand)
	if err != nil {
		return nil, fmt.Errorf("streamdriver: parsing primary_ssh_command for server %s: %w", server.Name, err)
	}
	if len(sshArgv) == 0 {
		return nil, fmt.Errorf("streamdriver: primary_ssh_command for server %s is empty", server.Name)
	}

	remote := shellquote.Join(argv...)
	return append(sshArgv, remote), nil
}
