// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package ssh provides a reification of the repo.Shell interface which
// runs commands on remote hosts over SSH sessions.
package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/momeni/pg-logidater/pkg/core/cerr"
	"github.com/momeni/pg-logidater/pkg/core/log"
	"github.com/momeni/pg-logidater/pkg/core/repo"
	"github.com/spf13/afero"
	gossh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Default timeouts which are used when the Config leaves them zero.
const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultCommandTimeout = 60 * time.Second
)

// Config contains the SSH connection settings which are shared by all
// remote hosts.
type Config struct {
	User     string   // remote login name, usually postgres
	Port     int      // remote port, 22 if zero
	KeyFiles []string // private key files which are offered in order

	// KnownHosts is the path of an OpenSSH known_hosts file which is
	// used for verifying the remote host keys. It is mandatory unless
	// InsecureIgnoreHostKey is set.
	KnownHosts            string
	InsecureIgnoreHostKey bool

	// AgentSocket is the ssh-agent unix socket path. Its keys are
	// offered after the KeyFiles.
	AgentSocket string

	ConnectTimeout time.Duration
	CommandTimeout time.Duration

	Fs afero.Fs // file system which keeps the KeyFiles
}

// Shell opens SSH sessions to remote hosts.
type Shell struct {
	cc      *gossh.ClientConfig
	port    string
	timeout time.Duration
	agent   net.Conn
}

// New validates the `c` settings, loads the private keys and known
// hosts, and returns a Shell which uses them for all sessions.
// The returned Shell must be closed in order to release the agent
// connection (if any).
func New(c Config) (*Shell, error) {
	if c.User == "" {
		return nil, errors.New("ssh user is empty")
	}
	fs := c.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	var signers []gossh.Signer
	for _, path := range c.KeyFiles {
		pem, err := afero.ReadFile(fs, path)
		if err != nil {
			return nil, fmt.Errorf("reading key file: %w", err)
		}
		s, err := gossh.ParsePrivateKey(pem)
		if err != nil {
			return nil, fmt.Errorf("parsing key file %q: %w", path, err)
		}
		signers = append(signers, s)
	}
	auth := []gossh.AuthMethod{}
	if len(signers) > 0 {
		auth = append(auth, gossh.PublicKeys(signers...))
	}
	sh := &Shell{
		port:    "22",
		timeout: DefaultCommandTimeout,
	}
	if c.AgentSocket != "" {
		conn, err := net.Dial("unix", c.AgentSocket)
		if err != nil {
			return nil, fmt.Errorf("connecting to ssh-agent: %w", err)
		}
		sh.agent = conn
		auth = append(auth, gossh.PublicKeysCallback(
			agent.NewClient(conn).Signers,
		))
	}
	if len(auth) == 0 {
		return nil, errors.New("neither key files nor ssh-agent are configured")
	}
	hkc, err := hostKeyCallback(c)
	if err != nil {
		_ = sh.Close()
		return nil, err
	}
	if c.Port != 0 {
		sh.port = strconv.Itoa(c.Port)
	}
	if c.CommandTimeout > 0 {
		sh.timeout = c.CommandTimeout
	}
	sh.cc = &gossh.ClientConfig{
		User:            c.User,
		Auth:            auth,
		HostKeyCallback: hkc,
		Timeout:         c.ConnectTimeout,
	}
	if sh.cc.Timeout <= 0 {
		sh.cc.Timeout = DefaultConnectTimeout
	}
	return sh, nil
}

func hostKeyCallback(c Config) (gossh.HostKeyCallback, error) {
	if c.InsecureIgnoreHostKey {
		return gossh.InsecureIgnoreHostKey(), nil
	}
	if c.KnownHosts == "" {
		return nil, errors.New("known-hosts file is not configured")
	}
	hkc, err := knownhosts.New(c.KnownHosts)
	if err != nil {
		return nil, fmt.Errorf("loading known-hosts: %w", err)
	}
	return hkc, nil
}

// Close releases the ssh-agent connection.
func (sh *Shell) Close() error {
	if sh.agent == nil {
		return nil
	}
	return sh.agent.Close()
}

// Session connects to `host` and passes a session to `handler`. The
// connection is closed when `handler` returns. Connection and
// authentication failures are fatal connectivity errors.
func (sh *Shell) Session(
	ctx context.Context, host string, handler repo.ShellHandler,
) error {
	addr := net.JoinHostPort(host, sh.port)
	d := net.Dialer{Timeout: sh.cc.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return cerr.Fatal(cerr.Connectivity, fmt.Errorf("ssh dial %s: %w", addr, err))
	}
	// the dial timeout does not cover a server which never speaks ssh
	_ = conn.SetDeadline(time.Now().Add(sh.cc.Timeout))
	c, chans, reqs, err := gossh.NewClientConn(conn, addr, sh.cc)
	if err != nil {
		_ = conn.Close()
		return cerr.Fatal(cerr.Connectivity, fmt.Errorf("ssh handshake %s: %w", addr, err))
	}
	_ = conn.SetDeadline(time.Time{})
	client := gossh.NewClient(c, chans, reqs)
	defer func() {
		if err := client.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			log.Debug(ctx, "closing ssh client", log.Host(host), log.Err("err", err))
		}
	}()
	log.Debug(ctx, "ssh session is established", log.Host(host))
	return handler(ctx, &session{client: client, host: host, timeout: sh.timeout})
}

type session struct {
	client  *gossh.Client
	host    string
	timeout time.Duration
}

// Run executes cmd in a new SSH session (channel) of the connection.
// Non-empty standard error output is logged as a warning. A non-zero
// exit status, or not finishing within the command timeout, is a fatal
// external process error.
func (s *session) Run(ctx context.Context, cmd string) (string, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return "", cerr.Fatal(cerr.Connectivity, fmt.Errorf("opening ssh session: %w", err))
	}
	defer sess.Close()
	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- sess.Run(cmd)
	}()
	select {
	case <-ctx.Done():
		_ = sess.Signal(gossh.SIGKILL)
		_ = sess.Close()
		return "", cerr.Fatal(cerr.ExternalProcess, fmt.Errorf(
			"%s: %q did not finish: %w", s.host, cmd, ctx.Err(),
		))
	case err = <-done:
	}
	if e := strings.TrimSpace(stderr.String()); e != "" {
		log.Warn(
			ctx, "remote command wrote to stderr",
			log.Host(s.host), log.Object("command", cmd), log.Object("stderr", e),
		)
	}
	if err != nil {
		return "", cerr.Fatal(cerr.ExternalProcess, fmt.Errorf(
			"%s: %q: %w", s.host, cmd, err,
		))
	}
	return stdout.String(), nil
}

// AgentSocket returns the SSH_AUTH_SOCK environment variable value.
func AgentSocket() string {
	return os.Getenv("SSH_AUTH_SOCK")
}
