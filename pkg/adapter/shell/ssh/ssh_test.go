// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package ssh_test

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/momeni/pg-logidater/pkg/adapter/shell/ssh"
	"github.com/momeni/pg-logidater/pkg/core/cerr"
	"github.com/momeni/pg-logidater/pkg/core/repo"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gossh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// reply describes how the fake server answers one exec request.
type reply struct {
	stdout, stderr string
	status         uint32
	hang           bool
}

type server struct {
	addr    string
	port    int
	hostKey gossh.PublicKey
}

func newKey(t *testing.T) (ed25519.PrivateKey, gossh.Signer) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	s, err := gossh.NewSignerFromKey(priv)
	require.NoError(t, err)
	return priv, s
}

// startServer runs an SSH server which accepts the `client` key and
// answers exec requests based on the `replies` map.
func startServer(
	t *testing.T, client gossh.PublicKey, replies map[string]reply,
) *server {
	_, hostSigner := newKey(t)
	sc := &gossh.ServerConfig{
		PublicKeyCallback: func(
			_ gossh.ConnMetadata, k gossh.PublicKey,
		) (*gossh.Permissions, error) {
			if bytes.Equal(k.Marshal(), client.Marshal()) {
				return nil, nil
			}
			return nil, assert.AnError
		},
	}
	sc.AddHostKey(hostSigner)
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go serve(conn, sc, replies)
		}
	}()
	port := l.Addr().(*net.TCPAddr).Port
	return &server{
		addr: l.Addr().String(), port: port, hostKey: hostSigner.PublicKey(),
	}
}

func serve(conn net.Conn, sc *gossh.ServerConfig, replies map[string]reply) {
	_, chans, reqs, err := gossh.NewServerConn(conn, sc)
	if err != nil {
		return
	}
	go gossh.DiscardRequests(reqs)
	for nc := range chans {
		if nc.ChannelType() != "session" {
			_ = nc.Reject(gossh.UnknownChannelType, "session only")
			continue
		}
		ch, creqs, err := nc.Accept()
		if err != nil {
			return
		}
		go func() {
			defer ch.Close()
			for req := range creqs {
				if req.Type != "exec" {
					_ = req.Reply(false, nil)
					continue
				}
				var exec struct{ Command string }
				if err := gossh.Unmarshal(req.Payload, &exec); err != nil {
					_ = req.Reply(false, nil)
					return
				}
				_ = req.Reply(true, nil)
				r := replies[exec.Command]
				if r.hang {
					continue
				}
				_, _ = ch.Write([]byte(r.stdout))
				_, _ = ch.Stderr().Write([]byte(r.stderr))
				status := struct{ Status uint32 }{r.status}
				_, _ = ch.SendRequest(
					"exit-status", false, gossh.Marshal(&status),
				)
				return
			}
		}()
	}
}

type fixture struct {
	srv *server
	cfg ssh.Config
}

func newFixture(t *testing.T, replies map[string]reply) fixture {
	priv, signer := newKey(t)
	srv := startServer(t, signer.PublicKey(), replies)
	block, err := gossh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(
		fs, "/keys/id_ed25519", pem.EncodeToMemory(block), 0o600,
	))
	kh := filepath.Join(t.TempDir(), "known_hosts")
	line := knownhosts.Line([]string{srv.addr}, srv.hostKey)
	require.NoError(t, os.WriteFile(kh, []byte(line+"\n"), 0o600))
	return fixture{srv: srv, cfg: ssh.Config{
		User:           "postgres",
		Port:           srv.port,
		KeyFiles:       []string{"/keys/id_ed25519"},
		KnownHosts:     kh,
		CommandTimeout: 2 * time.Second,
		Fs:             fs,
	}}
}

func TestRunCommands(t *testing.T) {
	f := newFixture(t, map[string]reply{
		"echo $PGDATA": {stdout: "/var/lib/pgsql/15/data\n"},
		"cat missing":  {stderr: "cat: missing: No such file\n", status: 1},
		"noisy":        {stdout: "ok", stderr: "warning\n"},
	})
	sh, err := ssh.New(f.cfg)
	require.NoError(t, err)
	defer sh.Close()
	ctx := context.Background()
	err = sh.Session(ctx, "127.0.0.1", func(
		ctx context.Context, s repo.ShellSession,
	) error {
		out, err := s.Run(ctx, "echo $PGDATA")
		require.NoError(t, err)
		assert.Equal(t, "/var/lib/pgsql/15/data\n", out)

		out, err = s.Run(ctx, "noisy")
		require.NoError(t, err, "stderr output alone is not a failure")
		assert.Equal(t, "ok", out)

		_, err = s.Run(ctx, "cat missing")
		require.Error(t, err)
		assert.Equal(t, cerr.ExternalProcess, cerr.KindOf(err))
		return nil
	})
	require.NoError(t, err)
}

func TestCommandTimeout(t *testing.T) {
	f := newFixture(t, map[string]reply{"sleep 600": {hang: true}})
	f.cfg.CommandTimeout = 200 * time.Millisecond
	sh, err := ssh.New(f.cfg)
	require.NoError(t, err)
	defer sh.Close()
	err = sh.Session(context.Background(), "127.0.0.1", func(
		ctx context.Context, s repo.ShellSession,
	) error {
		start := time.Now()
		_, err := s.Run(ctx, "sleep 600")
		assert.Less(t, time.Since(start), 5*time.Second)
		return err
	})
	require.Error(t, err)
	assert.Equal(t, cerr.ExternalProcess, cerr.KindOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUnknownHostKeyIsRejected(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, os.WriteFile(f.cfg.KnownHosts, nil, 0o600))
	sh, err := ssh.New(f.cfg)
	require.NoError(t, err)
	defer sh.Close()
	err = sh.Session(context.Background(), "127.0.0.1", func(
		context.Context, repo.ShellSession,
	) error {
		t.Fatal("handler must not be called")
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, cerr.Connectivity, cerr.KindOf(err))

	f.cfg.KnownHosts = ""
	f.cfg.InsecureIgnoreHostKey = true
	sh2, err := ssh.New(f.cfg)
	require.NoError(t, err)
	defer sh2.Close()
	called := false
	err = sh2.Session(context.Background(), "127.0.0.1", func(
		context.Context, repo.ShellSession,
	) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestUnreachableHost(t *testing.T) {
	f := newFixture(t, nil)
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	f.cfg.Port = l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	sh, err := ssh.New(f.cfg)
	require.NoError(t, err)
	defer sh.Close()
	err = sh.Session(context.Background(), "127.0.0.1", func(
		context.Context, repo.ShellSession,
	) error {
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, cerr.Connectivity, cerr.KindOf(err))
	assert.Contains(t, err.Error(), strconv.Itoa(f.cfg.Port))
}

func TestSilentServerTimesOut(t *testing.T) {
	f := newFixture(t, nil)
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	go func() {
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			defer c.Close() // accepted but never greeted
		}
	}()
	f.cfg.Port = l.Addr().(*net.TCPAddr).Port
	f.cfg.ConnectTimeout = 300 * time.Millisecond
	sh, err := ssh.New(f.cfg)
	require.NoError(t, err)
	defer sh.Close()
	start := time.Now()
	err = sh.Session(context.Background(), "127.0.0.1", func(
		context.Context, repo.ShellSession,
	) error {
		t.Fatal("handler must not be called")
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, cerr.Connectivity, cerr.KindOf(err))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := ssh.New(ssh.Config{})
	assert.Error(t, err, "user is required")
	_, err = ssh.New(ssh.Config{User: "postgres", InsecureIgnoreHostKey: true})
	assert.Error(t, err, "an authentication method is required")
	f := newFixture(t, nil)
	f.cfg.KnownHosts = ""
	_, err = ssh.New(f.cfg)
	assert.Error(t, err, "known hosts are required")
	f.cfg.KeyFiles = []string{"/keys/missing"}
	f.cfg.InsecureIgnoreHostKey = true
	_, err = ssh.New(f.cfg)
	assert.Error(t, err)
}
