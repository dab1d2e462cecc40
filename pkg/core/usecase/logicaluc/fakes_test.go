// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package logicaluc_test

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/momeni/pg-logidater/pkg/core/cerr"
	"github.com/momeni/pg-logidater/pkg/core/model"
	"github.com/momeni/pg-logidater/pkg/core/repo"
	"github.com/momeni/pg-logidater/pkg/core/usecase/logicaluc"
)

// cluster keeps the in-memory state of all fake servers and the order
// of the mutating operations which were applied to them.
type cluster struct {
	servers  map[string]*server
	events   []string
	openings int
	journal  []model.Snapshot
	runs     map[string]bool
}

type server struct {
	host       string
	walLevel   string
	version    model.SemVer
	slots      map[string]bool // slot name -> active
	unkillable bool            // slot consumers survive termination
	pubs       map[string]bool
	databases  map[string]string // database name -> owner
	replay     map[string]model.LSN
	paused     bool
	stuck      bool // pause requests are ignored
	subs       map[string]*subscription
	sequences  []model.Sequence
	setSeqs    map[string]int64
	pgdata     string
	files      map[string]string
	roles      bool
	restored   map[string]bool
}

type subscription struct {
	spec    model.Subscription
	enabled bool
	origin  model.LSN
}

func newCluster() *cluster {
	return &cluster{servers: map[string]*server{}, runs: map[string]bool{}}
}

func (cl *cluster) add(host string) *server {
	s := &server{
		host:      host,
		walLevel:  "logical",
		version:   model.SemVer{15, 4, 0},
		slots:     map[string]bool{},
		pubs:      map[string]bool{},
		databases: map[string]string{},
		replay:    map[string]model.LSN{},
		subs:      map[string]*subscription{},
		setSeqs:   map[string]int64{},
		files:     map[string]string{},
		restored:  map[string]bool{},
	}
	cl.servers[host] = s
	return s
}

func (cl *cluster) logf(format string, args ...any) {
	cl.events = append(cl.events, fmt.Sprintf(format, args...))
}

// index returns the position of the first `event` or -1.
func (cl *cluster) index(event string) int {
	for i, e := range cl.events {
		if e == event {
			return i
		}
	}
	return -1
}

func (cl *cluster) states() []model.State {
	var ss []model.State
	for _, s := range cl.journal {
		ss = append(ss, s.State)
	}
	return ss
}

func conflictf(format string, args ...any) error {
	return cerr.Conflict(fmt.Errorf(format, args...))
}

// Dialer

type dialer struct{ cl *cluster }

func (d dialer) ConnectionPool(
	_ context.Context, srv model.Server, db string,
) (repo.Pool, error) {
	s, ok := d.cl.servers[srv.Host]
	if !ok {
		return nil, fmt.Errorf("dial tcp: lookup %s: no such host", srv.Host)
	}
	if db != logicaluc.MaintenanceDB {
		if _, ok := s.databases[db]; !ok {
			return nil, fmt.Errorf("database %q does not exist", db)
		}
	}
	d.cl.openings++
	return &pool{cl: d.cl, c: &conn{cl: d.cl, srv: s, db: db}}, nil
}

type pool struct {
	cl *cluster
	c  *conn
}

func (p *pool) Conn(ctx context.Context, h repo.ConnHandler) error {
	return h(ctx, p.c)
}

func (p *pool) Close() error {
	p.cl.openings--
	return nil
}

type conn struct {
	repo.Conn
	cl  *cluster
	srv *server
	db  string
}

// Tx runs `h` without isolation, since fake servers apply changes
// immediately.
func (c *conn) Tx(ctx context.Context, h repo.TxHandler) error {
	return h(ctx, &txn{c: c})
}

type txn struct {
	repo.Tx
	c *conn
}

// Publisher

type publisher struct{}

func (publisher) Conn(c repo.Conn) repo.PublisherQueryer {
	return pubQ{c.(*conn)}
}

type pubQ struct{ *conn }

func (q pubQ) WALLevel(context.Context) (string, error) {
	return q.srv.walLevel, nil
}

func (q pubQ) ServerVersion(context.Context) (model.SemVer, error) {
	return q.srv.version, nil
}

func (q pubQ) SlotActivity(
	_ context.Context, slot string,
) (exists, active bool, err error) {
	active, exists = q.srv.slots[slot]
	return exists, active, nil
}

func (q pubQ) TerminateSlotConsumer(
	_ context.Context, slot string,
) (bool, error) {
	if !q.srv.slots[slot] {
		return false, nil
	}
	q.cl.logf("%s: terminate slot %s consumer", q.srv.host, slot)
	if !q.srv.unkillable {
		q.srv.slots[slot] = false
	}
	return true, nil
}

func (q pubQ) CreateLogicalSlot(_ context.Context, slot string) error {
	if _, ok := q.srv.slots[slot]; ok {
		return conflictf("replication slot %q already exists", slot)
	}
	q.srv.slots[slot] = false
	q.cl.logf("%s: create slot %s", q.srv.host, slot)
	return nil
}

func (q pubQ) DropSlot(_ context.Context, slot string) error {
	active, ok := q.srv.slots[slot]
	switch {
	case !ok:
		return conflictf("replication slot %q does not exist", slot)
	case active:
		return fmt.Errorf("replication slot %q is active", slot)
	}
	delete(q.srv.slots, slot)
	q.cl.logf("%s: drop slot %s", q.srv.host, slot)
	return nil
}

func (q pubQ) PublicationExists(_ context.Context, pub string) (bool, error) {
	return q.srv.pubs[pub], nil
}

func (q pubQ) CreatePublication(_ context.Context, pub string) error {
	if q.srv.pubs[pub] {
		return conflictf("publication %q already exists", pub)
	}
	q.srv.pubs[pub] = true
	q.cl.logf("%s: create publication %s", q.srv.host, pub)
	return nil
}

func (q pubQ) DropPublication(_ context.Context, pub string) error {
	if !q.srv.pubs[pub] {
		return conflictf("publication %q does not exist", pub)
	}
	delete(q.srv.pubs, pub)
	q.cl.logf("%s: drop publication %s", q.srv.host, pub)
	return nil
}

func (q pubQ) DatabaseOwner(_ context.Context, db string) (string, error) {
	owner, ok := q.srv.databases[db]
	if !ok {
		return "", repo.ErrNotFound
	}
	return owner, nil
}

func (q pubQ) ReplayLSN(
	_ context.Context, appName string,
) (model.LSN, error) {
	lsn, ok := q.srv.replay[appName]
	if !ok {
		return 0, repo.ErrNotFound
	}
	return lsn, nil
}

func (q pubQ) Sequences(context.Context) ([]model.Sequence, error) {
	return q.srv.sequences, nil
}

// Standby

type standby struct{}

func (standby) Conn(c repo.Conn) repo.StandbyQueryer {
	return standbyQ{c.(*conn)}
}

type standbyQ struct{ *conn }

func (q standbyQ) ServerVersion(context.Context) (model.SemVer, error) {
	return q.srv.version, nil
}

func (q standbyQ) IsReplayPaused(context.Context) (bool, error) {
	return q.srv.paused, nil
}

func (q standbyQ) PauseReplay(context.Context) error {
	q.cl.logf("%s: pause replay", q.srv.host)
	if !q.srv.stuck {
		q.srv.paused = true
	}
	return nil
}

func (q standbyQ) ResumeReplay(context.Context) error {
	q.cl.logf("%s: resume replay", q.srv.host)
	q.srv.paused = false
	return nil
}

// Subscriber

type subscriber struct{}

func (subscriber) Conn(c repo.Conn) repo.SubscriberQueryer {
	return subQ{c.(*conn)}
}

func (subscriber) Tx(tx repo.Tx) repo.SubscriberTxQueryer {
	return subQ{tx.(*txn).c}
}

type subQ struct{ *conn }

func (q subQ) DatabaseExists(_ context.Context, db string) (bool, error) {
	_, ok := q.srv.databases[db]
	return ok, nil
}

func (q subQ) CreateDatabase(_ context.Context, db, owner string) error {
	if _, ok := q.srv.databases[db]; ok {
		return conflictf("database %q already exists", db)
	}
	if !q.srv.roles {
		return fmt.Errorf("role %q does not exist", owner)
	}
	q.srv.databases[db] = owner
	q.cl.logf("%s: create database %s owner %s", q.srv.host, db, owner)
	return nil
}

func (q subQ) DropDatabase(_ context.Context, db string) error {
	if _, ok := q.srv.databases[db]; !ok {
		return conflictf("database %q does not exist", db)
	}
	for k := range q.srv.subs {
		if strings.HasPrefix(k, db+"/") {
			return fmt.Errorf("database %q has subscriptions", db)
		}
	}
	delete(q.srv.databases, db)
	delete(q.srv.restored, db)
	q.cl.logf("%s: drop database %s", q.srv.host, db)
	return nil
}

func (q subQ) key(name string) string {
	return q.db + "/" + name
}

func (q subQ) CreateSubscription(
	_ context.Context, s model.Subscription,
) error {
	if _, ok := q.srv.subs[q.key(s.Name)]; ok {
		return conflictf("subscription %q already exists", s.Name)
	}
	q.srv.subs[q.key(s.Name)] = &subscription{spec: s}
	q.cl.logf("%s: create subscription %s", q.srv.host, s.Name)
	return nil
}

func (q subQ) DropSubscription(_ context.Context, name string) error {
	sub, ok := q.srv.subs[q.key(name)]
	if !ok {
		return conflictf("subscription %q does not exist", name)
	}
	if src, ok := q.cl.servers[sub.spec.Source.Host]; ok && sub.enabled {
		if _, ok := src.slots[sub.spec.Slot]; ok {
			src.slots[sub.spec.Slot] = false
		}
	}
	delete(q.srv.subs, q.key(name))
	q.cl.logf("%s: drop subscription %s", q.srv.host, name)
	return nil
}

func (q subQ) SubscriptionEnabled(
	_ context.Context, name string,
) (bool, error) {
	sub, ok := q.srv.subs[q.key(name)]
	if !ok {
		return false, repo.ErrNotFound
	}
	return sub.enabled, nil
}

func (q subQ) AdvanceOrigin(
	_ context.Context, name string, lsn model.LSN,
) error {
	sub, ok := q.srv.subs[q.key(name)]
	switch {
	case !ok:
		return errors.New("replication origin does not exist")
	case sub.enabled:
		return errors.New("replication origin is in use")
	}
	sub.origin = lsn
	q.cl.logf("%s: advance origin %s to %s", q.srv.host, name, lsn)
	return nil
}

func (q subQ) EnableSubscription(_ context.Context, name string) error {
	sub, ok := q.srv.subs[q.key(name)]
	if !ok {
		return fmt.Errorf("subscription %q does not exist", name)
	}
	src, ok := q.cl.servers[sub.spec.Source.Host]
	if !ok {
		return fmt.Errorf("could not connect to %s", sub.spec.Source.Host)
	}
	if _, ok := src.slots[sub.spec.Slot]; !ok {
		return fmt.Errorf("replication slot %q does not exist", sub.spec.Slot)
	}
	src.slots[sub.spec.Slot] = true
	sub.enabled = true
	q.cl.logf("%s: enable subscription %s", q.srv.host, name)
	return nil
}

func (q subQ) SetSequence(_ context.Context, seq model.Sequence) error {
	q.srv.setSeqs[seq.Schema+"."+seq.Name] = *seq.LastValue
	return nil
}

// Shell

type shell struct{ cl *cluster }

func (sh shell) Session(
	ctx context.Context, host string, h repo.ShellHandler,
) error {
	s, ok := sh.cl.servers[host]
	if !ok {
		return cerr.Fatal(cerr.Connectivity, fmt.Errorf(
			"ssh: dial %s: no such host", host,
		))
	}
	return h(ctx, session{s})
}

type session struct{ srv *server }

func (s session) Run(_ context.Context, cmd string) (string, error) {
	if cmd == logicaluc.DataDirCommand {
		return s.srv.pgdata + "\n", nil
	}
	if arg, ok := strings.CutPrefix(cmd, "cat "); ok {
		file, ok := unquote(arg)
		if !ok {
			return "", fmt.Errorf("unquoted argument in %q", cmd)
		}
		content, ok := s.srv.files[file]
		if !ok {
			return "", cerr.Fatal(cerr.ExternalProcess, fmt.Errorf(
				"cat: %s: No such file or directory", file,
			))
		}
		return content, nil
	}
	return "", fmt.Errorf("unexpected command %q", cmd)
}

// unquote reverses the single quoting of a shell argument.
func unquote(arg string) (string, bool) {
	if len(arg) < 2 || arg[0] != '\'' || arg[len(arg)-1] != '\'' {
		return "", false
	}
	return strings.ReplaceAll(arg[1:len(arg)-1], `'\''`, "'"), true
}

// Dumper

type dumper struct {
	cl      *cluster
	noTools bool
}

func (d dumper) CheckTools(context.Context) error {
	if d.noTools {
		return cerr.Preconditionf("pg_dump is not found in PATH")
	}
	return nil
}

func (d dumper) DumpRoles(
	_ context.Context, src model.Server, _ string,
) (string, error) {
	if !d.cl.servers[src.Host].paused {
		return "", errors.New("roles are dumped from a moving replica")
	}
	d.cl.logf("%s: dump roles", src.Host)
	return path.Join("/tmp", src.Host+"-roles.sql"), nil
}

func (d dumper) DumpDatabase(
	_ context.Context, src model.Server, _, db string,
) (string, error) {
	if !d.cl.servers[src.Host].paused {
		return "", errors.New("data is dumped from a moving replica")
	}
	d.cl.logf("%s: dump database %s", src.Host, db)
	return path.Join("/tmp", src.Host+"-"+db+".sql"), nil
}

func (d dumper) Restore(
	_ context.Context, dst model.Server, db, script, label string,
) error {
	s := d.cl.servers[dst.Host]
	if _, ok := s.databases[db]; !ok && db != logicaluc.MaintenanceDB {
		return cerr.Fatal(cerr.ExternalProcess, fmt.Errorf(
			"psql: database %q does not exist", db,
		))
	}
	if label == "roles" {
		s.roles = true
	} else {
		s.restored[db] = true
	}
	d.cl.logf("%s: restore %s into %s", dst.Host, path.Base(script), db)
	return nil
}

// Journal

type journal struct{ cl *cluster }

func (j journal) Record(_ context.Context, run string, s model.Snapshot) error {
	j.cl.runs[run] = true
	j.cl.journal = append(j.cl.journal, s)
	return nil
}
