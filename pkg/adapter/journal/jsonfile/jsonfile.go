// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package jsonfile provides a reification of the repo.Journal interface
// which appends one JSON document per line to a file.
package jsonfile

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/momeni/pg-logidater/pkg/core/model"
	"github.com/spf13/afero"
)

// Entry is one line of the journal file.
type Entry struct {
	Time     time.Time      `json:"time"`
	Run      string         `json:"run"`
	Snapshot model.Snapshot `json:"snapshot"`
}

// Journal appends entries to the file at its path. It is safe for
// concurrent use.
type Journal struct {
	fs   afero.Fs
	path string
	now  func() time.Time

	mu sync.Mutex
}

// New instantiates a Journal which appends to the `path` file of `fs`,
// creating the file and its parent directory when needed.
func New(fs afero.Fs, path string) *Journal {
	return &Journal{fs: fs, path: path, now: time.Now}
}

// Record appends the `s` snapshot of the `run` migration run.
func (j *Journal) Record(_ context.Context, run string, s model.Snapshot) error {
	b, err := json.Marshal(Entry{Time: j.now().UTC(), Run: run, Snapshot: s})
	if err != nil {
		return fmt.Errorf("marshaling journal entry: %w", err)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.fs.MkdirAll(filepath.Dir(j.path), 0o750); err != nil {
		return fmt.Errorf("creating journal dir: %w", err)
	}
	f, err := j.fs.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}
	if _, err = f.Write(append(b, '\n')); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing journal: %w", err)
	}
	return f.Close()
}

// Read parses all entries of the journal file, in their order.
func (j *Journal) Read() ([]Entry, error) {
	f, err := j.fs.Open(j.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var entries []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("line %d: %w", len(entries)+1, err)
		}
		entries = append(entries, e)
	}
	return entries, sc.Err()
}
