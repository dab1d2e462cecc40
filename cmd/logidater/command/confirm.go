// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package command

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// prompter asks yes/no questions from the operator.
type prompter struct {
	in  io.Reader
	out io.Writer
	r   *bufio.Reader
}

// Confirm writes the question to out and reads one answer line from
// in. Only "y" and "yes" (case-insensitive) are taken as approval.
// It matches the logicaluc.Confirmer signature.
func (p *prompter) Confirm(_ context.Context, question string) (bool, error) {
	if p.r == nil {
		p.r = bufio.NewReader(p.in)
	}
	fmt.Fprintf(p.out, "%s [y/N]: ", question)
	line, err := p.r.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return false, fmt.Errorf("reading answer: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
