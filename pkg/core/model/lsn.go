// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package model

import (
	"fmt"
	"strconv"
	"strings"
)

// LSN is a write-ahead log sequence position. It is monotonically
// increasing and its textual form is two hexadecimal numbers which
// are separated by a slash, like 16/B374D848.
type LSN uint64

// String returns the PostgreSQL textual form of lsn.
func (lsn LSN) String() string {
	return fmt.Sprintf("%X/%X", uint32(lsn>>32), uint32(lsn))
}

// MarshalText implements encoding.TextMarshaler interface, so the LSN
// is journaled in its textual form.
func (lsn LSN) MarshalText() ([]byte, error) {
	return []byte(lsn.String()), nil
}

// ParseLSN parses the X/Y textual form of an LSN.
func ParseLSN(s string) (LSN, error) {
	hi, lo, ok := strings.Cut(s, "/")
	if !ok {
		return 0, fmt.Errorf("invalid lsn %q: missing slash", s)
	}
	h, err := strconv.ParseUint(hi, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid lsn %q: %w", s, err)
	}
	l, err := strconv.ParseUint(lo, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid lsn %q: %w", s, err)
	}
	return LSN(h<<32 | l), nil
}

// UnmarshalText implements encoding.TextUnmarshaler interface.
func (lsn *LSN) UnmarshalText(text []byte) error {
	v, err := ParseLSN(string(text))
	if err != nil {
		return err
	}
	*lsn = v
	return nil
}
