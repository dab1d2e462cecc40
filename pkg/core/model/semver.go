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

// SemVer represents a released semantic version, consisting of three
// components, namely major, minor, and patch. It is used both for the
// configuration file format version and for the PostgreSQL server
// versions (which have only two meaningful components since v10).
type SemVer [3]uint

// ParseSemVer parses one to three dot-separated non-negative numbers.
// Missing components are taken as zero.
func ParseSemVer(s string) (SemVer, error) {
	var sv SemVer
	p := strings.Split(s, ".")
	if l := len(p); l == 0 || l > 3 {
		return sv, fmt.Errorf("the %q has wrong number of components", s)
	}
	for i, c := range p {
		v, err := strconv.ParseUint(c, 10, 32)
		if err != nil {
			return SemVer{}, fmt.Errorf("the %q component is not numeric", c)
		}
		sv[i] = uint(v)
	}
	return sv, nil
}

// ParseServerVersion parses the output of `SHOW server_version`, like
// "16.2 (Debian 16.2-1.pgdg120+2)" or "9.6.24", ignoring any text after
// the leading version number.
func ParseServerVersion(s string) (SemVer, error) {
	s = strings.TrimSpace(s)
	if i := strings.IndexFunc(s, func(r rune) bool {
		return r != '.' && (r < '0' || r > '9')
	}); i >= 0 {
		s = s[:i]
	}
	if s == "" {
		return SemVer{}, fmt.Errorf("no leading version number")
	}
	return ParseSemVer(s)
}

// UnmarshalText deserializes text byte slice as a string consisting of
// up to three dot-separated numbers and fills the sv SemVer instance.
// In case of errors, sv will be left unchanged.
func (sv *SemVer) UnmarshalText(text []byte) error {
	v, err := ParseSemVer(string(text))
	if err != nil {
		return err
	}
	*sv = v
	return nil
}

// MarshalText implements encoding.TextMarshaler interface and
// serializes `sv` semantic version as its string representation.
func (sv SemVer) MarshalText() ([]byte, error) {
	return []byte(sv.String()), nil
}

// String returns the sv semantic version as a dot-separated string
// consisting of three numbers like major.minor.patch where all numbers
// are non-negative.
func (sv SemVer) String() string {
	return fmt.Sprintf("%d.%d.%d", sv[0], sv[1], sv[2])
}
