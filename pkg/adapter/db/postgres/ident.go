// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package postgres

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
)

var (
	identRE    = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)
	connInfoRE = regexp.MustCompile(`^[A-Za-z0-9_.:/-]+$`)
)

// ValidateIdentifier ensures that name can be used as an unqualified
// identifier. Only ASCII letters, digits, and underscores are accepted,
// the first character may not be a digit, and the name may not be
// longer than 63 characters (the server truncates longer names).
func ValidateIdentifier(name string) error {
	if !identRE.MatchString(name) {
		return fmt.Errorf("invalid identifier %q", name)
	}
	return nil
}

// Ident validates and quotes name, so it may be embedded in a DDL
// statement where bind parameters are not allowed.
func Ident(name string) (string, error) {
	if err := ValidateIdentifier(name); err != nil {
		return "", err
	}
	return pgx.Identifier{name}.Sanitize(), nil
}

// QualifiedIdent quotes a schema qualified name. Both parts are taken
// from the catalog, so they are only quoted and not validated.
func QualifiedIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

// Literal quotes s as a string literal, assuming that the
// standard_conforming_strings setting is on (its default value).
func Literal(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// ConnInfo formats the given key/value pairs as a libpq connection
// string. Values are restricted to a conservative character set, so
// they need no quoting and cannot inject extra keys.
func ConnInfo(kvs ...string) (string, error) {
	if len(kvs)%2 != 0 {
		return "", fmt.Errorf("odd number of conninfo items: %d", len(kvs))
	}
	parts := make([]string, 0, len(kvs)/2)
	for i := 0; i < len(kvs); i += 2 {
		k, v := kvs[i], kvs[i+1]
		if !connInfoRE.MatchString(v) {
			return "", fmt.Errorf("invalid conninfo %s value %q", k, v)
		}
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, " "), nil
}
