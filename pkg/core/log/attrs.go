// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package log

import (
	"log/slog"
)

// Valuer returns an Attr for the given slog.LogValuer value.
func Valuer(key string, value slog.LogValuer) slog.Attr {
	return slog.Any(key, value)
}

// Err returns an Attr for the given error value.
// The error value is resolved as a string by its Error() method.
// If error value is nil, the constant "no-error" value will be used.
func Err(key string, value error) slog.Attr {
	if value == nil {
		return slog.String(key, "no-error")
	}
	return slog.String(key, value.Error())
}

// Host returns an Attr naming the server which an operation targets.
func Host(value string) slog.Attr {
	return slog.String("host", value)
}

// Object returns an Attr naming a database object, such as a slot,
// publication, subscription, or database, which an operation targets.
func Object(kind, name string) slog.Attr {
	return slog.String(kind, name)
}

// ParseLevel converts a level name (debug, info, warn, error, or
// critical) into a slog.Level. Unknown names yield the info level and
// a false ok flag.
func ParseLevel(name string) (level slog.Level, ok bool) {
	if name == "critical" {
		return LevelCritical, true
	}
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo, false
	}
	return level, true
}
