package repo

import "errors"

// ErrNotFound is returned (possibly wrapped) by repositories when a
// looked up object, such as a database or a replication status row,
// does not exist.
var ErrNotFound = errors.New("not found")
