package repo

import (
	"context"

	"github.com/momeni/pg-logidater/pkg/core/model"
)

type ConnHandler func(context.Context, Conn) error

type Pool interface {
	Conn(ctx context.Context, handler ConnHandler) error
	Close() error
}

// Dialer opens connection pools to the servers which take part in a
// migration. Each pool is bound to one server and one database and
// must be closed by its caller.
type Dialer interface {
	ConnectionPool(
		ctx context.Context, srv model.Server, database string,
	) (Pool, error)
}
