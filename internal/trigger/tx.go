package trigger

import (
	"context"

	"github.com/kushagra0333/complete-mitr/internal/db"
	"github.com/kushagra0333/complete-mitr/internal/device"
	"github.com/kushagra0333/complete-mitr/internal/session"
)

// PgTransactor binds device and session stores to one postgres transaction.
type PgTransactor struct {
	db db.Beginner
}

func NewPgTransactor(b db.Beginner) *PgTransactor {
	return &PgTransactor{db: b}
}

func (t *PgTransactor) WithinTx(ctx context.Context, fn func(DeviceRegistry, SessionStore) error) error {
	return db.WithTx(ctx, t.db, func(q db.Querier) error {
		return fn(device.NewStore(q), session.NewStore(q))
	})
}
