// Package storage implements the engine's store interfaces over postgres.
// Postgres error codes are mapped to the model sentinels here so nothing
// above this layer sees pgconn details.
package storage

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/slotwise/slotwise/libs/db"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/model"
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// mapError translates driver errors to model sentinels: 23P01 is the
// appointments exclusion constraint (conflict race backstop), 23505 a unique
// key, ErrNoRows a missing row.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23P01", "23505":
			return model.ErrConflict
		}
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ErrNotFound
	}
	return err
}
