package repository

import (
	"errors"
	"fmt"

	repo "app/internal/repository"

	"github.com/jackc/pgx/v5/pgconn"
)

// unique_violation
const sqlstateUniqueViolation = "23505"

// Postgresの一意制約違反を repo.ErrUniqueViolation に変換する。
// 他のストレージに載せ替えるときはこの関数だけ差し替えればよい。
func translateError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == sqlstateUniqueViolation {
		return fmt.Errorf("%w: %s", repo.ErrUniqueViolation, pgErr.ConstraintName)
	}
	return err
}
