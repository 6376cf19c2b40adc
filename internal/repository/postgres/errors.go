package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// uniqueViolation - код ошибки PostgreSQL при нарушении уникальности
const uniqueViolation = "23505"

// isUniqueViolation проверяет, что err вызвана нарушением уникального индекса
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
