package repository

import (
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound запись не найдена
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate дубликат записи
	ErrDuplicate = errors.New("duplicate record")

	// ErrConflict запись уже изменена (условный UPDATE не затронул ни одной строки)
	ErrConflict = errors.New("record state conflict")
)

const (
	pgUniqueViolation = "23505"
	// невалидный литерал, например не-UUID в колонке uuid
	pgInvalidTextRepresentation = "22P02"
)

// isUniqueViolation проверяет нарушение уникального индекса PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// isNoRecord пустой результат или id, который не может существовать в колонке uuid.
func isNoRecord(err error) bool {
	if errors.Is(err, sql.ErrNoRows) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgInvalidTextRepresentation
}
