package datasource

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	mssql "github.com/microsoft/go-mssqldb"

	"github.com/ppcxy/cyfm-engine/pkg/apperrors"
)

type translationRule struct {
	match    func(error) bool
	sentinel error
}

// errorTranslator maps driver errors onto apperrors sentinels so callers can
// use errors.Is regardless of which pool served the statement.
type errorTranslator struct {
	rules []translationRule
}

func newErrorTranslator() *errorTranslator {
	return &errorTranslator{
		rules: []translationRule{
			{match: isNoRows, sentinel: apperrors.ErrNotFound},
			{match: isUniqueViolation, sentinel: apperrors.ErrConflict},
		},
	}
}

func (t *errorTranslator) translate(err error) error {
	if err == nil {
		return nil
	}
	for _, r := range t.rules {
		if errors.Is(err, r.sentinel) {
			return err
		}
		if r.match(err) {
			return fmt.Errorf("%w: %w", r.sentinel, err)
		}
	}
	return err
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}

	var msErr mssql.Error
	if errors.As(err, &msErr) {
		return msErr.Number == 2627 || msErr.Number == 2601
	}

	return false
}
