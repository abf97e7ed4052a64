package apperrors

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrInvalidInput       = errors.New("invalid input")
	ErrUnsupportedDialect = errors.New("unsupported database dialect")
	ErrUnknownDatasource  = errors.New("unknown datasource")
	ErrNotBound           = errors.New("no active connection pool bound")
	ErrPoolActive         = errors.New("connection pool is currently active")
	ErrPoolRetired        = errors.New("connection pool has been retired")
	ErrInvalidFilter      = errors.New("invalid search filter")
	ErrInjectionDetected  = errors.New("potential SQL injection detected")
)
