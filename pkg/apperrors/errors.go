package apperrors

import "errors"

var (
	ErrInvalidDatabaseName = errors.New("invalid database name")
	ErrMissingCredentials  = errors.New("connection string not found in environment")
	ErrPlaceholderMismatch = errors.New("placeholder count does not match parameter count")
	ErrUnknownDialect      = errors.New("unknown SQL dialect")
)
