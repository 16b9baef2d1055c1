package postgres

import "errors"

var (
	// ErrDBRequired is returned when a nil executor is provided.
	ErrDBRequired = errors.New("outbox postgres: db is required")
	// ErrPoolRequired is returned when a nil connection pool is provided.
	ErrPoolRequired = errors.New("outbox postgres: connection pool is required")
	// ErrExecutorRequired is returned when binding to a nil executor.
	ErrExecutorRequired = errors.New("outbox postgres: executor is required")
	// ErrRecordRequired is returned when appending a nil record.
	ErrRecordRequired = errors.New("outbox postgres: record is required")
	// ErrTableNameRequired is returned when the table name is empty.
	ErrTableNameRequired = errors.New("outbox postgres: table name is required")
	// ErrInvalidTableName is returned when the table name has disallowed characters.
	ErrInvalidTableName = errors.New("outbox postgres: invalid table name")
	// ErrCleanupBeforeRequired is returned when the cleanup cutoff is missing.
	ErrCleanupBeforeRequired = errors.New("outbox postgres: cleanup before time is required")
	// ErrCleanupLimitInvalid is returned when the cleanup limit is negative.
	ErrCleanupLimitInvalid = errors.New("outbox postgres: cleanup limit must be non-negative")
	// ErrCleanupRetentionInvalid is returned when the cleanup retention is not positive.
	ErrCleanupRetentionInvalid = errors.New("outbox postgres: cleanup retention must be positive")
)
