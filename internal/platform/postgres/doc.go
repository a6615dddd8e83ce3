// Package postgres provides PostgreSQL implementations of the store
// interfaces defined in internal/store, backed by database/sql over the
// pgx driver. The lease store's single-statement conditional writes are
// what make lease acquisition race-safe across processes.
package postgres
