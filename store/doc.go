// Package store is the authoritative relational storage for records and their owners.
//
// The Store is the only component allowed to reject a write. Every mutation runs in a
// bun transaction and either fully commits or fully rolls back; driver errors for
// uniqueness and foreign-key violations are surfaced as *record.IntegrityError so
// callers can tell a conflict from a dangling owner reference with errors.Is.
//
// Two dialects are supported:
//
//	db, err := store.Open(ctx, store.Config{Driver: store.DriverPostgres, DSN: dsn})
//	db, err := store.Open(ctx, store.Config{Driver: store.DriverSQLite, DSN: "file:records.db?_foreign_keys=on"})
//
// CreateSchema bootstraps the tables when they are missing. It is not a migration tool.
package store
