// Package store is the tenant data store: organizations, calendar
// connections and events, and the work units the background jobs create
// (meetings, sync runs, digest deliveries).
//
// It runs on SQLite (modernc, default) or PostgreSQL (pgx stdlib driver)
// through database/sql with one portable schema. Natural keys of work units
// carry partial unique indexes so a duplicate insert fails with ErrConflict
// even if two workers race past the dedup check.
package store
