// Package postgres implements every durable store contract on PostgreSQL
// using pgx/v5. It also provides a lease-based lock.Locker backed by a
// table, so a single database is enough to run the engine.
package postgres
