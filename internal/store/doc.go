// Package store persists job records. MemoryStore keeps them in process;
// PostgresStore keeps them in a PostgreSQL table managed by embedded goose
// migrations.
package store
