// Package stores provides the persistence layer for deployctl.
// It includes SQLite-based storage with WAL mode, connection pooling,
// and CRUD operations for runs, phase results, verifications,
// iteration records, and events.
package stores
