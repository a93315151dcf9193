// Package storage backs the subscription registry.
//
// Drivers:
//   - "memory": process-lifetime map (default)
//   - "file": dependency-free JSON snapshot + journal
//   - "sqlite": SQLite database file (modernc.org/sqlite, pure Go)
package storage
