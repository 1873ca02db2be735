// Package store defines interfaces for persisting archive build runs.
// Implementations live in other packages; this package must not import
// database drivers or concrete clients.
package store
