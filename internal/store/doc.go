// Package store is the gorm-backed comment store. It supports postgres
// (through pgx), mysql and sqlite.
package store
