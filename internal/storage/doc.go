// Package storage persists the optional audit trail: one entry per poll tick
// and per delivery attempt.
//
// The poll cursor is deliberately not stored; a restart starts from the
// configured window again.
package storage
