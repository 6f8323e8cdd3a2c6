// Package storage persists tasks and events in SQLite.
//
// Dates are stored as the raw text the user supplied and parsed at the
// domain boundary, so a malformed date degrades instead of blocking writes.
package storage
