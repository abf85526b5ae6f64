// Package stores provides the persistence layer for catprev:
// request-submitted node facts and an audit trail of dual-compile runs,
// backed by SQLite with embedded migrations.
package stores
