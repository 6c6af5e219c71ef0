// Package stores provides the durable backends behind the resource
// registry. A backend loads and rewrites one registry document: a JSON file
// for single-user setups, or SQLite in WAL mode with embedded schema
// migrations.
package stores
