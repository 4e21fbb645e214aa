// Package store persists review results in PostgreSQL through the pgx
// database/sql driver.
//
// Four tables are kept: request (state and result per request), abicheck
// (one row per checked submission), libreport (one row per compared library
// pair) and log (the per-request log mirrored from the logger). Saving a
// request replaces its earlier abicheck and libreport rows, so re-running a
// check never accumulates reports. The schema is created on first use.
package store
