// Package db embeds the schema applied on startup and by the test suites.
package db

import _ "embed"

// Schema holds the DDL for the whole shop: catalog, identity, coupons,
// orders, and settings.
//
//go:embed migrations/001_schema.sql
var Schema string
