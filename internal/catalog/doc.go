// Package catalog is an endpoint backed by a SQL catalog of zones, users,
// objects, access control entries and metadata, with the content of data
// items kept as plain files under a data directory.
//
// Two drivers are supported: "sqlite3" for a single-file catalog and "pgx"
// for a PostgreSQL catalog shared by several hosts. Queries use `$n`
// placeholders in ascending order and portable `ON CONFLICT` clauses so the
// same statements run on both.
package catalog
