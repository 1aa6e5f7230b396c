// Package endpoint defines the contract between the migration engine and a
// storage endpoint: how to dial and authenticate a session, the catalog and
// content operations a session offers, and the error taxonomy those
// operations report.
//
// Two implementations live in sibling packages: memendpoint keeps a whole
// catalog in memory, catalog keeps it in a SQL database with content files
// on local disk.
package endpoint
