// Package all wires all built-in storage backends into the storage registry.
//
// Importing it for side effects makes the "postgres", "sqlite", "mssql" and
// "mysql" kinds available to storage.New:
//
//	import _ "txetl/internal/storage/all"
//
// A binary that needs only one backend can import that backend package
// directly instead.
package all

import (
	_ "txetl/internal/storage/mssql"
	_ "txetl/internal/storage/mysql"
	_ "txetl/internal/storage/postgres"
	_ "txetl/internal/storage/sqlite"
)
