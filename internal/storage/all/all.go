// Package all registers every warehouse backend and the SQL Server driver.
// Binaries blank-import it to make all storage kinds available to
// storage.New.
package all

import (
	_ "github.com/microsoft/go-mssqldb"

	_ "smartsales/internal/storage/mssql"
	_ "smartsales/internal/storage/postgres"
	_ "smartsales/internal/storage/sqlite"
)
