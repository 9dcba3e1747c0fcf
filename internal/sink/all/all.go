// Package all registers every sink backend.
package all

import (
	_ "json2csv/internal/sink/mssql"
	_ "json2csv/internal/sink/postgres"
	_ "json2csv/internal/sink/sqlite"
)
