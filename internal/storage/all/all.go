// Package all links every warehouse backend into the binary.
package all

import (
	_ "songplays/internal/storage/duckdb"
	_ "songplays/internal/storage/mssql"
	_ "songplays/internal/storage/postgres"
	_ "songplays/internal/storage/sqlite"
)
