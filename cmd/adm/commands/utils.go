package commands

import (
	"database/sql"
	"fmt"
	"strings"
)

// maskDatabaseURL masks credentials in the database URL for display
func maskDatabaseURL(url string) string {
	if i := strings.LastIndex(url, "@"); i >= 0 {
		scheme := "postgres://"
		if j := strings.Index(url, "://"); j >= 0 && j < i {
			scheme = url[:j+3]
		}
		return scheme + "***:***@" + url[i+1:]
	}
	return url
}

// getDatabaseInfo returns database connection information
func getDatabaseInfo(db *sql.DB) string {
	if db == nil {
		return "Not connected"
	}

	var dbName string
	if err := db.QueryRow("SELECT current_database()").Scan(&dbName); err != nil {
		return "Connected (unknown database)"
	}

	var host string
	if err := db.QueryRow("SELECT COALESCE(inet_server_addr()::text, 'local socket')").Scan(&host); err != nil {
		return fmt.Sprintf("Connected to %s", dbName)
	}

	return fmt.Sprintf("Connected to %s on %s", dbName, host)
}
