package models

import (
	"database/sql"
	"strings"
	"sync"

	"github.com/mattn/go-sqlite3"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// SQLiteDriverName is the database/sql driver the sqlite store runs on. It
// is go-sqlite3 with unicode_lower(x) registered on every connection.
const SQLiteDriverName = "sqlite3_imagemeta"

var registerSQLite sync.Once

// unicodeLower lowercases text with Go's Unicode tables. SQLite's own
// lower() and LIKE only fold ASCII. Other values pass through unchanged.
func unicodeLower(v any) any {
	switch t := v.(type) {
	case string:
		return strings.ToLower(t)
	case []byte:
		if t == nil {
			return nil
		}
		return strings.ToLower(string(t))
	}
	return v
}

// OpenSQLite returns a gorm dialector for dsn on SQLiteDriverName.
func OpenSQLite(dsn string) gorm.Dialector {
	registerSQLite.Do(func() {
		sql.Register(SQLiteDriverName, &sqlite3.SQLiteDriver{
			ConnectHook: func(conn *sqlite3.SQLiteConn) error {
				return conn.RegisterFunc("unicode_lower", unicodeLower, true)
			},
		})
	})
	return sqlite.New(sqlite.Config{DriverName: SQLiteDriverName, DSN: dsn})
}
