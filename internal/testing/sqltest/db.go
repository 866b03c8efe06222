// Package sqltest provides test helpers for opening a *sql.DB against a
// disposable SQLite database.
package sqltest

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/google/uuid"
)

// Open opens a new, empty SQLite database that lives for the lifetime of
// the returned close function.
//
// The database is named uniquely and held in memory with "cache=shared" so
// that every connection obtained from the returned *sql.DB sees the same
// schema and data.
func Open() (*sql.DB, func()) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New())

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		panic(err)
	}

	// A shared in-memory database is dropped once its last connection
	// closes, so the pool must never scale down to zero connections while
	// the test is still using it.
	db.SetMaxIdleConns(1)

	return db, func() {
		db.Close()
	}
}
