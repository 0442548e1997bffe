package testutil

import (
	"database/sql"
	"path/filepath"
	"testing"

	configlibsql "hashdive-scraper/lib/configutil/libsql"
	"hashdive-scraper/lib/telemetry"
)

// OpenDB opens an empty sqlite database under the test's temp directory and
// closes it when the test ends. Debug logging is enabled under go test -v.
func OpenDB(t testing.TB, name string) *sql.DB {
	t.Helper()
	telemetry.InitSlog(testing.Verbose())

	db, err := configlibsql.Struct{File: filepath.Join(t.TempDir(), name+".db")}.OpenDB()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}
