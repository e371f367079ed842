// Package conf
package conf

import (
	"database/sql"
	"fmt"
	"math/rand"
	"os"
	"testing"

	_ "github.com/lib/pq"
)

// Config holds test database connection and metadata
type Config struct {
	Name    string
	DB      *sql.DB
	ConnStr string
	AdminDB *sql.DB
}

// NewTestConfig creates a database with a random name, applies schema and
// returns a cleanup function. The test is skipped when no server answers.
// HA_TRADER_TEST_PG overrides the admin connection string.
func NewTestConfig(t *testing.T, schema string) (*Config, func()) {
	t.Helper()

	adminConnStr := os.Getenv("HA_TRADER_TEST_PG")
	if adminConnStr == "" {
		adminConnStr = "host=localhost port=5432 user=postgres password=postgres dbname=postgres sslmode=disable"
	}

	adminDB, err := sql.Open("postgres", adminConnStr)
	if err != nil {
		t.Fatalf("Failed to connect to postgres: %v", err)
	}

	if err := adminDB.Ping(); err != nil {
		adminDB.Close()
		t.Skipf("Skipping test: PostgreSQL is not running or not accessible: %v", err)
		return nil, func() {}
	}

	dbName := fmt.Sprintf("test_db_%d", rand.Int31())
	if _, err := adminDB.Exec(fmt.Sprintf("CREATE DATABASE %s", dbName)); err != nil {
		adminDB.Close()
		t.Fatalf("Failed to create test database: %v", err)
	}

	dbConnStr := adminConnStr + " dbname=" + dbName
	db, err := sql.Open("postgres", dbConnStr)
	if err != nil {
		adminDB.Close()
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		adminDB.Close()
		t.Fatalf("Failed to apply schema: %v", err)
	}

	cleanup := func() {
		db.Close()
		if _, err := adminDB.Exec(fmt.Sprintf("DROP DATABASE %s WITH (FORCE)", dbName)); err != nil {
			t.Logf("Warning: Failed to drop test database %s: %v", dbName, err)
		}
		adminDB.Close()
	}

	return &Config{Name: dbName, DB: db, ConnStr: dbConnStr, AdminDB: adminDB}, cleanup
}
