package postgres

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"

	"github.com/rs/zerolog"
)

var testDB *DB

// TestMain connects to the database named by TEST_DATABASE_URL. The
// whole suite is skipped when the variable is unset, so unit runs do
// not need a live server.
func TestMain(m *testing.M) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		fmt.Println("TEST_DATABASE_URL not set, skipping postgres integration tests")
		os.Exit(0)
	}

	nopLogger := zerolog.Nop()
	var err error
	testDB, err = NewDB(context.Background(), url, &nopLogger)
	if err != nil {
		log.Fatalf("TestMain: Failed to connect to test database: %v", err)
	}

	code := m.Run()

	testDB.Close()
	os.Exit(code)
}

// Helper to clean up an identity row after a test.
func cleanupTestIdentity(t *testing.T, id string) {
	_, err := testDB.pool.Exec(context.Background(), "DELETE FROM identities WHERE id = $1", id)
	if err != nil {
		t.Logf("Warning: Failed to cleanup identity %s: %v", id, err)
	}
}
