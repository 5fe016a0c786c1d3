package testsupport

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/goliatone/go-record-service/record"
	"github.com/goliatone/go-record-service/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/uptrace/bun"
)

//go:embed testdata/records.json
var catalogFixture []byte

// NewSQLiteDB opens an isolated in-memory sqlite database with foreign keys
// enabled and the record schema created. It is closed when the test ends.
func NewSQLiteDB(t testing.TB) *bun.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", uuid.NewString())
	db, err := store.Open(context.Background(), store.Config{
		Driver:       store.DriverSQLite,
		DSN:          dsn,
		PingAttempts: 1,
		Logger:       zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("failed to open sqlite database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := store.CreateSchema(context.Background(), db); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}
	return db
}

// NewStore returns a BunStore over a fresh sqlite database.
func NewStore(t testing.TB, opts ...store.Option) *store.BunStore {
	t.Helper()
	return store.New(NewSQLiteDB(t), opts...)
}

// SeedOwner inserts an owner with the given email.
func SeedOwner(t testing.TB, owners store.Owners, email string) *record.Owner {
	t.Helper()

	owner, err := owners.CreateOwner(context.Background(), &record.Owner{
		Email:    email,
		FullName: "Test Owner",
		IsActive: true,
	})
	if err != nil {
		t.Fatalf("failed to seed owner %s: %v", email, err)
	}
	return owner
}

// SeedCatalog creates the embedded fixture records for ownerID, in order.
func SeedCatalog(t testing.TB, records store.Records, ownerID int64) []*record.Record {
	t.Helper()

	var inputs []record.NewRecord
	if err := json.Unmarshal(catalogFixture, &inputs); err != nil {
		t.Fatalf("failed to decode catalog fixture: %v", err)
	}

	created := make([]*record.Record, 0, len(inputs))
	for _, in := range inputs {
		in.OwnerID = ownerID
		rec, err := records.Create(context.Background(), in)
		if err != nil {
			t.Fatalf("failed to seed record %q: %v", in.Title, err)
		}
		created = append(created, rec)
	}
	return created
}

// LoadFixtureJSON loads a JSON fixture file and unmarshals it into dest.
// The path is relative to the test package directory.
func LoadFixtureJSON(t testing.TB, path string, dest any) {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to load fixture from %s: %v", path, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		t.Fatalf("failed to unmarshal JSON fixture from %s: %v", path, err)
	}
}

// FixturePath constructs a path to a fixture file relative to the testdata directory.
func FixturePath(filename string) string {
	return filepath.Join("testdata", filename)
}
