package database

import (
	"context"
	"errors"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xfund/backend/internal/database/migrations"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

// memDB records applied migration names and executed statements. A tx only
// publishes its work on Commit.
type memDB struct {
	applied map[string]bool
	execs   []string
	failOn  string
}

func newMemDB() *memDB { return &memDB{applied: map[string]bool{}} }

func (m *memDB) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag("CREATE TABLE"), nil
}

func (m *memDB) Begin(context.Context) (pgx.Tx, error) { return &memTx{db: m}, nil }

type memTx struct {
	db      *memDB
	pending string
	execs   []string
}

func (t *memTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if strings.HasPrefix(sql, "INSERT INTO "+migrationTable) {
		name := args[0].(string)
		if t.db.applied[name] {
			return pgconn.NewCommandTag("INSERT 0 0"), nil
		}
		t.pending = name
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	}
	if t.db.failOn != "" && strings.Contains(sql, t.db.failOn) {
		return pgconn.CommandTag{}, errors.New("syntax error")
	}
	t.execs = append(t.execs, sql)
	return pgconn.NewCommandTag("CREATE TABLE"), nil
}

func (t *memTx) Commit(context.Context) error {
	if t.pending != "" {
		t.db.applied[t.pending] = true
	}
	t.db.execs = append(t.db.execs, t.execs...)
	return nil
}

func (t *memTx) Rollback(context.Context) error                          { return nil }
func (t *memTx) Begin(context.Context) (pgx.Tx, error)                   { return t, nil }
func (t *memTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (t *memTx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (t *memTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *memTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (t *memTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (t *memTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *memTx) Conn() *pgx.Conn { return nil }

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestApply_OrderAndOnce(t *testing.T) {
	fsys := fstest.MapFS{
		"002_second.sql": {Data: []byte("-- +migrate Up\nCREATE TABLE b ();\n-- +migrate Down\nDROP TABLE b;\n")},
		"001_first.sql":  {Data: []byte("CREATE TABLE a ();")},
		"README.md":      {Data: []byte("not a migration")},
	}
	db := newMemDB()

	applied, err := Apply(context.Background(), db, fsys)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(applied) != 2 || applied[0] != "001_first.sql" || applied[1] != "002_second.sql" {
		t.Fatalf("expected both migrations in name order, got %v", applied)
	}
	if len(db.execs) != 2 || strings.Contains(db.execs[1], "DROP") {
		t.Errorf("expected only up sections to run, got %q", db.execs)
	}

	again, err := Apply(context.Background(), db, fsys)
	if err != nil {
		t.Fatalf("second Apply: %v", err)
	}
	if len(again) != 0 || len(db.execs) != 2 {
		t.Errorf("expected no re-application, got %v (%d execs)", again, len(db.execs))
	}
}

func TestApply_FailureIsNotRecorded(t *testing.T) {
	fsys := fstest.MapFS{"001_bad.sql": {Data: []byte("CREATE TABLE broken (")}}
	db := newMemDB()
	db.failOn = "broken"

	if _, err := Apply(context.Background(), db, fsys); err == nil {
		t.Fatal("expected an error")
	}
	if db.applied["001_bad.sql"] {
		t.Error("failed migration must not be recorded as applied")
	}
}

func TestExtractUp(t *testing.T) {
	content := "-- +migrate Up\nCREATE TABLE x ();\n-- +migrate Down\nDROP TABLE x;\n"
	up := ExtractUp(content)
	if !strings.Contains(up, "CREATE TABLE x") || strings.Contains(up, "DROP") {
		t.Errorf("unexpected up section %q", up)
	}
	if got := ExtractUp("SELECT 1;"); got != "SELECT 1;" {
		t.Errorf("expected unmarked content unchanged, got %q", got)
	}
}

func TestEmbeddedSchema(t *testing.T) {
	files, err := migrationFiles(migrations.FS)
	if err != nil {
		t.Fatalf("migrationFiles: %v", err)
	}
	content, err := migrations.FS.ReadFile(files[0])
	if err != nil {
		t.Fatal(err)
	}
	up := ExtractUp(string(content))
	for _, table := range []string{"accounts", "wallets", "transactions", "projects", "investments", "dividends", "dividend_payments", "audit_logs"} {
		if !strings.Contains(up, "CREATE TABLE IF NOT EXISTS "+table+" (") {
			t.Errorf("schema is missing table %s", table)
		}
	}
	if !strings.Contains(up, "CHECK (balance >= 0)") || !strings.Contains(up, "UNIQUE (dividend_id, investment_id)") {
		t.Error("schema is missing a balance or payment uniqueness constraint")
	}
}
