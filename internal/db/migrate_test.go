package db

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"testing/fstest"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/paidcall/backend/internal/db/migrations"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

// fakeDB records statements and remembers which migrations were committed.
type fakeDB struct {
	mu      sync.Mutex
	applied map[string]bool
	execs   []string
	failOn  string
}

func newFakeDB() *fakeDB { return &fakeDB{applied: make(map[string]bool)} }

func (f *fakeDB) Begin(context.Context) (pgx.Tx, error) {
	return &fakeTx{db: f}, nil
}

type fakeTx struct {
	pgx.Tx
	db      *fakeDB
	pending string
}

func (t *fakeTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	if t.db.failOn != "" && strings.Contains(sql, t.db.failOn) {
		return pgconn.CommandTag{}, errors.New("syntax error")
	}
	t.db.execs = append(t.db.execs, sql)
	if strings.HasPrefix(sql, "INSERT INTO "+migrationTable) {
		t.pending = args[0].(string)
	}
	return pgconn.NewCommandTag("OK"), nil
}

func (t *fakeTx) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	return boolRow(t.db.applied[args[0].(string)])
}

func (t *fakeTx) Commit(context.Context) error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	if t.pending != "" {
		t.db.applied[t.pending] = true
	}
	return nil
}

func (t *fakeTx) Rollback(context.Context) error { return nil }

type boolRow bool

func (r boolRow) Scan(dest ...any) error {
	*dest[0].(*bool) = bool(r)
	return nil
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestApply_RunsInOrderOnce(t *testing.T) {
	fsys := fstest.MapFS{
		"0002_second.sql": &fstest.MapFile{Data: []byte("-- +migrate Up\nCREATE TABLE b ();\n-- +migrate Down\nDROP TABLE b;")},
		"0001_first.sql":  &fstest.MapFile{Data: []byte("CREATE TABLE a ();")},
		"README.md":       &fstest.MapFile{Data: []byte("ignored")},
	}
	db := newFakeDB()

	n, err := Apply(context.Background(), db, fsys, nil)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if n != 2 {
		t.Fatalf("applied: got %d, want 2", n)
	}
	var order []string
	for _, s := range db.execs {
		if strings.HasPrefix(strings.TrimSpace(s), "CREATE TABLE a") || strings.HasPrefix(strings.TrimSpace(s), "CREATE TABLE b") {
			order = append(order, strings.TrimSpace(s))
		}
		if strings.Contains(s, "DROP TABLE") {
			t.Errorf("down section executed: %q", s)
		}
	}
	if len(order) != 2 || !strings.HasPrefix(order[0], "CREATE TABLE a") {
		t.Errorf("order: got %q", order)
	}

	n, err = Apply(context.Background(), db, fsys, nil)
	if err != nil || n != 0 {
		t.Errorf("second run: got %d, %v; want 0, nil", n, err)
	}
}

func TestApply_StopsOnFailure(t *testing.T) {
	fsys := fstest.MapFS{
		"0001_ok.sql":  &fstest.MapFile{Data: []byte("CREATE TABLE ok ();")},
		"0002_bad.sql": &fstest.MapFile{Data: []byte("CREATE TABLE bad ();")},
		"0003_new.sql": &fstest.MapFile{Data: []byte("CREATE TABLE later ();")},
	}
	db := newFakeDB()
	db.failOn = "TABLE bad"

	n, err := Apply(context.Background(), db, fsys, nil)
	if err == nil || !strings.Contains(err.Error(), "0002_bad.sql") {
		t.Fatalf("got %v, want failure naming 0002_bad.sql", err)
	}
	if n != 1 || !db.applied["0001_ok.sql"] || db.applied["0003_new.sql"] {
		t.Errorf("applied %d: %v", n, db.applied)
	}
}

func TestExtractUp(t *testing.T) {
	cases := []struct{ in, want string }{
		{"CREATE TABLE x ();", "CREATE TABLE x ();"},
		{"-- +migrate Up\nA;\n-- +migrate Down\nB;", "\nA;\n"},
		{"-- +migrate Up\nA;", "\nA;"},
	}
	for _, tc := range cases {
		if got := ExtractUp(tc.in); got != tc.want {
			t.Errorf("ExtractUp(%q): got %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestEmbeddedSchema(t *testing.T) {
	raw, err := migrations.FS.ReadFile("0001_init.sql")
	if err != nil {
		t.Fatalf("read embedded migration: %v", err)
	}
	up := ExtractUp(string(raw))
	for _, table := range []string{"bookings", "payments", "payouts", "feedback", "provider_profiles"} {
		if !strings.Contains(up, "CREATE TABLE IF NOT EXISTS "+table+" (") {
			t.Errorf("missing table %s", table)
		}
	}
	if strings.Contains(up, "DROP TABLE") {
		t.Error("up section contains the down statements")
	}
}
