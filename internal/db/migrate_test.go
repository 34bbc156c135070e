package db

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

func TestMigrateCreatesSchema(t *testing.T) {
	sqdb, err := OpenSQLite(filepath.Join(t.TempDir(), "app.db"), 1, 1, time.Minute)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sqdb.Close() })

	if err := Migrate(sqdb, nil); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	// a second run is a no-op
	if err := Migrate(sqdb, nil); err != nil {
		t.Fatalf("migrate again: %v", err)
	}

	for table, col := range map[string]string{
		"users":               "email_confirmed_at",
		"profiles":            "approved",
		"user_roles":          "role",
		"sessions":            "refresh_token_hash",
		"confirm_tokens":      "token_hash",
		"admin_audit_log":     "metadata_json",
		"posts":               "category_id",
		"comments":            "post_id",
		"interview_questions": "company",
	} {
		if !hasColumn(t, sqdb, table, col) {
			t.Fatalf("expected %s.%s to exist after migration", table, col)
		}
	}

	var n int
	if err := sqdb.QueryRow(`SELECT COUNT(1) FROM categories`).Scan(&n); err != nil {
		t.Fatalf("count categories: %v", err)
	}
	if n == 0 {
		t.Fatalf("expected seeded categories")
	}
}

func hasColumn(t *testing.T, sqdb *sql.DB, tableName, colName string) bool {
	t.Helper()
	rows, err := sqdb.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		t.Fatalf("table_info %s: %v", tableName, err)
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notNull int
		var dflt sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			t.Fatalf("scan table_info %s: %v", tableName, err)
		}
		if name == colName {
			return true
		}
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("iterate table_info %s: %v", tableName, err)
	}
	return false
}
