// Package directory mirrors approved forum members into an external SQL
// table (MySQL or Postgres) owned by another system, such as a company
// intranet or newsletter tool.
package directory

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"

	"devforum/internal/config"
)

type Directory interface {
	UpsertMember(ctx context.Context, email, displayName string) error
	DisableMember(ctx context.Context, email string) error
}

type Noop struct{}

func (Noop) UpsertMember(ctx context.Context, email, displayName string) error { return nil }
func (Noop) DisableMember(ctx context.Context, email string) error             { return nil }

var identRx = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type Columns struct {
	Table  string
	Email  string
	Name   string
	Active string
}

type SQLDirectory struct {
	db     *sql.DB
	driver string
	cols   Columns
}

// NewFromConfig opens the configured directory, or returns Noop when none is
// configured.
func NewFromConfig(cfg config.Config) (Directory, error) {
	driver := strings.TrimSpace(cfg.MemberDirectoryDriver)
	if driver == "" || driver == "none" || strings.TrimSpace(cfg.MemberDirectoryDSN) == "" {
		return Noop{}, nil
	}
	cols := Columns{
		Table:  cfg.MemberDirectoryTable,
		Email:  cfg.MemberDirectoryEmailCol,
		Name:   cfg.MemberDirectoryNameCol,
		Active: cfg.MemberDirectoryActiveCol,
	}
	if err := cols.validate(); err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, cfg.MemberDirectoryDSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(db, driver, cols)
}

func New(db *sql.DB, driver string, cols Columns) (*SQLDirectory, error) {
	if err := cols.validate(); err != nil {
		return nil, err
	}
	return &SQLDirectory{db: db, driver: driver, cols: cols}, nil
}

func (c Columns) validate() error {
	if c.Table == "" || c.Email == "" {
		return fmt.Errorf("directory table and email column are required")
	}
	for _, ident := range []string{c.Table, c.Email, c.Name, c.Active} {
		if ident != "" && !identRx.MatchString(ident) {
			return fmt.Errorf("invalid SQL identifier %q", ident)
		}
	}
	return nil
}

// UpsertMember updates the member row by email, inserting it when absent.
func (d *SQLDirectory) UpsertMember(ctx context.Context, email, displayName string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	setCols := []string{}
	args := []any{}
	idx := 1
	if d.cols.Name != "" {
		setCols = append(setCols, fmt.Sprintf("%s=%s", d.cols.Name, d.ph(idx)))
		args = append(args, displayName)
		idx++
	}
	if d.cols.Active != "" {
		setCols = append(setCols, fmt.Sprintf("%s=%s", d.cols.Active, d.ph(idx)))
		args = append(args, 1)
		idx++
	}
	if len(setCols) > 0 {
		args = append(args, email)
		updateQ := fmt.Sprintf("UPDATE %s SET %s WHERE %s=%s", d.cols.Table, strings.Join(setCols, ","), d.cols.Email, d.ph(idx))
		res, err := d.db.ExecContext(ctx, updateQ, args...)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rows > 0 {
			return nil
		}
	}

	cols := []string{d.cols.Email}
	vals := []any{email}
	if d.cols.Name != "" {
		cols = append(cols, d.cols.Name)
		vals = append(vals, displayName)
	}
	if d.cols.Active != "" {
		cols = append(cols, d.cols.Active)
		vals = append(vals, 1)
	}
	phs := make([]string, len(vals))
	for i := range vals {
		phs[i] = d.ph(i + 1)
	}
	insertQ := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", d.cols.Table, strings.Join(cols, ","), strings.Join(phs, ","))
	if _, err := d.db.ExecContext(ctx, insertQ, vals...); err != nil {
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "duplicate") || strings.Contains(msg, "unique") {
			return nil
		}
		return err
	}
	return nil
}

// DisableMember clears the active flag, or deletes the row when the table
// has no such column.
func (d *SQLDirectory) DisableMember(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if d.cols.Active == "" {
		q := fmt.Sprintf("DELETE FROM %s WHERE %s=%s", d.cols.Table, d.cols.Email, d.ph(1))
		_, err := d.db.ExecContext(ctx, q, email)
		return err
	}
	q := fmt.Sprintf("UPDATE %s SET %s=%s WHERE %s=%s", d.cols.Table, d.cols.Active, d.ph(1), d.cols.Email, d.ph(2))
	_, err := d.db.ExecContext(ctx, q, 0, email)
	return err
}

func (d *SQLDirectory) Close() error {
	return d.db.Close()
}

func (d *SQLDirectory) ph(i int) string {
	drv := strings.ToLower(d.driver)
	if strings.Contains(drv, "pgx") || strings.Contains(drv, "postgres") {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}
