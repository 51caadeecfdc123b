package db

import (
	"context"
	_ "embed"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

//go:embed schema.sql
var schema string

// pool is the part of *pgxpool.Pool the database relies on.
type pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

type Database struct {
	conn pool
}

// NewDatabase connects to PostgreSQL. The connection string should look like
// postgresql://localhost:5432/organizer?user=admn&password=passwd
func NewDatabase(ctx context.Context, connStr string) (*Database, error) {
	p, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, errors.Wrap(err, "failed creating connection pool")
	}

	if err = p.Ping(ctx); err != nil {
		p.Close()
		return nil, errors.Wrap(err, "failed connecting to database")
	}

	return &Database{conn: p}, nil
}

func (d *Database) Close() {
	d.conn.Close()
}

func (d *Database) Ping(ctx context.Context) error {
	return d.conn.Ping(ctx)
}

// Migrate creates missing tables and indexes.
func (d *Database) Migrate(ctx context.Context) error {
	if _, err := d.conn.Exec(ctx, schema); err != nil {
		return errors.Wrap(err, "failed applying schema")
	}
	return nil
}
