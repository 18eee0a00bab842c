package database

import (
	"context"
	"database/sql"
)

// PgRepository implements Repository on top of Postgres.
type PgRepository struct {
	conn *sql.DB
}

func NewPgRepository(dsn string) (*PgRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &PgRepository{conn: db}, nil
}

func newPgRepositoryFromDB(db *sql.DB) *PgRepository {
	return &PgRepository{conn: db}
}

func (db *PgRepository) Ping(ctx context.Context) error {
	return classify(db.conn.PingContext(ctx), "store")
}

func (db *PgRepository) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
