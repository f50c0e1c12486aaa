package cursor

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SqliteStore persists the cursor in a single-row SQLite table, so a
// restarted process resumes the Jetstream feed from close to where it
// left off instead of replaying or skipping the gap.
type SqliteStore struct {
	db        *sql.DB
	tableName string
}

type SqliteStoreOpt func(*SqliteStore)

func WithTableName(name string) SqliteStoreOpt {
	return func(s *SqliteStore) {
		s.tableName = name
	}
}

func NewSQLiteStore(dbPath string, opts ...SqliteStoreOpt) (*SqliteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	store := &SqliteStore{
		db:        db,
		tableName: "jetstream_cursor",
	}

	for _, o := range opts {
		o(store)
	}

	if err := store.init(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *SqliteStore) init() error {
	createTable := fmt.Sprintf(`
	create table if not exists %s (
		id integer primary key check (id = 0),
		time_us integer not null
	);`, s.tableName)
	_, err := s.db.Exec(createTable)
	return err
}

func (s *SqliteStore) Set(timeUs int64) {
	query := fmt.Sprintf(`
		insert into %s (id, time_us)
		values (0, ?)
		on conflict(id) do update set time_us = excluded.time_us;
	`, s.tableName)

	// best-effort: a failed cursor write only costs a slightly larger
	// replay window on next restart, never correctness of the index.
	s.db.Exec(query, timeUs)
}

func (s *SqliteStore) Get() (timeUs int64) {
	query := fmt.Sprintf(`select time_us from %s where id = 0;`, s.tableName)
	if err := s.db.QueryRow(query).Scan(&timeUs); err != nil {
		return 0
	}
	return timeUs
}
