// Package store persists heroes in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

// MaxLevel is the highest level a hero can reach.
const MaxLevel = 50

var (
	// ErrDuplicate is returned by Create when the name is taken.
	ErrDuplicate = errors.New("store: hero already exists")
	// ErrNotFound is returned when no hero has the given name.
	ErrNotFound = errors.New("store: hero not found")
)

// Hero is a stored hero.
type Hero struct {
	ID    int64
	Name  string
	Level int
}

// Store is the persistence the hero API needs.
type Store interface {
	Create(ctx context.Context, name string) (Hero, error)
	Get(ctx context.Context, name string) (Hero, error)
	List(ctx context.Context) ([]Hero, error)
	// Upgrade raises the hero's level by one, never above MaxLevel, and
	// returns the new level.
	Upgrade(ctx context.Context, name string) (int, error)
	Close() error
}

const schema = `
CREATE TABLE IF NOT EXISTS hero (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	hero_name TEXT NOT NULL UNIQUE,
	level INTEGER NOT NULL DEFAULT 0 CHECK (level BETWEEN 0 AND 50)
)`

// SQLite is a Store backed by a SQLite database file.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

// Open opens or creates the database at path. Use ":memory:" for a private
// in-memory database.
func Open(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// One connection keeps an in-memory database alive and serializes
	// writers from concurrent fighting tasks.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Create(ctx context.Context, name string) (Hero, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO hero (hero_name, level) VALUES (?, 0)`, name)
	if err != nil {
		var serr sqlite3.Error
		if errors.As(err, &serr) && serr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return Hero{}, fmt.Errorf("%w: %s", ErrDuplicate, name)
		}
		return Hero{}, fmt.Errorf("create hero %s: %w", name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Hero{}, fmt.Errorf("create hero %s: %w", name, err)
	}
	return Hero{ID: id, Name: name, Level: 0}, nil
}

func (s *SQLite) Get(ctx context.Context, name string) (Hero, error) {
	var h Hero
	err := s.db.QueryRowContext(ctx, `SELECT id, hero_name, level FROM hero WHERE hero_name = ?`, name).
		Scan(&h.ID, &h.Name, &h.Level)
	if errors.Is(err, sql.ErrNoRows) {
		return Hero{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return Hero{}, fmt.Errorf("get hero %s: %w", name, err)
	}
	return h, nil
}

func (s *SQLite) List(ctx context.Context) ([]Hero, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, hero_name, level FROM hero ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list heroes: %w", err)
	}
	defer rows.Close()

	heroes := []Hero{}
	for rows.Next() {
		var h Hero
		if err := rows.Scan(&h.ID, &h.Name, &h.Level); err != nil {
			return nil, fmt.Errorf("list heroes: %w", err)
		}
		heroes = append(heroes, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list heroes: %w", err)
	}
	return heroes, nil
}

func (s *SQLite) Upgrade(ctx context.Context, name string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("upgrade hero %s: %w", name, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE hero SET level = MIN(level + 1, ?) WHERE hero_name = ?`, MaxLevel, name)
	if err != nil {
		return 0, fmt.Errorf("upgrade hero %s: %w", name, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return 0, fmt.Errorf("upgrade hero %s: %w", name, err)
	} else if n == 0 {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	var level int
	if err := tx.QueryRowContext(ctx, `SELECT level FROM hero WHERE hero_name = ?`, name).Scan(&level); err != nil {
		return 0, fmt.Errorf("upgrade hero %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("upgrade hero %s: %w", name, err)
	}
	return level, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
