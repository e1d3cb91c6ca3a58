// Package ledger records which checkpoints a consumer has captured and what
// each one held. Tensor bytes live in the durable store; the ledger only
// keeps the manifest.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("checkpoint not found")

const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	req_id      TEXT PRIMARY KEY,
	region      TEXT NOT NULL,
	num_tensors INTEGER NOT NULL,
	total_bytes INTEGER NOT NULL,
	captured_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS checkpoint_tensors (
	req_id   TEXT NOT NULL REFERENCES checkpoints(req_id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	name     TEXT NOT NULL,
	dtype    INTEGER NOT NULL,
	size     INTEGER NOT NULL,
	PRIMARY KEY (req_id, position)
);`

type Checkpoint struct {
	ReqID      string    `db:"req_id" json:"req_id"`
	Region     string    `db:"region" json:"region"`
	NumTensors uint32    `db:"num_tensors" json:"num_tensors"`
	TotalBytes uint64    `db:"total_bytes" json:"total_bytes"`
	CapturedAt time.Time `db:"captured_at" json:"captured_at"`
	Tensors    []Tensor  `db:"-" json:"tensors,omitempty"`
}

type Tensor struct {
	Position int    `db:"position" json:"position"`
	Name     string `db:"name" json:"name"`
	DType    uint8  `db:"dtype" json:"dtype"`
	Size     uint64 `db:"size" json:"size"`
}

type Ledger struct {
	store *Store
}

func NewLedger(s *Store) *Ledger {
	return &Ledger{store: s}
}

// Record stores c, replacing any earlier capture with the same req_id.
func (l *Ledger) Record(ctx context.Context, c Checkpoint) error {
	tx, err := l.store.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM checkpoint_tensors WHERE req_id = ?`, c.ReqID); err != nil {
		return err
	}
	_, err = tx.NamedExecContext(ctx, `
		INSERT OR REPLACE INTO checkpoints (req_id, region, num_tensors, total_bytes, captured_at)
		VALUES (:req_id, :region, :num_tensors, :total_bytes, :captured_at)`, c)
	if err != nil {
		return fmt.Errorf("failed to record checkpoint %s: %w", c.ReqID, err)
	}

	for _, t := range c.Tensors {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO checkpoint_tensors (req_id, position, name, dtype, size)
			VALUES (?, ?, ?, ?, ?)`, c.ReqID, t.Position, t.Name, t.DType, t.Size)
		if err != nil {
			return fmt.Errorf("failed to record tensor %s of %s: %w", t.Name, c.ReqID, err)
		}
	}

	return tx.Commit()
}

// Get returns a checkpoint with its tensors in region order.
func (l *Ledger) Get(ctx context.Context, reqID string) (Checkpoint, error) {
	var c Checkpoint
	err := l.store.db.GetContext(ctx, &c, `SELECT * FROM checkpoints WHERE req_id = ?`, reqID)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint{}, err
	}

	err = l.store.db.SelectContext(ctx, &c.Tensors, `
		SELECT position, name, dtype, size FROM checkpoint_tensors
		WHERE req_id = ? ORDER BY position`, reqID)
	if err != nil {
		return Checkpoint{}, err
	}
	return c, nil
}

// List returns the most recent checkpoints first, without their tensors.
func (l *Ledger) List(ctx context.Context, limit int) ([]Checkpoint, error) {
	cs := []Checkpoint{}
	err := l.store.db.SelectContext(ctx, &cs, `
		SELECT * FROM checkpoints ORDER BY captured_at DESC, req_id LIMIT ?`, limit)
	return cs, err
}

type Store struct {
	db *sqlx.DB
}

// NewStore opens (creating if needed) the SQLite ledger at path.
func NewStore(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger %s: %w", path, err)
	}
	// One connection: SQLite serializes writers and :memory: is per-connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create ledger schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
