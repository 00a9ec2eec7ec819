package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	t "github.com/rius2g/splitgroup/pkg/types"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStore keeps one row per flow with the progress document as JSON.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Wrap(err, "create database directory")
		}
	}

	db, err := sql.Open("sqlite", path+
		"?_pragma=journal_mode(WAL)"+
		"&_pragma=busy_timeout(5000)"+
		"&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "initialize schema")
	}
	return &SQLiteStore{db: db, dbPath: path}, nil
}

func (s *SQLiteStore) DBPath() string {
	return s.dbPath
}

func (s *SQLiteStore) Save(ctx context.Context, p t.Progress) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(err, "encode progress")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO flows (id, owner, step, progress, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   step = excluded.step,
		   progress = excluded.progress,
		   updated_at = excluded.updated_at`,
		p.ID, p.Owner.Hex(), string(p.Step), string(doc),
		p.CreatedAt.UnixNano(), p.UpdatedAt.UnixNano())
	return errors.Wrapf(err, "save flow %s", p.ID)
}

func (s *SQLiteStore) Load(ctx context.Context, id string) (t.Progress, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT progress FROM flows WHERE id = ?`, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return t.Progress{}, t.ErrFlowNotFound
	}
	if err != nil {
		return t.Progress{}, errors.Wrapf(err, "load flow %s", id)
	}

	var p t.Progress
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return t.Progress{}, errors.Wrapf(err, "decode flow %s", id)
	}
	return p, nil
}

func (s *SQLiteStore) ListByOwner(ctx context.Context, owner common.Address) ([]t.Progress, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT progress FROM flows WHERE owner = ? ORDER BY created_at, id`,
		owner.Hex())
	if err != nil {
		return nil, errors.Wrap(err, "list flows")
	}
	defer rows.Close()

	var out []t.Progress
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var p t.Progress
		if err := json.Unmarshal([]byte(doc), &p); err != nil {
			return nil, errors.Wrap(err, "decode flow")
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
