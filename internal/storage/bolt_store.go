package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"poolbench/internal/report"
)

const (
	BucketRuns = "runs"
)

// ErrNotFound is returned by Get for an unknown record ID.
var ErrNotFound = errors.New("record not found")

// Store keeps the records of one invocation so they can be compared once
// every run has finished. The database file is removed on Close.
type Store struct {
	db       *bbolt.DB
	filePath string
}

// NewStore opens a session database under dir. An empty dir means the
// system temp directory.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	// Create a unique file for this session
	filename := fmt.Sprintf("poolbench_session_%d_%d.db", os.Getpid(), time.Now().UnixNano())
	path := filepath.Join(dir, filename)

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(BucketRuns))
		return err
	})
	if err != nil {
		db.Close()
		os.Remove(path)
		return nil, err
	}

	return &Store{
		db:       db,
		filePath: path,
	}, nil
}

func (s *Store) Path() string { return s.filePath }

func (s *Store) Close() error {
	var errs []error
	if s.db != nil {
		errs = append(errs, s.db.Close())
		s.db = nil
	}
	if s.filePath != "" {
		if err := os.Remove(s.filePath); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
		s.filePath = ""
	}
	return errors.Join(errs...)
}

// Save stores r under its ID. IDs are time-ordered, so List returns records
// in the order they were saved.
func (s *Store) Save(r *report.Record) error {
	if r.ID == "" {
		return fmt.Errorf("record for %s/%s has no id", r.Workload, r.Strategy)
	}
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(BucketRuns)).Put([]byte(r.ID), data)
	})
}

// List returns every saved record, oldest first.
func (s *Store) List() ([]*report.Record, error) {
	var records []*report.Record

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(BucketRuns)).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var r report.Record
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("decode record %s: %w", k, err)
			}
			records = append(records, &r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Store) Get(id string) (*report.Record, error) {
	var r report.Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(BucketRuns)).Get([]byte(id))
		if v == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(v, &r)
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}
