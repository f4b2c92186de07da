package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	ErrTableNotFound = errors.New("table not found")
	ErrKeyNotFound   = errors.New("key not found")
)

// Storage is a named embedded database. Each table is a top-level bbolt
// bucket and each row is a key in that bucket.
type Storage struct {
	name string
	path string
	db   *bolt.DB
}

type TableInfo struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// Snapshot holds every row of every table, keyed by table then row key.
type Snapshot map[string]map[string][]byte

func Open(name, path string) (*Storage, error) {
	if name == "" {
		return nil, fmt.Errorf("database name is required")
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", name, err)
	}

	return &Storage{name: name, path: path, db: db}, nil
}

func (s *Storage) Name() string {
	return s.name
}

func (s *Storage) Path() string {
	return s.path
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) CreateTable(table string) error {
	if table == "" {
		return fmt.Errorf("table name is required")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(table)); err != nil {
			return fmt.Errorf("failed to create table %s: %w", table, err)
		}
		return nil
	})
}

func (s *Storage) DropTable(table string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(table)); err != nil {
			if errors.Is(err, bolt.ErrBucketNotFound) {
				return fmt.Errorf("%s: %w", table, ErrTableNotFound)
			}
			return fmt.Errorf("failed to drop table %s: %w", table, err)
		}
		return nil
	})
}

// Put stores a row, creating the table on first write.
func (s *Storage) Put(table, key string, value []byte) error {
	if key == "" {
		return fmt.Errorf("row key is required")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(table))
		if err != nil {
			return fmt.Errorf("failed to create table %s: %w", table, err)
		}
		return bucket.Put([]byte(key), value)
	})
}

func (s *Storage) Get(table, key string) ([]byte, error) {
	var value []byte

	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(table))
		if bucket == nil {
			return fmt.Errorf("%s: %w", table, ErrTableNotFound)
		}

		data := bucket.Get([]byte(key))
		if data == nil {
			return fmt.Errorf("%s/%s: %w", table, key, ErrKeyNotFound)
		}
		value = make([]byte, len(data))
		copy(value, data)
		return nil
	})

	return value, err
}

func (s *Storage) Delete(table, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(table))
		if bucket == nil {
			return fmt.Errorf("%s: %w", table, ErrTableNotFound)
		}
		return bucket.Delete([]byte(key))
	})
}

func (s *Storage) Count(table string) (int64, error) {
	var count int64

	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(table))
		if bucket == nil {
			return fmt.Errorf("%s: %w", table, ErrTableNotFound)
		}
		count = int64(bucket.Stats().KeyN)
		return nil
	})

	return count, err
}

// Tables lists every table with its row count inside a single read-only
// transaction, in bbolt key order.
func (s *Storage) Tables(ctx context.Context) ([]TableInfo, error) {
	tables := make([]TableInfo, 0)

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, bucket *bolt.Bucket) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			tables = append(tables, TableInfo{
				Name:  string(name),
				Count: int64(bucket.Stats().KeyN),
			})
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list tables of %s: %w", s.name, err)
	}

	return tables, nil
}

// Stats returns the bbolt page and transaction counters as strings.
func (s *Storage) Stats() map[string]string {
	st := s.db.Stats()

	return map[string]string{
		"free_pages":       strconv.Itoa(st.FreePageN),
		"pending_pages":    strconv.Itoa(st.PendingPageN),
		"free_alloc_bytes": strconv.Itoa(st.FreeAlloc),
		"freelist_bytes":   strconv.Itoa(st.FreelistInuse),
		"read_tx_started":  strconv.Itoa(st.TxN),
		"read_tx_open":     strconv.Itoa(st.OpenTxN),
		"page_allocations": strconv.FormatInt(st.TxStats.GetPageCount(), 10),
		"cursor_count":     strconv.FormatInt(st.TxStats.GetCursorCount(), 10),
		"node_count":       strconv.FormatInt(st.TxStats.GetNodeCount(), 10),
		"node_splits":      strconv.FormatInt(st.TxStats.GetSplit(), 10),
		"node_spills":      strconv.FormatInt(st.TxStats.GetSpill(), 10),
		"writes":           strconv.FormatInt(st.TxStats.GetWrite(), 10),
		"write_time":       st.TxStats.GetWriteTime().String(),
	}
}

func (s *Storage) Export() (Snapshot, error) {
	snap := make(Snapshot)

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, bucket *bolt.Bucket) error {
			rows := make(map[string][]byte)
			err := bucket.ForEach(func(k, v []byte) error {
				value := make([]byte, len(v))
				copy(value, v)
				rows[string(k)] = value
				return nil
			})
			snap[string(name)] = rows
			return err
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to export %s: %w", s.name, err)
	}

	return snap, nil
}

// Import replaces the whole content of the database with snap.
func (s *Storage) Import(snap Snapshot) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		var existing [][]byte
		if err := tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			existing = append(existing, append([]byte(nil), name...))
			return nil
		}); err != nil {
			return err
		}
		for _, name := range existing {
			if err := tx.DeleteBucket(name); err != nil {
				return fmt.Errorf("failed to clear table %s: %w", name, err)
			}
		}

		for table, rows := range snap {
			bucket, err := tx.CreateBucket([]byte(table))
			if err != nil {
				return fmt.Errorf("failed to create table %s: %w", table, err)
			}
			for k, v := range rows {
				if err := bucket.Put([]byte(k), v); err != nil {
					return fmt.Errorf("failed to import row %s/%s: %w", table, k, err)
				}
			}
		}
		return nil
	})
}
