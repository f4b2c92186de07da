package consensus

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/hashicorp/raft"
	bolt "go.etcd.io/bbolt"
)

var (
	logsBucket   = []byte("logs")
	stableBucket = []byte("stable")
)

// logHeaderSize is index (8) + term (8) + type (1) + appended at (8) + data length (4).
const logHeaderSize = 8 + 8 + 1 + 8 + 4

// BoltStore keeps the raft log and stable state in a single bbolt file.
type BoltStore struct {
	db *bolt.DB
}

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{logsBucket, stableBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (b *BoltStore) Close() error {
	return b.db.Close()
}

func indexKey(index uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, index)
	return key
}

func (b *BoltStore) FirstIndex() (uint64, error) {
	var index uint64
	err := b.db.View(func(tx *bolt.Tx) error {
		if k, _ := tx.Bucket(logsBucket).Cursor().First(); k != nil {
			index = binary.BigEndian.Uint64(k)
		}
		return nil
	})
	return index, err
}

func (b *BoltStore) LastIndex() (uint64, error) {
	var index uint64
	err := b.db.View(func(tx *bolt.Tx) error {
		if k, _ := tx.Bucket(logsBucket).Cursor().Last(); k != nil {
			index = binary.BigEndian.Uint64(k)
		}
		return nil
	})
	return index, err
}

func (b *BoltStore) GetLog(index uint64, log *raft.Log) error {
	return b.db.View(func(tx *bolt.Tx) error {
		val := tx.Bucket(logsBucket).Get(indexKey(index))
		if val == nil {
			return raft.ErrLogNotFound
		}
		return decodeLog(val, log)
	})
}

func (b *BoltStore) StoreLog(log *raft.Log) error {
	return b.StoreLogs([]*raft.Log{log})
}

func (b *BoltStore) StoreLogs(logs []*raft.Log) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(logsBucket)
		for _, log := range logs {
			if err := bucket.Put(indexKey(log.Index), encodeLog(log)); err != nil {
				return fmt.Errorf("failed to store log %d: %w", log.Index, err)
			}
		}
		return nil
	})
}

// DeleteRange deletes log entries in [min, max].
func (b *BoltStore) DeleteRange(min, max uint64) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(logsBucket)
		var keys [][]byte
		cursor := bucket.Cursor()
		for k, _ := cursor.Seek(indexKey(min)); k != nil && binary.BigEndian.Uint64(k) <= max; k, _ = cursor.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			if err := bucket.Delete(k); err != nil {
				return fmt.Errorf("failed to delete log entry: %w", err)
			}
		}
		return nil
	})
}

func (b *BoltStore) Set(key []byte, val []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(stableBucket).Put(key, val)
	})
}

// Get returns nil without error when key is absent.
func (b *BoltStore) Get(key []byte) ([]byte, error) {
	var val []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(stableBucket).Get(key); v != nil {
			val = append([]byte(nil), v...)
		}
		return nil
	})
	return val, err
}

func (b *BoltStore) SetUint64(key []byte, val uint64) error {
	return b.Set(key, indexKey(val))
}

func (b *BoltStore) GetUint64(key []byte) (uint64, error) {
	val, err := b.Get(key)
	if err != nil {
		return 0, err
	}
	if len(val) == 0 {
		return 0, nil
	}
	if len(val) != 8 {
		return 0, fmt.Errorf("invalid uint64 value length: %d", len(val))
	}
	return binary.BigEndian.Uint64(val), nil
}

func encodeLog(log *raft.Log) []byte {
	buf := make([]byte, logHeaderSize+len(log.Data))

	binary.BigEndian.PutUint64(buf[0:], log.Index)
	binary.BigEndian.PutUint64(buf[8:], log.Term)
	buf[16] = byte(log.Type)
	var appended int64
	if !log.AppendedAt.IsZero() {
		appended = log.AppendedAt.UnixNano()
	}
	binary.BigEndian.PutUint64(buf[17:], uint64(appended))
	binary.BigEndian.PutUint32(buf[25:], uint32(len(log.Data)))
	copy(buf[logHeaderSize:], log.Data)

	return buf
}

func decodeLog(data []byte, log *raft.Log) error {
	if len(data) < logHeaderSize {
		return fmt.Errorf("log data too short: %d bytes", len(data))
	}

	log.Index = binary.BigEndian.Uint64(data[0:])
	log.Term = binary.BigEndian.Uint64(data[8:])
	log.Type = raft.LogType(data[16])
	if appended := int64(binary.BigEndian.Uint64(data[17:])); appended != 0 {
		log.AppendedAt = time.Unix(0, appended)
	}

	dataLen := int(binary.BigEndian.Uint32(data[25:]))
	if len(data) < logHeaderSize+dataLen {
		return fmt.Errorf("log data incomplete: expected %d bytes, got %d", logHeaderSize+dataLen, len(data))
	}

	log.Data = make([]byte, dataLen)
	copy(log.Data, data[logHeaderSize:logHeaderSize+dataLen])

	return nil
}
