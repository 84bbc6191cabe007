package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a uniqueness constraint would be violated
	ErrAlreadyExists = errors.New("already exists")
)

var (
	usersBucket             = []byte("users")
	usersByPhoneBucket      = []byte("users_by_phone")
	usersByEmailBucket      = []byte("users_by_email")
	usersBySessionBucket    = []byte("users_by_session")
	profilesBucket          = []byte("profiles")
	settingsBucket          = []byte("settings")
	emailsBucket            = []byte("emails")
	emailsByMessageIDBucket = []byte("emails_by_message_id")
	notificationsBucket     = []byte("notifications")
	labelBucket             = []byte("labels")
	emailLabelBucket        = []byte("email_labels")
)

var allBuckets = [][]byte{
	usersBucket, usersByPhoneBucket, usersByEmailBucket, usersBySessionBucket,
	profilesBucket, settingsBucket,
	emailsBucket, emailsByMessageIDBucket,
	notificationsBucket,
	labelBucket, emailLabelBucket,
}

// DB wraps the bbolt database shared by every storage
type DB struct {
	bolt *bbolt.DB
}

// InitDB opens (creating if needed) gotmail.db under dataDir and its buckets
func InitDB(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "gotmail.db")
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &DB{bolt: db}, nil
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.bolt.Close()
}

// itob encodes an id as a big-endian key so cursors iterate in id order
func itob(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func btoi(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}

// pairKey concatenates two ids, used for owner-prefixed and association keys
func pairKey(a, b int64) []byte {
	key := make([]byte, 16)
	binary.BigEndian.PutUint64(key[:8], uint64(a))
	binary.BigEndian.PutUint64(key[8:], uint64(b))
	return key
}

func nextID(b *bbolt.Bucket) (int64, error) {
	seq, err := b.NextSequence()
	if err != nil {
		return 0, err
	}
	return int64(seq), nil
}

func putJSON(b *bbolt.Bucket, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}

func getJSON(b *bbolt.Bucket, key []byte, v interface{}) error {
	data := b.Get(key)
	if data == nil {
		return ErrNotFound
	}
	return json.Unmarshal(data, v)
}

func hasPrefix(s, prefix []byte) bool {
	return len(s) >= len(prefix) && string(s[:len(prefix)]) == string(prefix)
}
