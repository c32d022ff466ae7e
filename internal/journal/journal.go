// Package journal keeps a local record of every upload attempt in a bbolt
// database. It backs the admin endpoints and duplicate-session detection;
// the upload pipeline itself never reads it.
package journal

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	bolt "go.etcd.io/bbolt"
)

var (
	uploadsBucket  = []byte("uploads")
	sessionsBucket = []byte("session_checksums")
)

// Upload statuses recorded in the journal.
const (
	StatusOK          = "ok"
	StatusRejected    = "rejected"
	StatusUnreachable = "unreachable"
)

// Record is one upload attempt.
type Record struct {
	ObjectKey  string    `json:"object_key"`
	User       string    `json:"user"`
	Session    string    `json:"session,omitempty"`
	Size       int64     `json:"size"`
	Checksum   uint64    `json:"checksum"`
	Status     string    `json:"status"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Error      string    `json:"error,omitempty"`
	Time       time.Time `json:"time"`
}

type Store struct {
	db *bolt.DB
}

// Open opens or creates the journal database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{uploadsBucket, sessionsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init journal buckets: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Checksum returns the xxhash of payload, used to spot duplicate session
// uploads without storing the payload itself.
func Checksum(payload []byte) uint64 {
	return xxhash.Sum64(payload)
}

// Append records one upload attempt. Records are keyed by nanosecond
// timestamp so iteration order is chronological.
func (s *Store) Append(rec Record) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal journal record: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(uploadsBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		key := make([]byte, 16)
		binary.BigEndian.PutUint64(key[:8], uint64(rec.Time.UnixNano()))
		binary.BigEndian.PutUint64(key[8:], seq)
		if err := b.Put(key, value); err != nil {
			return err
		}

		if rec.Status == StatusOK && rec.Session != "" {
			sk := sessionKey(rec.User, rec.Session)
			cs := make([]byte, 8)
			binary.BigEndian.PutUint64(cs, rec.Checksum)
			return tx.Bucket(sessionsBucket).Put(sk, cs)
		}
		return nil
	})
}

// Recent returns up to n records, newest first.
func (s *Store) Recent(n int) ([]Record, error) {
	var out []Record
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(uploadsBucket).Cursor()
		for k, v := c.Last(); k != nil && len(out) < n; k, v = c.Prev() {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				continue
			}
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

// SeenSession reports whether an identical payload for this user/session was
// already uploaded successfully.
func (s *Store) SeenSession(user, session string, checksum uint64) (bool, error) {
	var seen bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(sessionsBucket).Get(sessionKey(user, session))
		if v != nil && binary.BigEndian.Uint64(v) == checksum {
			seen = true
		}
		return nil
	})
	return seen, err
}

// Counts returns the number of journaled uploads per status.
func (s *Store) Counts() (map[string]int, error) {
	counts := make(map[string]int)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(uploadsBucket).ForEach(func(_, v []byte) error {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return nil
			}
			counts[rec.Status]++
			return nil
		})
	})
	return counts, err
}

func sessionKey(user, session string) []byte {
	return []byte(user + "/" + session)
}
