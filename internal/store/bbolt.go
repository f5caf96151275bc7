package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/kilupskalvis/kotoimi/internal/models"
	bolt "go.etcd.io/bbolt"
)

// Bucket names used by the bbolt backend.
var (
	bucketSubmissions = []byte("submissions")
	bucketDupIndex    = []byte("duplicate_index") // author\x00category\x00<created ms BE><id> -> meaning text
)

// BboltStore implements Store on an embedded bbolt file.
type BboltStore struct {
	db *bolt.DB
}

// NewBboltStore opens or creates a bbolt database at the given path.
func NewBboltStore(dbPath string) (*BboltStore, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketSubmissions, bucketDupIndex} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, err
	}

	return &BboltStore{db: db}, nil
}

// Close closes the database.
func (s *BboltStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks that the buckets are readable.
func (s *BboltStore) Ping(_ context.Context) error {
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketSubmissions) == nil {
			return fmt.Errorf("submissions bucket missing")
		}
		return nil
	})
}

// dupPrefix is the index prefix for one author and category.
func dupPrefix(author models.AuthorHash, category models.EventCategory) []byte {
	var buf bytes.Buffer
	buf.WriteString(string(author))
	buf.WriteByte(0)
	buf.WriteString(string(category))
	buf.WriteByte(0)
	return buf.Bytes()
}

func dupKey(s *models.Submission) []byte {
	key := dupPrefix(s.AuthorHash, s.EventCategory)
	key = binary.BigEndian.AppendUint64(key, uint64(s.Timestamp.UnixMilli()))
	return append(key, s.ID...)
}

// Insert persists a new submission and its duplicate-index entry.
func (s *BboltStore) Insert(_ context.Context, sub *models.Submission) error {
	data, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("marshal submission: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSubmissions)
		if b.Get([]byte(sub.ID)) != nil {
			return fmt.Errorf("insert submission %s: id already exists", sub.ID)
		}
		if err := b.Put([]byte(sub.ID), data); err != nil {
			return fmt.Errorf("insert submission %s: %w", sub.ID, err)
		}
		return tx.Bucket(bucketDupIndex).Put(dupKey(sub), []byte(sub.MeaningText))
	})
}

// Get retrieves a submission by ID. Returns ErrNotFound if missing.
func (s *BboltStore) Get(_ context.Context, id string) (*models.Submission, error) {
	var sub *models.Submission
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketSubmissions).Get([]byte(id))
		if v == nil {
			return fmt.Errorf("submission %q: %w", id, ErrNotFound)
		}
		var decoded models.Submission
		if err := json.Unmarshal(v, &decoded); err != nil {
			return fmt.Errorf("unmarshal submission: %w", err)
		}
		sub = &decoded
		return nil
	})
	return sub, err
}

// HasDuplicate seeks the author/category index from since onwards.
func (s *BboltStore) HasDuplicate(_ context.Context, author models.AuthorHash, category models.EventCategory, meaningText string, since time.Time) (bool, error) {
	prefix := dupPrefix(author, category)
	start := binary.BigEndian.AppendUint64(append([]byte{}, prefix...), uint64(since.UnixMilli()+1))

	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketDupIndex).Cursor()
		for k, v := c.Seek(start); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			if string(v) == meaningText {
				found = true
				return nil
			}
		}
		return nil
	})
	return found, err
}

// SetSawAlternatives rewrites the stored record with the new flag.
func (s *BboltStore) SetSawAlternatives(_ context.Context, id string, saw bool) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSubmissions)
		v := b.Get([]byte(id))
		if v == nil {
			return fmt.Errorf("submission %q: %w", id, ErrNotFound)
		}
		var sub models.Submission
		if err := json.Unmarshal(v, &sub); err != nil {
			return fmt.Errorf("unmarshal submission: %w", err)
		}
		sub.SawAlternativeMeanings = saw
		data, err := json.Marshal(&sub)
		if err != nil {
			return fmt.Errorf("marshal submission: %w", err)
		}
		return b.Put([]byte(id), data)
	})
}

// scan visits every submission matching f.
func (s *BboltStore) scan(f Filter, fn func(*models.Submission)) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSubmissions).ForEach(func(_, v []byte) error {
			var sub models.Submission
			if err := json.Unmarshal(v, &sub); err != nil {
				return fmt.Errorf("unmarshal submission: %w", err)
			}
			if f.Match(&sub) {
				fn(&sub)
			}
			return nil
		})
	})
}

// Query returns matching submissions ordered by time.
func (s *BboltStore) Query(_ context.Context, f Filter) ([]*models.Submission, error) {
	out := []*models.Submission{}
	if err := s.scan(f, func(sub *models.Submission) { out = append(out, sub) }); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Count returns the number of matching submissions.
func (s *BboltStore) Count(_ context.Context, f Filter) (int, error) {
	n := 0
	err := s.scan(f, func(*models.Submission) { n++ })
	return n, err
}

// Categories returns distinct categories among matching rows.
func (s *BboltStore) Categories(_ context.Context, f Filter) ([]models.EventCategory, error) {
	seen := make(map[models.EventCategory]bool)
	if err := s.scan(f, func(sub *models.Submission) { seen[sub.EventCategory] = true }); err != nil {
		return nil, err
	}
	out := make([]models.EventCategory, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
