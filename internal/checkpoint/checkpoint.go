// Package checkpoint remembers which input files a previous run committed, so
// a rerun over the same trees can skip them.
//
// A file is identified by tree and path and fingerprinted by size and
// modification time; a changed file is loaded again.
package checkpoint

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// Fingerprint is the stored state of one committed file.
type Fingerprint struct {
	Size     int64     `json:"size"`
	ModTime  int64     `json:"mod_time_unix_nano"`
	LoadedAt time.Time `json:"loaded_at"`
}

// FingerprintOf captures fi for comparison with a stored Fingerprint.
func FingerprintOf(fi os.FileInfo) Fingerprint {
	return Fingerprint{Size: fi.Size(), ModTime: fi.ModTime().UnixNano()}
}

// Same reports whether f and o describe the same file contents.
func (f Fingerprint) Same(o Fingerprint) bool {
	return f.Size == o.Size && f.ModTime == o.ModTime
}

// Store is a Badger-backed checkpoint database.
type Store struct {
	db  *badger.DB
	now func() time.Time
}

// Open opens (or creates) the checkpoint database in dir.
func Open(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("checkpoint: empty path")
	}
	return open(badger.DefaultOptions(dir))
}

// OpenInMemory opens a checkpoint database that lives only as long as the
// Store. Intended for tests.
func OpenInMemory() (*Store, error) {
	return open(badger.DefaultOptions("").WithInMemory(true))
}

func open(opts badger.Options) (*Store, error) {
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open badger: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func key(tree, path string) []byte {
	return []byte("file/" + tree + "/" + path)
}

// Done reports whether path was committed under tree with the same fingerprint.
func (s *Store) Done(tree, path string, fp Fingerprint) (bool, error) {
	var stored Fingerprint
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(tree, path))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &stored)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checkpoint: read %s: %w", path, err)
	}
	return stored.Same(fp), nil
}

// Mark records path under tree as committed with fingerprint fp.
func (s *Store) Mark(tree, path string, fp Fingerprint) error {
	fp.LoadedAt = s.now().UTC()
	data, err := json.Marshal(fp)
	if err != nil {
		return fmt.Errorf("checkpoint: marshal %s: %w", path, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(tree, path), data)
	})
	if err != nil {
		return fmt.Errorf("checkpoint: write %s: %w", path, err)
	}
	return nil
}

// Count returns the number of recorded files.
func (s *Store) Count() (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte("file/")
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

func (s *Store) Close() error {
	return s.db.Close()
}
