// Package repository stores node repository files in a content-addressed
// object store. Files are keyed by the domain-separated SHA-256 of their
// content, so identical files are written once.
package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/roach88/lineage/internal/ir"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("object store closed")

// ObjectStore is a content-addressed blob store.
type ObjectStore interface {
	// Put stores content and returns its key. Storing existing content is a no-op.
	Put(ctx context.Context, content []byte) (string, error)
	// Get returns the content for key, or an ir NotExistent error.
	Get(ctx context.Context, key string) ([]byte, error)
	// Has reports whether key is present.
	Has(ctx context.Context, key string) (bool, error)
	// Delete removes the objects; missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error
	// Keys lists every stored key in sorted order.
	Keys(ctx context.Context) ([]string, error)
	Close() error
}

// Options configures a BadgerStore.
type Options struct {
	// Dir is the data directory. Ignored when InMemory is set.
	Dir string
	// InMemory keeps all objects in RAM; used by tests and throwaway profiles.
	InMemory bool
	// SyncWrites fsyncs every write.
	SyncWrites bool
}

// BadgerStore is an ObjectStore backed by BadgerDB.
type BadgerStore struct {
	mu     sync.RWMutex
	db     *badger.DB
	closed bool
}

const objectPrefix = "obj/"

// Open opens (or creates) a Badger object store.
func Open(opts Options) (*BadgerStore, error) {
	bopts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	}
	if opts.SyncWrites {
		bopts = bopts.WithSyncWrites(true)
	}
	bopts = bopts.
		WithLogger(nil).
		WithMemTableSize(16 << 20).
		WithValueLogFileSize(64 << 20).
		WithNumMemtables(2).
		WithValueThreshold(1024)

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open object store: %w", err)
	}
	slog.Debug("object store opened", "dir", opts.Dir, "in_memory", opts.InMemory)
	return &BadgerStore{db: db}, nil
}

// OpenInMemory opens an in-memory store.
func OpenInMemory() (*BadgerStore, error) {
	return Open(Options{InMemory: true})
}

func objectKey(key string) []byte {
	return []byte(objectPrefix + key)
}

func (s *BadgerStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Put implements ObjectStore.
func (s *BadgerStore) Put(ctx context.Context, content []byte) (string, error) {
	if err := s.checkOpen(); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	key := ir.ObjectKey(content)
	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(objectKey(key))
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(objectKey(key), content)
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return key, nil
}

// Get implements ObjectStore.
func (s *BadgerStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(objectKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ir.NotExistent("object", key)
		}
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}
	return out, nil
}

// Has implements ObjectStore.
func (s *BadgerStore) Has(ctx context.Context, key string) (bool, error) {
	if _, err := s.Get(ctx, key); err != nil {
		if ir.IsNotExistent(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Delete implements ObjectStore.
func (s *BadgerStore) Delete(ctx context.Context, keys ...string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(objectKey(k)); err != nil {
			return fmt.Errorf("delete object %s: %w", k, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("delete objects: %w", err)
	}
	return nil
}

// Keys implements ObjectStore.
func (s *BadgerStore) Keys(ctx context.Context) ([]string, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	keys := make([]string, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(objectPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			k := string(it.Item().Key())
			keys = append(keys, k[len(objectPrefix):])
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Close implements ObjectStore.
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
