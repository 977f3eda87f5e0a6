// Package altstore persists address lookup table contents so transactions
// that load accounts through lookup tables can be resolved offline.
package altstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// DefaultCacheSize is the number of tables kept in memory.
const DefaultCacheSize = 4096

// ErrClosed is returned when using a closed store.
var ErrClosed = errors.New("alt store closed")

// UpdateMode selects how Update treats tables already in the store.
type UpdateMode int

const (
	// Append upserts the fetched tables and keeps every other table.
	Append UpdateMode = iota
	// Replace leaves the store holding exactly the fetched tables.
	Replace
)

// String returns the mode name.
func (m UpdateMode) String() string {
	switch m {
	case Append:
		return "append"
	case Replace:
		return "replace"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Fetcher loads the current addresses of lookup tables. Tables that do not
// exist are left out of the result.
type Fetcher interface {
	FetchTables(ctx context.Context, tables []solana.PublicKey) (map[solana.PublicKey][]solana.PublicKey, error)
}

// Store is a lookup-table store backed by leveldb with an in-memory cache.
// It is safe for concurrent use.
type Store struct {
	log   logrus.FieldLogger
	path  string
	cache *lru.Cache[solana.PublicKey, []solana.PublicKey]

	mu     sync.RWMutex
	db     *leveldb.DB
	closed bool
}

// LoadOrCreate opens the store at path, creating it if needed.
func LoadOrCreate(path string, cacheSize int, log logrus.FieldLogger) (*Store, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}

	db, err := leveldb.OpenFile(path, &opt.Options{
		Strict: opt.DefaultStrict,
		Filter: filter.NewBloomFilter(10),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open alt store: %w", err)
	}

	cache, err := lru.New[solana.PublicKey, []solana.PublicKey](cacheSize)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create alt cache: %w", err)
	}

	return &Store{
		log:   log.WithField("component", "alt-store"),
		path:  path,
		cache: cache,
		db:    db,
	}, nil
}

// Path returns the store directory.
func (s *Store) Path() string {
	return s.path
}

// Lookup returns all addresses of a table.
func (s *Store) Lookup(table solana.PublicKey) ([]solana.PublicKey, bool) {
	if addresses, ok := s.cache.Get(table); ok {
		return addresses, true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, false
	}

	value, err := s.db.Get(table[:], nil)
	if err != nil {
		if !errors.Is(err, leveldb.ErrNotFound) {
			s.log.WithError(err).WithField("table", table).Warn("Failed to read lookup table")
		}

		return nil, false
	}

	addresses, err := decodeAddresses(value)
	if err != nil {
		s.log.WithError(err).WithField("table", table).Warn("Corrupt lookup table entry")
		return nil, false
	}

	s.cache.Add(table, addresses)

	return addresses, true
}

// Resolve returns the address at index in a table.
func (s *Store) Resolve(table solana.PublicKey, index uint8) (solana.PublicKey, bool) {
	addresses, ok := s.Lookup(table)
	if !ok || int(index) >= len(addresses) {
		return solana.PublicKey{}, false
	}

	return addresses[index], true
}

// Tables returns every stored table key in key order.
func (s *Store) Tables() ([]solana.PublicKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	iter := s.db.NewIterator(nil, nil)
	defer iter.Release()

	var tables []solana.PublicKey

	for iter.Next() {
		tables = append(tables, solana.PublicKeyFromBytes(iter.Key()))
	}

	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("failed to iterate alt store: %w", err)
	}

	return tables, nil
}

// Update fetches the given tables and writes them in a single batch.
func (s *Store) Update(ctx context.Context, tables []solana.PublicKey, mode UpdateMode, fetcher Fetcher) error {
	fetched, err := fetcher.FetchTables(ctx, tables)
	if err != nil {
		return fmt.Errorf("failed to fetch lookup tables: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	batch := new(leveldb.Batch)

	if mode == Replace {
		iter := s.db.NewIterator(nil, nil)
		for iter.Next() {
			if _, ok := fetched[solana.PublicKeyFromBytes(iter.Key())]; !ok {
				batch.Delete(bytes.Clone(iter.Key()))
			}
		}

		iter.Release()

		if err := iter.Error(); err != nil {
			return fmt.Errorf("failed to iterate alt store: %w", err)
		}
	}

	for table, addresses := range fetched {
		batch.Put(table.Bytes(), encodeAddresses(addresses))
	}

	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("failed to write lookup tables: %w", err)
	}

	if mode == Replace {
		s.cache.Purge()
	}

	for table, addresses := range fetched {
		s.cache.Add(table, addresses)
	}

	s.log.WithFields(logrus.Fields{
		"requested": len(tables),
		"stored":    len(fetched),
		"mode":      mode.String(),
	}).Debug("Updated lookup tables")

	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	s.cache.Purge()

	return s.db.Close()
}

func encodeAddresses(addresses []solana.PublicKey) []byte {
	value := make([]byte, 0, len(addresses)*solana.PublicKeyLength)
	for _, address := range addresses {
		value = append(value, address[:]...)
	}

	return value
}

func decodeAddresses(value []byte) ([]solana.PublicKey, error) {
	if len(value)%solana.PublicKeyLength != 0 {
		return nil, fmt.Errorf("entry length %d is not a multiple of %d", len(value), solana.PublicKeyLength)
	}

	addresses := make([]solana.PublicKey, len(value)/solana.PublicKeyLength)
	for i := range addresses {
		copy(addresses[i][:], value[i*solana.PublicKeyLength:])
	}

	return addresses, nil
}
