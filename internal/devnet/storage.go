// Package devnet is a single-process stand-in for the ledger and the content
// store, persisted in LevelDB. It enforces the same contract rules and
// revert reasons as the deployed contract and accepts only transactions
// signed for its chain, so the coordinators run unchanged against it.
package devnet

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Storage wraps the LevelDB handle shared by Ledger and Blobs.
type Storage struct {
	db *leveldb.DB
}

// Open opens or creates the database at path. An empty path keeps
// everything in memory.
func Open(path string) (*Storage, error) {
	var (
		db  *leveldb.DB
		err error
	)
	if path == "" {
		db, err = leveldb.Open(storage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("open devnet storage: %w", err)
	}
	return &Storage{db: db}, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) get(key string) ([]byte, bool, error) {
	v, err := s.db.Get([]byte(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (s *Storage) getJSON(key string, v interface{}) (bool, error) {
	raw, ok, err := s.get(key)
	if err != nil || !ok {
		return ok, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Storage) getUint(key string) (uint64, error) {
	raw, ok, err := s.get(key)
	if err != nil || !ok {
		return 0, err
	}
	return strconv.ParseUint(string(raw), 10, 64)
}

// prefixed returns the values of every key under prefix in key order.
func (s *Storage) prefixed(prefix string) ([][]byte, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()
	var out [][]byte
	for iter.Next() {
		out = append(out, append([]byte(nil), iter.Value()...))
	}
	return out, iter.Error()
}

func putJSON(b *leveldb.Batch, key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	b.Put([]byte(key), raw)
	return nil
}

func putUint(b *leveldb.Batch, key string, v uint64) {
	b.Put([]byte(key), []byte(strconv.FormatUint(v, 10)))
}
