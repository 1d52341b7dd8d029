// Package prefs is the durable client side key/value store. The wallet
// manager keeps its "was connected" flag and the selected network here so
// both survive restarts.
package prefs

import (
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v3"

	"zgDrop/pkg/logging"
)

type Store struct {
	db *badger.DB
}

// Open opens (or creates) the store in dir.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).
		WithLogger(badgerLogger{}).
		WithNumVersionsToKeep(1)
	return open(opts)
}

// OpenInMemory returns a store that lives only as long as the process.
func OpenInMemory() (*Store, error) {
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLogger(badgerLogger{})
	return open(opts)
}

func open(opts badger.Options) (*Store, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open preferences: %w", err)
	}
	return &Store{db: db}, nil
}

// Get returns "" and no error when key is absent.
func (s *Store) Get(key string) (string, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", key, err)
	}
	return string(value), nil
}

func (s *Store) Set(key, value string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), []byte(value))
	})
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// badgerLogger routes badger's chatter to logrus, demoting its info lines to
// debug.
type badgerLogger struct{}

func (badgerLogger) Errorf(f string, args ...interface{})   { logging.Component("prefs").Errorf(f, args...) }
func (badgerLogger) Warningf(f string, args ...interface{}) { logging.Component("prefs").Warnf(f, args...) }
func (badgerLogger) Infof(f string, args ...interface{})    { logging.Component("prefs").Debugf(f, args...) }
func (badgerLogger) Debugf(f string, args ...interface{})   { logging.Component("prefs").Debugf(f, args...) }
