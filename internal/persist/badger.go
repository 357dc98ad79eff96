package persist

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

const badgerSlotPrefix = "slot:"

// BadgerSlots stores slots in a local Badger database, the on-disk counterpart
// of a browser profile's local storage.
type BadgerSlots struct {
	db     *badger.DB
	logger *zap.Logger
}

// OpenBadgerSlots opens (or creates) a Badger database at path.
// An empty path opens an in-memory database.
func OpenBadgerSlots(path string, logger *zap.Logger) (*BadgerSlots, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil            // Badger's own logger is too chatty for slot traffic
	opts.SyncWrites = true       // a slot write must survive a crash
	opts.CompactL0OnClose = true // faster reopen

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("persist: failed to open badger db: %w", err)
	}
	logger.Info("Badger slot storage opened", zap.String("path", path))
	return &BadgerSlots{db: db, logger: logger}, nil
}

func slotKey(key string) []byte {
	return []byte(badgerSlotPrefix + key)
}

func (b *BadgerSlots) ReadSlot(_ context.Context, key string) (string, bool, error) {
	var value string
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(slotKey(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			value = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("persist: read slot %q: %w", key, err)
	}
	return value, true, nil
}

func (b *BadgerSlots) WriteSlot(_ context.Context, key, value string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(slotKey(key), []byte(value))
	})
	if err != nil {
		return fmt.Errorf("persist: write slot %q: %w", key, err)
	}
	return nil
}

func (b *BadgerSlots) DeleteSlot(_ context.Context, key string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(slotKey(key))
	})
	if err != nil {
		return fmt.Errorf("persist: delete slot %q: %w", key, err)
	}
	return nil
}

// Close flushes and closes the database.
func (b *BadgerSlots) Close() error {
	b.logger.Info("Closing badger slot storage")
	return b.db.Close()
}
