package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"dex-grid-bot-go/internal/models"

	"github.com/dgraph-io/badger/v3"
)

// stateSchemaVersion guards against loading snapshots written by an
// incompatible build. A mismatch is treated the same as no state.
const stateSchemaVersion = 2

// badgerRepository is the BadgerDB implementation of the StateRepository.
type badgerRepository struct {
	db       *badger.DB
	stateKey []byte
}

// NewBadgerRepository creates a repository backed by a BadgerDB database at dbPath.
func NewBadgerRepository(dbPath string) (StateRepository, error) {
	opts := badger.DefaultOptions(dbPath)
	// Badger's own logger is noisy; errors still surface from DB operations.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening state database: %w", err)
	}

	return &badgerRepository{
		db:       db,
		stateKey: []byte("bot_state"),
	}, nil
}

// SaveState atomically saves the entire bot state under a single key.
// The snapshot is stamped with the schema version and save time before writing.
func (r *badgerRepository) SaveState(state *models.BotState) error {
	state.Version = stateSchemaVersion
	state.LastUpdateTime = time.Now()

	data, err := json.Marshal(state)
	if err != nil {
		return err
	}

	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(r.stateKey, data)
	})
}

// LoadState loads the bot state from storage.
// A missing key or a snapshot with a different schema version returns (nil, nil).
func (r *badgerRepository) LoadState() (*models.BotState, error) {
	var state models.BotState

	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(r.stateKey)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) == 0 {
				return errors.New("state value is empty in database")
			}
			return json.Unmarshal(val, &state)
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if state.Version != stateSchemaVersion {
		return nil, nil
	}
	return &state, nil
}

// Close gracefully closes the connection to the database.
func (r *badgerRepository) Close() error {
	return r.db.Close()
}
