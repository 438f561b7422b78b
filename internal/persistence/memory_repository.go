package persistence

import (
	"encoding/json"
	"sync"

	"dex-grid-bot-go/internal/models"
)

// memoryRepository keeps the state snapshot in process memory.
// It is used in tests and dry runs where durability is not needed.
type memoryRepository struct {
	mu   sync.Mutex
	data []byte
}

// NewMemoryRepository creates an in-memory StateRepository.
func NewMemoryRepository() StateRepository {
	return &memoryRepository{}
}

func (r *memoryRepository) SaveState(state *models.BotState) error {
	state.Version = stateSchemaVersion
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.data = data
	r.mu.Unlock()
	return nil
}

func (r *memoryRepository) LoadState() (*models.BotState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.data == nil {
		return nil, nil
	}
	var state models.BotState
	if err := json.Unmarshal(r.data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (r *memoryRepository) Close() error {
	return nil
}
