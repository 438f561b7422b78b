package persistence

import "dex-grid-bot-go/internal/models"

// StateRepository defines the interface for crash-recovery state persistence.
// Implementations: BadgerDB for live runs, in-memory for tests and dry runs.
// It abstracts the underlying storage mechanism (e.g., BadgerDB, in-memory)
// from the control loop.
type StateRepository interface {
	// SaveState atomically saves the entire bot state snapshot.
	SaveState(state *models.BotState) error

	// LoadState loads the bot state from storage.
	// If no state is found, it should return (nil, nil).
	LoadState() (*models.BotState, error)

	// Close gracefully closes the connection to the database.
	Close() error
}
