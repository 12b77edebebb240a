package store

import "errors"

// ErrNotFound is returned when a requested entity does not exist in the store.
var ErrNotFound = errors.New("not found")

// Store defines the persistence interface.
type Store interface {
	// Accessory operations
	SaveAccessory(acc *Accessory) error
	GetAccessory(id string) (*Accessory, error)
	DeleteAccessory(id string) error
	ListAccessories() ([]*Accessory, error)

	// UpdateAccessory atomically reads, modifies, and saves an accessory in a
	// single transaction. Returns ErrNotFound if the accessory does not exist.
	UpdateAccessory(id string, fn func(acc *Accessory) error) error

	// Discovery bookkeeping
	SaveDiscoveryState(state *DiscoveryState) error
	GetDiscoveryState() (*DiscoveryState, error)

	// Close the store
	Close() error
}
