package store

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketAccessories = []byte("accessories")
	bucketMeta        = []byte("meta")
	keyDiscovery      = []byte("discovery")
)

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens or creates a BoltDB database.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketAccessories, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) SaveAccessory(acc *Accessory) error {
	if acc.ID == "" {
		return fmt.Errorf("accessory has no id")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAccessories)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketAccessories)
		}
		data, err := json.Marshal(acc)
		if err != nil {
			return err
		}
		return b.Put([]byte(acc.ID), data)
	})
}

func (s *BoltStore) GetAccessory(id string) (*Accessory, error) {
	var acc Accessory
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAccessories)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketAccessories)
		}
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("accessory %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &acc)
	})
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

func (s *BoltStore) DeleteAccessory(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAccessories)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketAccessories)
		}
		return b.Delete([]byte(id))
	})
}

func (s *BoltStore) ListAccessories() ([]*Accessory, error) {
	var accessories []*Accessory
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAccessories)
		if b == nil {
			return nil // no bucket = no accessories
		}
		accessories = make([]*Accessory, 0, b.Stats().KeyN)
		return b.ForEach(func(k, v []byte) error {
			var acc Accessory
			if err := json.Unmarshal(v, &acc); err != nil {
				return fmt.Errorf("decode accessory %s: %w", k, err)
			}
			accessories = append(accessories, &acc)
			return nil
		})
	})
	return accessories, err
}

func (s *BoltStore) UpdateAccessory(id string, fn func(acc *Accessory) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAccessories)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketAccessories)
		}
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("accessory %s: %w", id, ErrNotFound)
		}
		var acc Accessory
		if err := json.Unmarshal(data, &acc); err != nil {
			return err
		}
		if err := fn(&acc); err != nil {
			return err
		}
		acc.ID = id
		acc.UpdatedAt = time.Now()
		out, err := json.Marshal(&acc)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), out)
	})
}

func (s *BoltStore) SaveDiscoveryState(state *DiscoveryState) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMeta)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketMeta)
		}
		data, err := json.Marshal(state)
		if err != nil {
			return err
		}
		return b.Put(keyDiscovery, data)
	})
}

func (s *BoltStore) GetDiscoveryState() (*DiscoveryState, error) {
	var state DiscoveryState
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMeta)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketMeta)
		}
		data := b.Get(keyDiscovery)
		if data == nil {
			return fmt.Errorf("discovery state: %w", ErrNotFound)
		}
		return json.Unmarshal(data, &state)
	})
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
