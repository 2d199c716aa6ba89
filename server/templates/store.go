// Package templates persists reusable option presets the GUI can
// apply to new submissions.
package templates

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/queued-dl/queued/server/internal"
)

var bucket = []byte("templates")

type Template struct {
	ID      string           `json:"id"`
	Name    string           `json:"name"`
	Options internal.Options `json:"options"`
}

type Store struct {
	db *bolt.DB
}

func NewStore(db *bolt.DB) (*Store, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Save(t *Template) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}

	data, err := json.Marshal(t)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(t.ID), data)
	})
}

func (s *Store) Get(id string) (*Template, error) {
	var t Template

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucket).Get([]byte(id))
		if v == nil {
			return fmt.Errorf("template %s not found", id)
		}
		return json.Unmarshal(v, &t)
	})
	if err != nil {
		return nil, err
	}

	return &t, nil
}

func (s *Store) List() ([]Template, error) {
	result := make([]Template, 0)

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).ForEach(func(k, v []byte) error {
			var t Template
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			result = append(result, t)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (s *Store) Delete(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(id))
	})
}
