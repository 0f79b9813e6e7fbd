package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "relaybot/pkg/logx"

	bolt "go.etcd.io/bbolt"
)

var bucketSeen = []byte("seen")

// boltStore keeps one key per item: id -> bumped_at.
type boltStore struct {
	db  *bolt.DB
	log logx.Logger
}

func openBolt(cfg Config, log logx.Logger) (Backend, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required when storage.driver=bolt")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	timeout := cfg.BusyTimeout
	if timeout <= 0 {
		timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSeen)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &boltStore{db: db, log: log}, nil
}

func (s *boltStore) Load(ctx context.Context) ([]Record, error) {
	_ = ctx
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	var recs []Record
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSeen)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			recs = append(recs, Record{ID: string(k), BumpedAt: string(v)})
			return nil
		})
	})
	return recs, err
}

// Save drops and recreates the bucket in one transaction.
func (s *boltStore) Save(ctx context.Context, recs []Record) error {
	_ = ctx
	if s == nil || s.db == nil {
		return ErrClosed
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketSeen); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		b, err := tx.CreateBucket(bucketSeen)
		if err != nil {
			return err
		}
		for _, r := range recs {
			if r.ID == "" {
				continue
			}
			if err := b.Put([]byte(r.ID), []byte(r.BumpedAt)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *boltStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
