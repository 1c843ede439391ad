// Package redisstore keeps session records in Redis so several processes can
// share one account.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/jrsteele09/go-connecteddrive/internal/errors"
	"github.com/jrsteele09/go-connecteddrive/sessions"
)

const (
	DefaultPrefix = "connecteddrive:token:"

	// maxTxRetries bounds the optimistic WATCH/MULTI loop.
	maxTxRetries = 5
)

var _ sessions.Store = (*Store)(nil)

type Store struct {
	client redis.UniversalClient
	prefix string
}

// New creates a store using DefaultPrefix.
func New(client redis.UniversalClient) *Store {
	return NewWithPrefix(client, DefaultPrefix)
}

// NewWithPrefix creates a store with a custom key prefix.
func NewWithPrefix(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) key(account string) string {
	return s.prefix + account
}

func (s *Store) Get(ctx context.Context, account string) (sessions.Record, error) {
	return s.read(ctx, s.client, account)
}

// Update applies fn inside WATCH/MULTI and retries when another writer won
// the race.
func (s *Store) Update(ctx context.Context, account string, fn func(rec *sessions.Record) error) error {
	key := s.key(account)
	var fnErr error
	txf := func(tx *redis.Tx) error {
		rec, err := s.read(ctx, tx, account)
		if err != nil {
			return err
		}
		if fnErr = fn(&rec); fnErr != nil {
			return fnErr
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil || fnErr != nil {
			return err
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return fmt.Errorf("redis update %s: %w: %w", key, apperrors.ErrStore, err)
	}
	return fmt.Errorf("redis update %s: %w: too much contention", key, apperrors.ErrStore)
}

func (s *Store) read(ctx context.Context, c redis.Cmdable, account string) (sessions.Record, error) {
	data, err := c.Get(ctx, s.key(account)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return sessions.Record{}, nil
		}
		return sessions.Record{}, fmt.Errorf("redis get: %w: %w", apperrors.ErrStore, err)
	}
	var rec sessions.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return sessions.Record{}, fmt.Errorf("unmarshal record: %w: %w", apperrors.ErrStore, err)
	}
	return rec, nil
}
