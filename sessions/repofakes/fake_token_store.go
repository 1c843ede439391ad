package repofakes

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-connecteddrive/sessions"
)

var _ sessions.Store = (*FakeTokenStore)(nil)

// FakeTokenStore keeps records in memory. It backs the "memory" store mode
// and the tests.
type FakeTokenStore struct {
	records  map[string]sessions.Record
	writes   int
	writeErr error
	readErr  error
	lock     sync.RWMutex
}

func NewFakeTokenStore() *FakeTokenStore {
	return &FakeTokenStore{
		records: make(map[string]sessions.Record),
	}
}

func (ts *FakeTokenStore) Get(_ context.Context, account string) (sessions.Record, error) {
	ts.lock.RLock()
	defer ts.lock.RUnlock()
	if ts.readErr != nil {
		return sessions.Record{}, ts.readErr
	}
	return ts.records[account], nil
}

func (ts *FakeTokenStore) Update(_ context.Context, account string, fn func(rec *sessions.Record) error) error {
	ts.lock.Lock()
	defer ts.lock.Unlock()
	if ts.writeErr != nil {
		return ts.writeErr
	}

	rec := ts.records[account]
	if err := fn(&rec); err != nil {
		return err
	}
	ts.records[account] = rec
	ts.writes++
	return nil
}

// Writes reports how many updates were persisted.
func (ts *FakeTokenStore) Writes() int {
	ts.lock.RLock()
	defer ts.lock.RUnlock()
	return ts.writes
}

// FailWrites makes every following Update fail with err; nil restores writes.
func (ts *FakeTokenStore) FailWrites(err error) {
	ts.lock.Lock()
	defer ts.lock.Unlock()
	ts.writeErr = err
}

// FailReads makes every following Get fail with err; nil restores reads.
func (ts *FakeTokenStore) FailReads(err error) {
	ts.lock.Lock()
	defer ts.lock.Unlock()
	ts.readErr = err
}
