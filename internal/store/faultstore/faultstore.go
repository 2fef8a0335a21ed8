// Package faultstore wraps a store.Store and injects failures and latency into
// chosen operations, for exercising partial writes and interleavings.
package faultstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"libradesk/internal/store"
)

// ErrInjected is returned by faults that do not name their own error.
var ErrInjected = errors.New("injected fault")

// Op names a store operation.
type Op string

const (
	OpFind        Op = "find"
	OpInsert      Op = "insert"
	OpUpdate      Op = "update"
	OpDelete      Op = "delete"
	OpQuery       Op = "query"
	OpQueryJoined Op = "query_joined"
	OpCount       Op = "count"
)

// Fault describes an injected failure or delay.
type Fault struct {
	Op    Op
	Table string        // empty matches every table
	Err   error         // nil with Delay set means delay only
	Delay time.Duration // applied before the call
	Skip  int           // matching calls to let through first
	Times int           // matching calls to affect, 0 means once
}

type activeFault struct {
	Fault
	skipped int
	hits    int
}

// Store is a store.Store with fault injection.
type Store struct {
	inner  store.Store
	mu     sync.Mutex
	faults []*activeFault
	calls  map[Op]int
}

// New wraps inner.
func New(inner store.Store) *Store {
	return &Store{inner: inner, calls: make(map[Op]int)}
}

// Inject registers a fault.
func (s *Store) Inject(f Fault) {
	if f.Times <= 0 {
		f.Times = 1
	}
	if f.Err == nil && f.Delay == 0 {
		f.Err = ErrInjected
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, &activeFault{Fault: f})
}

// Reset clears every fault and call count.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = nil
	s.calls = make(map[Op]int)
}

// Calls reports how many times op reached the wrapper.
func (s *Store) Calls(op Op) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *Store) check(ctx context.Context, op Op, table string) error {
	s.mu.Lock()
	s.calls[op]++
	var delay time.Duration
	var err error
	for _, f := range s.faults {
		if f.Op != op || (f.Table != "" && f.Table != table) || f.hits >= f.Times {
			continue
		}
		if f.skipped < f.Skip {
			f.skipped++
			continue
		}
		f.hits++
		delay += f.Delay
		if err == nil {
			err = f.Err
		}
	}
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (s *Store) Find(ctx context.Context, table, id string) (store.Record, error) {
	if err := s.check(ctx, OpFind, table); err != nil {
		return nil, err
	}
	return s.inner.Find(ctx, table, id)
}

func (s *Store) Insert(ctx context.Context, table string, fields store.Record) (store.Record, error) {
	if err := s.check(ctx, OpInsert, table); err != nil {
		return nil, err
	}
	return s.inner.Insert(ctx, table, fields)
}

func (s *Store) Update(ctx context.Context, table, id string, fields store.Record, guards ...store.Condition) (store.Record, error) {
	if err := s.check(ctx, OpUpdate, table); err != nil {
		return nil, err
	}
	return s.inner.Update(ctx, table, id, fields, guards...)
}

func (s *Store) Delete(ctx context.Context, table, id string) error {
	if err := s.check(ctx, OpDelete, table); err != nil {
		return err
	}
	return s.inner.Delete(ctx, table, id)
}

func (s *Store) Query(ctx context.Context, table string, q store.Query) ([]store.Record, error) {
	if err := s.check(ctx, OpQuery, table); err != nil {
		return nil, err
	}
	return s.inner.Query(ctx, table, q)
}

func (s *Store) QueryJoined(ctx context.Context, table string, q store.Query, joins ...store.Join) ([]store.Record, error) {
	if err := s.check(ctx, OpQueryJoined, table); err != nil {
		return nil, err
	}
	return s.inner.QueryJoined(ctx, table, q, joins...)
}

func (s *Store) Count(ctx context.Context, table string, q store.Query) (int, error) {
	if err := s.check(ctx, OpCount, table); err != nil {
		return 0, err
	}
	return s.inner.Count(ctx, table, q)
}
