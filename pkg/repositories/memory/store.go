// Package memory is an in-process implementation of the repository contract.
// It guards the same predicates as the postgres conditional updates and is
// used by the `memory` store driver and by unit tests.
package memory

import (
	"context"
	"maps"
	"sync"

	"github.com/google/uuid"

	"github.com/Ramsey-B/courier/pkg/models"
	"github.com/Ramsey-B/courier/pkg/repositories"
)

type txKey struct{}

// Store holds every table. Writes and transactions hold txMu exclusively and
// reads outside a transaction share it, so uncommitted writes are never seen.
// mu guards the maps themselves.
type Store struct {
	txMu sync.RWMutex
	mu   sync.RWMutex

	requests      map[uuid.UUID]models.Request
	resolutions   map[uuid.UUID]models.Resolution
	users         map[uuid.UUID]models.User
	rules         map[uuid.UUID]models.PricingRule
	notifications map[uuid.UUID]models.Notification
}

func NewStore() *Store {
	return &Store{
		requests:      map[uuid.UUID]models.Request{},
		resolutions:   map[uuid.UUID]models.Resolution{},
		users:         map[uuid.UUID]models.User{},
		rules:         map[uuid.UUID]models.PricingRule{},
		notifications: map[uuid.UUID]models.Notification{},
	}
}

// Repositories exposes the store through the repository contract.
func (s *Store) Repositories() *repositories.Store {
	return &repositories.Store{
		Transactor:    s,
		Requests:      &RequestRepository{s: s},
		Resolutions:   &ResolutionRepository{s: s},
		Users:         &UserRepository{s: s},
		PricingRules:  &PricingRuleRepository{s: s},
		Notifications: &NotificationRepository{s: s},
	}
}

type snapshot struct {
	requests      map[uuid.UUID]models.Request
	resolutions   map[uuid.UUID]models.Resolution
	users         map[uuid.UUID]models.User
	rules         map[uuid.UUID]models.PricingRule
	notifications map[uuid.UUID]models.Notification
}

func (s *Store) snapshot() snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshot{
		requests:      maps.Clone(s.requests),
		resolutions:   maps.Clone(s.resolutions),
		users:         maps.Clone(s.users),
		rules:         maps.Clone(s.rules),
		notifications: maps.Clone(s.notifications),
	}
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = snap.requests
	s.resolutions = snap.resolutions
	s.users = snap.users
	s.rules = snap.rules
	s.notifications = snap.notifications
}

func (s *Store) inTx(ctx context.Context) bool {
	owner, ok := ctx.Value(txKey{}).(*Store)
	return ok && owner == s
}

// InTx runs fn with every write serialized behind it. On error the maps are
// restored to their state before fn ran. Nested calls join the outer one.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if s.inTx(ctx) {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	defer func() {
		if p := recover(); p != nil {
			s.restore(snap)
			panic(p)
		}
		if err != nil {
			s.restore(snap)
		}
	}()

	return fn(context.WithValue(ctx, txKey{}, s))
}

// write applies fn under the write lock, outside of any transaction owned by
// another caller.
func (s *Store) write(ctx context.Context, fn func() error) error {
	if !s.inTx(ctx) {
		s.txMu.Lock()
		defer s.txMu.Unlock()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

func (s *Store) read(ctx context.Context, fn func()) {
	if !s.inTx(ctx) {
		s.txMu.RLock()
		defer s.txMu.RUnlock()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn()
}

// paginate copies one page out of items.
func paginate[T any](items []T, offset, limit int) []T {
	start := min(offset, len(items))
	end := min(start+limit, len(items))
	return append([]T{}, items[start:end]...)
}
