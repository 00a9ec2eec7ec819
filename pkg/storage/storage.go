package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	t "github.com/rius2g/splitgroup/pkg/types"
)

// Store persists group creation progress so a failed flow can be resumed.
type Store interface {
	Save(ctx context.Context, p t.Progress) error
	Load(ctx context.Context, id string) (t.Progress, error)
	ListByOwner(ctx context.Context, owner common.Address) ([]t.Progress, error)
	Close() error
}

type InMemoryStore struct {
	mu    sync.Mutex
	flows map[string]t.Progress
}

func NewStore() *InMemoryStore {
	return &InMemoryStore{flows: make(map[string]t.Progress)}
}

func (s *InMemoryStore) Save(_ context.Context, p t.Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flows[p.ID] = clone(p)
	return nil
}

func (s *InMemoryStore) Load(_ context.Context, id string) (t.Progress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.flows[id]
	if !ok {
		return t.Progress{}, t.ErrFlowNotFound
	}
	return clone(p), nil
}

func (s *InMemoryStore) ListByOwner(_ context.Context, owner common.Address) ([]t.Progress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var filtered []t.Progress
	for _, p := range s.flows {
		if p.Owner == owner {
			filtered = append(filtered, clone(p))
		}
	}
	sortByCreation(filtered)
	return filtered, nil
}

func (s *InMemoryStore) Close() error { return nil }

func sortByCreation(list []t.Progress) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
}

// clone copies the pointer fields so stored progress can't be mutated by callers.
func clone(p t.Progress) t.Progress {
	out := p
	out.Participants = append([]common.Address(nil), p.Participants...)
	if p.GroupAddress != nil {
		a := *p.GroupAddress
		out.GroupAddress = &a
	}
	if p.GroupTx != nil {
		h := *p.GroupTx
		out.GroupTx = &h
	}
	if p.ProtectedData != nil {
		pd := *p.ProtectedData
		out.ProtectedData = &pd
	}
	if p.PushTx != nil {
		h := *p.PushTx
		out.PushTx = &h
	}
	return out
}
