package identity

import (
	"context"
	"strings"
	"sync"
)

// Store describes persistence operations required by the identity subsystem.
// Create must write the account, its role rows and any role profiles as one
// atomic unit.
type Store interface {
	Create(ctx context.Context, acc *Account, profiles map[Role]string) error
	Find(ctx context.Context, id string) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)
	Profiles(ctx context.Context, accountID string) (map[Role]string, error)
	SetActive(ctx context.Context, id string, active bool) error
	Delete(ctx context.Context, id string) error
}

// MemoryStore is an in-process Store used by tests and the dev backend.
type MemoryStore struct {
	mu       sync.RWMutex
	byID     map[string]*Account
	byEmail  map[string]string
	byName   map[string]string
	profiles map[string]map[Role]string
}

// NewMemoryStore creates an empty in-memory identity store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:     make(map[string]*Account),
		byEmail:  make(map[string]string),
		byName:   make(map[string]string),
		profiles: make(map[string]map[Role]string),
	}
}

func (m *MemoryStore) Create(ctx context.Context, acc *Account, profiles map[Role]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	email := strings.ToLower(acc.Email)
	if _, ok := m.byEmail[email]; ok {
		return ErrDuplicate
	}
	if _, ok := m.byName[acc.Username]; ok {
		return ErrDuplicate
	}
	cp := *acc
	m.byID[acc.ID] = &cp
	m.byEmail[email] = acc.ID
	m.byName[acc.Username] = acc.ID
	links := make(map[Role]string, len(profiles))
	for role, id := range profiles {
		links[role] = id
	}
	m.profiles[acc.ID] = links
	return nil
}

func (m *MemoryStore) Find(ctx context.Context, id string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acc, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *acc
	return &cp, nil
}

func (m *MemoryStore) FindByEmail(ctx context.Context, email string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.byID[id]
	return &cp, nil
}

func (m *MemoryStore) Profiles(ctx context.Context, accountID string) (map[Role]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	links, ok := m.profiles[accountID]
	if !ok {
		return map[Role]string{}, nil
	}
	out := make(map[Role]string, len(links))
	for role, id := range links {
		out[role] = id
	}
	return out, nil
}

func (m *MemoryStore) SetActive(ctx context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	acc.Active = active
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.byEmail, strings.ToLower(acc.Email))
	delete(m.byName, acc.Username)
	delete(m.profiles, id)
	delete(m.byID, id)
	return nil
}
