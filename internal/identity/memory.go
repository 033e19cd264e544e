package identity

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is the dev/test Store. It enforces the same unique keys as the
// Postgres schema: one user per email and one binding per (tenant, external user).
type MemoryStore struct {
	mu       sync.Mutex
	users    map[string]User // by email
	creds    map[string]string
	bindings map[bindingKey]Binding
}

type bindingKey struct{ tenant, external string }

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    map[string]User{},
		creds:    map[string]string{},
		bindings: map[bindingKey]Binding{},
	}
}

func (m *MemoryStore) FindUserByEmail(_ context.Context, email string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[email]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (m *MemoryStore) CreateUser(_ context.Context, email, credentialHash string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[email]; ok {
		return u, nil
	}
	u := User{ID: uuid.NewString(), Email: email}
	m.users[email] = u
	m.creds[u.ID] = credentialHash
	return u, nil
}

func (m *MemoryStore) FindUserAppBinding(_ context.Context, externalUserID, tenantID string) (Binding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bindings[bindingKey{tenantID, externalUserID}]
	if !ok {
		return Binding{}, ErrNotFound
	}
	return b, nil
}

func (m *MemoryStore) CreateUserAppBinding(_ context.Context, b Binding) (Binding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := bindingKey{b.TenantID, b.ExternalUserID}
	if existing, ok := m.bindings[k]; ok {
		return existing, nil
	}
	m.bindings[k] = b
	return b, nil
}

// Counts reports how many users and bindings exist.
func (m *MemoryStore) Counts() (users, bindings int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users), len(m.bindings)
}

// CredentialHash returns the stored credential hash for a user id.
func (m *MemoryStore) CredentialHash(userID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creds[userID]
}
