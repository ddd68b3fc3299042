package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/zhangyw0810/llamatalk/internal/models"
)

// MemoryStore is an in-process UserStore used in tests and local runs
// without a database.
type MemoryStore struct {
	mu           sync.RWMutex
	usersByID    map[string]*models.User
	usersByName  map[string]*models.User
	usersByEmail map[string]*models.User
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		usersByID:    make(map[string]*models.User),
		usersByName:  make(map[string]*models.User),
		usersByEmail: make(map[string]*models.User),
	}
}

func (m *MemoryStore) CreateUser(ctx context.Context, user *models.User) error {
	_ = ctx

	usernameKey := strings.ToLower(user.Username)
	emailKey := normalizeEmail(user.Email)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.usersByName[usernameKey]; exists {
		return ErrUserExists
	}
	if emailKey != "" {
		if _, exists := m.usersByEmail[emailKey]; exists {
			return ErrEmailExists
		}
	}

	clone := *user
	m.usersByID[user.ID] = &clone
	m.usersByName[usernameKey] = &clone
	if emailKey != "" {
		m.usersByEmail[emailKey] = &clone
	}

	return nil
}

func (m *MemoryStore) FindByIdentifier(ctx context.Context, identifier string) (*models.User, error) {
	_ = ctx

	m.mu.RLock()
	defer m.mu.RUnlock()

	if user, ok := m.usersByName[strings.ToLower(identifier)]; ok {
		clone := *user
		return &clone, nil
	}
	if user, ok := m.usersByEmail[normalizeEmail(identifier)]; ok {
		clone := *user
		return &clone, nil
	}

	return nil, ErrUserNotFound
}

func (m *MemoryStore) TouchUser(ctx context.Context, id string, at time.Time) error {
	_ = ctx

	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.usersByID[id]
	if !ok {
		return ErrUserNotFound
	}
	user.UpdatedAt = at

	return nil
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}
