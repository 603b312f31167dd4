// Package auth authenticates calling agents.
//
// Agents register once and receive an API key (shown once, stored hashed).
// Decision and outcome submissions require a key whose agent matches the
// request's agentId. Administrative surfaces (rules, emergency reset) are
// guarded by the shared admin secret instead, checked in constant time.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/greenlight-sh/greenlight/internal/idgen"
)

// Errors
var (
	ErrNoAPIKey      = errors.New("auth: API key required")
	ErrInvalidAPIKey = errors.New("auth: invalid or expired API key")
	ErrKeyNotFound   = errors.New("auth: API key not found")
)

// rawKeyPrefix marks raw keys on the wire; only the hash is ever stored.
const rawKeyPrefix = "glk_"

// APIKey is the stored record for one issued key.
type APIKey struct {
	ID        string     `json:"id"`
	Hash      string     `json:"-"`
	AgentID   string     `json:"agentId"`
	Name      string     `json:"name"`
	CreatedAt time.Time  `json:"createdAt"`
	LastUsed  time.Time  `json:"lastUsed,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Revoked   bool       `json:"revoked"`
}

// Store persists API keys.
type Store interface {
	Create(ctx context.Context, key *APIKey) error
	GetByHash(ctx context.Context, hash string) (*APIKey, error)
	GetByAgent(ctx context.Context, agentID string) ([]*APIKey, error)
	Update(ctx context.Context, key *APIKey) error
	Delete(ctx context.Context, id string) error
}

// Manager issues and validates API keys.
type Manager struct {
	store Store
}

// NewManager creates an auth manager over the given store.
func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// GenerateKey issues a new API key for an agent. The raw key is returned
// exactly once; only its hash is persisted.
func (m *Manager) GenerateKey(ctx context.Context, agentID, name string) (rawKey string, key *APIKey, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", nil, err
	}
	rawKey = rawKeyPrefix + hex.EncodeToString(b)

	key = &APIKey{
		ID:        idgen.WithPrefix("gk_"),
		Hash:      hashKey(rawKey),
		AgentID:   strings.ToLower(agentID),
		Name:      name,
		CreatedAt: time.Now(),
	}
	if err := m.store.Create(ctx, key); err != nil {
		return "", nil, err
	}
	return rawKey, key, nil
}

// ValidateKey resolves a raw key (with or without a Bearer prefix) to its
// stored record, rejecting revoked and expired keys.
func (m *Manager) ValidateKey(ctx context.Context, rawKey string) (*APIKey, error) {
	if rawKey == "" {
		return nil, ErrNoAPIKey
	}
	rawKey = strings.TrimSpace(strings.TrimPrefix(rawKey, "Bearer "))
	if !strings.HasPrefix(rawKey, rawKeyPrefix) {
		return nil, ErrInvalidAPIKey
	}

	key, err := m.store.GetByHash(ctx, hashKey(rawKey))
	if err != nil {
		return nil, ErrInvalidAPIKey
	}
	if key.Revoked {
		return nil, ErrInvalidAPIKey
	}
	if key.ExpiresAt != nil && time.Now().After(*key.ExpiresAt) {
		return nil, ErrInvalidAPIKey
	}

	// Last-used is advisory; do not block the request on it.
	go func() {
		key.LastUsed = time.Now()
		_ = m.store.Update(context.Background(), key)
	}()

	return key, nil
}

// ListKeys returns every key issued to an agent.
func (m *Manager) ListKeys(ctx context.Context, agentID string) ([]*APIKey, error) {
	return m.store.GetByAgent(ctx, strings.ToLower(agentID))
}

// RevokeKey revokes one of an agent's keys.
func (m *Manager) RevokeKey(ctx context.Context, keyID, agentID string) error {
	keys, err := m.store.GetByAgent(ctx, strings.ToLower(agentID))
	if err != nil {
		return err
	}
	for _, k := range keys {
		if k.ID == keyID {
			k.Revoked = true
			return m.store.Update(ctx, k)
		}
	}
	return ErrKeyNotFound
}

func hashKey(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// SecretsMatch compares a presented admin secret against the configured one
// without leaking timing. An empty configured secret never matches.
func SecretsMatch(presented, configured string) bool {
	if configured == "" {
		return false
	}
	a := sha256.Sum256([]byte(presented))
	b := sha256.Sum256([]byte(configured))
	return hmac.Equal(a[:], b[:])
}

// MemoryStore is an in-memory Store for demo/test use.
type MemoryStore struct {
	mu   sync.RWMutex
	keys map[string]*APIKey
}

// NewMemoryStore creates an in-memory key store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[string]*APIKey)}
}

func (s *MemoryStore) Create(ctx context.Context, key *APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key.ID] = key
	return nil
}

func (s *MemoryStore) GetByHash(ctx context.Context, hash string) (*APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range s.keys {
		if k.Hash == hash {
			return k, nil
		}
	}
	return nil, ErrKeyNotFound
}

func (s *MemoryStore) GetByAgent(ctx context.Context, agentID string) ([]*APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*APIKey
	for _, k := range s.keys {
		if strings.EqualFold(k.AgentID, agentID) {
			result = append(result, k)
		}
	}
	return result, nil
}

func (s *MemoryStore) Update(ctx context.Context, key *APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key.ID] = key
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, id)
	return nil
}

var _ Store = (*MemoryStore)(nil)
