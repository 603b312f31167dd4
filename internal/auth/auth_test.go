package auth

import (
	"context"
	"strings"
	"testing"
)

func TestGenerateKey(t *testing.T) {
	store := NewMemoryStore()
	mgr := NewManager(store)
	ctx := context.Background()

	rawKey, key, err := mgr.GenerateKey(ctx, "ops-agent-1", "Test key")
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}

	if !strings.HasPrefix(rawKey, "glk_") {
		t.Errorf("Expected raw key to start with glk_, got %s", rawKey[:10])
	}
	if len(rawKey) != 68 { // "glk_" + 64 hex chars
		t.Errorf("Expected raw key length 68, got %d", len(rawKey))
	}

	if !strings.HasPrefix(key.ID, "gk_") {
		t.Errorf("Expected key ID to start with gk_, got %s", key.ID)
	}
	if key.AgentID != "ops-agent-1" {
		t.Errorf("Expected agent id to match, got %s", key.AgentID)
	}
	if key.Name != "Test key" {
		t.Errorf("Expected name 'Test key', got %s", key.Name)
	}
}

func TestValidateKey(t *testing.T) {
	store := NewMemoryStore()
	mgr := NewManager(store)
	ctx := context.Background()

	rawKey, _, err := mgr.GenerateKey(ctx, "Ops-Agent-1", "Primary")
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}

	key, err := mgr.ValidateKey(ctx, rawKey)
	if err != nil {
		t.Errorf("ValidateKey failed for valid key: %v", err)
	}
	if key.AgentID != "ops-agent-1" { // lowercased
		t.Errorf("Expected agent id ops-agent-1, got %s", key.AgentID)
	}

	if _, err = mgr.ValidateKey(ctx, "Bearer "+rawKey); err != nil {
		t.Errorf("ValidateKey failed with Bearer prefix: %v", err)
	}

	_, err = mgr.ValidateKey(ctx, "glk_0000000000000000000000000000000000000000000000000000000000000000")
	if err != ErrInvalidAPIKey {
		t.Errorf("Expected ErrInvalidAPIKey for wrong key, got: %v", err)
	}

	_, err = mgr.ValidateKey(ctx, "")
	if err != ErrNoAPIKey {
		t.Errorf("Expected ErrNoAPIKey for empty key, got: %v", err)
	}

	_, err = mgr.ValidateKey(ctx, "not_a_valid_key")
	if err != ErrInvalidAPIKey {
		t.Errorf("Expected ErrInvalidAPIKey for malformed key, got: %v", err)
	}
}

func TestListKeys(t *testing.T) {
	store := NewMemoryStore()
	mgr := NewManager(store)
	ctx := context.Background()

	mgr.GenerateKey(ctx, "agent-1", "Key 1")
	mgr.GenerateKey(ctx, "agent-1", "Key 2")
	mgr.GenerateKey(ctx, "agent-2", "Key 3")

	keys, err := mgr.ListKeys(ctx, "agent-1")
	if err != nil {
		t.Fatalf("ListKeys failed: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("Expected 2 keys for agent-1, got %d", len(keys))
	}

	keys, err = mgr.ListKeys(ctx, "agent-2")
	if err != nil {
		t.Fatalf("ListKeys failed: %v", err)
	}
	if len(keys) != 1 {
		t.Errorf("Expected 1 key for agent-2, got %d", len(keys))
	}
}

func TestRevokeKey(t *testing.T) {
	store := NewMemoryStore()
	mgr := NewManager(store)
	ctx := context.Background()

	rawKey, key, _ := mgr.GenerateKey(ctx, "agent-1", "To revoke")

	if _, err := mgr.ValidateKey(ctx, rawKey); err != nil {
		t.Errorf("Key should be valid before revoke")
	}

	if err := mgr.RevokeKey(ctx, key.ID, "agent-1"); err != nil {
		t.Fatalf("RevokeKey failed: %v", err)
	}

	if _, err := mgr.ValidateKey(ctx, rawKey); err != ErrInvalidAPIKey {
		t.Errorf("Expected ErrInvalidAPIKey after revoke, got: %v", err)
	}

	if err := mgr.RevokeKey(ctx, "gk_missing", "agent-1"); err != ErrKeyNotFound {
		t.Errorf("Expected ErrKeyNotFound, got: %v", err)
	}
}

func TestKeyHashNotExposed(t *testing.T) {
	store := NewMemoryStore()
	mgr := NewManager(store)
	ctx := context.Background()

	rawKey, _, _ := mgr.GenerateKey(ctx, "agent-1", "Test")

	key, _ := mgr.ValidateKey(ctx, rawKey)

	if key.Hash == rawKey {
		t.Error("Hash should not equal raw key")
	}
	if key.Hash == "" {
		t.Error("Hash should be set")
	}
}

func TestSecretsMatch(t *testing.T) {
	if !SecretsMatch("s3cret", "s3cret") {
		t.Error("identical secrets must match")
	}
	if SecretsMatch("s3cret", "other") {
		t.Error("different secrets must not match")
	}
	if SecretsMatch("", "") {
		t.Error("empty configured secret must never match")
	}
	if SecretsMatch("anything", "") {
		t.Error("empty configured secret must never match")
	}
}
