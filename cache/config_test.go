package cache

import (
	"context"
	"testing"
	"time"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
	if cfg.TTL != 24*time.Hour {
		t.Errorf("expected a 24h TTL, got %v", cfg.TTL)
	}
}

func TestConfig_ValidateRejectsZeroCapacity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Capacity = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for zero capacity")
	}
}

func TestNewCacheService_RoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Capacity = 100
	cfg.NumShards = 4

	svc, err := NewCacheService(cfg)
	if err != nil {
		t.Fatalf("NewCacheService failed: %v", err)
	}

	ctx := context.Background()
	keys := NewDefaultKeySerializer()
	key := keys.SerializeKey("users", 1)

	if err := svc.Set(ctx, key, []byte(`{"id":1}`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	value, ok := svc.Get(ctx, key)
	if !ok {
		t.Fatal("expected value to be present")
	}
	if string(value.([]byte)) != `{"id":1}` {
		t.Errorf("unexpected value %q", value)
	}

	got := svc.Keys(ctx, keys.TablePrefix("users"))
	if len(got) != 1 || got[0] != key {
		t.Errorf("expected [%s], got %v", key, got)
	}
}

func TestNewCacheService_InvalidConfig(t *testing.T) {
	_, err := NewCacheService(Config{})
	if err == nil {
		t.Fatal("expected error for empty config")
	}
}
