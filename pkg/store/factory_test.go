package store

import (
	"testing"
)

func TestParseStoreType(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected StoreType
	}{
		{name: "memory lowercase", input: "memory", expected: StoreTypeMemory},
		{name: "memory uppercase", input: "MEMORY", expected: StoreTypeMemory},
		{name: "redis lowercase", input: "redis", expected: StoreTypeRedis},
		{name: "redis mixed case with spaces", input: " ReDiS ", expected: StoreTypeRedis},
		{name: "invalid input returns memory", input: "invalid", expected: StoreTypeMemory},
		{name: "empty input returns memory", input: "", expected: StoreTypeMemory},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseStoreType(tt.input); got != tt.expected {
				t.Errorf("ParseStoreType(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestStoreType_IsValid(t *testing.T) {
	if !StoreTypeMemory.IsValid() || !StoreTypeRedis.IsValid() {
		t.Error("memory and redis should be valid")
	}
	if StoreType("sqlite").IsValid() {
		t.Error("sqlite should not be valid")
	}
}

func TestFactory_Create_Memory(t *testing.T) {
	store, err := NewFactory(MemoryConfig()).Create()
	if err != nil {
		t.Fatalf("Factory.Create() error = %v, want nil", err)
	}
	if _, ok := store.(*MemoryStore); !ok {
		t.Errorf("Factory.Create() returned %T, want *MemoryStore", store)
	}
}

func TestFactory_Create_Redis(t *testing.T) {
	url := setupRedisContainer(t)

	store, err := NewFactory(RedisConfig(RedisOptions{URL: url})).Create()
	if err != nil {
		t.Skipf("Redis not available, skipping test: %v", err)
	}

	redisStore, ok := store.(*RedisStore)
	if !ok {
		t.Fatalf("Factory.Create() returned %T, want *RedisStore", store)
	}
	redisStore.Close()
}

func TestFactory_Create_InvalidType(t *testing.T) {
	store, err := NewFactory(Config{Type: StoreType("invalid")}).Create()
	if err == nil {
		t.Error("Factory.Create() with invalid type should return error")
	}
	if store != nil {
		t.Error("Factory.Create() with invalid type should return nil store")
	}
}

func TestFactory_Create_RedisBadURL(t *testing.T) {
	store, err := NewStore(RedisConfig(RedisOptions{URL: "http://not-redis"}))
	if err == nil {
		t.Error("NewStore() with bad redis url should return error")
	}
	if store != nil {
		t.Errorf("NewStore() returned %T, want untyped nil", store)
	}
}
