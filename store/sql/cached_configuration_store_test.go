package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-connectors/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

type stubConfigurationRepository struct {
	mu       sync.Mutex
	rows     map[string]StoredConfiguration
	getCalls int
	saveErr  error
}

func newStubConfigurationRepository(rows ...StoredConfiguration) *stubConfigurationRepository {
	stub := &stubConfigurationRepository{rows: map[string]StoredConfiguration{}}
	for _, row := range rows {
		stub.rows[row.ID] = cloneStoredConfiguration(row)
	}
	return stub
}

func (s *stubConfigurationRepository) Get(_ context.Context, id string) (StoredConfiguration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls++
	row, ok := s.rows[id]
	if !ok {
		return StoredConfiguration{}, fmt.Errorf("%w: id %q", core.ErrSectionNotFound, id)
	}
	return cloneStoredConfiguration(row), nil
}

func (s *stubConfigurationRepository) GetByName(_ context.Context, name string) (StoredConfiguration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls++
	for _, row := range s.rows {
		if row.Name == name {
			return cloneStoredConfiguration(row), nil
		}
	}
	return StoredConfiguration{}, fmt.Errorf("%w: name %q", core.ErrSectionNotFound, name)
}

func (s *stubConfigurationRepository) Save(_ context.Context, in StoredConfiguration) (StoredConfiguration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return StoredConfiguration{}, s.saveErr
	}
	in.Name = normalizeName(in.Name)
	s.rows[in.ID] = cloneStoredConfiguration(in)
	return in, nil
}

func (s *stubConfigurationRepository) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[id]; !ok {
		return fmt.Errorf("%w: id %q", core.ErrSectionNotFound, id)
	}
	delete(s.rows, id)
	return nil
}

func (s *stubConfigurationRepository) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getCalls
}

func TestCachedConfigurationStore_MissFetchThenHit(t *testing.T) {
	base := newStubConfigurationRepository(StoredConfiguration{
		ID:      "cfg-1",
		Name:    "primary",
		Section: core.RawConfig{"typeName": "sql", "connectionString": "file::memory:"},
	})
	store, err := NewCachedConfigurationStore(base, newTestConfigurationCacheService(t))
	if err != nil {
		t.Fatalf("new cached store: %v", err)
	}
	ctx := context.Background()

	for range 2 {
		section, err := store.GetByID(ctx, "cfg-1")
		if err != nil {
			t.Fatalf("get by id: %v", err)
		}
		if section.TypeName() != "sql" {
			t.Fatalf("unexpected section %#v", section)
		}
	}
	if base.calls() != 1 {
		t.Fatalf("expected one base fetch for repeated id reads, got %d", base.calls())
	}

	if _, err := store.GetSection(ctx, " PRIMARY "); err != nil {
		t.Fatalf("get section: %v", err)
	}
	if _, err := store.GetSection(ctx, "primary"); err != nil {
		t.Fatalf("get section again: %v", err)
	}
	if base.calls() != 2 {
		t.Fatalf("expected name reads to share one normalized key, got %d base calls", base.calls())
	}
}

func TestCachedConfigurationStore_ReturnedSectionsDoNotAliasCache(t *testing.T) {
	base := newStubConfigurationRepository(StoredConfiguration{
		ID: "cfg-1", Name: "primary", Section: core.RawConfig{"typeName": "sql"},
	})
	store, err := NewCachedConfigurationStore(base, newTestConfigurationCacheService(t))
	if err != nil {
		t.Fatalf("new cached store: %v", err)
	}
	ctx := context.Background()

	first, err := store.GetByID(ctx, "cfg-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	first["typeName"] = "mutated"

	second, err := store.GetByID(ctx, "cfg-1")
	if err != nil {
		t.Fatalf("get again: %v", err)
	}
	if second.TypeName() != "sql" {
		t.Fatalf("expected cached section to be isolated from caller mutation, got %#v", second)
	}
}

func TestCachedConfigurationStore_SaveInvalidatesIDAndBothNames(t *testing.T) {
	base := newStubConfigurationRepository(StoredConfiguration{
		ID: "cfg-1", Name: "old", Section: core.RawConfig{"typeName": "rest", "connectionString": "https://a.test"},
	})
	store, err := NewCachedConfigurationStore(base, newTestConfigurationCacheService(t))
	if err != nil {
		t.Fatalf("new cached store: %v", err)
	}
	ctx := context.Background()

	if _, err := store.GetByID(ctx, "cfg-1"); err != nil {
		t.Fatalf("warm id: %v", err)
	}
	if _, err := store.GetSection(ctx, "old"); err != nil {
		t.Fatalf("warm name: %v", err)
	}

	if _, err := store.Save(ctx, StoredConfiguration{
		ID: "cfg-1", Name: "new", Section: core.RawConfig{"typeName": "rest", "connectionString": "https://b.test"},
	}); err != nil {
		t.Fatalf("save: %v", err)
	}

	section, err := store.GetByID(ctx, "cfg-1")
	if err != nil {
		t.Fatalf("get after save: %v", err)
	}
	if section["connectionString"] != "https://b.test" {
		t.Fatalf("expected fresh section after save, got %#v", section)
	}
	if _, err := store.GetSection(ctx, "old"); !errors.Is(err, core.ErrSectionNotFound) {
		t.Fatalf("expected replaced name to miss after save, got %v", err)
	}
}

func TestCachedConfigurationStore_DeleteInvalidates(t *testing.T) {
	base := newStubConfigurationRepository(StoredConfiguration{
		ID: "cfg-1", Name: "primary", Section: core.RawConfig{"typeName": "sql"},
	})
	store, err := NewCachedConfigurationStore(base, newTestConfigurationCacheService(t))
	if err != nil {
		t.Fatalf("new cached store: %v", err)
	}
	ctx := context.Background()

	if _, err := store.GetSection(ctx, "primary"); err != nil {
		t.Fatalf("warm: %v", err)
	}
	if err := store.Delete(ctx, "cfg-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.GetSection(ctx, "primary"); !errors.Is(err, core.ErrSectionNotFound) {
		t.Fatalf("expected deleted name to miss, got %v", err)
	}
}

func TestCachedConfigurationStore_SaveErrorKeepsCache(t *testing.T) {
	base := newStubConfigurationRepository(StoredConfiguration{
		ID: "cfg-1", Name: "primary", Section: core.RawConfig{"typeName": "sql"},
	})
	base.saveErr = errors.New("disk full")
	store, err := NewCachedConfigurationStore(base, newTestConfigurationCacheService(t))
	if err != nil {
		t.Fatalf("new cached store: %v", err)
	}
	if _, err := store.Save(context.Background(), StoredConfiguration{ID: "cfg-1", Name: "primary"}); err == nil {
		t.Fatalf("expected save error to propagate")
	}
}

func TestNewCachedConfigurationStore_RequiresDependencies(t *testing.T) {
	if _, err := NewCachedConfigurationStore(nil, newTestConfigurationCacheService(t)); err == nil {
		t.Fatalf("expected error without base store")
	}
	if _, err := NewCachedConfigurationStore(newStubConfigurationRepository(), nil); err == nil {
		t.Fatalf("expected error without cache service")
	}
}

func TestConfigurationCacheKey_EscapesValues(t *testing.T) {
	got := ConfigurationCacheKey("name", "team a/b")
	want := "go-connectors::configuration::v1::name::team%20a%2Fb"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func newTestConfigurationCacheService(t *testing.T) repositorycache.CacheService {
	t.Helper()
	config := repositorycache.DefaultConfig()
	config.TTL = time.Minute
	service, err := repositorycache.NewCacheService(config)
	if err != nil {
		t.Fatalf("new cache service: %v", err)
	}
	return service
}
