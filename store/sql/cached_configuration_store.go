package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/goliatone/go-connectors/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const configurationCacheKeyPrefix = "go-connectors::configuration::v1"

// ConfigurationRepository is the store contract the cache decorates.
type ConfigurationRepository interface {
	Get(ctx context.Context, id string) (StoredConfiguration, error)
	GetByName(ctx context.Context, name string) (StoredConfiguration, error)
	Save(ctx context.Context, in StoredConfiguration) (StoredConfiguration, error)
	Delete(ctx context.Context, id string) error
}

// CachedConfigurationStore is a read-through cache of stored sections. It
// caches configuration data only; every resolution still builds a new
// instance.
type CachedConfigurationStore struct {
	base  ConfigurationRepository
	cache repositorycache.CacheService
}

func NewCachedConfigurationStore(
	base ConfigurationRepository,
	cacheService repositorycache.CacheService,
) (*CachedConfigurationStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base configuration store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: configuration cache service is required")
	}
	return &CachedConfigurationStore{base: base, cache: cacheService}, nil
}

// ConfigurationCacheKey returns go-connectors::configuration::v1::<field>::<value>
// with the value URL-path escaped.
func ConfigurationCacheKey(field, value string) string {
	return strings.Join([]string{configurationCacheKeyPrefix, field, url.PathEscape(value)}, "::")
}

func (s *CachedConfigurationStore) GetByID(ctx context.Context, id string) (core.RawConfig, error) {
	stored, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return stored.Section, nil
}

func (s *CachedConfigurationStore) GetSection(ctx context.Context, name string) (core.RawConfig, error) {
	stored, err := s.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}
	return stored.Section, nil
}

func (s *CachedConfigurationStore) Get(ctx context.Context, id string) (StoredConfiguration, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return StoredConfiguration{}, fmt.Errorf("sqlstore: cached configuration store is not configured")
	}
	trimmed := strings.TrimSpace(id)
	return s.fetch(ctx, ConfigurationCacheKey("id", trimmed), func(ctx context.Context) (StoredConfiguration, error) {
		return s.base.Get(ctx, trimmed)
	})
}

func (s *CachedConfigurationStore) GetByName(ctx context.Context, name string) (StoredConfiguration, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return StoredConfiguration{}, fmt.Errorf("sqlstore: cached configuration store is not configured")
	}
	normalized := normalizeName(name)
	return s.fetch(ctx, ConfigurationCacheKey("name", normalized), func(ctx context.Context) (StoredConfiguration, error) {
		return s.base.GetByName(ctx, normalized)
	})
}

// Save writes through and drops the entries for the saved id, its new name
// and the name it replaced.
func (s *CachedConfigurationStore) Save(ctx context.Context, in StoredConfiguration) (StoredConfiguration, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return StoredConfiguration{}, fmt.Errorf("sqlstore: cached configuration store is not configured")
	}
	var previousName string
	if id := strings.TrimSpace(in.ID); id != "" {
		if previous, err := s.base.Get(ctx, id); err == nil {
			previousName = previous.Name
		}
	}
	saved, err := s.base.Save(ctx, in)
	if err != nil {
		return StoredConfiguration{}, err
	}
	if err := s.invalidate(ctx, saved.ID, saved.Name, previousName); err != nil {
		return StoredConfiguration{}, err
	}
	return cloneStoredConfiguration(saved), nil
}

func (s *CachedConfigurationStore) Delete(ctx context.Context, id string) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached configuration store is not configured")
	}
	trimmed := strings.TrimSpace(id)
	var name string
	if previous, err := s.base.Get(ctx, trimmed); err == nil {
		name = previous.Name
	}
	if err := s.base.Delete(ctx, trimmed); err != nil {
		return err
	}
	return s.invalidate(ctx, trimmed, name)
}

func (s *CachedConfigurationStore) fetch(
	ctx context.Context,
	key string,
	load func(context.Context) (StoredConfiguration, error),
) (StoredConfiguration, error) {
	stored, err := repositorycache.GetOrFetch(ctx, s.cache, key, func(ctx context.Context) (StoredConfiguration, error) {
		fetched, fetchErr := load(ctx)
		if fetchErr != nil {
			return StoredConfiguration{}, fetchErr
		}
		return cloneStoredConfiguration(fetched), nil
	})
	if err != nil {
		return StoredConfiguration{}, err
	}
	return cloneStoredConfiguration(stored), nil
}

func (s *CachedConfigurationStore) invalidate(ctx context.Context, id string, names ...string) error {
	keys := []string{ConfigurationCacheKey("id", id)}
	for _, name := range names {
		if normalized := normalizeName(name); normalized != "" {
			keys = append(keys, ConfigurationCacheKey("name", normalized))
		}
	}
	for _, key := range keys {
		if err := s.cache.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func cloneStoredConfiguration(in StoredConfiguration) StoredConfiguration {
	out := in
	out.Section = in.Section.Clone()
	return out
}
