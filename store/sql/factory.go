package sqlstore

import (
	"fmt"

	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/uptrace/bun"
)

// RepositoryFactory owns the bun handle the stores share.
type RepositoryFactory struct {
	db             *bun.DB
	configurations *ConfigurationStore
}

func NewRepositoryFactory() *RepositoryFactory {
	return &RepositoryFactory{}
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client) (*RepositoryFactory, error) {
	if client == nil {
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	}
	return newBuiltFactory(client)
}

func NewRepositoryFactoryFromDB(db *bun.DB) (*RepositoryFactory, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return newBuiltFactory(db)
}

func newBuiltFactory(source any) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.BuildStores(source); err != nil {
		return nil, err
	}
	return factory, nil
}

// BuildStores takes a *bun.DB or any value with a DB() *bun.DB method, such
// as *persistence.Client. Calling it again is a no-op.
func (f *RepositoryFactory) BuildStores(source any) error {
	if f == nil {
		return fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.configurations != nil {
		return nil
	}
	if f.db == nil {
		var db *bun.DB
		switch typed := source.(type) {
		case *bun.DB:
			db = typed
		case interface{ DB() *bun.DB }:
			db = typed.DB()
		default:
			return fmt.Errorf("sqlstore: cannot take a bun db from %T", source)
		}
		if db == nil {
			return fmt.Errorf("sqlstore: %T has no bun db", source)
		}
		f.db = db
	}

	configurations, err := NewConfigurationStore(f.db)
	if err != nil {
		return err
	}
	f.configurations = configurations
	return nil
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) ConfigurationStore() *ConfigurationStore {
	if f == nil {
		return nil
	}
	return f.configurations
}

// CachedConfigurationStore puts cacheService in front of the configuration
// store.
func (f *RepositoryFactory) CachedConfigurationStore(cacheService repositorycache.CacheService) (*CachedConfigurationStore, error) {
	if f.ConfigurationStore() == nil {
		return nil, fmt.Errorf("sqlstore: stores are not built")
	}
	return NewCachedConfigurationStore(f.configurations, cacheService)
}
