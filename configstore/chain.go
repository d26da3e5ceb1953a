package configstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/goliatone/go-connectors/core"
)

// ChainStore returns the section from the first store that has it. Errors
// other than a missing section stop the lookup.
type ChainStore struct {
	stores []core.ConfigStore
}

func Chain(stores ...core.ConfigStore) *ChainStore {
	chain := &ChainStore{}
	for _, store := range stores {
		if store != nil {
			chain.stores = append(chain.stores, store)
		}
	}
	return chain
}

func (c *ChainStore) GetSection(ctx context.Context, name string) (core.RawConfig, error) {
	for _, store := range c.stores {
		section, err := store.GetSection(ctx, name)
		if err == nil {
			return section, nil
		}
		if !errors.Is(err, core.ErrSectionNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %q", core.ErrSectionNotFound, name)
}

var (
	_ core.ConfigStore = (*ViperStore)(nil)
	_ core.ConfigStore = (*StaticStore)(nil)
	_ core.ConfigStore = (*ChainStore)(nil)
)
