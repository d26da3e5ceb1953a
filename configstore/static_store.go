package configstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-connectors/core"
)

// StaticStore keeps sections in memory. Names match case-insensitively.
type StaticStore struct {
	mu       sync.RWMutex
	sections map[string]core.RawConfig
}

func NewStaticStore(sections map[string]core.RawConfig) *StaticStore {
	store := &StaticStore{sections: make(map[string]core.RawConfig, len(sections))}
	for name, section := range sections {
		store.sections[normalizeName(name)] = section.Clone()
	}
	return store
}

func (s *StaticStore) GetSection(_ context.Context, name string) (core.RawConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	section, ok := s.sections[normalizeName(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrSectionNotFound, name)
	}
	return section.Clone(), nil
}

func (s *StaticStore) Set(name string, section core.RawConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sections[normalizeName(name)] = section.Clone()
}

func (s *StaticStore) Delete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sections, normalizeName(name))
}

func (s *StaticStore) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.sections))
	for name := range s.sections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
