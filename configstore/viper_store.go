// Package configstore provides named configuration section stores: a viper
// store over files and environment, a static in-memory store and a chain
// that consults several stores in order.
package configstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/goliatone/go-connectors/core"
	"github.com/spf13/viper"
)

// DefaultRoot is the key under which sections are looked up.
const DefaultRoot = "connections"

// ViperStore reads sections from <root>.<name>. Viper lowercases keys; the
// binder matches fields case-insensitively.
type ViperStore struct {
	v    *viper.Viper
	root string
}

type ViperOption func(*viperOptions)

type viperOptions struct {
	root      string
	envPrefix string
}

// WithRoot changes the parent key of the sections. An empty root reads
// sections from the top level.
func WithRoot(root string) ViperOption {
	return func(o *viperOptions) {
		o.root = strings.ToLower(strings.TrimSpace(root))
	}
}

// WithEnvPrefix lets PREFIX_<ROOT>_<NAME>_<KEY> override top-level keys of a
// section.
func WithEnvPrefix(prefix string) ViperOption {
	return func(o *viperOptions) {
		o.envPrefix = strings.TrimSpace(prefix)
	}
}

func NewViperStore(v *viper.Viper, opts ...ViperOption) *ViperStore {
	options := viperOptions{root: DefaultRoot}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	if v == nil {
		v = viper.New()
	}
	if options.envPrefix != "" {
		v.SetEnvPrefix(options.envPrefix)
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
		v.AutomaticEnv()
	}
	return &ViperStore{v: v, root: options.root}
}

// LoadFile reads path (yaml, json, toml, ...) into a fresh viper instance.
func LoadFile(path string, opts ...ViperOption) (*ViperStore, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("configstore: read %s: %w", path, err)
	}
	return NewViperStore(v, opts...), nil
}

func (s *ViperStore) GetSection(ctx context.Context, name string) (core.RawConfig, error) {
	if s == nil || s.v == nil {
		return nil, errors.New("configstore: viper store is not configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := s.key(name)
	if strings.TrimSpace(name) == "" || !s.v.IsSet(key) {
		return nil, fmt.Errorf("%w: %q", core.ErrSectionNotFound, name)
	}
	section := s.v.GetStringMap(key)
	if len(section) == 0 {
		return nil, fmt.Errorf("%w: %q is not a section", core.ErrSectionNotFound, name)
	}
	raw := make(core.RawConfig, len(section))
	for field := range section {
		raw[field] = s.v.Get(key + "." + field)
	}
	return raw, nil
}

// Names lists the sections under the root, sorted.
func (s *ViperStore) Names() []string {
	if s == nil || s.v == nil {
		return nil
	}
	var sections map[string]any
	if s.root == "" {
		sections = s.v.AllSettings()
	} else {
		sections = s.v.GetStringMap(s.root)
	}
	names := make([]string, 0, len(sections))
	for name, value := range sections {
		if _, ok := value.(map[string]any); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (s *ViperStore) key(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if s.root == "" {
		return name
	}
	return s.root + "." + name
}
