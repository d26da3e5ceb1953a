package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-connectors/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ConfigurationStore persists configuration sections. It serves resolution by
// identifier (GetByID) and by name (GetSection).
type ConfigurationStore struct {
	db   *bun.DB
	repo repository.Repository[*configurationRecord]
	now  func() time.Time
}

func NewConfigurationStore(db *bun.DB) (*ConfigurationStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*configurationRecord](db, configurationHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid configuration repository wiring: %w", err)
		}
	}
	return &ConfigurationStore{
		db:   db,
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

// GetByID returns the section stored under id, or an error wrapping
// core.ErrSectionNotFound.
func (s *ConfigurationStore) GetByID(ctx context.Context, id string) (core.RawConfig, error) {
	stored, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return stored.Section, nil
}

// GetSection returns the section stored under name. Names match
// case-insensitively.
func (s *ConfigurationStore) GetSection(ctx context.Context, name string) (core.RawConfig, error) {
	stored, err := s.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}
	return stored.Section, nil
}

func (s *ConfigurationStore) Get(ctx context.Context, id string) (StoredConfiguration, error) {
	if s == nil || s.db == nil {
		return StoredConfiguration{}, fmt.Errorf("sqlstore: configuration store is not configured")
	}
	record, err := s.find(ctx, "id", strings.TrimSpace(id))
	if err != nil {
		return StoredConfiguration{}, err
	}
	return record.toDomain(), nil
}

func (s *ConfigurationStore) GetByName(ctx context.Context, name string) (StoredConfiguration, error) {
	if s == nil || s.db == nil {
		return StoredConfiguration{}, fmt.Errorf("sqlstore: configuration store is not configured")
	}
	record, err := s.find(ctx, "name", normalizeName(name))
	if err != nil {
		return StoredConfiguration{}, err
	}
	return record.toDomain(), nil
}

// Save inserts in, or replaces the stored row when in.ID already exists. A
// blank ID gets a fresh UUID. Names are unique across live rows.
func (s *ConfigurationStore) Save(ctx context.Context, in StoredConfiguration) (StoredConfiguration, error) {
	if s == nil || s.repo == nil {
		return StoredConfiguration{}, fmt.Errorf("sqlstore: configuration store is not configured")
	}
	name := normalizeName(in.Name)
	if name == "" {
		return StoredConfiguration{}, core.NewError(core.ErrorKindValidation, "sqlstore: configuration name is required", nil)
	}
	if in.Section.TypeName() == "" {
		return StoredConfiguration{}, core.NewError(core.ErrorKindValidation,
			fmt.Sprintf("sqlstore: configuration %q declares no typeName", name),
			map[string]any{"config_name": name})
	}

	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = uuid.NewString()
	}
	if clash, err := s.find(ctx, "name", name); err == nil && clash.ID != id {
		return StoredConfiguration{}, core.NewError(core.ErrorKindDuplicate,
			fmt.Sprintf("sqlstore: configuration name %q is already used", name),
			map[string]any{"config_name": name, "config_id": clash.ID})
	} else if err != nil && !errors.Is(err, core.ErrSectionNotFound) {
		return StoredConfiguration{}, err
	}

	now := s.now()
	current, err := s.find(ctx, "id", id)
	switch {
	case err == nil:
		current.Name = name
		current.TypeName = in.Section.TypeName()
		current.Description = strings.TrimSpace(in.Description)
		current.Section = in.Section.Clone()
		current.UpdatedAt = now
		updated, updateErr := s.repo.Update(ctx, current, repository.UpdateByID(id))
		if updateErr != nil {
			return StoredConfiguration{}, updateErr
		}
		return updated.toDomain(), nil
	case errors.Is(err, core.ErrSectionNotFound):
		in.ID = id
		created, createErr := s.repo.Create(ctx, newConfigurationRecord(in, now))
		if createErr != nil {
			return StoredConfiguration{}, createErr
		}
		return created.toDomain(), nil
	default:
		return StoredConfiguration{}, err
	}
}

// List returns live configurations ordered by name. A non-empty typeName
// narrows the listing to one connector type.
func (s *ConfigurationStore) List(ctx context.Context, typeName string) ([]StoredConfiguration, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: configuration store is not configured")
	}
	criteria := []repository.SelectCriteria{repository.OrderBy("name ASC")}
	if trimmed := strings.TrimSpace(typeName); trimmed != "" {
		criteria = append(criteria, repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("LOWER(?TableAlias.type_name) = ?", strings.ToLower(trimmed))
		}))
	}
	records, _, err := s.repo.List(ctx, criteria...)
	if err != nil {
		return nil, err
	}
	out := make([]StoredConfiguration, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

// Delete soft-deletes the row. Deleted rows no longer resolve and free their
// name.
func (s *ConfigurationStore) Delete(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: configuration store is not configured")
	}
	trimmed := strings.TrimSpace(id)
	res, err := s.db.NewDelete().
		Model((*configurationRecord)(nil)).
		Where("id = ?", trimmed).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("%w: id %q", core.ErrSectionNotFound, trimmed)
	}
	return nil
}

func (s *ConfigurationStore) find(ctx context.Context, column, value string) (*configurationRecord, error) {
	if value == "" {
		return nil, fmt.Errorf("%w: %s is required", core.ErrSectionNotFound, column)
	}
	record := &configurationRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.? = ?", bun.Ident(column), value).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s %q", core.ErrSectionNotFound, column, value)
		}
		return nil, err
	}
	return record, nil
}
