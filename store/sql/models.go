package sqlstore

import (
	"strings"
	"time"

	"github.com/goliatone/go-connectors/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type configurationRecord struct {
	bun.BaseModel `bun:"table:connector_configurations,alias:cc"`

	ID          string         `bun:"id,pk"`
	Name        string         `bun:"name,notnull"`
	TypeName    string         `bun:"type_name,notnull"`
	Description string         `bun:"description,notnull"`
	Section     map[string]any `bun:"section,type:jsonb,notnull"`
	CreatedAt   time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt   time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
	DeletedAt   *time.Time     `bun:"deleted_at,soft_delete"`
}

// StoredConfiguration is a configuration section persisted under an
// identifier and a unique name.
type StoredConfiguration struct {
	ID          string
	Name        string
	Description string
	Section     core.RawConfig
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TypeName reads the discriminator from the stored section.
func (c StoredConfiguration) TypeName() string {
	return c.Section.TypeName()
}

func newConfigurationRecord(in StoredConfiguration, now time.Time) *configurationRecord {
	return &configurationRecord{
		ID:          strings.TrimSpace(in.ID),
		Name:        normalizeName(in.Name),
		TypeName:    in.Section.TypeName(),
		Description: strings.TrimSpace(in.Description),
		Section:     in.Section.Clone(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (r *configurationRecord) toDomain() StoredConfiguration {
	if r == nil {
		return StoredConfiguration{}
	}
	return StoredConfiguration{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Section:     core.RawConfig(r.Section).Clone(),
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// configurationHandlers teaches go-repository-bun how to identify rows. The
// natural identifier is the normalized name.
func configurationHandlers() repository.ModelHandlers[*configurationRecord] {
	return repository.ModelHandlers[*configurationRecord]{
		NewRecord: func() *configurationRecord { return &configurationRecord{} },
		GetID: func(r *configurationRecord) uuid.UUID {
			if r == nil {
				return uuid.Nil
			}
			id, err := uuid.Parse(strings.TrimSpace(r.ID))
			if err != nil {
				return uuid.Nil
			}
			return id
		},
		SetID: func(r *configurationRecord, id uuid.UUID) {
			if r != nil {
				r.ID = id.String()
			}
		},
		GetIdentifier: func() string { return "name" },
		GetIdentifierValue: func(r *configurationRecord) string {
			if r == nil {
				return ""
			}
			return normalizeName(r.Name)
		},
	}
}
