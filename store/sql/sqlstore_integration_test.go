package sqlstore_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	connectors "github.com/goliatone/go-connectors"
	"github.com/goliatone/go-connectors/connectors/secretconn"
	"github.com/goliatone/go-connectors/core"
	connectormigrations "github.com/goliatone/go-connectors/migrations"
	sqlstore "github.com/goliatone/go-connectors/store/sql"
	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

type testPersistenceConfig struct {
	driver string
	server string
}

func (c testPersistenceConfig) GetDebug() bool {
	return false
}

func (c testPersistenceConfig) GetDriver() string {
	return c.driver
}

func (c testPersistenceConfig) GetServer() string {
	return c.server
}

func (c testPersistenceConfig) GetPingTimeout() time.Duration {
	return time.Second
}

func (c testPersistenceConfig) GetOtelIdentifier() string {
	return "go-connectors-tests"
}

func TestConfigurationStore_SaveAndResolveByIDAndName(t *testing.T) {
	store := newConfigurationStore(t)
	ctx := context.Background()

	saved, err := store.Save(ctx, sqlstore.StoredConfiguration{
		Name:        " Primary ",
		Description: "reporting database",
		Section: core.RawConfig{
			"typeName":         "sql",
			"connectionString": "file::memory:",
			"maxOpenConns":     2,
		},
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.ID == "" || saved.Name != "primary" {
		t.Fatalf("expected generated id and normalized name, got %+v", saved)
	}
	if saved.TypeName() != "sql" {
		t.Fatalf("expected sql type name, got %q", saved.TypeName())
	}

	byID, err := store.GetByID(ctx, saved.ID)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if byID["connectionString"] != "file::memory:" {
		t.Fatalf("unexpected section %#v", byID)
	}

	byName, err := store.GetSection(ctx, "PRIMARY")
	if err != nil {
		t.Fatalf("get section: %v", err)
	}
	if byName.TypeName() != "sql" {
		t.Fatalf("expected section from name lookup, got %#v", byName)
	}
}

func TestConfigurationStore_MissingRowsWrapSectionNotFound(t *testing.T) {
	store := newConfigurationStore(t)
	ctx := context.Background()

	if _, err := store.GetByID(ctx, "7d4a2b8e-0000-4000-8000-000000000000"); !errors.Is(err, core.ErrSectionNotFound) {
		t.Fatalf("expected ErrSectionNotFound for unknown id, got %v", err)
	}
	if _, err := store.GetSection(ctx, "nope"); !errors.Is(err, core.ErrSectionNotFound) {
		t.Fatalf("expected ErrSectionNotFound for unknown name, got %v", err)
	}
	if err := store.Delete(ctx, "missing"); !errors.Is(err, core.ErrSectionNotFound) {
		t.Fatalf("expected ErrSectionNotFound deleting unknown id, got %v", err)
	}
}

func TestConfigurationStore_SaveValidatesAndRejectsDuplicateNames(t *testing.T) {
	store := newConfigurationStore(t)
	ctx := context.Background()

	if _, err := store.Save(ctx, sqlstore.StoredConfiguration{Section: core.RawConfig{"typeName": "sql"}}); !core.IsKind(err, core.ErrorKindValidation) {
		t.Fatalf("expected validation error for blank name, got %v", err)
	}
	if _, err := store.Save(ctx, sqlstore.StoredConfiguration{Name: "x", Section: core.RawConfig{}}); !core.IsKind(err, core.ErrorKindValidation) {
		t.Fatalf("expected validation error for missing typeName, got %v", err)
	}

	if _, err := store.Save(ctx, sqlstore.StoredConfiguration{Name: "api", Section: core.RawConfig{"typeName": "rest"}}); err != nil {
		t.Fatalf("save api: %v", err)
	}
	_, err := store.Save(ctx, sqlstore.StoredConfiguration{Name: "API", Section: core.RawConfig{"typeName": "rest"}})
	if !core.IsKind(err, core.ErrorKindDuplicate) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestConfigurationStore_SaveWithIDReplacesRow(t *testing.T) {
	store := newConfigurationStore(t)
	ctx := context.Background()

	first, err := store.Save(ctx, sqlstore.StoredConfiguration{Name: "vault", Section: core.RawConfig{"typeName": "appkey-secrets"}})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	second, err := store.Save(ctx, sqlstore.StoredConfiguration{
		ID:      first.ID,
		Name:    "vault-v2",
		Section: core.RawConfig{"typeName": "appkey-secrets", "active": map[string]any{"keyId": "k2"}},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if second.ID != first.ID || second.Name != "vault-v2" {
		t.Fatalf("expected same id with new name, got %+v", second)
	}
	if _, err := store.GetSection(ctx, "vault"); !errors.Is(err, core.ErrSectionNotFound) {
		t.Fatalf("expected old name to be released, got %v", err)
	}

	listed, err := store.List(ctx, "APPKEY-SECRETS")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 1 || listed[0].Name != "vault-v2" {
		t.Fatalf("unexpected listing %+v", listed)
	}
}

func TestConfigurationStore_DeleteFreesName(t *testing.T) {
	store := newConfigurationStore(t)
	ctx := context.Background()

	saved, err := store.Save(ctx, sqlstore.StoredConfiguration{Name: "cache", Section: core.RawConfig{"typeName": "rest"}})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Delete(ctx, saved.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.GetByID(ctx, saved.ID); !errors.Is(err, core.ErrSectionNotFound) {
		t.Fatalf("expected deleted row to be hidden, got %v", err)
	}
	if _, err := store.Save(ctx, sqlstore.StoredConfiguration{Name: "cache", Section: core.RawConfig{"typeName": "rest"}}); err != nil {
		t.Fatalf("expected name reusable after delete: %v", err)
	}
	listed, err := store.List(ctx, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("expected only the live row listed, got %d", len(listed))
	}
}

func TestRepositoryFactory_ResolvesBunFromPersistenceClient(t *testing.T) {
	client := newSQLiteClient(t)
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	if factory.DB() != client.DB() {
		t.Fatalf("expected factory to reuse the client's bun db")
	}
	if factory.ConfigurationStore() == nil {
		t.Fatalf("expected configuration store")
	}
	if _, err := sqlstore.NewRepositoryFactoryFromDB(nil); err == nil {
		t.Fatalf("expected error for nil db")
	}
	if err := sqlstore.NewRepositoryFactory().BuildStores("not a db"); err == nil {
		t.Fatalf("expected error for unsupported client")
	}
}

func TestConfigurationStore_BacksProviderResolution(t *testing.T) {
	store := newConfigurationStore(t)
	ctx := context.Background()
	saved, err := store.Save(ctx, sqlstore.StoredConfiguration{
		Name:    "vault",
		Section: core.RawConfig{"typeName": secretconn.TypeName, "connectionString": "stored-key"},
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	provider, err := connectors.New(connectors.DefaultConfig(),
		connectors.WithConfigStore(store),
		connectors.WithIdentifierStore(store),
	)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	if err := provider.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	for name, result := range map[string]core.Result[core.Instance]{
		"by id":   provider.ResolveByID(ctx, saved.ID),
		"by name": provider.ResolveByName(ctx, "VAULT"),
	} {
		instance, err := result.Unwrap()
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		sealed := instance.Execute(ctx, core.NewCommand(secretconn.KindEncrypt, "", core.Param("value", "s")))
		if sealed.Err() != nil {
			t.Fatalf("%s: encrypt: %v", name, sealed.Err())
		}
		_ = instance.Close(ctx)
	}

	if err := provider.ResolveByID(ctx, "00000000-0000-0000-0000-000000000000").Err(); !core.IsKind(err, core.ErrorKindNotFound) {
		t.Fatalf("expected not found for unknown id, got %v", err)
	}
}

func newConfigurationStore(t *testing.T) *sqlstore.ConfigurationStore {
	t.Helper()
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(newSQLiteClient(t))
	if err != nil {
		t.Fatalf("repository factory: %v", err)
	}
	return factory.ConfigurationStore()
}

func newSQLiteClient(t *testing.T) *persistence.Client {
	t.Helper()

	dsn := fmt.Sprintf(
		"file:connectors-test-%d?mode=memory&cache=shared&_foreign_keys=on",
		time.Now().UnixNano(),
	)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	cfg := testPersistenceConfig{
		driver: "sqlite3",
		server: dsn,
	}
	client, err := persistence.New(cfg, sqlDB, sqlitedialect.New())
	if err != nil {
		_ = sqlDB.Close()
		t.Fatalf("new persistence client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	_, err = connectormigrations.Register(ctx, func(_ context.Context, source connectormigrations.Source) error {
		client.RegisterSQLMigrations(source.FS)
		return nil
	}, connectormigrations.WithDialects(cfg.driver))
	if err != nil {
		t.Fatalf("register migrations: %v", err)
	}
	if err := client.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return client
}
