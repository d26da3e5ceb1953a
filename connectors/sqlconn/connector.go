// Package sqlconn is the built-in "sql" connector. It runs statements through
// bun over database/sql, with sqlite3 and postgres drivers linked in.
package sqlconn

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-connectors/core"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

const (
	TypeName     = "sql"
	DescriptorID = 1

	Shape       core.ShapeTag    = "connectors.sql"
	FactoryKind core.FactoryKind = "connectors.sql"
)

const (
	KindQuery  = "query"
	KindScalar = "scalar"
	KindExec   = "exec"
	KindInsert = "insert"
	KindUpdate = "update"
	KindDelete = "delete"
	KindPing   = "ping"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Config is the "sql" shape. ConnectionString is the driver DSN.
type Config struct {
	core.ConnectionConfig  `koanf:",squash" mapstructure:",squash"`
	Driver                 string `koanf:"driver" mapstructure:"driver" json:"driver"`
	MaxOpenConns           int    `koanf:"maxOpenConns" mapstructure:"maxOpenConns" json:"maxOpenConns,omitempty"`
	MaxIdleConns           int    `koanf:"maxIdleConns" mapstructure:"maxIdleConns" json:"maxIdleConns,omitempty"`
	ConnMaxLifetimeSeconds int    `koanf:"connMaxLifetimeSeconds" mapstructure:"connMaxLifetimeSeconds" json:"connMaxLifetimeSeconds,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		ConnectionConfig: core.ConnectionConfig{Type: TypeName},
		Driver:           DriverSQLite,
	}
}

func (Config) Shape() core.ShapeTag {
	return Shape
}

func (c Config) Validate() error {
	if err := c.ConnectionConfig.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.ConnectionString) == "" {
		return core.NewError(core.ErrorKindValidation, "sqlconn: connectionString is required", nil)
	}
	if _, err := c.dialect(); err != nil {
		return err
	}
	if c.MaxOpenConns < 0 || c.MaxIdleConns < 0 || c.ConnMaxLifetimeSeconds < 0 {
		return core.NewError(core.ErrorKindValidation, "sqlconn: pool settings must not be negative", nil)
	}
	return nil
}

// DriverName normalizes the configured driver. sqlite and pg are accepted
// as aliases.
func (c Config) DriverName() string {
	switch strings.ToLower(strings.TrimSpace(c.Driver)) {
	case "", "sqlite", DriverSQLite:
		return DriverSQLite
	case "pg", "postgresql", DriverPostgres:
		return DriverPostgres
	default:
		return strings.ToLower(strings.TrimSpace(c.Driver))
	}
}

func (c Config) dialect() (schema.Dialect, error) {
	switch c.DriverName() {
	case DriverSQLite:
		return sqlitedialect.New(), nil
	case DriverPostgres:
		return pgdialect.New(), nil
	default:
		return nil, core.NewError(core.ErrorKindValidation,
			fmt.Sprintf("sqlconn: unsupported driver %q", c.Driver),
			map[string]any{"supported": []string{DriverSQLite, DriverPostgres}})
	}
}

type Option func(*factoryOptions)

type factoryOptions struct {
	logger core.Logger
	hooks  []bun.QueryHook
}

// WithLogger logs every statement at debug level and failures at error level.
func WithLogger(logger core.Logger) Option {
	return func(o *factoryOptions) {
		o.logger = logger
	}
}

func WithQueryHook(hook bun.QueryHook) Option {
	return func(o *factoryOptions) {
		if hook != nil {
			o.hooks = append(o.hooks, hook)
		}
	}
}

func NewFactory(opts ...Option) *core.TypedFactory[Config] {
	options := factoryOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return core.NewTypedFactory(Shape, func(_ context.Context, cfg Config, scope *core.Scope) (core.Instance, error) {
		c, err := newConnector(cfg, options, scope)
		if err != nil {
			return nil, err
		}
		return c, nil
	})
}

func Descriptor(opts ...Option) core.Descriptor {
	return core.Descriptor{
		ID:          DescriptorID,
		Name:        TypeName,
		Capability:  "database",
		Description: "Relational databases over database/sql (sqlite3, postgres)",
		Shape:       Shape,
		FactoryKind: FactoryKind,
		Register: func(_ context.Context, container core.ContainerRegistrar) error {
			if err := container.RegisterFactory(FactoryKind, NewFactory(opts...)); err != nil {
				return err
			}
			return core.RegisterShapeIn(container, Shape, DefaultConfig())
		},
	}
}

type connector struct {
	*core.Runtime
	db *bun.DB
}

func newConnector(cfg Config, options factoryOptions, scope *core.Scope) (*connector, error) {
	dialect, err := cfg.dialect()
	if err != nil {
		return nil, err
	}
	sqlDB, err := sql.Open(cfg.DriverName(), cfg.ConnectionString)
	if err != nil {
		return nil, core.WrapError(err, core.ErrorKindConstruction, "sqlconn: open database",
			map[string]any{"driver": cfg.DriverName()})
	}
	scope.Track(sqlDB)
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetimeSeconds > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeSeconds) * time.Second)
	}

	db := bun.NewDB(sqlDB, dialect)
	if options.logger != nil {
		db.AddQueryHook(queryLogger{logger: options.logger})
	}
	for _, hook := range options.hooks {
		db.AddQueryHook(hook)
	}

	c := &connector{db: db}
	c.Runtime = core.NewRuntime(cfg.TypeName(),
		core.WithScope(scope),
		core.WithDefaultTimeout(time.Duration(cfg.CommandTimeoutSeconds)*time.Second),
		core.WithOpenHook(func(ctx context.Context) error {
			if err := db.PingContext(ctx); err != nil {
				return core.WrapError(err, core.ErrorKindExecution, "sqlconn: ping database",
					map[string]any{"driver": cfg.DriverName()})
			}
			return nil
		}),
		core.WithHandler(KindQuery, c.query),
		core.WithHandler(KindScalar, c.scalar),
		core.WithHandler(KindExec, c.exec),
		core.WithHandler(KindInsert, c.insert),
		core.WithHandler(KindUpdate, c.update),
		core.WithHandler(KindDelete, c.delete),
		core.WithHandler(KindPing, func(ctx context.Context, _ core.Command) (any, error) {
			return nil, db.PingContext(ctx)
		}),
	)
	return c, nil
}

// DB exposes the underlying bun handle for callers that unwrap the instance.
func (c *connector) DB() *bun.DB {
	return c.db
}

// query runs the "sql" parameter when present. Otherwise the target names a
// table and filters become equality predicates.
func (c *connector) query(ctx context.Context, cmd core.Command) (any, error) {
	rows := []map[string]any{}
	if statement, ok := statementParam(cmd); ok {
		if err := c.db.NewRaw(statement, args(cmd)...).Scan(ctx, &rows); err != nil {
			return nil, err
		}
		return shape(cmd, rows), nil
	}

	table, err := tableName(cmd)
	if err != nil {
		return nil, err
	}
	q := c.db.NewSelect().TableExpr("?", bun.Ident(table))
	if columns := stringsParam(cmd, "columns"); len(columns) > 0 {
		for _, column := range columns {
			q = q.ColumnExpr("?", bun.Ident(column))
		}
	} else {
		q = q.ColumnExpr("*")
	}
	if cmd.Filters().Len() > 0 {
		clause, values := predicates(cmd.Filters())
		q = q.Where(clause, values...)
	}
	if order := stringsParam(cmd, "orderBy"); len(order) > 0 {
		q = q.Order(order...)
	}
	if limit, ok := intParam(cmd, "limit"); ok && limit > 0 {
		q = q.Limit(limit)
	}
	if offset, ok := intParam(cmd, "offset"); ok && offset > 0 {
		q = q.Offset(offset)
	}
	if err := q.Scan(ctx, &rows); err != nil {
		return nil, err
	}
	return shape(cmd, rows), nil
}

func (c *connector) scalar(ctx context.Context, cmd core.Command) (any, error) {
	statement, ok := statementParam(cmd)
	if !ok {
		return nil, core.NewError(core.ErrorKindValidation, "sqlconn: scalar requires a sql parameter or target", nil)
	}
	var value any
	if err := c.db.QueryRowContext(ctx, statement, args(cmd)...).Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if raw, ok := value.([]byte); ok {
		return string(raw), nil
	}
	return value, nil
}

func (c *connector) exec(ctx context.Context, cmd core.Command) (any, error) {
	statement, ok := statementParam(cmd)
	if !ok {
		return nil, core.NewError(core.ErrorKindValidation, "sqlconn: exec requires a sql parameter or target", nil)
	}
	res, err := c.db.ExecContext(ctx, statement, args(cmd)...)
	return affected(cmd, res, err)
}

func (c *connector) insert(ctx context.Context, cmd core.Command) (any, error) {
	table, err := tableName(cmd)
	if err != nil {
		return nil, err
	}
	values, err := valuesParam(cmd)
	if err != nil {
		return nil, err
	}
	res, err := c.db.NewInsert().Model(&values).TableExpr("?", bun.Ident(table)).Exec(ctx)
	return affected(cmd, res, err)
}

// update requires filters unless the "all" parameter is true.
func (c *connector) update(ctx context.Context, cmd core.Command) (any, error) {
	table, err := tableName(cmd)
	if err != nil {
		return nil, err
	}
	values, err := valuesParam(cmd)
	if err != nil {
		return nil, err
	}
	if err := requireFilters(cmd); err != nil {
		return nil, err
	}
	clause, where := predicates(cmd.Filters())
	res, err := c.db.NewUpdate().
		Model(&values).
		TableExpr("?", bun.Ident(table)).
		Where(clause, where...).
		Exec(ctx)
	return affected(cmd, res, err)
}

func (c *connector) delete(ctx context.Context, cmd core.Command) (any, error) {
	table, err := tableName(cmd)
	if err != nil {
		return nil, err
	}
	if err := requireFilters(cmd); err != nil {
		return nil, err
	}
	clause, where := predicates(cmd.Filters())
	res, err := c.db.ExecContext(ctx, "DELETE FROM ? WHERE "+clause, append([]any{bun.Ident(table)}, where...)...)
	return affected(cmd, res, err)
}

// predicates joins the filters into one AND clause. Nil matches IS NULL and
// slices match IN.
func predicates(filters core.Values) (string, []any) {
	clauses := make([]string, 0, filters.Len())
	args := make([]any, 0, filters.Len()*2)
	filters.Range(func(column string, value any) bool {
		switch typed := value.(type) {
		case nil:
			clauses = append(clauses, "? IS NULL")
			args = append(args, bun.Ident(column))
		case []any, []string, []int, []int64:
			clauses = append(clauses, "? IN (?)")
			args = append(args, bun.Ident(column), bun.In(typed))
		default:
			clauses = append(clauses, "? = ?")
			args = append(args, bun.Ident(column), value)
		}
		return true
	})
	if len(clauses) == 0 {
		return "1 = 1", nil
	}
	return strings.Join(clauses, " AND "), args
}

func requireFilters(cmd core.Command) error {
	if cmd.Filters().Len() > 0 {
		return nil
	}
	if all, _ := cmd.Parameter("all"); all == true {
		return nil
	}
	return core.NewError(core.ErrorKindValidation,
		fmt.Sprintf("sqlconn: %s without filters requires the all parameter", cmd.Kind()),
		map[string]any{"table": cmd.Target()})
}

func affected(cmd core.Command, res sql.Result, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	if cmd.ExpectedResultType() == core.ResultTypeNone {
		return nil, nil
	}
	count, err := res.RowsAffected()
	if err != nil {
		return nil, core.WrapError(err, core.ErrorKindExecution, "sqlconn: rows affected", nil)
	}
	return count, nil
}

// shape adapts row results to the expected result type. Scalar reads the
// single column of the first row; Document returns the first row.
func shape(cmd core.Command, rows []map[string]any) any {
	switch cmd.ExpectedResultType() {
	case core.ResultTypeNone:
		return nil
	case core.ResultTypeDocument:
		if len(rows) == 0 {
			return nil
		}
		return rows[0]
	case core.ResultTypeScalar:
		if len(rows) == 0 || len(rows[0]) != 1 {
			return nil
		}
		for _, value := range rows[0] {
			return value
		}
	}
	return rows
}

func statementParam(cmd core.Command) (string, bool) {
	if raw, ok := cmd.Parameter("sql"); ok {
		if statement, ok := raw.(string); ok && strings.TrimSpace(statement) != "" {
			return statement, true
		}
	}
	if cmd.Kind() == KindQuery {
		return "", false
	}
	target := strings.TrimSpace(cmd.Target())
	return target, target != ""
}

func args(cmd core.Command) []any {
	raw, ok := cmd.Parameter("args")
	if !ok {
		return nil
	}
	switch typed := raw.(type) {
	case []any:
		return typed
	case []string:
		out := make([]any, len(typed))
		for i, value := range typed {
			out[i] = value
		}
		return out
	default:
		return []any{typed}
	}
}

func tableName(cmd core.Command) (string, error) {
	table := strings.TrimSpace(cmd.Target())
	if table == "" {
		return "", core.NewError(core.ErrorKindValidation,
			fmt.Sprintf("sqlconn: %s requires a table target", cmd.Kind()), nil)
	}
	return table, nil
}

func valuesParam(cmd core.Command) (map[string]any, error) {
	raw, _ := cmd.Parameter("values")
	var values map[string]any
	switch typed := raw.(type) {
	case map[string]any:
		values = make(map[string]any, len(typed))
		for key, value := range typed {
			values[key] = value
		}
	case core.Values:
		values = typed.Map()
	}
	if len(values) == 0 {
		return nil, core.NewError(core.ErrorKindValidation,
			fmt.Sprintf("sqlconn: %s requires a non-empty values map", cmd.Kind()),
			map[string]any{"table": cmd.Target()})
	}
	return values, nil
}

func stringsParam(cmd core.Command, key string) []string {
	raw, _ := cmd.Parameter(key)
	switch typed := raw.(type) {
	case string:
		if strings.TrimSpace(typed) == "" {
			return nil
		}
		return []string{typed}
	case []string:
		return typed
	case []any:
		out := make([]string, 0, len(typed))
		for _, value := range typed {
			if text, ok := value.(string); ok {
				out = append(out, text)
			}
		}
		return out
	}
	return nil
}

func intParam(cmd core.Command, key string) (int, bool) {
	raw, _ := cmd.Parameter(key)
	switch typed := raw.(type) {
	case int:
		return typed, true
	case int64:
		return int(typed), true
	case float64:
		return int(typed), true
	}
	return 0, false
}

type queryLogger struct {
	logger core.Logger
}

func (l queryLogger) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (l queryLogger) AfterQuery(_ context.Context, event *bun.QueryEvent) {
	elapsed := time.Since(event.StartTime)
	if event.Err != nil && event.Err != sql.ErrNoRows {
		l.logger.Error("sqlconn: query failed", "query", event.Query, "elapsed", elapsed, "error", event.Err)
		return
	}
	l.logger.Debug("sqlconn: query", "query", event.Query, "elapsed", elapsed)
}

var (
	_ core.Instance = (*connector)(nil)
	_ bun.QueryHook = queryLogger{}
)
