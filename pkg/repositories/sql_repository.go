package repositories

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jinzhu/inflection"
	"github.com/jmoiron/sqlx/reflectx"
	"go.uber.org/zap"

	"github.com/ppcxy/cyfm-engine/pkg/adapters/datasource"
	"github.com/ppcxy/cyfm-engine/pkg/apperrors"
	"github.com/ppcxy/cyfm-engine/pkg/audit"
	"github.com/ppcxy/cyfm-engine/pkg/cache"
	"github.com/ppcxy/cyfm-engine/pkg/metrics"
	"github.com/ppcxy/cyfm-engine/pkg/models"
	sqlguard "github.com/ppcxy/cyfm-engine/pkg/sql"
)

// Option configures a SQLRepository.
type Option func(*repoOptions)

type repoOptions struct {
	table    string
	idColumn string
	l2       cache.SecondLevel
	logger   *zap.Logger
	metrics  *metrics.Metrics
	auditor  *audit.SecurityAuditor
	now      func() time.Time
}

// WithTableName overrides the table name.
func WithTableName(table string) Option {
	return func(o *repoOptions) { o.table = table }
}

// WithIDColumn overrides the primary key column (default "id").
func WithIDColumn(column string) Option {
	return func(o *repoOptions) { o.idColumn = column }
}

// WithCache enables the level-2 cache for entity and query lookups.
func WithCache(l2 cache.SecondLevel) Option {
	return func(o *repoOptions) { o.l2 = l2 }
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *repoOptions) { o.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *repoOptions) { o.metrics = m }
}

// WithAuditor records rejected search filters as security events.
func WithAuditor(a *audit.SecurityAuditor) Option {
	return func(o *repoOptions) { o.auditor = a }
}

func withClock(now func() time.Time) Option {
	return func(o *repoOptions) { o.now = now }
}

// SQLRepository implements Repository for any struct with `db` tags. SQL is
// built with goqu for the dialect of whichever pool serves the call, so the
// same repository keeps working across datasource switches.
type SQLRepository[T any, ID comparable, PT interface {
	*T
	models.Entity[ID]
}] struct {
	exec     datasource.QueryExecutor
	table    string
	idColumn string
	typeName string
	columns  []string
	known    map[string]bool

	l2      cache.SecondLevel
	logger  *zap.Logger
	metrics *metrics.Metrics
	auditor *audit.SecurityAuditor
	now     func() time.Time
}

var columnMapper = reflectx.NewMapperFunc("db", strings.ToLower)

// NewSQLRepository creates a repository for T. The table name comes from
// T's TableName method when present, else the pluralized snake_case type
// name.
func NewSQLRepository[T any, ID comparable, PT interface {
	*T
	models.Entity[ID]
}](exec datasource.QueryExecutor, opts ...Option) *SQLRepository[T, ID, PT] {
	o := repoOptions{idColumn: "id", now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	var zero T
	typ := reflect.TypeOf(zero)
	if o.table == "" {
		if tn, ok := any(zero).(models.TableNamer); ok {
			o.table = tn.TableName()
		} else {
			o.table = inflection.Plural(columnName(typ.Name()))
		}
	}

	columns := mappedColumns(typ)
	known := make(map[string]bool, len(columns))
	for _, c := range columns {
		known[c] = true
	}

	return &SQLRepository[T, ID, PT]{
		exec:     exec,
		table:    o.table,
		idColumn: o.idColumn,
		typeName: typ.Name(),
		columns:  columns,
		known:    known,
		l2:       o.l2,
		logger:   o.logger.Named("repository").With(zap.String("table", o.table)),
		metrics:  o.metrics,
		auditor:  o.auditor,
		now:      o.now,
	}
}

// mappedColumns lists the top-level `db` columns of typ, including those of
// embedded structs, in sorted order.
func mappedColumns(typ reflect.Type) []string {
	tm := columnMapper.TypeMap(typ)

	var cols []string
	for _, fi := range tm.Index {
		if fi.Embedded || strings.Contains(fi.Path, ".") {
			continue
		}
		cols = append(cols, fi.Path)
	}
	sort.Strings(cols)
	return cols
}

// Table returns the table the repository reads and writes.
func (r *SQLRepository[T, ID, PT]) Table() string {
	return r.table
}

func (r *SQLRepository[T, ID, PT]) Save(ctx context.Context, entity *T) error {
	if ts, ok := any(entity).(models.Timestamped); ok {
		ts.Touch(r.now(), true)
	}

	var served *datasource.PoolHandle
	err := r.exec.WithHandle(ctx, func(ctx context.Context, h *datasource.PoolHandle) error {
		served = h
		ds := r.exec.Builder(h.Dialect).Insert(r.table).Rows(*entity).Prepared(true)

		var id ID
		switch {
		case h.Dialect.SupportsReturning():
			query, args, err := ds.Returning(goqu.C(r.idColumn)).ToSQL()
			if err != nil {
				return err
			}
			if err := h.DB().QueryRowxContext(ctx, query, args...).Scan(&id); err != nil {
				return err
			}
		case h.Dialect == datasource.DialectSQLServer:
			query, args, err := ds.ToSQL()
			if err != nil {
				return err
			}
			query += "; SELECT ID = CONVERT(BIGINT, SCOPE_IDENTITY())"
			if err := h.DB().QueryRowxContext(ctx, query, args...).Scan(&id); err != nil {
				return err
			}
		default:
			query, args, err := ds.ToSQL()
			if err != nil {
				return err
			}
			res, err := h.DB().ExecContext(ctx, query, args...)
			if err != nil {
				return err
			}
			lastID, err := res.LastInsertId()
			if err != nil {
				return err
			}
			if err := assignInsertID(&id, lastID); err != nil {
				return err
			}
		}
		PT(entity).SetID(id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save %s: %w", r.typeName, err)
	}

	r.remember(ctx, served, entity)
	r.evictQueries(ctx)
	return nil
}

func (r *SQLRepository[T, ID, PT]) Update(ctx context.Context, entity *T) error {
	id := PT(entity).GetID()
	if PT(entity).IsNew() {
		return fmt.Errorf("update %s: entity has no id: %w", r.typeName, apperrors.ErrInvalidInput)
	}
	if ts, ok := any(entity).(models.Timestamped); ok {
		ts.Touch(r.now(), false)
	}

	var served *datasource.PoolHandle
	err := r.exec.WithHandle(ctx, func(ctx context.Context, h *datasource.PoolHandle) error {
		served = h
		query, args, err := r.exec.Builder(h.Dialect).
			Update(r.table).
			Set(*entity).
			Where(goqu.C(r.idColumn).Eq(id)).
			Prepared(true).
			ToSQL()
		if err != nil {
			return err
		}
		res, err := h.DB().ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		return requireAffected(res.RowsAffected())
	})
	if err != nil {
		return fmt.Errorf("failed to update %s %v: %w", r.typeName, id, err)
	}

	r.evictEntity(ctx, served, id)
	r.remember(ctx, served, entity)
	r.evictQueries(ctx)
	return nil
}

// FindByID looks in the session, then the entity region, then the database.
func (r *SQLRepository[T, ID, PT]) FindByID(ctx context.Context, id ID) (*T, error) {
	active, _ := r.exec.Current()
	key := r.entityKey(active, id)

	if s, ok := cache.SessionFrom(ctx); ok {
		v, hit := s.Get(key)
		r.metrics.ObserveCacheLookup("l1", hit)
		if e, ok := v.(*T); hit && ok {
			return e, nil
		}
	}

	if r.l2 != nil {
		var e T
		hit, err := r.l2.Get(ctx, cache.RegionEntity, key, &e)
		if err != nil {
			r.logger.Warn("entity cache lookup failed", zap.String("key", key), zap.Error(err))
		}
		r.metrics.ObserveCacheLookup("l2", hit && err == nil)
		if hit && err == nil {
			r.rememberSession(ctx, key, &e)
			return &e, nil
		}
	}

	e, err := r.FindOne(ctx, []SearchFilter{{Field: r.idColumn, Operator: OpEQ, Value: id}})
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (r *SQLRepository[T, ID, PT]) FindAll(ctx context.Context, page Page) ([]*T, error) {
	return r.Search(ctx, nil, page)
}

// FindOne returns the first row matching filters. It bypasses the query
// region but populates both entity caches.
func (r *SQLRepository[T, ID, PT]) FindOne(ctx context.Context, filters []SearchFilter) (*T, error) {
	where, err := r.where(ctx, filters)
	if err != nil {
		return nil, err
	}

	var (
		e      T
		served *datasource.PoolHandle
	)
	err = r.exec.WithHandle(ctx, func(ctx context.Context, h *datasource.PoolHandle) error {
		served = h
		query, args, err := r.selectDataset(h.Dialect, where, Page{Limit: 1}).ToSQL()
		if err != nil {
			return err
		}
		return h.DB().GetContext(ctx, &e, query, args...)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find %s: %w", r.typeName, err)
	}

	r.remember(ctx, served, &e)
	return &e, nil
}

func (r *SQLRepository[T, ID, PT]) Delete(ctx context.Context, entity *T) error {
	return r.DeleteByID(ctx, PT(entity).GetID())
}

func (r *SQLRepository[T, ID, PT]) DeleteByID(ctx context.Context, id ID) error {
	var served *datasource.PoolHandle
	err := r.exec.WithHandle(ctx, func(ctx context.Context, h *datasource.PoolHandle) error {
		served = h
		query, args, err := r.exec.Builder(h.Dialect).
			Delete(r.table).
			Where(goqu.C(r.idColumn).Eq(id)).
			Prepared(true).
			ToSQL()
		if err != nil {
			return err
		}
		res, err := h.DB().ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		return requireAffected(res.RowsAffected())
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s %v: %w", r.typeName, id, err)
	}

	r.evictEntity(ctx, served, id)
	r.evictQueries(ctx)
	return nil
}

func (r *SQLRepository[T, ID, PT]) Exists(ctx context.Context, id ID) (bool, error) {
	n, err := r.Count(ctx, []SearchFilter{{Field: r.idColumn, Operator: OpEQ, Value: id}})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *SQLRepository[T, ID, PT]) Count(ctx context.Context, filters []SearchFilter) (int64, error) {
	where, err := r.where(ctx, filters)
	if err != nil {
		return 0, err
	}

	var n int64
	err = r.exec.WithHandle(ctx, func(ctx context.Context, h *datasource.PoolHandle) error {
		query, args, err := r.exec.Builder(h.Dialect).
			From(r.table).
			Select(goqu.COUNT(goqu.Star())).
			Where(where...).
			Prepared(true).
			ToSQL()
		if err != nil {
			return err
		}
		return h.DB().GetContext(ctx, &n, query, args...)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", r.typeName, err)
	}
	return n, nil
}

// Search returns the rows matching every filter. Results are cached in the
// query region keyed by the serving pool and the rendered statement.
func (r *SQLRepository[T, ID, PT]) Search(ctx context.Context, filters []SearchFilter, page Page) ([]*T, error) {
	where, err := r.where(ctx, filters)
	if err != nil {
		return nil, err
	}
	page = page.normalized()
	if page.OrderBy != "" && !r.known[columnName(page.OrderBy)] {
		return nil, fmt.Errorf("order by %q: %w", page.OrderBy, apperrors.ErrInvalidFilter)
	}

	var rows []T
	err = r.exec.WithHandle(ctx, func(ctx context.Context, h *datasource.PoolHandle) error {
		query, args, err := r.selectDataset(h.Dialect, where, page).ToSQL()
		if err != nil {
			return err
		}

		key := queryKey(h, query, args)
		if r.l2 != nil {
			hit, err := r.l2.Get(ctx, cache.RegionQuery, key, &rows)
			r.metrics.ObserveCacheLookup("l2", hit && err == nil)
			if err == nil && hit {
				return nil
			}
		}

		if err := h.DB().SelectContext(ctx, &rows, query, args...); err != nil {
			return err
		}
		if r.l2 != nil && r.stillActive(h) {
			if err := r.l2.Put(ctx, cache.RegionQuery, key, rows); err != nil {
				r.logger.Warn("query cache store failed", zap.Error(err))
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", r.typeName, err)
	}

	out := make([]*T, len(rows))
	for i := range rows {
		out[i] = &rows[i]
	}
	return out, nil
}

func (r *SQLRepository[T, ID, PT]) selectDataset(d datasource.Dialect, where []exp.Expression, page Page) *goqu.SelectDataset {
	page = page.normalized()

	cols := make([]any, len(r.columns))
	for i, c := range r.columns {
		cols[i] = goqu.C(c)
	}

	order := goqu.C(r.idColumn).Asc()
	if page.OrderBy != "" {
		col := goqu.C(columnName(page.OrderBy))
		order = col.Asc()
		if page.Desc {
			order = col.Desc()
		}
	}

	ds := r.exec.Builder(d).
		From(r.table).
		Select(cols...).
		Where(where...).
		Order(order).
		Limit(uint(page.Limit)).
		Prepared(true)
	if page.Offset > 0 {
		ds = ds.Offset(uint(page.Offset))
	}
	return ds
}

// where turns filters into goqu expressions. Unknown fields and operators
// fail with apperrors.ErrInvalidFilter; string values flagged by
// libinjection fail with apperrors.ErrInjectionDetected.
func (r *SQLRepository[T, ID, PT]) where(ctx context.Context, filters []SearchFilter) ([]exp.Expression, error) {
	exprs := make([]exp.Expression, 0, len(filters))
	for _, f := range filters {
		col := columnName(f.Field)
		if !r.known[col] {
			return nil, fmt.Errorf("field %q: %w", f.Field, apperrors.ErrInvalidFilter)
		}
		if res := sqlguard.CheckParameterForInjection(f.Field, f.Value); res != nil {
			r.logger.Warn("rejected search filter",
				zap.String("field", f.Field),
				zap.String("fingerprint", res.Fingerprint))
			r.auditor.LogInjectionAttempt(ctx, audit.SQLInjectionDetails{
				Table:       r.table,
				Field:       f.Field,
				Fingerprint: res.Fingerprint,
			})
			return nil, res.Err()
		}

		c := goqu.C(col)
		switch f.Operator {
		case OpEQ:
			exprs = append(exprs, c.Eq(f.Value))
		case OpLIKE:
			s, ok := f.Value.(string)
			if !ok {
				return nil, fmt.Errorf("LIKE on %q needs a string value: %w", f.Field, apperrors.ErrInvalidFilter)
			}
			exprs = append(exprs, c.Like("%"+s+"%"))
		case OpGT:
			exprs = append(exprs, c.Gt(f.Value))
		case OpLT:
			exprs = append(exprs, c.Lt(f.Value))
		case OpGTE:
			exprs = append(exprs, c.Gte(f.Value))
		case OpLTE:
			exprs = append(exprs, c.Lte(f.Value))
		default:
			return nil, fmt.Errorf("operator %q: %w", f.Operator, apperrors.ErrInvalidFilter)
		}
	}
	return exprs, nil
}

// poolScope names the pool a cache entry was loaded from. Entries from one
// pool are never served while another is active.
func poolScope(h *datasource.PoolHandle) string {
	if h == nil {
		return "unbound"
	}
	return h.ID.String()
}

// stillActive reports whether h is still the active pool. Rows read from a
// superseded pool are not written to the shared cache.
func (r *SQLRepository[T, ID, PT]) stillActive(h *datasource.PoolHandle) bool {
	current, ok := r.exec.Current()
	return ok && current == h
}

func (r *SQLRepository[T, ID, PT]) entityKey(h *datasource.PoolHandle, id ID) string {
	return fmt.Sprintf("%s@%s#%v", r.typeName, poolScope(h), id)
}

// remember puts an entity loaded or saved through h into both entity caches.
func (r *SQLRepository[T, ID, PT]) remember(ctx context.Context, h *datasource.PoolHandle, entity *T) {
	key := r.entityKey(h, PT(entity).GetID())
	r.rememberSession(ctx, key, entity)

	if r.l2 != nil && r.stillActive(h) {
		if err := r.l2.Put(ctx, cache.RegionEntity, key, entity); err != nil {
			r.logger.Warn("entity cache store failed", zap.String("key", key), zap.Error(err))
		}
	}
}

func (r *SQLRepository[T, ID, PT]) rememberSession(ctx context.Context, key string, entity *T) {
	if s, ok := cache.SessionFrom(ctx); ok {
		s.Put(key, entity)
	}
}

func (r *SQLRepository[T, ID, PT]) evictEntity(ctx context.Context, h *datasource.PoolHandle, id ID) {
	key := r.entityKey(h, id)
	if s, ok := cache.SessionFrom(ctx); ok {
		s.Evict(key)
	}
	if r.l2 != nil {
		if err := r.l2.Evict(ctx, cache.RegionEntity, key); err != nil {
			r.logger.Warn("entity cache evict failed", zap.String("key", key), zap.Error(err))
		}
	}
}

func (r *SQLRepository[T, ID, PT]) evictQueries(ctx context.Context) {
	if r.l2 == nil {
		return
	}
	if err := r.l2.EvictRegion(ctx, cache.RegionQuery); err != nil {
		r.logger.Warn("query cache evict failed", zap.Error(err))
		return
	}
	r.metrics.ObserveEviction(cache.RegionQuery.String())
}

func queryKey(h *datasource.PoolHandle, query string, args []any) string {
	return fmt.Sprintf("%s|%s|%s|%v", poolScope(h), h.Dialect, query, args)
}

func requireAffected(n int64, err error) error {
	if err != nil {
		return err
	}
	if n == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// assignInsertID stores a driver-generated key into an integer ID.
func assignInsertID[ID any](dst *ID, v int64) error {
	switch p := any(dst).(type) {
	case *int64:
		*p = v
	case *int:
		*p = int(v)
	case *int32:
		*p = int32(v)
	case *uint64:
		*p = uint64(v)
	default:
		return fmt.Errorf("cannot assign generated key to %T", *dst)
	}
	return nil
}
