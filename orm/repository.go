package orm

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"strings"
	"time"

	"appfuel/db"
	"appfuel/metrics"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// OrderBy sorts FindAll results by a member
type OrderBy struct {
	Member string
	Desc   bool
}

// Criteria selects models. Filters are member equality tests joined by AND.
type Criteria struct {
	Filters map[string]interface{}
	Order   []OrderBy
	Limit   int
	Offset  int
}

type repoOptions struct {
	identitySize int
	cache        ResultCache
	cacheTTL     time.Duration
	logger       *zap.SugaredLogger
}

// RepositoryOption configures a repository
type RepositoryOption func(*repoOptions)

// WithIdentityMap sets the identity map size. Zero disables it.
func WithIdentityMap(size int) RepositoryOption {
	return func(o *repoOptions) { o.identitySize = size }
}

// WithResultCache caches FindAll rows for ttl
func WithResultCache(cache ResultCache, ttl time.Duration) RepositoryOption {
	return func(o *repoOptions) {
		o.cache = cache
		o.cacheTTL = ttl
	}
}

func WithLogger(logger *zap.SugaredLogger) RepositoryOption {
	return func(o *repoOptions) { o.logger = logger }
}

// Repository loads and persists the models of one domain key
type Repository[T Model] struct {
	key      string
	source   *DbSource
	mapper   *Mapper
	builder  *DataBuilder
	identity *lru.Cache[string, T]
	cache    ResultCache
	cacheTTL time.Duration
	logger   *zap.SugaredLogger
}

// NewRepository creates a repository. The builder's object factory must
// create a T for key.
func NewRepository[T Model](key string, source *DbSource, mapper *Mapper, builder *DataBuilder, opts ...RepositoryOption) (*Repository[T], error) {
	if source == nil || mapper == nil || builder == nil {
		return nil, fmt.Errorf("repository %s: source, mapper and builder are required", key)
	}
	if !builder.Objects().Exists(key) {
		return nil, fmt.Errorf("repository %s: %w", key, ErrUnknownDomain)
	}

	o := repoOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop().Sugar()
	}

	r := &Repository[T]{
		key:      key,
		source:   source,
		mapper:   mapper,
		builder:  builder,
		cache:    o.cache,
		cacheTTL: o.cacheTTL,
		logger:   o.logger,
	}
	if o.identitySize > 0 {
		identity, err := lru.New[string, T](o.identitySize)
		if err != nil {
			return nil, fmt.Errorf("repository %s: identity map: %w", key, err)
		}
		r.identity = identity
	}
	return r, nil
}

func (r *Repository[T]) Key() string { return r.key }

func (r *Repository[T]) Mapper() *Mapper { return r.mapper }

func (r *Repository[T]) identityKey(id interface{}) string {
	return r.key + ":" + fmt.Sprint(id)
}

// Find loads the model with primary key id, from the identity map when it
// was loaded before
func (r *Repository[T]) Find(ctx context.Context, id interface{}) (T, error) {
	var zero T
	if r.identity != nil {
		if m, ok := r.identity.Get(r.identityKey(id)); ok {
			metrics.ORMCacheHits.WithLabelValues("identity").Inc()
			return m, nil
		}
		metrics.ORMCacheMisses.WithLabelValues("identity").Inc()
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ? LIMIT 1",
		r.mapper.ColumnList(), QuoteIdentifier(r.mapper.Table()), QuoteIdentifier(r.mapper.PrimaryKeyColumn()))
	rows, err := r.query(ctx, query, []interface{}{id})
	if err != nil {
		return zero, err
	}
	if len(rows) == 0 {
		return zero, fmt.Errorf("%s %v: %w", r.key, id, ErrNotFound)
	}

	m, err := r.build(rows[0])
	if err != nil {
		return zero, err
	}
	r.remember(m)
	return m, nil
}

// FindAll loads the models matching c
func (r *Repository[T]) FindAll(ctx context.Context, c Criteria) ([]T, error) {
	where, args, err := r.where(c.Filters)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s%s", r.mapper.ColumnList(), QuoteIdentifier(r.mapper.Table()), where)
	if len(c.Order) > 0 {
		parts := make([]string, 0, len(c.Order))
		for _, o := range c.Order {
			col, ok := r.mapper.MapColumn(o.Member)
			if !ok {
				return nil, fmt.Errorf("%s order: %w %q", r.key, ErrUnknownMember, o.Member)
			}
			dir := "ASC"
			if o.Desc {
				dir = "DESC"
			}
			parts = append(parts, QuoteIdentifier(col)+" "+dir)
		}
		b.WriteString(" ORDER BY " + strings.Join(parts, ", "))
	}
	if c.Limit > 0 {
		b.WriteString(" LIMIT " + strconv.Itoa(c.Limit))
		if c.Offset > 0 {
			b.WriteString(" OFFSET " + strconv.Itoa(c.Offset))
		}
	}
	query := b.String()

	rows, err := r.cachedQuery(ctx, query, args)
	if err != nil {
		return nil, err
	}

	out := make([]T, 0, len(rows))
	for _, row := range rows {
		m, err := r.build(row)
		if err != nil {
			return nil, err
		}
		r.remember(m)
		out = append(out, m)
	}
	return out, nil
}

// Count returns the number of models matching the filters
func (r *Repository[T]) Count(ctx context.Context, filters map[string]interface{}) (int64, error) {
	where, args, err := r.where(filters)
	if err != nil {
		return 0, err
	}
	query := fmt.Sprintf("SELECT COUNT(*) AS total FROM %s%s", QuoteIdentifier(r.mapper.Table()), where)
	rows, err := r.query(ctx, query, args)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return toInt64(rows[0]["total"])
}

// Save inserts a new model or updates the dirty members of a changed one.
// Clean models are left alone.
func (r *Repository[T]) Save(ctx context.Context, m T) error {
	state := m.ModelState()
	switch {
	case state.IsDeleted():
		return fmt.Errorf("%s: %w", r.key, ErrDeletedModel)
	case state.IsNew():
		if err := r.insert(ctx, m); err != nil {
			return err
		}
	case state.IsDirty():
		if err := r.update(ctx, m); err != nil {
			return err
		}
	default:
		return nil
	}

	state.MarkClean()
	r.remember(m)
	r.invalidate(ctx)
	return nil
}

// Delete removes the model's row
func (r *Repository[T]) Delete(ctx context.Context, m T) error {
	id, err := r.primaryKeyValue(m)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE %s = ?",
		QuoteIdentifier(r.mapper.Table()), QuoteIdentifier(r.mapper.PrimaryKeyColumn()))
	if _, err := r.exec(ctx, query, []interface{}{id}); err != nil {
		return err
	}

	m.ModelState().MarkDeleted()
	if r.identity != nil {
		r.identity.Remove(r.identityKey(id))
	}
	r.invalidate(ctx)
	return nil
}

// Forget clears the identity map
func (r *Repository[T]) Forget() {
	if r.identity != nil {
		r.identity.Purge()
	}
}

func (r *Repository[T]) insert(ctx context.Context, m T) error {
	values, err := r.builder.BuildArray(m, r.mapper)
	if err != nil {
		return err
	}
	pkCol := r.mapper.PrimaryKeyColumn()
	generated := isZero(values[pkCol])
	if generated {
		delete(values, pkCol)
	}

	cols := make([]string, 0, len(values))
	for col := range values {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	quoted := make([]string, len(cols))
	marks := make([]string, len(cols))
	args := make([]interface{}, len(cols))
	for i, col := range cols {
		quoted[i] = QuoteIdentifier(col)
		marks[i] = "?"
		args[i] = values[col]
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		QuoteIdentifier(r.mapper.Table()), strings.Join(quoted, ", "), strings.Join(marks, ", "))

	set, err := r.exec(ctx, query, args)
	if err != nil {
		return err
	}
	if generated && set.LastInsertID > 0 {
		if err := r.builder.Populate(m, map[string]interface{}{r.mapper.PrimaryKey(): set.LastInsertID}); err != nil {
			return fmt.Errorf("%s: set generated key: %w", r.key, err)
		}
	}
	return nil
}

func (r *Repository[T]) update(ctx context.Context, m T) error {
	dirty := m.ModelState().DirtyMembers()
	if len(dirty) == 0 {
		return nil
	}
	values, err := r.builder.BuildArray(m, r.mapper)
	if err != nil {
		return err
	}
	id, err := r.primaryKeyValue(m)
	if err != nil {
		return err
	}

	sets := make([]string, 0, len(dirty))
	args := make([]interface{}, 0, len(dirty)+1)
	for _, member := range dirty {
		col, ok := r.mapper.MapColumn(member)
		if !ok {
			return fmt.Errorf("%s: %w %q", r.key, ErrUnknownMember, member)
		}
		sets = append(sets, QuoteIdentifier(col)+" = ?")
		args = append(args, values[col])
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?",
		QuoteIdentifier(r.mapper.Table()), strings.Join(sets, ", "), QuoteIdentifier(r.mapper.PrimaryKeyColumn()))
	_, err = r.exec(ctx, query, args)
	return err
}

func (r *Repository[T]) where(filters map[string]interface{}) (string, []interface{}, error) {
	if len(filters) == 0 {
		return "", nil, nil
	}
	members := make([]string, 0, len(filters))
	for member := range filters {
		members = append(members, member)
	}
	sort.Strings(members)

	conds := make([]string, 0, len(members))
	args := make([]interface{}, 0, len(members))
	for _, member := range members {
		col, ok := r.mapper.MapColumn(member)
		if !ok {
			return "", nil, fmt.Errorf("%s filter: %w %q", r.key, ErrUnknownMember, member)
		}
		if filters[member] == nil {
			conds = append(conds, QuoteIdentifier(col)+" IS NULL")
			continue
		}
		conds = append(conds, QuoteIdentifier(col)+" = ?")
		args = append(args, filters[member])
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

func (r *Repository[T]) primaryKeyValue(m T) (interface{}, error) {
	values, err := MemberValues(m)
	if err != nil {
		return nil, err
	}
	id := values[r.mapper.PrimaryKey()]
	if isZero(id) {
		return nil, fmt.Errorf("%s: %w", r.key, ErrNoPrimaryKey)
	}
	return id, nil
}

func (r *Repository[T]) build(row map[string]interface{}) (T, error) {
	var zero T
	model, err := r.builder.BuildModel(r.key, row, r.mapper)
	if err != nil {
		return zero, err
	}
	m, ok := model.(T)
	if !ok {
		return zero, fmt.Errorf("%s: %w: factory built %T", r.key, ErrRepositoryType, model)
	}
	return m, nil
}

func (r *Repository[T]) remember(m T) {
	if r.identity == nil {
		return
	}
	if id, err := r.primaryKeyValue(m); err == nil {
		r.identity.Add(r.identityKey(id), m)
	}
}

func (r *Repository[T]) invalidate(ctx context.Context) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Invalidate(ctx, r.key); err != nil {
		r.logger.Warnw("Failed to invalidate result cache", "domain", r.key, "error", err)
	}
}

func (r *Repository[T]) cachedQuery(ctx context.Context, query string, args []interface{}) ([]map[string]interface{}, error) {
	if r.cache == nil {
		return r.query(ctx, query, args)
	}

	key := queryKey(query, args)
	rows, ok, err := r.cache.Get(ctx, r.key, key)
	if err != nil {
		r.logger.Warnw("Result cache read failed", "domain", r.key, "error", err)
	}
	if ok {
		metrics.ORMCacheHits.WithLabelValues("result").Inc()
		return rows, nil
	}
	metrics.ORMCacheMisses.WithLabelValues("result").Inc()

	rows, err = r.query(ctx, query, args)
	if err != nil {
		return nil, err
	}
	if err := r.cache.Set(ctx, r.key, key, rows, r.cacheTTL); err != nil {
		r.logger.Warnw("Result cache write failed", "domain", r.key, "error", err)
	}
	return rows, nil
}

func (r *Repository[T]) query(ctx context.Context, query string, args []interface{}) ([]map[string]interface{}, error) {
	req, err := db.NewPreparedRequest(query, args...)
	if err != nil {
		return nil, err
	}
	resp := r.source.Execute(ctx, req)
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("%s: %w", r.key, resp.Err())
	}

	rows := resp.Rows()
	out := make([]map[string]interface{}, len(rows))
	for i, row := range rows {
		out[i] = row.Map()
	}
	return out, nil
}

func (r *Repository[T]) exec(ctx context.Context, query string, args []interface{}) (*db.ResultSet, error) {
	req, err := db.NewPreparedRequest(query, args...)
	if err != nil {
		return nil, err
	}
	resp := r.source.Execute(ctx, req.EnableWrite())
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("%s: %w", r.key, resp.Err())
	}
	set := resp.First()
	if set == nil {
		set = &db.ResultSet{}
	}
	return set, nil
}

func queryKey(query string, args []interface{}) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(query))
	for _, a := range args {
		_, _ = fmt.Fprintf(h, "\x00%T:%v", a, a)
	}
	return strconv.FormatUint(h.Sum64(), 16)
}

func isZero(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case int:
		return x == 0
	case int32:
		return x == 0
	case int64:
		return x == 0
	case uint:
		return x == 0
	case uint32:
		return x == 0
	case uint64:
		return x == 0
	}
	return false
}

func toInt64(v interface{}) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case uint64:
		return int64(x), nil
	case string:
		return strconv.ParseInt(x, 10, 64)
	case float64:
		return int64(x), nil
	}
	return 0, fmt.Errorf("unexpected count value %T", v)
}
