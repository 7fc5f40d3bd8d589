package orm

import (
	"context"
	"errors"
	"testing"
	"time"

	"appfuel/db"
	"appfuel/db/sqlite"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type user struct {
	State
	ID     int64  `orm:"id"`
	Name   string `orm:"name"`
	Email  string `orm:"email,column=email_address"`
	Active bool   `orm:"active"`
	Notes  string
}

func newUser() *user { return &user{} }

func (u *user) Rename(name string) {
	u.Name = name
	u.MarkDirty("name")
}

func newTestSource(t *testing.T) *DbSource {
	t.Helper()
	conn, err := sqlite.NewConnector("orm", sqlite.MemoryPath, nil)
	require.NoError(t, err)

	pool := db.NewPool(nil)
	require.NoError(t, pool.Add(conn))
	t.Cleanup(func() { _ = pool.Shutdown() })

	h := db.NewHandler(pool, nil)
	create, err := db.NewQuery(`CREATE TABLE users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		email_address TEXT,
		active INTEGER NOT NULL DEFAULT 0
	)`)
	require.NoError(t, err)
	resp := h.Execute(context.Background(), create.EnableWrite())
	require.True(t, resp.IsSuccess(), "%v", resp.Err())

	return NewDbSource(h, "")
}

func newUserRepo(t *testing.T, opts ...RepositoryOption) *Repository[*user] {
	t.Helper()
	mapper, err := MapperFor("users", "id", user{})
	require.NoError(t, err)

	builder := NewDataBuilder(nil)
	require.NoError(t, builder.Objects().Register("user", func() Model { return newUser() }))

	repo, err := NewRepository[*user]("user", newTestSource(t), mapper, builder, opts...)
	require.NoError(t, err)
	return repo
}

func TestState_Transitions(t *testing.T) {
	var s State
	assert.True(t, s.IsNew())

	s.MarkDirty("name")
	assert.True(t, s.IsNew(), "new models stay new")
	assert.True(t, s.IsMemberDirty("name"))

	s.MarkClean()
	assert.True(t, s.IsClean())
	assert.Empty(t, s.DirtyMembers())

	s.MarkDirty("name", "email", "name")
	assert.True(t, s.IsDirty())
	assert.Equal(t, []string{"email", "name"}, s.DirtyMembers())

	s.MarkDeleted()
	s.MarkDirty("name")
	assert.True(t, s.IsDeleted())
	assert.Equal(t, "deleted", s.Status().String())
}

func TestMapper(t *testing.T) {
	m, err := MapperFor("users", "id", &user{})
	require.NoError(t, err)

	assert.Equal(t, "users", m.Table())
	assert.Equal(t, "id", m.PrimaryKeyColumn())
	assert.Equal(t, []string{"active", "email", "id", "name"}, m.Members())
	assert.Equal(t, []string{"active", "email_address", "id", "name"}, m.Columns())

	col, ok := m.MapColumn("email")
	assert.True(t, ok)
	assert.Equal(t, "email_address", col)
	member, ok := m.MapMember("email_address")
	assert.True(t, ok)
	assert.Equal(t, "email", member)
	_, ok = m.MapMember("notes")
	assert.False(t, ok)

	assert.Equal(t, "`we``ird`", m.QuoteIdentifier("we`ird"))
	assert.Equal(t, "`active`, `email_address`, `id`, `name`", m.ColumnList())
}

func TestNewMapper_Errors(t *testing.T) {
	_, err := NewMapper("", "id", map[string]string{"id": "id"})
	assert.Error(t, err)
	_, err = NewMapper("t", "id", map[string]string{"name": "name"})
	assert.Error(t, err, "primary key must be mapped")
	_, err = NewMapper("t", "id", map[string]string{"id": "id", "other": "id"})
	assert.Error(t, err, "duplicate column")
	_, err = MapperFor("t", "id", 42)
	assert.Error(t, err)
}

func TestDataBuilder_BuildModel(t *testing.T) {
	mapper, err := MapperFor("users", "id", user{})
	require.NoError(t, err)
	builder := NewDataBuilder(nil)
	require.NoError(t, builder.Objects().Register("user", func() Model { return newUser() }))

	m, err := builder.BuildModel("user", map[string]interface{}{
		"id":            "42",
		"name":          "ada",
		"email_address": "ada@example.com",
		"active":        int64(1),
		"unmapped":      "ignored",
	}, mapper)
	require.NoError(t, err)

	u := m.(*user)
	assert.Equal(t, int64(42), u.ID)
	assert.Equal(t, "ada", u.Name)
	assert.Equal(t, "ada@example.com", u.Email)
	assert.True(t, u.Active)
	assert.True(t, u.IsClean())

	arr, err := builder.BuildArray(u, mapper)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{
		"id":            int64(42),
		"name":          "ada",
		"email_address": "ada@example.com",
		"active":        true,
	}, arr)

	_, err = builder.BuildModel("missing", nil, mapper)
	assert.ErrorIs(t, err, ErrUnknownDomain)
}

func TestDataBuilder_PopulateTime(t *testing.T) {
	type event struct {
		State
		At time.Time `orm:"at"`
	}
	e := &event{}
	require.NoError(t, NewDataBuilder(nil).Populate(e, map[string]interface{}{"at": "2024-03-01 10:11:12"}))
	assert.Equal(t, time.Date(2024, 3, 1, 10, 11, 12, 0, time.UTC), e.At)

	assert.Error(t, NewDataBuilder(nil).Populate(e, map[string]interface{}{"at": "yesterday"}))
}

func TestObjectFactory(t *testing.T) {
	f := NewObjectFactory()
	require.NoError(t, f.Register("user", func() Model { return newUser() }))
	assert.Error(t, f.Register("user", func() Model { return newUser() }))
	assert.Error(t, f.Register("", nil))
	assert.Equal(t, []string{"user"}, f.Keys())

	m, err := f.Create("user")
	require.NoError(t, err)
	assert.IsType(t, &user{}, m)
}

func TestRepository_CRUD(t *testing.T) {
	repo := newUserRepo(t, WithIdentityMap(16))
	ctx := context.Background()

	ada := &user{Name: "ada", Email: "ada@example.com", Active: true}
	require.NoError(t, repo.Save(ctx, ada))
	assert.Equal(t, int64(1), ada.ID, "generated key is set on the model")
	assert.True(t, ada.IsClean())

	require.NoError(t, repo.Save(ctx, &user{Name: "bob"}))

	found, err := repo.Find(ctx, int64(1))
	require.NoError(t, err)
	assert.Same(t, ada, found, "identity map returns the saved instance")

	repo.Forget()
	found, err = repo.Find(ctx, int64(1))
	require.NoError(t, err)
	assert.NotSame(t, ada, found)
	assert.Equal(t, "ada@example.com", found.Email)
	assert.True(t, found.Active)

	found.Rename("ada lovelace")
	require.NoError(t, repo.Save(ctx, found))

	repo.Forget()
	reloaded, err := repo.Find(ctx, int64(1))
	require.NoError(t, err)
	assert.Equal(t, "ada lovelace", reloaded.Name)

	n, err := repo.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, repo.Delete(ctx, reloaded))
	assert.True(t, reloaded.IsDeleted())
	assert.ErrorIs(t, repo.Save(ctx, reloaded), ErrDeletedModel)

	_, err = repo.Find(ctx, int64(1))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepository_FindAll(t *testing.T) {
	repo := newUserRepo(t)
	ctx := context.Background()

	for _, name := range []string{"carol", "ada", "bob"} {
		require.NoError(t, repo.Save(ctx, &user{Name: name, Active: name != "bob"}))
	}

	all, err := repo.FindAll(ctx, Criteria{Order: []OrderBy{{Member: "name"}}})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "ada", all[0].Name)

	active, err := repo.FindAll(ctx, Criteria{
		Filters: map[string]interface{}{"active": true},
		Order:   []OrderBy{{Member: "name", Desc: true}},
		Limit:   1,
	})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "carol", active[0].Name)

	page, err := repo.FindAll(ctx, Criteria{Order: []OrderBy{{Member: "id"}}, Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "bob", page[0].Name)

	inactive, err := repo.Count(ctx, map[string]interface{}{"active": false})
	require.NoError(t, err)
	assert.Equal(t, int64(1), inactive)

	nullEmail, err := repo.Count(ctx, map[string]interface{}{"email": nil})
	require.NoError(t, err)
	assert.Equal(t, int64(0), nullEmail, "empty strings are stored, not NULL")

	_, err = repo.FindAll(ctx, Criteria{Filters: map[string]interface{}{"notes": "x"}})
	assert.ErrorIs(t, err, ErrUnknownMember)
	_, err = repo.FindAll(ctx, Criteria{Order: []OrderBy{{Member: "nope"}}})
	assert.ErrorIs(t, err, ErrUnknownMember)
}

func TestRepository_SaveCleanIsNoop(t *testing.T) {
	repo := newUserRepo(t)
	ctx := context.Background()

	u := &user{Name: "ada"}
	require.NoError(t, repo.Save(ctx, u))
	u.Name = "changed without marking"
	require.NoError(t, repo.Save(ctx, u))

	reloaded, err := repo.Find(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "ada", reloaded.Name)
}

func TestRepository_DeleteWithoutKey(t *testing.T) {
	repo := newUserRepo(t)
	assert.ErrorIs(t, repo.Delete(context.Background(), &user{}), ErrNoPrimaryKey)
}

func TestRepository_DatabaseError(t *testing.T) {
	mapper, err := NewMapper("missing_table", "id", map[string]string{"id": "id"})
	require.NoError(t, err)
	builder := NewDataBuilder(nil)
	require.NoError(t, builder.Objects().Register("ghost", func() Model { return newUser() }))

	repo, err := NewRepository[*user]("ghost", newTestSource(t), mapper, builder)
	require.NoError(t, err)

	_, err = repo.Find(context.Background(), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such table")
}

func TestRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := NewRedisClient(mr.Addr(), "", 0)
	cache := NewRedisCache(client, "appfuel:orm:", zaptest.NewLogger(t).Sugar())
	defer cache.Close()
	ctx := context.Background()

	require.NoError(t, cache.Ping(ctx))

	_, ok, err := cache.Get(ctx, "user", "k1")
	require.NoError(t, err)
	assert.False(t, ok)

	rows := []map[string]interface{}{{"id": int64(1), "name": "ada"}}
	require.NoError(t, cache.Set(ctx, "user", "k1", rows, time.Minute))
	require.NoError(t, cache.Set(ctx, "user", "k2", rows, time.Minute))
	require.NoError(t, cache.Set(ctx, "order", "k1", rows, time.Minute))
	assert.True(t, mr.Exists("appfuel:orm:user:k1"))

	got, ok, err := cache.Get(ctx, "user", "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ada", got[0]["name"])

	mr.FastForward(2 * time.Minute)
	_, ok, err = cache.Get(ctx, "user", "k1")
	require.NoError(t, err)
	assert.False(t, ok, "entries expire with the ttl")

	require.NoError(t, cache.Set(ctx, "user", "k1", rows, time.Minute))
	require.NoError(t, cache.Invalidate(ctx, "user"))
	assert.False(t, mr.Exists("appfuel:orm:user:k1"))
	assert.True(t, mr.Exists("appfuel:orm:order:k1"), "other domains survive")

	require.NoError(t, mr.Set("appfuel:orm:user:bad", "not msgpack"))
	_, ok, err = cache.Get(ctx, "user", "bad")
	require.NoError(t, err)
	assert.False(t, ok)
}

type countingCache struct {
	ResultCache
	gets, sets, invalidations int
}

func (c *countingCache) Get(ctx context.Context, domain, key string) ([]map[string]interface{}, bool, error) {
	c.gets++
	return c.ResultCache.Get(ctx, domain, key)
}

func (c *countingCache) Set(ctx context.Context, domain, key string, rows []map[string]interface{}, ttl time.Duration) error {
	c.sets++
	return c.ResultCache.Set(ctx, domain, key, rows, ttl)
}

func (c *countingCache) Invalidate(ctx context.Context, domain string) error {
	c.invalidations++
	return c.ResultCache.Invalidate(ctx, domain)
}

func TestRepository_ResultCache(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := &countingCache{ResultCache: NewRedisCache(NewRedisClient(mr.Addr(), "", 0), "test:", nil)}
	repo := newUserRepo(t, WithResultCache(cache, time.Minute))
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, &user{Name: "ada"}))
	assert.Equal(t, 1, cache.invalidations)

	first, err := repo.FindAll(ctx, Criteria{})
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, 1, cache.sets)

	second, err := repo.FindAll(ctx, Criteria{})
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, "ada", second[0].Name)
	assert.Equal(t, 1, cache.sets, "second read is served from the cache")

	require.NoError(t, repo.Save(ctx, &user{Name: "bob"}))
	third, err := repo.FindAll(ctx, Criteria{})
	require.NoError(t, err)
	assert.Len(t, third, 2, "writes invalidate cached queries")
}

func TestManager_RegisterAndLookup(t *testing.T) {
	factory := &Factory{IdentityMapSize: 8}
	m := NewManager(factory, newTestSource(t))

	mapper, err := MapperFor("users", "id", user{})
	require.NoError(t, err)
	repo, err := RegisterDB(m, "user", "", mapper, newUser)
	require.NoError(t, err)

	got, err := Lookup[*user](m, "user", SourceDB)
	require.NoError(t, err)
	assert.Same(t, repo, got)
	assert.Equal(t, []string{"db:user"}, m.Keys())

	_, err = Lookup[*user](m, "order", "")
	assert.ErrorIs(t, err, ErrUnknownDomain)

	type other struct{ State }
	_, err = Lookup[*other](m, "user", "")
	assert.True(t, errors.Is(err, ErrRepositoryType))

	_, err = RegisterDB(m, "user", "", mapper, newUser)
	assert.Error(t, err, "duplicate registration")
	_, err = RegisterDB(m, "audit", "archive", mapper, newUser)
	assert.Error(t, err, "unknown source")
}
