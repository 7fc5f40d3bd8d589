package orm

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Factory creates the shared ORM parts: the object factory, the data
// builder and the repository options every repository gets
type Factory struct {
	IdentityMapSize int
	Cache           ResultCache
	CacheTTL        time.Duration
	Logger          *zap.SugaredLogger

	once    sync.Once
	objects *ObjectFactory
}

func (f *Factory) CreateObjectFactory() *ObjectFactory {
	f.once.Do(func() { f.objects = NewObjectFactory() })
	return f.objects
}

// CreateDataBuilder returns a builder over the shared object factory
func (f *Factory) CreateDataBuilder() *DataBuilder {
	return NewDataBuilder(f.CreateObjectFactory())
}

// RepositoryOptions returns the identity map, cache and logger options
func (f *Factory) RepositoryOptions() []RepositoryOption {
	opts := []RepositoryOption{WithIdentityMap(f.IdentityMapSize), WithLogger(f.Logger)}
	if f.Cache != nil {
		opts = append(opts, WithResultCache(f.Cache, f.CacheTTL))
	}
	return opts
}

// Manager holds the repositories by domain key and source
type Manager struct {
	mu      sync.RWMutex
	factory *Factory
	sources map[string]*DbSource
	repos   map[string]interface{}
}

// NewManager creates a manager whose "db" source is source
func NewManager(factory *Factory, source *DbSource) *Manager {
	if factory == nil {
		factory = &Factory{}
	}
	m := &Manager{
		factory: factory,
		sources: make(map[string]*DbSource),
		repos:   make(map[string]interface{}),
	}
	if source != nil {
		m.sources[SourceDB] = source
	}
	return m
}

func (m *Manager) Factory() *Factory { return m.factory }

// AddSource registers an extra database source, e.g. one per connector
func (m *Manager) AddSource(name string, source *DbSource) {
	m.mu.Lock()
	m.sources[name] = source
	m.mu.Unlock()
}

// Source returns the source named name, "" being the db source
func (m *Manager) Source(name string) (*DbSource, bool) {
	if name == "" {
		name = SourceDB
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sources[name]
	return s, ok
}

func repoKey(key, source string) string {
	if source == "" {
		source = SourceDB
	}
	return source + ":" + key
}

// Register stores repo for key on source
func (m *Manager) Register(key, source string, repo interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := repoKey(key, source)
	if _, ok := m.repos[k]; ok {
		return fmt.Errorf("repository %s already registered", k)
	}
	m.repos[k] = repo
	return nil
}

// Repository returns the repository registered for key on source
func (m *Manager) Repository(key, source string) (interface{}, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.repos[repoKey(key, source)]
	return r, ok
}

// Keys lists the registered source:key pairs
func (m *Manager) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.repos))
	for k := range m.repos {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// RegisterDB registers the constructor for key and creates its repository
// on the named source
func RegisterDB[T Model](m *Manager, key, source string, mapper *Mapper, ctor func() T) (*Repository[T], error) {
	src, ok := m.Source(source)
	if !ok {
		return nil, fmt.Errorf("repository %s: unknown source %q", key, source)
	}
	if err := m.factory.CreateObjectFactory().Register(key, func() Model { return ctor() }); err != nil {
		return nil, err
	}

	repo, err := NewRepository[T](key, src, mapper, m.factory.CreateDataBuilder(), m.factory.RepositoryOptions()...)
	if err != nil {
		return nil, err
	}
	if err := m.Register(key, source, repo); err != nil {
		return nil, err
	}
	return repo, nil
}

// Lookup returns the typed repository for key on source
func Lookup[T Model](m *Manager, key, source string) (*Repository[T], error) {
	r, ok := m.Repository(key, source)
	if !ok {
		return nil, fmt.Errorf("repository %s: %w", repoKey(key, source), ErrUnknownDomain)
	}
	repo, ok := r.(*Repository[T])
	if !ok {
		return nil, fmt.Errorf("repository %s: %w: %T", repoKey(key, source), ErrRepositoryType, r)
	}
	return repo, nil
}
