package mvc

import (
	"fmt"
	"sort"
	"sync"

	"appfuel/kernel"
	"appfuel/orm"
	"appfuel/view"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "appfuel/mvc"

// ActionConstructor creates a new action for every dispatch
type ActionConstructor func() Action

type route struct {
	namespace string
	access    *RouteAccess
}

// ActionFactory maps route keys to action namespaces and creates the
// actions and views the dispatcher needs
type ActionFactory struct {
	mu       sync.RWMutex
	routes   map[string]route
	actions  map[string]ActionConstructor
	views    *view.Factory
	orm      *orm.Manager
	registry *kernel.Registry
	tracer   trace.Tracer
	logger   *zap.SugaredLogger
}

// NewActionFactory creates a factory. Any argument may be nil.
func NewActionFactory(views *view.Factory, manager *orm.Manager, registry *kernel.Registry, logger *zap.SugaredLogger) *ActionFactory {
	if views == nil {
		views = view.NewFactory(nil)
	}
	if registry == nil {
		registry = kernel.NewRegistry()
		registry.Init(nil)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &ActionFactory{
		routes:   make(map[string]route),
		actions:  make(map[string]ActionConstructor),
		views:    views,
		orm:      manager,
		registry: registry,
		tracer:   otel.Tracer(tracerName),
		logger:   logger,
	}
}

// SetTracerProvider replaces the global tracer provider for dispatch spans
func (f *ActionFactory) SetTracerProvider(tp trace.TracerProvider) {
	f.mu.Lock()
	f.tracer = tp.Tracer(tracerName)
	f.mu.Unlock()
}

func (f *ActionFactory) Tracer() trace.Tracer {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.tracer
}

// Register maps key to namespace. ctor may be nil when another route
// already registered namespace. A nil access means no restrictions.
func (f *ActionFactory) Register(key, namespace string, ctor ActionConstructor, access *RouteAccess) error {
	if namespace == "" {
		namespace = key
	}
	if key == "" {
		return ErrInvalidRoute
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, dup := f.routes[key]; dup {
		return fmt.Errorf("route %q already registered", key)
	}
	if ctor == nil {
		if _, ok := f.actions[namespace]; !ok {
			return fmt.Errorf("%w: %q has no action", ErrInvalidRoute, namespace)
		}
	} else {
		f.actions[namespace] = ctor
	}
	f.routes[key] = route{namespace: namespace, access: access}
	f.logger.Debugw("Route registered", "route", key, "namespace", namespace)
	return nil
}

// Namespace resolves a route key
func (f *ActionFactory) Namespace(key string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	r, ok := f.routes[key]
	return r.namespace, ok
}

// Access returns the route's access rules, nil when unrestricted
func (f *ActionFactory) Access(key string) *RouteAccess {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.routes[key].access
}

// Routes lists the registered route keys in sorted order
func (f *ActionFactory) Routes() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	keys := make([]string, 0, len(f.routes))
	for k := range f.routes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CreateAction creates the action registered for namespace
func (f *ActionFactory) CreateAction(namespace string) (Action, error) {
	f.mu.RLock()
	ctor, ok := f.actions[namespace]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no action for namespace %q", namespace)
	}
	action := ctor()
	if action == nil {
		return nil, fmt.Errorf("constructor for %q returned nil", namespace)
	}
	return action, nil
}

func (f *ActionFactory) CreateHTMLView(namespace string) view.Template {
	return f.views.CreateHTMLView(namespace)
}

func (f *ActionFactory) CreateConsoleView(namespace string) view.Template {
	return f.views.CreateConsoleView(namespace)
}

func (f *ActionFactory) CreateAjaxView(format string) view.Template {
	return f.views.CreateAjaxView(format)
}

func (f *ActionFactory) Views() *view.Factory { return f.views }

func (f *ActionFactory) ORM() *orm.Manager { return f.orm }

func (f *ActionFactory) Registry() *kernel.Registry { return f.registry }

func (f *ActionFactory) Logger() *zap.SugaredLogger { return f.logger }
