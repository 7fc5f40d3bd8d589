package mvc

import (
	"context"
	"fmt"

	"appfuel/orm"
)

// Action is the controller of a route. A returned context replaces the one
// that was dispatched; returning nil keeps it.
type Action interface {
	Process(ctx context.Context, mc *Context) (*Context, error)
}

// ActionFunc adapts a function to Action
type ActionFunc func(ctx context.Context, mc *Context) (*Context, error)

func (f ActionFunc) Process(ctx context.Context, mc *Context) (*Context, error) {
	return f(ctx, mc)
}

// DispatcherAware actions receive a dispatcher to call other actions with
type DispatcherAware interface {
	SetDispatcher(d *Dispatcher)
}

// AccessChecker actions decide themselves whether a context may run them
type AccessChecker interface {
	IsContextAllowed(codes []string, method string) bool
}

type routeAccessAware interface {
	SetRouteAccess(access *RouteAccess)
}

// BaseAction gives embedding actions a dispatcher, access checks against
// their route's RouteAccess and helpers to call other actions
type BaseAction struct {
	dispatcher *Dispatcher
	access     *RouteAccess
}

func (a *BaseAction) SetDispatcher(d *Dispatcher) { a.dispatcher = d }

func (a *BaseAction) Dispatcher() *Dispatcher { return a.dispatcher }

func (a *BaseAction) SetRouteAccess(access *RouteAccess) { a.access = access }

func (a *BaseAction) RouteAccess() *RouteAccess { return a.access }

// IsContextAllowed checks codes against the route's access rules. Routes
// without rules allow everyone.
func (a *BaseAction) IsContextAllowed(codes []string, method string) bool {
	if a.access == nil {
		return true
	}
	return a.access.IsAccessAllowed(codes, method)
}

func (a *BaseAction) factory() (*ActionFactory, error) {
	if a.dispatcher == nil {
		return nil, fmt.Errorf("action has no dispatcher")
	}
	return a.dispatcher.Factory(), nil
}

// Repository returns the untyped repository for key on source. Use
// Repo for a typed one.
func (a *BaseAction) Repository(key, source string) (interface{}, error) {
	f, err := a.factory()
	if err != nil {
		return nil, err
	}
	if f.ORM() == nil {
		return nil, fmt.Errorf("repository %s: orm is not configured", key)
	}
	repo, ok := f.ORM().Repository(key, source)
	if !ok {
		return nil, fmt.Errorf("repository %s: %w", key, orm.ErrUnknownDomain)
	}
	return repo, nil
}

// Params returns the kernel registry params
func (a *BaseAction) Params() map[string]interface{} {
	f, err := a.factory()
	if err != nil {
		return map[string]interface{}{}
	}
	return f.Registry().GetAll()
}

// Call dispatches mc to the route it names
func (a *BaseAction) Call(ctx context.Context, route string, mc *Context) (*Context, error) {
	if a.dispatcher == nil {
		return nil, fmt.Errorf("action has no dispatcher")
	}
	if err := a.dispatcher.SetRoute(route); err != nil {
		return nil, err
	}
	return a.dispatcher.RunDispatch(ctx, mc)
}

// CallAsContext dispatches route with a new context built from old: the
// same input, role codes and variables
func (a *BaseAction) CallAsContext(ctx context.Context, route string, old *Context) (*Context, error) {
	if a.dispatcher == nil {
		return nil, fmt.Errorf("action has no dispatcher")
	}
	d := a.dispatcher
	if err := d.SetRoute(route); err != nil {
		return nil, err
	}
	if s := old.Strategy(); s != "" {
		if err := d.SetStrategy(s); err != nil {
			return nil, err
		}
	}
	d.input = old.Input()
	if err := d.AddAclCodes(old.AclCodes()); err != nil {
		return nil, err
	}

	mc, err := d.BuildContext()
	if err != nil {
		return nil, err
	}
	for k, v := range old.Vars() {
		if k != VarRoute && k != VarStrategy {
			mc.Add(k, v)
		}
	}
	return d.RunDispatch(ctx, mc)
}

// CallEmpty dispatches route with no input
func (a *BaseAction) CallEmpty(ctx context.Context, route string) (*Context, error) {
	if a.dispatcher == nil {
		return nil, fmt.Errorf("action has no dispatcher")
	}
	if err := a.dispatcher.SetRoute(route); err != nil {
		return nil, err
	}
	if err := a.dispatcher.NoInputRequired(); err != nil {
		return nil, err
	}
	return a.dispatcher.Dispatch(ctx)
}

// Repo returns the typed repository for key on source
func Repo[T orm.Model](a *BaseAction, key, source string) (*orm.Repository[T], error) {
	f, err := a.factory()
	if err != nil {
		return nil, err
	}
	if f.ORM() == nil {
		return nil, fmt.Errorf("repository %s: orm is not configured", key)
	}
	return orm.Lookup[T](f.ORM(), key, source)
}
