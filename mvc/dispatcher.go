package mvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"appfuel/kernel"
	"appfuel/metrics"
	"appfuel/view"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxFormMemory = 32 << 20

// Dispatcher resolves a route, builds the context and runs the route's
// action. The front controller uses one per request; every action gets an
// internal one to call other actions with.
type Dispatcher struct {
	factory    *ActionFactory
	internal   bool
	strategy   string
	inherited  string
	ajaxFormat string
	route      string
	namespace  string
	uri        *RequestURI
	input      *Input
	aclCodes   []string
}

// NewDispatcher creates an external dispatcher
func NewDispatcher(factory *ActionFactory) *Dispatcher {
	if factory == nil {
		factory = NewActionFactory(nil, nil, nil, nil)
	}
	return &Dispatcher{factory: factory}
}

func (d *Dispatcher) child() *Dispatcher {
	return &Dispatcher{
		factory:    d.factory,
		internal:   true,
		inherited:  d.strategy,
		ajaxFormat: d.ajaxFormat,
	}
}

func (d *Dispatcher) Factory() *ActionFactory { return d.factory }

// IsInternal reports whether the dispatcher belongs to an action
func (d *Dispatcher) IsInternal() bool { return d.internal }

// SetStrategy sets html, console or ajax, in any case
func (d *Dispatcher) SetStrategy(strategy string) error {
	strategy = strings.ToLower(strings.TrimSpace(strategy))
	if !view.IsValidStrategy(strategy) {
		return fmt.Errorf("%w: %q", ErrInvalidStrategy, strategy)
	}
	d.strategy = strategy
	return nil
}

// Strategy is the strategy set, or the calling dispatcher's
func (d *Dispatcher) Strategy() string {
	if d.strategy != "" {
		return d.strategy
	}
	return d.inherited
}

// SetAjaxFormat picks view.FormatJSON or view.FormatMsgpack for ajax views
func (d *Dispatcher) SetAjaxFormat(format string) {
	d.ajaxFormat = format
}

// SetRoute resolves route to its action namespace
func (d *Dispatcher) SetRoute(route string) error {
	d.route = route
	ns, ok := d.factory.Namespace(route)
	if !ok {
		d.namespace = ""
		return &RouteNotFoundError{Route: route}
	}
	d.namespace = ns
	return nil
}

func (d *Dispatcher) Route() string { return d.route }

func (d *Dispatcher) Namespace() string { return d.namespace }

// AddAclCode adds a role code. Duplicates are ignored.
func (d *Dispatcher) AddAclCode(code string) error {
	if code == "" {
		return ErrInvalidAclCode
	}
	for _, existing := range d.aclCodes {
		if existing == code {
			return nil
		}
	}
	d.aclCodes = append(d.aclCodes, code)
	return nil
}

func (d *Dispatcher) AddAclCodes(codes []string) error {
	for _, code := range codes {
		if err := d.AddAclCode(code); err != nil {
			return err
		}
	}
	return nil
}

// SetURI parses raw and routes to its route key
func (d *Dispatcher) SetURI(raw string) error {
	return d.SetRequestURI(ParseURI(raw))
}

func (d *Dispatcher) SetRequestURI(uri *RequestURI) error {
	d.uri = uri
	return d.SetRoute(uri.RouteKey())
}

func (d *Dispatcher) URI() *RequestURI { return d.uri }

// DefineInput creates the input. With useURI the uri params are merged
// over the given get params.
func (d *Dispatcher) DefineInput(method string, params map[string]map[string]interface{}, useURI bool) error {
	if params == nil {
		params = make(map[string]map[string]interface{})
	}
	if useURI {
		if d.uri == nil {
			return ErrURIRequired
		}
		get := make(map[string]interface{}, len(params[ParamGet]))
		for k, v := range params[ParamGet] {
			get[k] = v
		}
		for k, v := range d.uri.Params() {
			get[k] = v
		}
		params[ParamGet] = get
	}

	in, err := NewInput(method, params)
	if err != nil {
		return err
	}
	d.input = in
	return nil
}

// UseURIForInputSource is a get input holding only the uri params
func (d *Dispatcher) UseURIForInputSource() error {
	return d.DefineInput(MethodGet, nil, true)
}

func (d *Dispatcher) NoInputRequired() error {
	return d.DefineInput(MethodGet, nil, false)
}

// DefineInputFromRequest builds the input from r: its query, form or json
// body, multipart files and cookies. With useURI and no uri set, the uri is
// taken from the request.
func (d *Dispatcher) DefineInputFromRequest(r *http.Request, useURI bool) error {
	if useURI && d.uri == nil {
		if err := d.SetURI(r.URL.RequestURI()); err != nil {
			return err
		}
	}

	params := map[string]map[string]interface{}{
		ParamGet:    flatten(r.URL.Query()),
		ParamPost:   {},
		ParamFiles:  {},
		ParamCookie: {},
	}

	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		ct := r.Header.Get("Content-Type")
		switch {
		case strings.HasPrefix(ct, "application/json"):
			if r.Body != nil {
				body := map[string]interface{}{}
				if err := json.NewDecoder(io.LimitReader(r.Body, maxFormMemory)).Decode(&body); err != nil {
					return fmt.Errorf("%w: decode json body: %v", ErrBadInput, err)
				}
				params[ParamPost] = body
			}
		case strings.HasPrefix(ct, "multipart/form-data"):
			if err := r.ParseMultipartForm(maxFormMemory); err != nil {
				return fmt.Errorf("%w: parse multipart form: %v", ErrBadInput, err)
			}
			params[ParamPost] = flatten(r.MultipartForm.Value)
			for name, headers := range r.MultipartForm.File {
				if len(headers) == 1 {
					params[ParamFiles][name] = headers[0]
				} else {
					params[ParamFiles][name] = headers
				}
			}
		default:
			if err := r.ParseForm(); err != nil {
				return fmt.Errorf("%w: parse form: %v", ErrBadInput, err)
			}
			params[ParamPost] = flatten(r.PostForm)
		}
	}

	for _, c := range r.Cookies() {
		if c.Name != "" {
			params[ParamCookie][c.Name] = c.Value
		}
	}

	if err := d.DefineInput(r.Method, params, useURI); err != nil {
		return err
	}

	remote := r.RemoteAddr
	if host, _, err := net.SplitHostPort(remote); err == nil {
		remote = host
	}
	d.input.SetServer(map[string]string{
		ServerClientIP:     r.Header.Get("Client-Ip"),
		ServerForwardedFor: r.Header.Get("X-Forwarded-For"),
		ServerRemoteAddr:   remote,
	})
	return nil
}

func flatten(values map[string][]string) map[string]interface{} {
	out := make(map[string]interface{}, len(values))
	for k, v := range values {
		if k == "" {
			continue
		}
		if len(v) == 1 {
			out[k] = v[0]
		} else {
			out[k] = append([]string(nil), v...)
		}
	}
	return out
}

// BuildContext creates the context to dispatch: the input, the view for the
// strategy, the app-strategy and app-route variables and the role codes
func (d *Dispatcher) BuildContext() (*Context, error) {
	if d.input == nil {
		return nil, ErrInputRequired
	}
	if d.namespace == "" {
		return nil, ErrRouteNotSet
	}
	strategy := d.Strategy()
	if strategy == "" {
		return nil, fmt.Errorf("%w: strategy not set", ErrInvalidStrategy)
	}

	var v view.Template
	switch strategy {
	case view.StrategyHTML:
		v = d.factory.CreateHTMLView(d.namespace)
	case view.StrategyConsole:
		v = d.factory.CreateConsoleView(d.namespace)
	default:
		v = d.factory.CreateAjaxView(d.ajaxFormat)
	}

	mc := NewContext(d.input).SetView(v)
	mc.Add(VarStrategy, strategy)
	mc.Add(VarRoute, d.route)
	for _, code := range d.aclCodes {
		mc.AddAclCode(code)
	}
	return mc, nil
}

// Dispatch builds the context and runs it
func (d *Dispatcher) Dispatch(ctx context.Context) (*Context, error) {
	mc, err := d.BuildContext()
	if err != nil {
		return nil, err
	}
	return d.RunDispatch(ctx, mc)
}

// RunDispatch runs the action of the current route with mc. The dispatcher
// is cleared afterwards.
func (d *Dispatcher) RunDispatch(ctx context.Context, mc *Context) (*Context, error) {
	route, namespace, strategy := d.route, d.namespace, d.Strategy()
	if namespace == "" {
		return nil, ErrRouteNotSet
	}
	defer d.Clear()

	ctx, span := d.factory.Tracer().Start(ctx, "mvc.dispatch", trace.WithAttributes(
		attribute.String("appfuel.route", route),
		attribute.String("appfuel.namespace", namespace),
		attribute.String("appfuel.strategy", strategy),
		attribute.Bool("appfuel.internal", d.internal),
	))
	defer span.End()

	start := time.Now()
	result, err := d.run(ctx, route, namespace, mc)
	status := dispatchStatus(err)

	metrics.DispatchTotal.WithLabelValues(route, strategy, status).Inc()
	metrics.DispatchDuration.WithLabelValues(route, strategy).Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.String("appfuel.status", status))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, status)
		d.factory.Logger().Warnw("Dispatch failed",
			"route", route, "strategy", strategy, "status", status, "error", err)
		return nil, err
	}
	return result, nil
}

func (d *Dispatcher) run(ctx context.Context, route, namespace string, mc *Context) (result *Context, err error) {
	defer kernel.RecoverError("dispatch-"+route, d.factory.Logger(), &err)

	access := d.factory.Access(route)
	if access != nil && access.IsInternalOnlyAccess() && !d.internal {
		return nil, &RouteDeniedError{Route: route, Codes: mc.AclCodes(), Reason: "internal only"}
	}

	action, err := d.factory.CreateAction(namespace)
	if err != nil {
		return nil, err
	}
	if aware, ok := action.(routeAccessAware); ok {
		aware.SetRouteAccess(access)
	}
	if aware, ok := action.(DispatcherAware); ok {
		aware.SetDispatcher(d.child())
	}

	method := ""
	if mc.Input() != nil {
		method = mc.Input().Method()
	}
	allowed := true
	if checker, ok := action.(AccessChecker); ok {
		allowed = checker.IsContextAllowed(mc.AclCodes(), method)
	} else if access != nil {
		allowed = access.IsAccessAllowed(mc.AclCodes(), method)
	}
	if !allowed {
		return nil, &RouteDeniedError{Route: route, Codes: mc.AclCodes()}
	}

	out, err := action.Process(ctx, mc)
	if err != nil {
		return nil, err
	}
	if out != nil {
		mc = out
	}
	return mc, nil
}

func dispatchStatus(err error) string {
	var perr *kernel.PanicError
	switch {
	case err == nil:
		return "ok"
	case IsRouteDenied(err):
		return "denied"
	case IsRouteNotFound(err):
		return "not_found"
	case errors.As(err, &perr):
		return "panic"
	}
	return "error"
}

// Clear resets the dispatcher for the next dispatch
func (d *Dispatcher) Clear() {
	d.strategy = ""
	d.route = ""
	d.namespace = ""
	d.uri = nil
	d.input = nil
	d.aclCodes = nil
}
