package mvc

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"testing/fstest"

	"appfuel/kernel"
	"appfuel/metrics"
	"appfuel/view"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"
)

var templates = fstest.MapFS{
	"hello.html": {Data: []byte(`<p>{{.message}}</p>`)},
}

type helloAction struct {
	BaseAction
}

func (a *helloAction) Process(_ context.Context, mc *Context) (*Context, error) {
	name, _ := mc.Input().Param("name", "world").(string)
	mc.Assign("message", "hello "+name)
	return nil, nil
}

// callerAction calls the internal "inner" route with its own context
type callerAction struct {
	BaseAction
}

func (a *callerAction) Process(ctx context.Context, mc *Context) (*Context, error) {
	inner, err := a.CallAsContext(ctx, "inner", mc)
	if err != nil {
		return nil, err
	}
	mc.Assign("inner", inner.View().Get("secret", ""))
	mc.Assign("inner-route", inner.Route())

	empty, err := a.CallEmpty(ctx, "inner")
	if err != nil {
		return nil, err
	}
	mc.Assign("empty", empty.View().Get("secret", ""))
	return nil, nil
}

func newTestFactory(t *testing.T) *ActionFactory {
	t.Helper()
	reg := kernel.NewRegistry()
	reg.Init(map[string]interface{}{"site": "demo"})
	f := NewActionFactory(view.NewFactory(templates), nil, reg, zaptest.NewLogger(t).Sugar())

	require.NoError(t, f.Register("hello", "hello", func() Action { return &helloAction{} }, nil))
	require.NoError(t, f.Register("greet", "hello", nil, nil))
	require.NoError(t, f.Register("admin", "admin", func() Action { return &helloAction{} }, RestrictedAccess("admin")))
	require.NoError(t, f.Register("inner", "inner", func() Action {
		return ActionFunc(func(_ context.Context, mc *Context) (*Context, error) {
			mc.Assign("secret", "from inner")
			return nil, nil
		})
	}, NewRouteAccess().EnableInternalOnlyAccess().IgnoreAclAccess()))
	require.NoError(t, f.Register("caller", "caller", func() Action { return &callerAction{} }, PublicAccess()))
	require.NoError(t, f.Register("replace", "replace", func() Action {
		return ActionFunc(func(_ context.Context, mc *Context) (*Context, error) {
			out := NewContext(mc.Input()).SetView(view.NewAjaxTemplate(view.FormatJSON))
			out.Assign("replaced", true)
			return out.SetExitCode(201), nil
		})
	}, nil))
	require.NoError(t, f.Register("boom", "boom", func() Action {
		return ActionFunc(func(context.Context, *Context) (*Context, error) {
			panic("exploded")
		})
	}, nil))
	require.NoError(t, f.Register("fail", "fail", func() Action {
		return ActionFunc(func(context.Context, *Context) (*Context, error) {
			return nil, errors.New("repository offline")
		})
	}, nil))
	return f
}

func consoleDispatcher(t *testing.T, f *ActionFactory, uri string) *Dispatcher {
	t.Helper()
	d := NewDispatcher(f)
	require.NoError(t, d.SetStrategy("CONSOLE"))
	require.NoError(t, d.SetURI(uri))
	require.NoError(t, d.UseURIForInputSource())
	return d
}

func TestActionFactory_Register(t *testing.T) {
	f := newTestFactory(t)

	ns, ok := f.Namespace("greet")
	assert.True(t, ok)
	assert.Equal(t, "hello", ns, "aliases share a namespace")
	_, ok = f.Namespace("missing")
	assert.False(t, ok)

	assert.Equal(t, []string{"admin", "boom", "caller", "fail", "greet", "hello", "inner", "replace"}, f.Routes())
	assert.Error(t, f.Register("hello", "hello", func() Action { return &helloAction{} }, nil), "duplicate route")
	assert.ErrorIs(t, f.Register("", "x", func() Action { return &helloAction{} }, nil), ErrInvalidRoute)
	assert.ErrorIs(t, f.Register("orphan", "nowhere", nil, nil), ErrInvalidRoute)

	_, err := f.CreateAction("nowhere")
	assert.Error(t, err)
	a, err := f.CreateAction("hello")
	require.NoError(t, err)
	assert.IsType(t, &helloAction{}, a)
}

func TestDispatcher_Setters(t *testing.T) {
	d := NewDispatcher(newTestFactory(t))

	assert.ErrorIs(t, d.SetStrategy("pdf"), ErrInvalidStrategy)
	require.NoError(t, d.SetStrategy("Ajax"))
	assert.Equal(t, "ajax", d.Strategy())

	err := d.SetRoute("missing")
	var nf *RouteNotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "missing", nf.Route)

	assert.ErrorIs(t, d.AddAclCode(""), ErrInvalidAclCode)
	require.NoError(t, d.AddAclCodes([]string{"a", "b", "a"}))
	assert.Equal(t, []string{"a", "b"}, d.aclCodes)

	assert.ErrorIs(t, d.DefineInput("get", nil, true), ErrURIRequired)
	require.NoError(t, d.NoInputRequired())
}

func TestDispatcher_BuildContext(t *testing.T) {
	f := newTestFactory(t)

	d := NewDispatcher(f)
	require.NoError(t, d.SetStrategy("html"))
	require.NoError(t, d.SetURI("hello/name/ada?lang=en"))
	_, err := d.BuildContext()
	assert.ErrorIs(t, err, ErrInputRequired)

	require.NoError(t, d.DefineInput("get", map[string]map[string]interface{}{
		ParamGet: {"name": "overridden", "page": "1"},
	}, true))
	require.NoError(t, d.AddAclCode("staff"))

	mc, err := d.BuildContext()
	require.NoError(t, err)
	assert.Equal(t, "html", mc.Get(VarStrategy, nil))
	assert.Equal(t, "hello", mc.Route())
	assert.Equal(t, []string{"staff"}, mc.AclCodes())
	assert.IsType(t, &view.HTMLTemplate{}, mc.View())

	get, _ := mc.Input().All(ParamGet)
	assert.Equal(t, map[string]interface{}{"name": "ada", "page": "1", "lang": "en"}, get)
}

func TestDispatcher_Dispatch(t *testing.T) {
	f := newTestFactory(t)
	before := testutil.ToFloat64(metrics.DispatchTotal.WithLabelValues("hello", "console", "ok"))

	d := consoleDispatcher(t, f, "hello/name/ada")
	mc, err := d.Dispatch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "hello ada", mc.View().Get("message", nil))
	assert.IsType(t, &view.ConsoleTemplate{}, mc.View())
	assert.Equal(t, "", d.Route(), "dispatcher is cleared")
	assert.Nil(t, d.URI())
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.DispatchTotal.WithLabelValues("hello", "console", "ok")))

	_, err = d.Dispatch(context.Background())
	assert.ErrorIs(t, err, ErrInputRequired)
}

func TestDispatcher_ReturnedContextReplaces(t *testing.T) {
	d := consoleDispatcher(t, newTestFactory(t), "replace")
	mc, err := d.Dispatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, true, mc.View().Get("replaced", nil))
	assert.Equal(t, 201, mc.ExitCode())
}

func TestDispatcher_AccessDenied(t *testing.T) {
	f := newTestFactory(t)

	_, err := consoleDispatcher(t, f, "admin").Dispatch(context.Background())
	var denied *RouteDeniedError
	require.True(t, errors.As(err, &denied))
	assert.Equal(t, "admin", denied.Route)

	d := consoleDispatcher(t, f, "admin")
	require.NoError(t, d.AddAclCode("admin"))
	mc, err := d.Dispatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hello world", mc.View().Get("message", nil))
}

func TestDispatcher_InternalOnly(t *testing.T) {
	f := newTestFactory(t)

	_, err := consoleDispatcher(t, f, "inner").Dispatch(context.Background())
	require.True(t, IsRouteDenied(err), "external dispatchers can not reach internal routes")
	assert.Contains(t, err.Error(), "internal only")

	mc, err := consoleDispatcher(t, f, "caller").Dispatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "from inner", mc.View().Get("inner", nil))
	assert.Equal(t, "inner", mc.View().Get("inner-route", nil))
	assert.Equal(t, "from inner", mc.View().Get("empty", nil))
	assert.Equal(t, "caller", mc.Route())
}

func TestDispatcher_ActionErrors(t *testing.T) {
	f := newTestFactory(t)

	_, err := consoleDispatcher(t, f, "fail").Dispatch(context.Background())
	assert.EqualError(t, err, "repository offline")
	assert.Equal(t, 500, StatusFor(err))

	_, err = consoleDispatcher(t, f, "boom").Dispatch(context.Background())
	var perr *kernel.PanicError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "dispatch-boom", perr.Name)
	assert.Equal(t, 500, StatusFor(err))
}

func TestDispatcher_RunDispatchWithoutRoute(t *testing.T) {
	_, err := NewDispatcher(nil).RunDispatch(context.Background(), NewContext(nil))
	assert.ErrorIs(t, err, ErrRouteNotSet)
}

func TestDispatcher_Spans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	f := newTestFactory(t)
	f.SetTracerProvider(tp)

	_, err := consoleDispatcher(t, f, "caller").Dispatch(context.Background())
	require.NoError(t, err)

	spans := exporter.GetSpans()
	require.Len(t, spans, 3, "caller plus two inner calls")

	routes := map[string]int{}
	var outer tracetest.SpanStub
	for _, s := range spans {
		assert.Equal(t, "mvc.dispatch", s.Name)
		for _, attr := range s.Attributes {
			if attr.Key == "appfuel.route" {
				routes[attr.Value.AsString()]++
				if attr.Value.AsString() == "caller" {
					outer = s
				}
			}
		}
	}
	assert.Equal(t, map[string]int{"caller": 1, "inner": 2}, routes)
	for _, s := range spans {
		assert.Equal(t, outer.SpanContext.TraceID(), s.SpanContext.TraceID())
		if s.SpanContext.SpanID() != outer.SpanContext.SpanID() {
			assert.Equal(t, outer.SpanContext.SpanID(), s.Parent.SpanID(), "inner calls are children")
		}
	}
}

func TestRouteAccess(t *testing.T) {
	tests := []struct {
		name    string
		access  *RouteAccess
		codes   []string
		method  string
		allowed bool
	}{
		{name: "public", access: PublicAccess(), allowed: true},
		{name: "ignored acl", access: RestrictedAccess("x").IgnoreAclAccess(), allowed: true},
		{name: "no codes", access: RestrictedAccess("admin"), allowed: false},
		{name: "matching code", access: RestrictedAccess("admin", "staff"), codes: []string{"guest", "staff"}, allowed: true},
		{name: "per method allowed", access: NewRouteAccess().SetAclMap(map[string][]string{"POST": {"editor"}}), codes: []string{"editor"}, method: "post", allowed: true},
		{name: "per method other method", access: NewRouteAccess().SetAclMap(map[string][]string{"post": {"editor"}}), codes: []string{"editor"}, method: "get", allowed: false},
		{name: "back to all methods", access: NewRouteAccess().SetAclMap(map[string][]string{"post": {"editor"}}).SetAclCodes("editor").UseAclForAllMethods(), codes: []string{"editor"}, method: "get", allowed: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.access.IsAccessAllowed(tt.codes, tt.method))
		})
	}

	a := NewRouteAccess().SetAclCodes("a", "", "a", "b")
	assert.Equal(t, []string{"a", "b"}, a.AclCodes())
	assert.False(t, a.IsAclForEachMethod())
	a.SetAclMap(map[string][]string{"GET": {"a"}})
	assert.True(t, a.IsAclForEachMethod())
	assert.Equal(t, map[string][]string{"get": {"a"}}, a.AclMap())
}

func TestContext(t *testing.T) {
	mc := NewContext(nil)
	mc.AddAclCode("a").AddAclCode("a").AddAclCode("")
	assert.Equal(t, []string{"a"}, mc.AclCodes())
	assert.True(t, mc.IsAclCode("a"))

	mc.Assign("ignored", 1)
	assert.Nil(t, mc.View())

	mc.Load(map[string]interface{}{"x": 1}).Add("y", 2)
	assert.True(t, mc.Exists("x"))
	assert.Equal(t, 2, mc.Get("y", nil))
	assert.Len(t, mc.Vars(), 2)

	mc.Errors().Add("bad input", "validation")
	assert.True(t, mc.Errors().IsError())

	ctx := WithAclCodes(context.Background(), []string{"admin"})
	assert.Equal(t, []string{"admin"}, AclCodes(ctx))
	assert.Nil(t, AclCodes(context.Background()))
}

func TestBaseAction_WithoutDispatcher(t *testing.T) {
	var a BaseAction
	_, err := a.CallEmpty(context.Background(), "hello")
	assert.Error(t, err)
	_, err = a.Repository("user", "")
	assert.Error(t, err)
	assert.Empty(t, a.Params())
	assert.True(t, a.IsContextAllowed(nil, "get"))
}

func TestBaseAction_Params(t *testing.T) {
	f := newTestFactory(t)
	var got map[string]interface{}
	require.NoError(t, f.Register("params", "params", func() Action {
		a := &paramsAction{}
		a.got = &got
		return a
	}, nil))

	_, err := consoleDispatcher(t, f, "params").Dispatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "demo", got["site"])
}

type paramsAction struct {
	BaseAction
	got *map[string]interface{}
}

func (a *paramsAction) Process(_ context.Context, mc *Context) (*Context, error) {
	*a.got = a.Params()
	if _, err := a.Repository("user", ""); err == nil {
		return nil, fmt.Errorf("expected repository error without orm")
	}
	return mc, nil
}
