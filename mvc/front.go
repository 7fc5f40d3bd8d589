package mvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"appfuel/kernel"
	"appfuel/metrics"
	"appfuel/view"

	"go.uber.org/zap"
)

// Front is the front controller. It turns a console command line or an
// http request into a dispatch and renders the resulting view.
type Front struct {
	factory *ActionFactory
	logger  *zap.SugaredLogger
}

func NewFront(factory *ActionFactory, logger *zap.SugaredLogger) *Front {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Front{factory: factory, logger: logger}
}

func (f *Front) Factory() *ActionFactory { return f.factory }

// StatusFor maps a dispatch error to the status the front reports
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsRouteNotFound(err):
		return http.StatusNotFound
	case IsRouteDenied(err):
		return http.StatusForbidden
	case IsBadInput(err):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// ParseArgv turns command line args into the argv bucket. --key=value and
// --flag set named params; everything else is stored by position.
func ParseArgv(args []string) map[string]interface{} {
	argv := make(map[string]interface{}, len(args))
	pos := 0
	for _, arg := range args {
		if name, ok := strings.CutPrefix(arg, "--"); ok && name != "" {
			if k, v, found := strings.Cut(name, "="); found {
				argv[k] = v
			} else {
				argv[name] = true
			}
			continue
		}
		argv[strconv.Itoa(pos)] = arg
		pos++
	}
	return argv
}

// RunConsole dispatches args[0] as the uri with the remaining args as argv,
// using the cli method and console strategy. The view is written to out.
// It returns 200 on success, 404 for an unknown route, 403 when denied, 400
// for bad input and 500 for any other failure.
func (f *Front) RunConsole(ctx context.Context, args []string, out io.Writer) (status int) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Errorw("Console dispatch panicked", "panic", r)
			fmt.Fprintln(out, "error: internal error")
			status = http.StatusInternalServerError
		}
	}()

	uri := ""
	var rest []string
	if len(args) > 0 {
		uri, rest = args[0], args[1:]
	}

	mc, err := f.consoleDispatch(ctx, uri, rest)
	if err != nil {
		status = StatusFor(err)
		f.logger.Warnw("Console dispatch failed", "uri", uri, "status", status, "error", err)
		fmt.Fprintf(out, "error: %s\n", PublicMessage(status, err))
		return status
	}

	if err := view.NewConsoleOutput(out).Render(mc.View()); err != nil {
		f.logger.Errorw("Failed to render console view", "uri", uri, "error", err)
		fmt.Fprintln(out, "error: failed to render view")
		return http.StatusInternalServerError
	}
	if code := mc.ExitCode(); code != 0 {
		return code
	}
	return http.StatusOK
}

func (f *Front) consoleDispatch(ctx context.Context, uri string, args []string) (*Context, error) {
	d := NewDispatcher(f.factory)
	if err := d.SetStrategy(view.StrategyConsole); err != nil {
		return nil, err
	}
	if err := d.SetURI(uri); err != nil {
		return nil, err
	}
	params := map[string]map[string]interface{}{ParamArgv: ParseArgv(args)}
	if err := d.DefineInput(MethodCli, params, true); err != nil {
		return nil, err
	}
	if err := d.AddAclCodes(AclCodes(ctx)); err != nil {
		return nil, err
	}
	return d.Dispatch(ctx)
}

// ServeHTTP dispatches the request path. XHR requests and requests that
// accept json or msgpack get the ajax strategy, all others the registry's
// default strategy.
func (f *Front) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	strategy, format := f.negotiate(r)

	mc, err := f.httpDispatch(r, strategy, format)
	if err != nil {
		status := StatusFor(err)
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(status)).Inc()
		f.writeError(w, r, strategy, status, err)
		return
	}

	status := http.StatusOK
	if code := mc.ExitCode(); code >= 100 && code <= 599 {
		status = code
	}
	if err := (view.HTTPOutput{}).Render(w, status, mc.View()); err != nil {
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, "500").Inc()
		f.writeError(w, r, strategy, http.StatusInternalServerError, err)
		return
	}
	metrics.HTTPRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(status)).Inc()
}

func (f *Front) httpDispatch(r *http.Request, strategy, format string) (mc *Context, err error) {
	defer kernel.RecoverError("front-"+r.URL.Path, f.logger, &err)

	d := NewDispatcher(f.factory)
	if err := d.SetStrategy(strategy); err != nil {
		return nil, err
	}
	d.SetAjaxFormat(format)
	if err := d.SetURI(r.URL.RequestURI()); err != nil {
		return nil, err
	}
	if err := d.DefineInputFromRequest(r, true); err != nil {
		return nil, err
	}
	if err := d.AddAclCodes(AclCodes(r.Context())); err != nil {
		return nil, err
	}
	return d.Dispatch(r.Context())
}

// Call dispatches uri with the json ajax strategy, params as the post
// bucket and the acl codes of ctx. It returns the status and the encoded view.
func (f *Front) Call(ctx context.Context, uri string, params map[string]interface{}) (int, []byte, error) {
	mc, err := f.callDispatch(ctx, uri, params)
	if err != nil {
		return StatusFor(err), nil, err
	}
	body, err := mc.View().Build()
	if err != nil {
		return http.StatusInternalServerError, nil, err
	}
	status := http.StatusOK
	if code := mc.ExitCode(); code >= 100 && code <= 599 {
		status = code
	}
	return status, body, nil
}

func (f *Front) callDispatch(ctx context.Context, uri string, params map[string]interface{}) (mc *Context, err error) {
	defer kernel.RecoverError("call-"+uri, f.logger, &err)

	if strings.TrimSpace(uri) == "" {
		return nil, fmt.Errorf("%w: uri is required", ErrBadInput)
	}
	d := NewDispatcher(f.factory)
	if err := d.SetStrategy(view.StrategyAjax); err != nil {
		return nil, err
	}
	d.SetAjaxFormat(view.FormatJSON)
	if err := d.SetURI(uri); err != nil {
		return nil, err
	}
	if params == nil {
		params = map[string]interface{}{}
	}
	if err := d.DefineInput(MethodPost, map[string]map[string]interface{}{ParamPost: params}, true); err != nil {
		return nil, err
	}
	if err := d.AddAclCodes(AclCodes(ctx)); err != nil {
		return nil, err
	}
	return d.Dispatch(ctx)
}

// defaultStrategy is kernel.KeyDefaultStrategy from the registry, html when
// unset or invalid
func (f *Front) defaultStrategy() (strategy, format string) {
	strategy = view.StrategyHTML
	if f.factory != nil {
		strategy = strings.ToLower(f.factory.Registry().GetString(kernel.KeyDefaultStrategy, view.StrategyHTML))
	}
	switch strategy {
	case view.StrategyAjax:
		return strategy, view.FormatJSON
	case view.StrategyConsole:
		return strategy, ""
	}
	return view.StrategyHTML, ""
}

func (f *Front) negotiate(r *http.Request) (strategy, format string) {
	accept := strings.ToLower(r.Header.Get("Accept"))
	switch {
	case strings.Contains(accept, "msgpack"):
		return view.StrategyAjax, view.FormatMsgpack
	case strings.EqualFold(r.Header.Get("X-Requested-With"), "XMLHttpRequest"),
		strings.Contains(accept, "application/json"):
		return view.StrategyAjax, view.FormatJSON
	}
	return f.defaultStrategy()
}

// PublicMessage is the message a client sees for a failed dispatch
func PublicMessage(status int, err error) string {
	switch status {
	case http.StatusNotFound:
		var nf *RouteNotFoundError
		if errors.As(err, &nf) {
			return fmt.Sprintf("route not found: %s", nf.Route)
		}
		return "route not found"
	case http.StatusForbidden:
		return "access denied"
	case http.StatusBadRequest:
		return "bad request"
	}
	return "internal error"
}

// writeError logs the full error and sends only a sanitized message
func (f *Front) writeError(w http.ResponseWriter, r *http.Request, strategy string, status int, err error) {
	f.logger.Warnw("Request failed",
		"method", r.Method, "path", r.URL.Path, "status", status, "error", err)

	msg := PublicMessage(status, err)
	if strategy == view.StrategyAjax {
		w.Header().Set("Content-Type", view.ContentTypeJSON)
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"error": msg, "status": status})
		return
	}
	http.Error(w, msg, status)
}
