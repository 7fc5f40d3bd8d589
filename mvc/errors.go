package mvc

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidStrategy = errors.New("strategy must be one of html|console|ajax")
	ErrInvalidMethod   = errors.New("input method must be a non empty string")
	ErrInvalidParamKey = errors.New("input param keys must not be empty")
	ErrInvalidAclCode  = errors.New("acl role code must be a non empty string")
	ErrURIRequired     = errors.New("uri is required for its get params but has not been set")
	ErrInputRequired   = errors.New("input is required but not set")
	ErrRouteNotSet     = errors.New("route not set, can not get action namespace")
	ErrInvalidRoute    = errors.New("route key, namespace and constructor are required")

	// ErrBadInput wraps request input the client got wrong
	ErrBadInput = errors.New("bad input")
)

// RouteNotFoundError is returned when a route key has no action namespace
type RouteNotFoundError struct {
	Route string
}

func (e *RouteNotFoundError) Error() string {
	return fmt.Sprintf("route not found: %q", e.Route)
}

// RouteDeniedError is returned when the dispatched context may not run the
// route's action
type RouteDeniedError struct {
	Route  string
	Codes  []string
	Reason string
}

func (e *RouteDeniedError) Error() string {
	msg := fmt.Sprintf("route denied: %q", e.Route)
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	if len(e.Codes) > 0 {
		msg += " for codes " + strings.Join(e.Codes, ",")
	}
	return msg
}

// IsRouteNotFound reports whether err is or wraps a *RouteNotFoundError
func IsRouteNotFound(err error) bool {
	var nf *RouteNotFoundError
	return errors.As(err, &nf)
}

// IsBadInput reports whether err is a client input fault
func IsBadInput(err error) bool {
	return errors.Is(err, ErrBadInput) || errors.Is(err, ErrInvalidParamKey)
}

// IsRouteDenied reports whether err is or wraps a *RouteDeniedError
func IsRouteDenied(err error) bool {
	var d *RouteDeniedError
	return errors.As(err, &d)
}
