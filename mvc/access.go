package mvc

import "strings"

// RouteAccess describes who may run a route: whether it is public, whether
// only other actions may call it, whether acl is ignored, and the role
// codes allowed either for every method or per method.
type RouteAccess struct {
	public       bool
	internalOnly bool
	ignoreACL    bool
	perMethod    bool
	codes        []string
	methodCodes  map[string][]string
}

func NewRouteAccess() *RouteAccess {
	return &RouteAccess{methodCodes: make(map[string][]string)}
}

// PublicAccess is a route anyone may run
func PublicAccess() *RouteAccess {
	return NewRouteAccess().EnablePublicAccess()
}

// RestrictedAccess allows the given codes for every method
func RestrictedAccess(codes ...string) *RouteAccess {
	return NewRouteAccess().SetAclCodes(codes...)
}

func (a *RouteAccess) EnablePublicAccess() *RouteAccess  { a.public = true; return a }
func (a *RouteAccess) DisablePublicAccess() *RouteAccess { a.public = false; return a }
func (a *RouteAccess) IsPublicAccess() bool              { return a.public }

func (a *RouteAccess) EnableInternalOnlyAccess() *RouteAccess  { a.internalOnly = true; return a }
func (a *RouteAccess) DisableInternalOnlyAccess() *RouteAccess { a.internalOnly = false; return a }
func (a *RouteAccess) IsInternalOnlyAccess() bool              { return a.internalOnly }

func (a *RouteAccess) IgnoreAclAccess() *RouteAccess { a.ignoreACL = true; return a }
func (a *RouteAccess) UseAclAccess() *RouteAccess    { a.ignoreACL = false; return a }
func (a *RouteAccess) IsAclAccessIgnored() bool      { return a.ignoreACL }

func (a *RouteAccess) UseAclForAllMethods() *RouteAccess { a.perMethod = false; return a }
func (a *RouteAccess) UseAclForEachMethod() *RouteAccess { a.perMethod = true; return a }
func (a *RouteAccess) IsAclForEachMethod() bool          { return a.perMethod }

// SetAclCodes sets the codes allowed for all methods
func (a *RouteAccess) SetAclCodes(codes ...string) *RouteAccess {
	a.codes = uniqueCodes(codes)
	return a
}

func (a *RouteAccess) AclCodes() []string {
	out := make([]string, len(a.codes))
	copy(out, a.codes)
	return out
}

// SetAclMap sets the codes allowed per method and switches to per method acl
func (a *RouteAccess) SetAclMap(m map[string][]string) *RouteAccess {
	a.methodCodes = make(map[string][]string, len(m))
	for method, codes := range m {
		a.methodCodes[strings.ToLower(method)] = uniqueCodes(codes)
	}
	a.perMethod = true
	return a
}

func (a *RouteAccess) AclMap() map[string][]string {
	out := make(map[string][]string, len(a.methodCodes))
	for method, codes := range a.methodCodes {
		out[method] = append([]string(nil), codes...)
	}
	return out
}

// IsAccessAllowed reports whether any of codes may run the route with
// method. Public routes and routes ignoring acl allow everyone.
func (a *RouteAccess) IsAccessAllowed(codes []string, method string) bool {
	if a.public || a.ignoreACL {
		return true
	}

	allowed := a.codes
	if a.perMethod {
		allowed = a.methodCodes[strings.ToLower(method)]
	}
	for _, code := range codes {
		for _, ok := range allowed {
			if code == ok {
				return true
			}
		}
	}
	return false
}

func uniqueCodes(codes []string) []string {
	seen := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		if c == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
