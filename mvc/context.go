package mvc

import (
	"context"

	"appfuel/datastructure"
	"appfuel/errstack"
	"appfuel/view"
)

// Context variables added by the dispatcher
const (
	VarStrategy = "app-strategy"
	VarRoute    = "app-route"
)

// Context is what an action processes: the input, the view to fill, the
// acl role codes of the caller and a bag of variables
type Context struct {
	input    *Input
	view     view.Template
	aclCodes []string
	vars     *datastructure.Dictionary
	errors   *errstack.Stack
	exitCode int
}

// NewContext creates a context for input
func NewContext(input *Input) *Context {
	return &Context{
		input:  input,
		vars:   datastructure.NewDictionary(nil),
		errors: errstack.New(),
	}
}

func (c *Context) Input() *Input { return c.input }

func (c *Context) View() view.Template { return c.view }

func (c *Context) SetView(v view.Template) *Context {
	c.view = v
	return c
}

// Assign is a shortcut for View().Assign. It is a no-op without a view.
func (c *Context) Assign(key string, value interface{}) *Context {
	if c.view != nil {
		c.view.Assign(key, value)
	}
	return c
}

// Route and Strategy return the dispatcher variables
func (c *Context) Route() string    { return c.vars.GetString(VarRoute, "") }
func (c *Context) Strategy() string { return c.vars.GetString(VarStrategy, "") }

// AddAclCode adds a role code. Empty and duplicate codes are ignored.
func (c *Context) AddAclCode(code string) *Context {
	if code == "" || c.IsAclCode(code) {
		return c
	}
	c.aclCodes = append(c.aclCodes, code)
	return c
}

func (c *Context) IsAclCode(code string) bool {
	for _, existing := range c.aclCodes {
		if existing == code {
			return true
		}
	}
	return false
}

// AclCodes returns a copy of the role codes
func (c *Context) AclCodes() []string {
	out := make([]string, len(c.aclCodes))
	copy(out, c.aclCodes)
	return out
}

func (c *Context) Add(key string, value interface{}) *Context {
	c.vars.Add(key, value)
	return c
}

func (c *Context) Get(key string, def interface{}) interface{} {
	return c.vars.Get(key, def)
}

func (c *Context) Exists(key string) bool { return c.vars.Exists(key) }

func (c *Context) Load(vars map[string]interface{}) *Context {
	c.vars.Load(vars)
	return c
}

// Vars returns a copy of the variables
func (c *Context) Vars() map[string]interface{} { return c.vars.GetAll() }

// Errors is the stack actions push recoverable errors onto
func (c *Context) Errors() *errstack.Stack { return c.errors }

// ExitCode is the status the front controller reports. Zero means unset.
func (c *Context) ExitCode() int { return c.exitCode }

func (c *Context) SetExitCode(code int) *Context {
	c.exitCode = code
	return c
}

type contextKey string

const aclCodesKey contextKey = "acl-codes"

// WithAclCodes returns ctx carrying the caller's role codes
func WithAclCodes(ctx context.Context, codes []string) context.Context {
	out := make([]string, len(codes))
	copy(out, codes)
	return context.WithValue(ctx, aclCodesKey, out)
}

// AclCodes returns the role codes stored by WithAclCodes
func AclCodes(ctx context.Context) []string {
	codes, _ := ctx.Value(aclCodesKey).([]string)
	return codes
}
