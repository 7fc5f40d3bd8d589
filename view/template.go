// Package view builds the output of an action: an html page, an ajax
// payload or console text, from the values the action assigned.
package view

import (
	"errors"
	"strings"

	"appfuel/datastructure"
)

// Strategies name the kind of view an action renders
const (
	StrategyHTML    = "html"
	StrategyConsole = "console"
	StrategyAjax    = "ajax"
)

// Content types
const (
	ContentTypeHTML    = "text/html; charset=utf-8"
	ContentTypeText    = "text/plain; charset=utf-8"
	ContentTypeJSON    = "application/json"
	ContentTypeMsgpack = "application/msgpack"
)

var (
	ErrTemplateNotFound = errors.New("template not found")
	ErrUnknownStrategy  = errors.New("unknown view strategy")
)

// Template collects assigned values and renders them
type Template interface {
	Assign(key string, value interface{}) Template
	Get(key string, def interface{}) interface{}
	Assigned() map[string]interface{}
	Build() ([]byte, error)
	ContentType() string
}

// IsValidStrategy reports whether s names a view strategy
func IsValidStrategy(s string) bool {
	switch strings.ToLower(s) {
	case StrategyHTML, StrategyConsole, StrategyAjax:
		return true
	}
	return false
}

type assigns struct {
	data *datastructure.Dictionary
}

func newAssigns() assigns {
	return assigns{data: datastructure.NewDictionary(nil)}
}

func (a assigns) Get(key string, def interface{}) interface{} {
	return a.data.Get(key, def)
}

func (a assigns) Assigned() map[string]interface{} {
	return a.data.GetAll()
}

// templatePath maps an action namespace such as "Users\\List" or
// "users.list" to "users/list" plus ext
func templatePath(namespace, ext string) string {
	ns := strings.NewReplacer("\\", "/", ".", "/").Replace(namespace)
	ns = strings.Trim(strings.ToLower(ns), "/")
	return ns + ext
}
