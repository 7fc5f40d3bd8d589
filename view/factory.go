package view

import (
	"fmt"
	"io/fs"
	"strings"
)

// Factory creates the views for an action namespace. Templates are looked
// up in fsys as <namespace>.html and <namespace>.txt.
type Factory struct {
	fsys fs.FS
}

func NewFactory(fsys fs.FS) *Factory {
	return &Factory{fsys: fsys}
}

func (f *Factory) FS() fs.FS {
	return f.fsys
}

func (f *Factory) CreateHTMLView(namespace string) *HTMLTemplate {
	return NewHTMLTemplate(f.fsys, templatePath(namespace, ".html"))
}

func (f *Factory) CreateConsoleView(namespace string) *ConsoleTemplate {
	return NewConsoleTemplate(f.fsys, templatePath(namespace, ".txt"))
}

func (f *Factory) CreateAjaxView(format string) *AjaxTemplate {
	return NewAjaxTemplate(format)
}

// Create returns the view for strategy. format only applies to ajax.
func (f *Factory) Create(strategy, namespace, format string) (Template, error) {
	switch strings.ToLower(strategy) {
	case StrategyHTML:
		return f.CreateHTMLView(namespace), nil
	case StrategyConsole:
		return f.CreateConsoleView(namespace), nil
	case StrategyAjax:
		return f.CreateAjaxView(format), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
}
