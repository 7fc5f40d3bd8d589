package view

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
)

// HTMLTemplate renders an html/template file read from an fs.FS. The
// assigned values are the template data.
type HTMLTemplate struct {
	assigns
	fsys  fs.FS
	file  string
	funcs template.FuncMap
}

func NewHTMLTemplate(fsys fs.FS, file string) *HTMLTemplate {
	return &HTMLTemplate{assigns: newAssigns(), fsys: fsys, file: file}
}

func (t *HTMLTemplate) Assign(key string, value interface{}) Template {
	t.data.Add(key, value)
	return t
}

// Funcs adds functions available to the template
func (t *HTMLTemplate) Funcs(funcs template.FuncMap) *HTMLTemplate {
	if t.funcs == nil {
		t.funcs = template.FuncMap{}
	}
	for name, fn := range funcs {
		t.funcs[name] = fn
	}
	return t
}

func (t *HTMLTemplate) File() string {
	return t.file
}

func (t *HTMLTemplate) Build() ([]byte, error) {
	if t.fsys == nil {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, t.file)
	}
	src, err := fs.ReadFile(t.fsys, t.file)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, t.file)
		}
		return nil, fmt.Errorf("failed to read template %s: %w", t.file, err)
	}

	tpl, err := template.New(t.file).Funcs(t.funcs).Parse(string(src))
	if err != nil {
		return nil, fmt.Errorf("failed to parse template %s: %w", t.file, err)
	}

	var buf bytes.Buffer
	if err := tpl.Execute(&buf, t.Assigned()); err != nil {
		return nil, fmt.Errorf("failed to render template %s: %w", t.file, err)
	}
	return buf.Bytes(), nil
}

func (t *HTMLTemplate) ContentType() string {
	return ContentTypeHTML
}
