package view

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"text/template"
)

// ConsoleTemplate renders a text/template file when one exists. Without a
// file it prints the assigned values as sorted "key: value" lines.
type ConsoleTemplate struct {
	assigns
	fsys fs.FS
	file string
}

func NewConsoleTemplate(fsys fs.FS, file string) *ConsoleTemplate {
	return &ConsoleTemplate{assigns: newAssigns(), fsys: fsys, file: file}
}

func (t *ConsoleTemplate) Assign(key string, value interface{}) Template {
	t.data.Add(key, value)
	return t
}

func (t *ConsoleTemplate) Build() ([]byte, error) {
	if t.fsys != nil && t.file != "" {
		src, err := fs.ReadFile(t.fsys, t.file)
		switch {
		case err == nil:
			return t.render(string(src))
		case !errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("failed to read template %s: %w", t.file, err)
		}
	}
	return t.lines(), nil
}

func (t *ConsoleTemplate) render(src string) ([]byte, error) {
	tpl, err := template.New(t.file).Parse(src)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template %s: %w", t.file, err)
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, t.Assigned()); err != nil {
		return nil, fmt.Errorf("failed to render template %s: %w", t.file, err)
	}
	return buf.Bytes(), nil
}

func (t *ConsoleTemplate) lines() []byte {
	data := t.Assigned()
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	for _, k := range keys {
		fmt.Fprintf(&buf, "%s: %v\n", k, data[k])
	}
	return buf.Bytes()
}

func (t *ConsoleTemplate) ContentType() string {
	return ContentTypeText
}
