package view

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Ajax encodings
const (
	FormatJSON    = "json"
	FormatMsgpack = "msgpack"
)

// AjaxTemplate encodes the assigned values as one JSON or msgpack object
type AjaxTemplate struct {
	assigns
	format string
}

// NewAjaxTemplate creates an ajax view. An unknown format falls back to JSON.
func NewAjaxTemplate(format string) *AjaxTemplate {
	if format != FormatMsgpack {
		format = FormatJSON
	}
	return &AjaxTemplate{assigns: newAssigns(), format: format}
}

func (t *AjaxTemplate) Assign(key string, value interface{}) Template {
	t.data.Add(key, value)
	return t
}

func (t *AjaxTemplate) Format() string {
	return t.format
}

func (t *AjaxTemplate) Build() ([]byte, error) {
	data := t.Assigned()
	if t.format == FormatMsgpack {
		out, err := msgpack.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to encode msgpack view: %w", err)
		}
		return out, nil
	}

	out, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode json view: %w", err)
	}
	return out, nil
}

func (t *AjaxTemplate) ContentType() string {
	if t.format == FormatMsgpack {
		return ContentTypeMsgpack
	}
	return ContentTypeJSON
}
