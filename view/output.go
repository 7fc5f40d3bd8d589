package view

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
)

// HTTPOutput writes a built view as an HTTP response
type HTTPOutput struct{}

// Render builds tpl and writes it with status. Nothing is written when the
// build fails so the caller can still send an error response.
func (HTTPOutput) Render(w http.ResponseWriter, status int, tpl Template) error {
	body, err := tpl.Build()
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", tpl.ContentType())
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}
	return nil
}

// ConsoleOutput writes a built view to a terminal or any io.Writer
type ConsoleOutput struct {
	w io.Writer
}

func NewConsoleOutput(w io.Writer) *ConsoleOutput {
	return &ConsoleOutput{w: w}
}

// Render builds tpl and writes it, ending with a newline
func (o *ConsoleOutput) Render(tpl Template) error {
	body, err := tpl.Build()
	if err != nil {
		return err
	}
	if len(body) > 0 && !bytes.HasSuffix(body, []byte("\n")) {
		body = append(body, '\n')
	}
	if _, err := o.w.Write(body); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
