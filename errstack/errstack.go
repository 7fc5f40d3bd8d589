// Package errstack holds an ordered collection of errors that can also be
// treated as a single error.
package errstack

import (
	"strings"
)

// Item is a single error with an application defined code
type Item struct {
	Message string
	Code    string
}

// NewItem creates an error item
func NewItem(msg, code string) *Item {
	return &Item{Message: msg, Code: code}
}

func (e *Item) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}

// Stack is an iterable list of error items. The cursor starts at the first
// item; Message and Code always describe the item under the cursor.
type Stack struct {
	items []*Item
	pos   int
}

// New creates an empty stack
func New() *Stack {
	return &Stack{}
}

// Add appends a new item built from msg and code
func (s *Stack) Add(msg, code string) *Stack {
	return s.AddItem(NewItem(msg, code))
}

// AddItem appends an existing item. Nil items are ignored.
func (s *Stack) AddItem(item *Item) *Stack {
	if item != nil {
		s.items = append(s.items, item)
	}
	return s
}

// AddError appends err, keeping the code when err is an *Item
func (s *Stack) AddError(err error, code string) *Stack {
	if err == nil {
		return s
	}
	if item, ok := err.(*Item); ok {
		return s.AddItem(item)
	}
	return s.Add(err.Error(), code)
}

// Count returns the number of items
func (s *Stack) Count() int {
	return len(s.items)
}

// IsError reports whether the stack holds any items
func (s *Stack) IsError() bool {
	return len(s.items) > 0
}

// Current returns the item under the cursor or nil when out of range
func (s *Stack) Current() *Item {
	if !s.Valid() {
		return nil
	}
	return s.items[s.pos]
}

// Key returns the cursor position and false when out of range
func (s *Stack) Key() (int, bool) {
	if !s.Valid() {
		return 0, false
	}
	return s.pos, true
}

// Valid reports whether the cursor points at an item
func (s *Stack) Valid() bool {
	return s.pos >= 0 && s.pos < len(s.items)
}

// Next advances the cursor
func (s *Stack) Next() {
	if s.pos < len(s.items) {
		s.pos++
	}
}

// Rewind moves the cursor back to the first item
func (s *Stack) Rewind() {
	s.pos = 0
}

// First returns the first item or nil
func (s *Stack) First() *Item {
	if len(s.items) == 0 {
		return nil
	}
	return s.items[0]
}

// Last returns the most recently added item or nil
func (s *Stack) Last() *Item {
	if len(s.items) == 0 {
		return nil
	}
	return s.items[len(s.items)-1]
}

// Message returns the message of the current item or "" when out of range
func (s *Stack) Message() string {
	if item := s.Current(); item != nil {
		return item.Message
	}
	return ""
}

// Code returns the code of the current item or "" when out of range
func (s *Stack) Code() string {
	if item := s.Current(); item != nil {
		return item.Code
	}
	return ""
}

// Items returns a copy of all items in insertion order
func (s *Stack) Items() []*Item {
	out := make([]*Item, len(s.items))
	copy(out, s.items)
	return out
}

// Clear removes all items and rewinds
func (s *Stack) Clear() *Stack {
	s.items = nil
	s.pos = 0
	return s
}

func (s *Stack) Error() string {
	msgs := make([]string, 0, len(s.items))
	for _, item := range s.items {
		msgs = append(msgs, item.Error())
	}
	return strings.Join(msgs, "; ")
}

// Unwrap exposes every item to errors.Is and errors.As
func (s *Stack) Unwrap() []error {
	errs := make([]error, len(s.items))
	for i, item := range s.items {
		errs[i] = item
	}
	return errs
}

// Err returns the stack as an error or nil when it is empty
func (s *Stack) Err() error {
	if s == nil || !s.IsError() {
		return nil
	}
	return s
}
