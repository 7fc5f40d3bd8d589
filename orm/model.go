// Package orm maps database rows onto domain models. Repositories issue
// prepared statements through the db layer and keep an identity map of the
// models they loaded.
package orm

import (
	"errors"
	"sort"
)

var (
	ErrNotFound       = errors.New("model not found")
	ErrUnknownDomain  = errors.New("unknown domain key")
	ErrDeletedModel   = errors.New("model is deleted")
	ErrNoPrimaryKey   = errors.New("model has no primary key value")
	ErrUnknownMember  = errors.New("unknown member")
	ErrRepositoryType = errors.New("repository type mismatch")
)

// Status is the persistence state of a model
type Status int

const (
	StatusNew Status = iota
	StatusClean
	StatusDirty
	StatusDeleted
)

func (s Status) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusClean:
		return "clean"
	case StatusDirty:
		return "dirty"
	case StatusDeleted:
		return "deleted"
	}
	return "unknown"
}

// Model is implemented by every domain model, usually by embedding State
type Model interface {
	ModelState() *State
}

// State tracks a model's status and changed members. The zero value is new.
type State struct {
	status Status
	dirty  map[string]struct{}
}

func (s *State) ModelState() *State { return s }

func (s *State) Status() Status { return s.status }

func (s *State) IsNew() bool     { return s.status == StatusNew }
func (s *State) IsClean() bool   { return s.status == StatusClean }
func (s *State) IsDirty() bool   { return s.status == StatusDirty }
func (s *State) IsDeleted() bool { return s.status == StatusDeleted }

// MarkDirty records changed members. A new model stays new since it will
// be inserted whole.
func (s *State) MarkDirty(members ...string) {
	if s.status == StatusDeleted {
		return
	}
	if s.dirty == nil {
		s.dirty = make(map[string]struct{}, len(members))
	}
	for _, m := range members {
		s.dirty[m] = struct{}{}
	}
	if s.status == StatusClean {
		s.status = StatusDirty
	}
}

// MarkClean forgets changed members
func (s *State) MarkClean() {
	s.status = StatusClean
	s.dirty = nil
}

func (s *State) MarkNew() {
	s.status = StatusNew
	s.dirty = nil
}

func (s *State) MarkDeleted() {
	s.status = StatusDeleted
	s.dirty = nil
}

// IsMemberDirty reports whether member was marked dirty
func (s *State) IsMemberDirty(member string) bool {
	_, ok := s.dirty[member]
	return ok
}

// DirtyMembers returns the changed members in sorted order
func (s *State) DirtyMembers() []string {
	out := make([]string, 0, len(s.dirty))
	for m := range s.dirty {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
