package flow

import (
	"errors"
	"fmt"

	"github.com/BTreeMap/TrackPipe/internal/models"
)

// Complete is the terminal marker returned by a successor function.
const Complete models.FieldKey = "__complete__"

var (
	// ErrUnknownBranch is returned when a successor function yields a key the spec does not declare.
	ErrUnknownBranch = errors.New("successor is not a declared field")
	// ErrInvalidSpec is returned by Spec.Validate for malformed graphs.
	ErrInvalidSpec = errors.New("invalid form spec")
)

// Spec is the static description of one form.
type Spec struct {
	Kind  models.FormKind
	Title string
	First models.FieldKey
	// CustomTail appends the user's custom fields after the fixed fields complete.
	CustomTail bool

	fields map[models.FieldKey]*Field
	order  []models.FieldKey
}

// NewSpec builds a spec whose first question is the first field given, and validates it.
func NewSpec(kind models.FormKind, title string, customTail bool, fields ...*Field) (*Spec, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s has no fields", ErrInvalidSpec, kind)
	}
	s := &Spec{
		Kind:       kind,
		Title:      title,
		First:      fields[0].Key,
		CustomTail: customTail,
		fields:     make(map[models.FieldKey]*Field, len(fields)),
	}
	for _, f := range fields {
		if f.Key == "" || f.Key == Complete {
			return nil, fmt.Errorf("%w: %s has a field with reserved key %q", ErrInvalidSpec, kind, f.Key)
		}
		if _, dup := s.fields[f.Key]; dup {
			return nil, fmt.Errorf("%w: %s declares %s twice", ErrInvalidSpec, kind, f.Key)
		}
		s.fields[f.Key] = f
		s.order = append(s.order, f.Key)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// MustSpec is NewSpec for built-in forms; it panics on a malformed graph.
func MustSpec(kind models.FormKind, title string, customTail bool, fields ...*Field) *Spec {
	s, err := NewSpec(kind, title, customTail, fields...)
	if err != nil {
		panic(err)
	}
	return s
}

// Field returns the descriptor for key.
func (s *Spec) Field(key models.FieldKey) (*Field, bool) {
	f, ok := s.fields[key]
	return f, ok
}

// Keys returns the declared field keys in declaration order.
func (s *Spec) Keys() []models.FieldKey {
	out := make([]models.FieldKey, len(s.order))
	copy(out, s.order)
	return out
}

// successors lists every key a field may move to.
func (f *Field) successors() []models.FieldKey {
	if f.Branch != nil {
		return f.Branches
	}
	return []models.FieldKey{f.Next}
}

// Next returns the successor of key given the answers collected so far, or Complete.
func (s *Spec) Next(key models.FieldKey, answers models.Answers) (models.FieldKey, error) {
	f, ok := s.fields[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownBranch, key)
	}
	if f.Branch == nil {
		return f.Next, nil
	}
	next, err := f.Branch(answers)
	if err != nil {
		return "", err
	}
	if next == Complete {
		return next, nil
	}
	if _, ok := s.fields[next]; !ok {
		return "", fmt.Errorf("%w: %s -> %s", ErrUnknownBranch, key, next)
	}
	declared := false
	for _, b := range f.Branches {
		if b == next {
			declared = true
			break
		}
	}
	if !declared {
		return "", fmt.Errorf("%w: %s -> %s", ErrUnknownBranch, key, next)
	}
	return next, nil
}

// Validate checks that every successor exists and that the graph has no cycles,
// so every path from First reaches Complete.
func (s *Spec) Validate() error {
	if _, ok := s.fields[s.First]; !ok {
		return fmt.Errorf("%w: %s first field %s is not declared", ErrInvalidSpec, s.Kind, s.First)
	}
	for _, key := range s.order {
		f := s.fields[key]
		succ := f.successors()
		if len(succ) == 0 || (f.Branch == nil && f.Next == "") {
			return fmt.Errorf("%w: %s.%s has no successor", ErrInvalidSpec, s.Kind, key)
		}
		for _, n := range succ {
			if n == Complete {
				continue
			}
			if _, ok := s.fields[n]; !ok {
				return fmt.Errorf("%w: %s.%s points to undeclared %s", ErrInvalidSpec, s.Kind, key, n)
			}
		}
		if f.Kind == KindChoice && len(f.Choices) == 0 {
			return fmt.Errorf("%w: %s.%s has no choices", ErrInvalidSpec, s.Kind, key)
		}
	}

	const (
		unvisited = iota
		visiting
		done
	)
	mark := make(map[models.FieldKey]int, len(s.fields))
	var visit func(models.FieldKey) error
	visit = func(k models.FieldKey) error {
		if k == Complete {
			return nil
		}
		switch mark[k] {
		case visiting:
			return fmt.Errorf("%w: %s has a cycle through %s", ErrInvalidSpec, s.Kind, k)
		case done:
			return nil
		}
		mark[k] = visiting
		for _, n := range s.fields[k].successors() {
			if err := visit(n); err != nil {
				return err
			}
		}
		mark[k] = done
		return nil
	}
	return visit(s.First)
}
