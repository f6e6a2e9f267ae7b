// Package fieldpath extracts typed values from nested key/value
// documents using dot notation (e.g. "creditor.idPA").
package fieldpath

import (
	"fmt"
	"strings"
)

// Policy controls what happens when an intermediate path segment is
// missing or does not resolve to a nested document. Callers must choose
// one explicitly; the two behaviors are both legitimate in different
// parts of the pipeline and must never be selected by accident.
type Policy int

const (
	// UseDefault silently falls through to the default value.
	UseDefault Policy = iota

	// Fail returns a *PathError.
	Fail
)

// PathError reports a dotted path whose intermediate segments could not
// be walked in the document.
type PathError struct {
	Path string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("the field [%s] does not exist in the passed event", e.Path)
}

// CastError reports a final path value of the wrong dynamic type.
// A cast failure is always an error regardless of policy.
type CastError struct {
	Path  string
	Value any
}

func (e *CastError) Error() string {
	return fmt.Sprintf("the field [%s] has unexpected type %T", e.Path, e.Value)
}

// Get walks path through doc one dot-separated segment at a time and
// returns the value of the final segment as T.
//
// A missing final segment (or an explicit null) yields def. A missing or
// non-document intermediate segment yields def under UseDefault and a
// *PathError under Fail. A final value that is not a T yields a
// *CastError under either policy.
func Get[T any](doc map[string]any, path string, def T, policy Policy) (T, error) {
	segments := strings.Split(path, ".")
	current := doc

	for i, segment := range segments {
		value, ok := current[segment]

		if i == len(segments)-1 {
			if !ok || value == nil {
				return def, nil
			}
			typed, ok := value.(T)
			if !ok {
				return def, &CastError{Path: path, Value: value}
			}
			return typed, nil
		}

		nested, isDoc := value.(map[string]any)
		if !ok || !isDoc {
			if policy == Fail {
				return def, &PathError{Path: path}
			}
			return def, nil
		}
		current = nested
	}

	return def, nil
}
