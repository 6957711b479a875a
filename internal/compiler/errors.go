package compiler

import (
	"errors"
	"fmt"
	"strings"

	"mudcore/internal/storage"
)

var (
	// ErrTimeout is wrapped by compiles that exceed the configured deadline.
	ErrTimeout = errors.New("compile timed out")
	// ErrDependencyFailed marks dependents skipped in a recursive compile
	// because a module they require failed.
	ErrDependencyFailed = errors.New("dependency failed")
)

// CompileError reports a failed compile of one path. The cache is left
// unchanged by a failed compile.
type CompileError struct {
	Path string
	Err  error
}

func (e *CompileError) Error() string { return fmt.Sprintf("compile %s: %v", e.Path, e.Err) }
func (e *CompileError) Unwrap() error { return e.Err }

func compileErr(path string, err error) error {
	var ce *CompileError
	if errors.As(err, &ce) && ce.Path == path {
		return err
	}
	return &CompileError{Path: path, Err: err}
}

// CyclicDependencyError reports a dependency cycle. Cycle starts and ends
// with the same path.
type CyclicDependencyError struct {
	Cycle []string
}

func (e *CyclicDependencyError) Error() string {
	return "cyclic dependency: " + strings.Join(e.Cycle, " -> ")
}

// MigrationError reports an instance that could not be moved onto the
// reloaded module. The instance keeps its previous type.
type MigrationError struct {
	Path string
	ID   storage.ID
	Type string
	Err  error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migrate %s (%s) in %s: %v", e.ID, e.Type, e.Path, e.Err)
}

func (e *MigrationError) Unwrap() error { return e.Err }

// BatchEntry is the outcome for one path of a recursive compile.
type BatchEntry struct {
	Path string
	Err  error
}

// OK reports whether the path compiled.
func (b BatchEntry) OK() bool { return b.Err == nil }
