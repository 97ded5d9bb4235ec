package history

import (
	"errors"
	"fmt"
)

var (
	ErrRemoteUnavailable = errors.New("remote session store not configured")
	ErrIdentityRequired  = errors.New("remote session store requires an identity")
)

// PersistenceError envuelve cualquier fallo de escritura/lectura/borrado de sesiones.
type PersistenceError struct {
	Op      string
	Backend string
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("history %s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ParseError indica contenido local corrupto; se recupera descartando el valor.
type ParseError struct {
	Key string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("history: corrupt value at %q: %v", e.Key, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
