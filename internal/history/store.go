// Package history archiva sesiones terminadas en el backend remoto (por identidad)
// o en el almacenamiento local del dispositivo (modo anonimo).
package history

import (
	"context"

	"featherine-chat/internal/domain"
)

// Store es el contrato comun de ambos backends.
// List devuelve las sesiones de la mas nueva a la mas vieja.
type Store interface {
	List(ctx context.Context, identity *domain.Identity) ([]domain.Session, error)
	Append(ctx context.Context, session domain.Session, identity *domain.Identity) error
	Clear(ctx context.Context, identity *domain.Identity) error
}

// Router elige Remote cuando hay identidad y Local cuando no.
type Router struct {
	Remote Store
	Local  Store
}

func NewRouter(remote, local Store) *Router {
	return &Router{Remote: remote, Local: local}
}

func (r *Router) pick(identity *domain.Identity) (Store, error) {
	if identity == nil {
		return r.Local, nil
	}
	if r.Remote == nil {
		return nil, &PersistenceError{Op: "route", Backend: "remote", Err: ErrRemoteUnavailable}
	}
	return r.Remote, nil
}

func (r *Router) List(ctx context.Context, identity *domain.Identity) ([]domain.Session, error) {
	s, err := r.pick(identity)
	if err != nil {
		return nil, err
	}
	return s.List(ctx, identity)
}

func (r *Router) Append(ctx context.Context, session domain.Session, identity *domain.Identity) error {
	s, err := r.pick(identity)
	if err != nil {
		return err
	}
	return s.Append(ctx, session, identity)
}

func (r *Router) Clear(ctx context.Context, identity *domain.Identity) error {
	s, err := r.pick(identity)
	if err != nil {
		return err
	}
	return s.Clear(ctx, identity)
}
