package history

import (
	"context"

	"featherine-chat/internal/domain"
	"featherine-chat/internal/repository"
)

// RemoteStore archiva en el backend remoto, una fila por sesion.
type RemoteStore struct {
	repo repository.SessionRepository
}

func NewRemoteStore(repo repository.SessionRepository) *RemoteStore {
	return &RemoteStore{repo: repo}
}

func (s *RemoteStore) List(ctx context.Context, identity *domain.Identity) ([]domain.Session, error) {
	if identity == nil {
		return nil, &PersistenceError{Op: "list", Backend: "remote", Err: ErrIdentityRequired}
	}
	sessions, err := s.repo.ListByOwner(ctx, identity.ID)
	if err != nil {
		return nil, &PersistenceError{Op: "list", Backend: "remote", Err: err}
	}
	domain.SortNewestFirst(sessions)
	return sessions, nil
}

func (s *RemoteStore) Append(ctx context.Context, session domain.Session, identity *domain.Identity) error {
	if identity == nil {
		return &PersistenceError{Op: "append", Backend: "remote", Err: ErrIdentityRequired}
	}
	session.OwnerID = identity.ID
	if err := s.repo.Insert(ctx, session); err != nil {
		return &PersistenceError{Op: "append", Backend: "remote", Err: err}
	}
	return nil
}

func (s *RemoteStore) Clear(ctx context.Context, identity *domain.Identity) error {
	if identity == nil {
		return &PersistenceError{Op: "clear", Backend: "remote", Err: ErrIdentityRequired}
	}
	if err := s.repo.DeleteByOwner(ctx, identity.ID); err != nil {
		return &PersistenceError{Op: "clear", Backend: "remote", Err: err}
	}
	return nil
}
