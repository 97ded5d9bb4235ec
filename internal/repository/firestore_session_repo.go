package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"featherine-chat/internal/domain"
)

var ErrSessionExists = errors.New("session already exists")

// FirestoreSessionRepository guarda chat_sessions como documentos de Firestore.
type FirestoreSessionRepository struct {
	client *firestore.Client
}

// NewFirestoreSessionRepository crea el cliente para el proyecto indicado.
func NewFirestoreSessionRepository(ctx context.Context, projectID string) (*FirestoreSessionRepository, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required for Firestore repository")
	}
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}
	return &FirestoreSessionRepository{client: client}, nil
}

func (r *FirestoreSessionRepository) Close() error {
	return r.client.Close()
}

func (r *FirestoreSessionRepository) sessionsCol() *firestore.CollectionRef {
	return r.client.Collection("chat_sessions")
}

// messages se guarda serializado para conservar la forma JSON de domain.Message.
type chatSessionDoc struct {
	Messages  string    `firestore:"messages"`
	UserID    *string   `firestore:"user_id"`
	CreatedAt time.Time `firestore:"created_at"`
}

func (r *FirestoreSessionRepository) Insert(ctx context.Context, session domain.Session) error {
	messages, err := json.Marshal(session.Messages)
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}
	doc := chatSessionDoc{
		Messages:  string(messages),
		CreatedAt: session.CreatedAt,
	}
	if session.OwnerID != "" {
		owner := session.OwnerID
		doc.UserID = &owner
	}

	if _, err := r.sessionsCol().Doc(session.ID).Create(ctx, doc); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return ErrSessionExists
		}
		return fmt.Errorf("firestore Insert: %w", err)
	}
	return nil
}

func (r *FirestoreSessionRepository) ListByOwner(ctx context.Context, ownerID string) ([]domain.Session, error) {
	iter := r.sessionsCol().
		Where("user_id", "==", ownerID).
		OrderBy("created_at", firestore.Desc).
		Documents(ctx)
	defer iter.Stop()

	sessions := []domain.Session{}
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore ListByOwner: %w", err)
		}

		var doc chatSessionDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode chatSessionDoc: %w", err)
		}
		s := domain.Session{ID: snap.Ref.ID, CreatedAt: doc.CreatedAt}
		if err := json.Unmarshal([]byte(doc.Messages), &s.Messages); err != nil {
			return nil, fmt.Errorf("decode session %s messages: %w", s.ID, err)
		}
		if doc.UserID != nil {
			s.OwnerID = *doc.UserID
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

func (r *FirestoreSessionRepository) DeleteByOwner(ctx context.Context, ownerID string) error {
	iter := r.sessionsCol().Where("user_id", "==", ownerID).Documents(ctx)
	defer iter.Stop()

	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("firestore DeleteByOwner: %w", err)
		}
		if _, err := snap.Ref.Delete(ctx); err != nil && status.Code(err) != codes.NotFound {
			return fmt.Errorf("firestore delete %s: %w", snap.Ref.ID, err)
		}
	}
}
