package history

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"featherine-chat/internal/domain"
	"featherine-chat/internal/kv"
)

// LocalKey es la clave bajo la que se guarda el historial anonimo.
const LocalKey = "chatHistory"

// LocalStore guarda todas las sesiones anonimas como un unico arreglo JSON.
// Cada Append reescribe la lista completa.
type LocalStore struct {
	kv     kv.Store
	key    string
	logger *zap.Logger
	mu     sync.Mutex
}

// NewLocalStore usa key como clave; vacio equivale a LocalKey.
func NewLocalStore(store kv.Store, key string, logger *zap.Logger) *LocalStore {
	if key == "" {
		key = LocalKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalStore{kv: store, key: key, logger: logger}
}

// DeviceKey namespacea LocalKey por dispositivo cuando varios comparten un backend.
func DeviceKey(deviceID string) string {
	if deviceID == "" {
		return LocalKey
	}
	return LocalKey + ":" + deviceID
}

type localEntry struct {
	ID        localID          `json:"id"`
	Messages  []domain.Message `json:"messages"`
	CreatedAt *time.Time       `json:"created_at,omitempty"`
}

func (s *LocalStore) List(ctx context.Context, _ *domain.Identity) ([]domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Session, len(sessions))
	for i, sess := range sessions {
		out[len(sessions)-1-i] = sess
	}
	return out, nil
}

func (s *LocalStore) Append(ctx context.Context, session domain.Session, _ *domain.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.load(ctx)
	if err != nil {
		return err
	}
	session.OwnerID = ""
	sessions = append(sessions, session)

	entries := make([]localEntry, 0, len(sessions))
	for _, sess := range sessions {
		entries = append(entries, toLocalEntry(sess))
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return &PersistenceError{Op: "append", Backend: "local", Err: err}
	}
	if err := s.kv.Set(ctx, s.key, data); err != nil {
		return &PersistenceError{Op: "append", Backend: "local", Err: err}
	}
	return nil
}

func (s *LocalStore) Clear(ctx context.Context, _ *domain.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.kv.Delete(ctx, s.key); err != nil {
		return &PersistenceError{Op: "clear", Backend: "local", Err: err}
	}
	return nil
}

// load devuelve las sesiones en orden de insercion. Contenido corrupto se
// descarta borrando la clave.
func (s *LocalStore) load(ctx context.Context) ([]domain.Session, error) {
	data, err := s.kv.Get(ctx, s.key)
	if errors.Is(err, kv.ErrNotFound) {
		return []domain.Session{}, nil
	}
	if err != nil {
		return nil, &PersistenceError{Op: "load", Backend: "local", Err: err}
	}

	sessions, perr := decodeLocal(s.key, data)
	if perr != nil {
		s.logger.Warn("discarding corrupt local history", zap.String("key", s.key), zap.Error(perr))
		if err := s.kv.Delete(ctx, s.key); err != nil {
			return nil, &PersistenceError{Op: "discard", Backend: "local", Err: err}
		}
		return []domain.Session{}, nil
	}
	return sessions, nil
}

func decodeLocal(key string, data []byte) ([]domain.Session, *ParseError) {
	var entries []localEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, &ParseError{Key: key, Err: err}
	}
	sessions := make([]domain.Session, 0, len(entries))
	for _, e := range entries {
		sess := domain.Session{ID: string(e.ID), Messages: e.Messages}
		if e.CreatedAt != nil {
			sess.CreatedAt = *e.CreatedAt
		}
		if sess.Messages == nil {
			sess.Messages = []domain.Message{}
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

func toLocalEntry(s domain.Session) localEntry {
	e := localEntry{ID: localID(s.ID), Messages: s.Messages}
	if !s.CreatedAt.IsZero() {
		createdAt := s.CreatedAt
		e.CreatedAt = &createdAt
	}
	return e
}

// localID acepta ids numericos (Date.now() del front-end historico) ademas de strings.
type localID string

func (id *localID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = localID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = localID(n.String())
	return nil
}
