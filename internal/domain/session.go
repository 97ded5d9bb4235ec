package domain

import (
	"crypto/rand"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"
)

// Session es un intercambio pregunta/respuesta archivado.
// OwnerID vacio significa que la sesion pertenece al almacenamiento local.
type Session struct {
	ID        string    `json:"id"`
	Messages  []Message `json:"messages"`
	OwnerID   string    `json:"user_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewSessionID genera un ULID; el orden lexicografico coincide con el temporal.
func NewSessionID(at time.Time) string {
	return ulid.MustNew(ulid.Timestamp(at), rand.Reader).String()
}

// NewSession copia los mensajes para que la sesion no comparta memoria con la conversacion.
func NewSession(messages []Message, ownerID string, at time.Time) Session {
	copied := make([]Message, len(messages))
	copy(copied, messages)
	return Session{
		ID:        NewSessionID(at),
		Messages:  copied,
		OwnerID:   ownerID,
		CreatedAt: at.UTC(),
	}
}

// SortNewestFirst ordena por fecha de creacion descendente, con el ID como desempate.
func SortNewestFirst(sessions []Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		if !sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
		}
		return sessions[i].ID > sessions[j].ID
	})
}
