package domain

import "time"

// User es el registro persistido de una identidad autenticada.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name,omitempty"`
	AvatarURL    string    `json:"avatar_url,omitempty"`
	AuthProvider string    `json:"auth_provider,omitempty"`
	AuthSubject  string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Identity es la vista de solo lectura del usuario que consume el resto del sistema.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Email       string `json:"email"`
}

func (u User) Identity() Identity {
	return Identity{
		ID:          u.ID,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
		Email:       u.Email,
	}
}

// OwnerID devuelve el id de la identidad o "" si es anonima.
func OwnerID(id *Identity) string {
	if id == nil {
		return ""
	}
	return id.ID
}
