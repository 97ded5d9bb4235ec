package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Role identifica quien produjo un mensaje.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"

	// roleBot es el valor historico que guardaba el front-end para el asistente.
	roleBot Role = "bot"
)

// Kind describe el contenido de un mensaje.
type Kind string

const (
	KindText         Kind = "text"
	KindImage        Kind = "image"
	KindTextAndImage Kind = "text_and_image"

	// kindImageWithText es el nombre historico de KindTextAndImage.
	kindImageWithText Kind = "imageWithText"
)

var ErrInvalidMessage = errors.New("invalid message")

// Message es una entrada inmutable de la conversacion.
// Text se usa en KindText y KindTextAndImage; Image en KindImage y KindTextAndImage.
type Message struct {
	Role      Role
	Kind      Kind
	Text      string
	Image     string
	CreatedAt time.Time
}

func NewTextMessage(role Role, text string) Message {
	return Message{Role: role, Kind: KindText, Text: text, CreatedAt: time.Now().UTC()}
}

func NewImageMessage(role Role, image string) Message {
	return Message{Role: role, Kind: KindImage, Image: image, CreatedAt: time.Now().UTC()}
}

func NewImageTextMessage(role Role, image, text string) Message {
	return Message{Role: role, Kind: KindTextAndImage, Image: image, Text: text, CreatedAt: time.Now().UTC()}
}

// IsUser indica si el mensaje fue escrito por el usuario.
func (m Message) IsUser() bool {
	return m.Role == RoleUser
}

type imageTextContent struct {
	Image string `json:"image"`
	Text  string `json:"text"`
}

type messageJSON struct {
	Role      Role            `json:"role"`
	Kind      Kind            `json:"kind"`
	Content   json.RawMessage `json:"content"`
	CreatedAt *time.Time      `json:"created_at,omitempty"`
}

// MarshalJSON serializa content como string para text/image y como
// {"image","text"} para text_and_image.
func (m Message) MarshalJSON() ([]byte, error) {
	var (
		content []byte
		err     error
	)
	switch m.Kind {
	case KindText:
		content, err = json.Marshal(m.Text)
	case KindImage:
		content, err = json.Marshal(m.Image)
	case KindTextAndImage:
		content, err = json.Marshal(imageTextContent{Image: m.Image, Text: m.Text})
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidMessage, m.Kind)
	}
	if err != nil {
		return nil, err
	}
	out := messageJSON{Role: m.Role, Kind: m.Kind, Content: content}
	if !m.CreatedAt.IsZero() {
		createdAt := m.CreatedAt
		out.CreatedAt = &createdAt
	}
	return json.Marshal(out)
}

// UnmarshalJSON acepta tambien el formato historico ("type", "bot", "imageWithText").
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		messageJSON
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	kind := raw.Kind
	if kind == "" {
		kind = raw.Type
	}
	if kind == kindImageWithText {
		kind = KindTextAndImage
	}
	role, err := normalizeRole(raw.Role)
	if err != nil {
		return err
	}

	msg := Message{Role: role, Kind: kind}
	if raw.CreatedAt != nil {
		msg.CreatedAt = *raw.CreatedAt
	}
	switch kind {
	case KindText:
		if err := json.Unmarshal(raw.Content, &msg.Text); err != nil {
			return fmt.Errorf("%w: text content: %v", ErrInvalidMessage, err)
		}
	case KindImage:
		if err := json.Unmarshal(raw.Content, &msg.Image); err != nil {
			return fmt.Errorf("%w: image content: %v", ErrInvalidMessage, err)
		}
	case KindTextAndImage:
		var c imageTextContent
		if err := json.Unmarshal(raw.Content, &c); err != nil {
			return fmt.Errorf("%w: image/text content: %v", ErrInvalidMessage, err)
		}
		msg.Image = c.Image
		msg.Text = c.Text
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidMessage, kind)
	}

	*m = msg
	return nil
}

func normalizeRole(r Role) (Role, error) {
	switch Role(strings.ToLower(string(r))) {
	case RoleUser:
		return RoleUser, nil
	case RoleAssistant, roleBot:
		return RoleAssistant, nil
	default:
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidMessage, r)
	}
}
