package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/api/idtoken"
)

const ProviderGoogle = "google"

var ErrGoogleTokenInvalid = errors.New("google id token invalid")

// GoogleProfile son los datos que nos interesan de un ID token de Google.
type GoogleProfile struct {
	Subject   string
	Email     string
	Name      string
	AvatarURL string
}

// TokenVerifier valida un ID token y devuelve el perfil asociado.
type TokenVerifier interface {
	Verify(ctx context.Context, idToken string) (GoogleProfile, error)
}

// GoogleVerifier valida ID tokens firmados por Google para un client id.
type GoogleVerifier struct {
	audience string
	validate func(ctx context.Context, idToken, audience string) (*idtoken.Payload, error)
}

func NewGoogleVerifier(clientID string) *GoogleVerifier {
	return &GoogleVerifier{audience: clientID, validate: idtoken.Validate}
}

func (v *GoogleVerifier) Verify(ctx context.Context, idToken string) (GoogleProfile, error) {
	idToken = strings.TrimSpace(idToken)
	if idToken == "" {
		return GoogleProfile{}, ErrGoogleTokenInvalid
	}
	payload, err := v.validate(ctx, idToken, v.audience)
	if err != nil {
		return GoogleProfile{}, fmt.Errorf("%w: %v", ErrGoogleTokenInvalid, err)
	}
	if payload.Subject == "" {
		return GoogleProfile{}, ErrGoogleTokenInvalid
	}
	return GoogleProfile{
		Subject:   payload.Subject,
		Email:     claimString(payload.Claims, "email"),
		Name:      claimString(payload.Claims, "name"),
		AvatarURL: claimString(payload.Claims, "picture"),
	}, nil
}

func claimString(claims map[string]interface{}, key string) string {
	v, _ := claims[key].(string)
	return v
}
