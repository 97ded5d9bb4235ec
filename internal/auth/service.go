package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"featherine-chat/internal/domain"
	"featherine-chat/internal/repository"
)

// Backend es el servicio de identidad externo que consume el Gateway.
type Backend interface {
	SignInWithGoogle(ctx context.Context, idToken string) (domain.Identity, TokenPair, error)
	SignOut(ctx context.Context, refreshToken string) error
	Refresh(ctx context.Context, refreshToken string) (domain.Identity, TokenPair, error)
	CurrentUser(ctx context.Context, accessToken string) (domain.Identity, error)
}

var ErrAuthNotConfigured = errors.New("auth backend not configured")

// Service implementa Backend: valida el token de Google, hace upsert del
// usuario y emite tokens propios.
type Service struct {
	logger   *zap.Logger
	users    repository.UserRepository
	verifier TokenVerifier
	jwt      *JWTService
}

func NewService(logger *zap.Logger, users repository.UserRepository, verifier TokenVerifier, jwtSvc *JWTService) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{logger: logger, users: users, verifier: verifier, jwt: jwtSvc}
}

func (s *Service) SignInWithGoogle(ctx context.Context, idToken string) (domain.Identity, TokenPair, error) {
	if s.verifier == nil || s.jwt == nil {
		return domain.Identity{}, TokenPair{}, ErrAuthNotConfigured
	}
	profile, err := s.verifier.Verify(ctx, idToken)
	if err != nil {
		return domain.Identity{}, TokenPair{}, err
	}
	user, err := s.upsertGoogleUser(ctx, profile)
	if err != nil {
		return domain.Identity{}, TokenPair{}, err
	}
	tokens, err := s.jwt.GeneratePair(ctx, user)
	if err != nil {
		return domain.Identity{}, TokenPair{}, err
	}
	s.logger.Info("user signed in", zap.String("user_id", user.ID), zap.String("provider", ProviderGoogle))
	return user.Identity(), tokens, nil
}

func (s *Service) SignOut(ctx context.Context, refreshToken string) error {
	if s.jwt == nil {
		return ErrAuthNotConfigured
	}
	return s.jwt.RevokeRefresh(ctx, refreshToken)
}

// Refresh rota el par de tokens y devuelve la identidad vigente del usuario.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (domain.Identity, TokenPair, error) {
	if s.jwt == nil {
		return domain.Identity{}, TokenPair{}, ErrAuthNotConfigured
	}
	tokens, err := s.jwt.RefreshPair(ctx, refreshToken)
	if err != nil {
		return domain.Identity{}, TokenPair{}, err
	}
	identity, err := s.CurrentUser(ctx, tokens.AccessToken)
	if err != nil {
		if revokeErr := s.jwt.RevokeRefresh(ctx, tokens.RefreshToken); revokeErr != nil {
			s.logger.Warn("revoke refresh after failed lookup", zap.Error(revokeErr))
		}
		return domain.Identity{}, TokenPair{}, err
	}
	return identity, tokens, nil
}

func (s *Service) CurrentUser(ctx context.Context, accessToken string) (domain.Identity, error) {
	if s.jwt == nil {
		return domain.Identity{}, ErrAuthNotConfigured
	}
	claims, err := s.jwt.ParseAccessToken(accessToken)
	if err != nil {
		return domain.Identity{}, err
	}
	if s.users == nil {
		return claims.Identity(), nil
	}
	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Identity{}, ErrJWTInvalid
		}
		return domain.Identity{}, err
	}
	return user.Identity(), nil
}

// upsertGoogleUser sin repositorio de usuarios usa el subject de Google como id estable.
func (s *Service) upsertGoogleUser(ctx context.Context, p GoogleProfile) (domain.User, error) {
	email := strings.ToLower(strings.TrimSpace(p.Email))
	name := strings.TrimSpace(p.Name)
	avatar := strings.TrimSpace(p.AvatarURL)

	if s.users == nil {
		return domain.User{
			ID:           ProviderGoogle + ":" + p.Subject,
			Email:        email,
			DisplayName:  name,
			AvatarURL:    avatar,
			AuthProvider: ProviderGoogle,
			AuthSubject:  p.Subject,
		}, nil
	}

	user, err := s.users.GetByAuth(ctx, ProviderGoogle, p.Subject)
	if err == nil {
		if (name != "" && name != user.DisplayName) || (avatar != "" && avatar != user.AvatarURL) {
			if name != "" {
				user.DisplayName = name
			}
			if avatar != "" {
				user.AvatarURL = avatar
			}
			if err := s.users.UpdateProfile(ctx, user.ID, user.DisplayName, user.AvatarURL); err != nil {
				return domain.User{}, err
			}
		}
		return user, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, err
	}

	if email != "" {
		existing, err := s.users.GetByEmail(ctx, email)
		if err == nil {
			if err := s.users.LinkOAuth(ctx, existing.ID, ProviderGoogle, p.Subject); err != nil {
				return domain.User{}, err
			}
			existing.AuthProvider = ProviderGoogle
			existing.AuthSubject = p.Subject
			if existing.DisplayName == "" {
				existing.DisplayName = name
			}
			if existing.AvatarURL == "" {
				existing.AvatarURL = avatar
			}
			return existing, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, err
		}
	}

	user = domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		DisplayName:  name,
		AvatarURL:    avatar,
		AuthProvider: ProviderGoogle,
		AuthSubject:  p.Subject,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.users.Create(ctx, user); err != nil {
		return domain.User{}, err
	}
	return user, nil
}
