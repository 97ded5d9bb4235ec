package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"featherine-chat/internal/domain"
)

var (
	ErrNotSignedIn   = errors.New("not signed in")
	ErrTokenRequired = errors.New("access token required")
)

// Change se emite en cada transicion de sesion. Current nil significa sign-out.
type Change struct {
	Previous *domain.Identity
	Current  *domain.Identity
}

// SignedIn indica si la transicion deja una identidad activa.
func (c Change) SignedIn() bool { return c.Current != nil }

// Switched indica que una identidad reemplazo a otra distinta sin pasar por sign-out.
func (c Change) Switched() bool {
	return c.Previous != nil && c.Current != nil && c.Previous.ID != c.Current.ID
}

// Gateway mantiene la identidad actual de un dispositivo y notifica cambios.
// Los fallos del backend se registran y dejan el estado intacto.
type Gateway struct {
	backend Backend
	logger  *zap.Logger
	now     func() time.Time

	mu       sync.RWMutex
	identity *domain.Identity
	tokens   TokenPair
	// expiresAt cero significa que no se conoce el vencimiento del access token
	// (identidad restaurada) y hay que verificarlo contra el backend.
	expiresAt time.Time
	subs      map[int]func(Change)
	nextSub   int
}

func NewGateway(backend Backend, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		backend: backend,
		logger:  logger,
		now:     time.Now,
		subs:    make(map[int]func(Change)),
	}
}

// Identity devuelve una copia de la identidad actual o nil.
func (g *Gateway) Identity() *domain.Identity {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.identity == nil {
		return nil
	}
	id := *g.identity
	return &id
}

func (g *Gateway) Tokens() TokenPair {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.tokens
}

// Subscribe registra fn y devuelve la funcion para darse de baja.
func (g *Gateway) Subscribe(fn func(Change)) func() {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.nextSub
	g.nextSub++
	g.subs[id] = fn
	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		delete(g.subs, id)
	}
}

func (g *Gateway) SignInWithGoogle(ctx context.Context, idToken string) (domain.Identity, TokenPair, error) {
	if g.backend == nil {
		return domain.Identity{}, TokenPair{}, ErrAuthNotConfigured
	}
	identity, tokens, err := g.backend.SignInWithGoogle(ctx, idToken)
	if err != nil {
		g.logger.Warn("google sign-in failed", zap.Error(err))
		return domain.Identity{}, TokenPair{}, err
	}
	g.set(&identity, tokens)
	return identity, tokens, nil
}

// SignOut revoca la sesion remota; si falla la identidad local se conserva.
func (g *Gateway) SignOut(ctx context.Context) error {
	g.mu.RLock()
	signedIn := g.identity != nil
	refresh := g.tokens.RefreshToken
	g.mu.RUnlock()
	if !signedIn {
		return nil
	}
	if g.backend == nil {
		return ErrAuthNotConfigured
	}
	if refresh != "" {
		if err := g.backend.SignOut(ctx, refresh); err != nil {
			g.logger.Warn("sign-out failed", zap.Error(err))
			return err
		}
	}
	g.set(nil, TokenPair{})
	return nil
}

// Refresh rota los tokens con el refresh token que presenta el cliente.
func (g *Gateway) Refresh(ctx context.Context, refreshToken string) (domain.Identity, TokenPair, error) {
	if g.backend == nil {
		return domain.Identity{}, TokenPair{}, ErrAuthNotConfigured
	}
	identity, tokens, err := g.backend.Refresh(ctx, refreshToken)
	if err != nil {
		g.logger.Info("token refresh failed", zap.Error(err))
		return domain.Identity{}, TokenPair{}, err
	}

	g.mu.Lock()
	if g.identity != nil && *g.identity == identity {
		g.tokens = tokens
		g.expiresAt = g.expiry(tokens)
		g.mu.Unlock()
		return identity, tokens, nil
	}
	g.mu.Unlock()
	g.set(&identity, tokens)
	return identity, tokens, nil
}

// Restore resuelve el usuario actual a partir de un access token ya emitido.
func (g *Gateway) Restore(ctx context.Context, accessToken string) (domain.Identity, error) {
	if g.backend == nil {
		return domain.Identity{}, ErrAuthNotConfigured
	}
	identity, err := g.backend.CurrentUser(ctx, accessToken)
	if err != nil {
		g.logger.Debug("current user lookup failed", zap.Error(err))
		return domain.Identity{}, err
	}

	g.mu.Lock()
	if g.identity != nil && *g.identity == identity {
		if g.tokens.AccessToken != accessToken {
			g.tokens.AccessToken = accessToken
			g.tokens.ExpiresIn = 0
			g.expiresAt = time.Time{}
		}
		g.mu.Unlock()
		return identity, nil
	}
	g.mu.Unlock()
	g.set(&identity, TokenPair{AccessToken: accessToken})
	return identity, nil
}

// Authorize valida el access token de una solicitud contra la identidad del dispositivo.
// Un dispositivo anonimo admite solicitudes sin token; uno con identidad exige su token
// vigente. Un token distinto se resuelve con Restore y puede cambiar la identidad.
func (g *Gateway) Authorize(ctx context.Context, accessToken string) error {
	g.mu.RLock()
	signedIn := g.identity != nil
	current := g.tokens.AccessToken
	expiresAt := g.expiresAt
	g.mu.RUnlock()

	if accessToken == "" {
		if signedIn {
			return ErrTokenRequired
		}
		return nil
	}
	if signedIn && !expiresAt.IsZero() && subtle.ConstantTimeCompare([]byte(accessToken), []byte(current)) == 1 {
		if g.now().Before(expiresAt) {
			return nil
		}
		return ErrJWTExpired
	}
	_, err := g.Restore(ctx, accessToken)
	return err
}

func (g *Gateway) set(identity *domain.Identity, tokens TokenPair) {
	g.mu.Lock()
	prev := g.identity
	g.identity = identity
	g.tokens = tokens
	g.expiresAt = g.expiry(tokens)
	subs := make([]func(Change), 0, len(g.subs))
	for _, fn := range g.subs {
		subs = append(subs, fn)
	}
	g.mu.Unlock()

	change := Change{Previous: copyIdentity(prev), Current: copyIdentity(identity)}
	for _, fn := range subs {
		fn(change)
	}
}

func (g *Gateway) expiry(tokens TokenPair) time.Time {
	if tokens.ExpiresIn <= 0 {
		return time.Time{}
	}
	return g.now().Add(time.Duration(tokens.ExpiresIn) * time.Second)
}

func copyIdentity(id *domain.Identity) *domain.Identity {
	if id == nil {
		return nil
	}
	c := *id
	return &c
}
