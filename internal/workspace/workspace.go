// Package workspace agrupa el estado de un dispositivo: conversacion activa,
// identidad y la lista de sesiones archivadas que muestra la barra lateral.
package workspace

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"featherine-chat/internal/auth"
	"featherine-chat/internal/chat"
	"featherine-chat/internal/domain"
	"featherine-chat/internal/history"
	"featherine-chat/internal/llm"
)

var ErrSessionNotFound = errors.New("session not found")

const listTimeout = 5 * time.Second

// Ref es la huella del client id que se usa en logs; el id en claro identifica al dispositivo.
func Ref(clientID string) string {
	sum := sha256.Sum256([]byte(clientID))
	return hex.EncodeToString(sum[:6])
}

type Workspace struct {
	ID         string
	Controller *chat.Controller
	Gateway    *auth.Gateway

	store  history.Store
	logger *zap.Logger

	mu          sync.RWMutex
	sessions    []domain.Session
	unsubscribe func()
	holds       atomic.Int32
}

// New arma el workspace. gateway puede ser nil para clientes siempre anonimos.
func New(id string, completer llm.Completer, store history.Store, gateway *auth.Gateway, logger *zap.Logger, opts ...chat.Option) *Workspace {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("client", Ref(id)))

	w := &Workspace{
		ID:      id,
		Gateway: gateway,
		store:   store,
		logger:  logger,
	}
	opts = append([]chat.Option{chat.WithLogger(logger)}, opts...)
	if gateway != nil {
		opts = append(opts, chat.WithIdentity(gateway))
		w.unsubscribe = gateway.Subscribe(w.onAuthChange)
	}
	w.Controller = chat.NewController(completer, store, opts...)
	return w
}

// Identity devuelve la identidad del dispositivo o nil si es anonimo.
func (w *Workspace) Identity() *domain.Identity {
	if w.Gateway == nil {
		return nil
	}
	return w.Gateway.Identity()
}

// Submit envia la entrada al controlador y refresca la lista si se archivo algo.
func (w *Workspace) Submit(ctx context.Context, in chat.Input) (chat.Result, error) {
	res, err := w.Controller.Submit(ctx, in)
	if err != nil {
		return res, err
	}
	if !res.Failed && !res.Discarded {
		if err := w.RefreshSessions(context.WithoutCancel(ctx)); err != nil {
			w.logger.Warn("refresh sessions after submit failed", zap.Error(err))
		}
	}
	return res, nil
}

func (w *Workspace) Sessions() []domain.Session {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]domain.Session, len(w.sessions))
	copy(out, w.sessions)
	return out
}

// RefreshSessions recarga la lista desde el store que corresponde a la identidad actual.
// Si falla, la lista anterior se conserva.
func (w *Workspace) RefreshSessions(ctx context.Context) error {
	if w.store == nil {
		return nil
	}
	sessions, err := w.store.List(ctx, w.Identity())
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.sessions = sessions
	w.mu.Unlock()
	return nil
}

// ClearSessions borra todas las sesiones archivadas de la identidad actual.
func (w *Workspace) ClearSessions(ctx context.Context) error {
	if w.store != nil {
		if err := w.store.Clear(ctx, w.Identity()); err != nil {
			w.logger.Error("clear sessions failed", zap.Error(err))
			return err
		}
	}
	w.mu.Lock()
	w.sessions = nil
	w.mu.Unlock()
	return nil
}

func (w *Workspace) Session(id string) (domain.Session, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, s := range w.sessions {
		if s.ID == id {
			return s, nil
		}
	}
	return domain.Session{}, ErrSessionNotFound
}

// OpenSession carga una sesion archivada como conversacion activa.
func (w *Workspace) OpenSession(id string) (domain.Session, error) {
	s, err := w.Session(id)
	if err != nil {
		return domain.Session{}, err
	}
	w.Controller.Open(s)
	return s, nil
}

// Hold marca el workspace como en uso (por ejemplo un stream abierto) para que el
// registro no lo libere. La funcion devuelta lo suelta.
func (w *Workspace) Hold() func() {
	w.holds.Add(1)
	var once sync.Once
	return func() { once.Do(func() { w.holds.Add(-1) }) }
}

func (w *Workspace) inUse() bool {
	return w.holds.Load() > 0 || w.Controller.Snapshot().Busy
}

// Close suelta la suscripcion al gateway.
func (w *Workspace) Close() {
	if w.unsubscribe != nil {
		w.unsubscribe()
		w.unsubscribe = nil
	}
}

// onAuthChange: al iniciar sesion se muestra la lista remota; al cerrarla se
// limpia la conversacion y se vuelve a la lista local. Si entra otro usuario
// sin pasar por sign-out la conversacion tambien se limpia.
func (w *Workspace) onAuthChange(change auth.Change) {
	if !change.SignedIn() || change.Switched() {
		w.Controller.Reset()
		w.mu.Lock()
		w.sessions = nil
		w.mu.Unlock()
	}
	ctx, cancel := context.WithTimeout(context.Background(), listTimeout)
	defer cancel()
	if err := w.RefreshSessions(ctx); err != nil {
		w.logger.Warn("load sessions after auth change failed",
			zap.Bool("signed_in", change.SignedIn()), zap.Error(err))
	}
}
