package workspace

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"featherine-chat/internal/metrics"
)

const (
	defaultIdleTTL       = 2 * time.Hour
	defaultMaxWorkspaces = 10000
	sweepInterval        = time.Minute
)

// Factory construye el workspace de un dispositivo nuevo.
type Factory func(clientID string) *Workspace

type RegistryOption func(*Registry)

// WithIdleTTL fija cuanto puede quedar un workspace sin solicitudes antes de liberarse.
func WithIdleTTL(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.idleTTL = d
		}
	}
}

// WithMaxWorkspaces acota cuantos dispositivos se mantienen en memoria.
func WithMaxWorkspaces(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.maxWorkspaces = n
		}
	}
}

func withRegistryClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

type registryEntry struct {
	ws       *Workspace
	lastSeen time.Time
}

// Registry guarda un workspace por client id. Los inactivos se liberan pasado idleTTL
// y, al llegar a maxWorkspaces, se libera el menos reciente que no este en uso.
type Registry struct {
	factory       Factory
	logger        *zap.Logger
	idleTTL       time.Duration
	maxWorkspaces int
	now           func() time.Time

	mu         sync.Mutex
	workspaces map[string]*registryEntry
	lastSweep  time.Time
}

func NewRegistry(factory Factory, logger *zap.Logger, opts ...RegistryOption) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		factory:       factory,
		logger:        logger,
		idleTTL:       defaultIdleTTL,
		maxWorkspaces: defaultMaxWorkspaces,
		now:           time.Now,
		workspaces:    make(map[string]*registryEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get devuelve el workspace de clientID y lo crea (cargando su historial) si no existe.
func (r *Registry) Get(ctx context.Context, clientID string) *Workspace {
	clientID = strings.TrimSpace(clientID)
	now := r.now()

	r.mu.Lock()
	var evicted []*Workspace
	if now.Sub(r.lastSweep) >= sweepInterval {
		evicted = r.sweepLocked(now)
		r.lastSweep = now
	}
	entry, ok := r.workspaces[clientID]
	if !ok {
		if len(r.workspaces) >= r.maxWorkspaces {
			if ws := r.evictOldestLocked(); ws != nil {
				evicted = append(evicted, ws)
			}
		}
		entry = &registryEntry{ws: r.factory(clientID)}
		r.workspaces[clientID] = entry
	}
	entry.lastSeen = now
	metrics.ActiveWorkspaces.Set(float64(len(r.workspaces)))
	r.mu.Unlock()

	for _, ws := range evicted {
		ws.Close()
		metrics.WorkspacesEvicted.Inc()
		r.logger.Debug("workspace evicted", zap.String("client", Ref(ws.ID)))
	}

	if !ok {
		r.logger.Debug("workspace created", zap.String("client", Ref(clientID)))
		if err := entry.ws.RefreshSessions(ctx); err != nil {
			r.logger.Warn("initial session load failed", zap.String("client", Ref(clientID)), zap.Error(err))
		}
	}
	return entry.ws
}

func (r *Registry) sweepLocked(now time.Time) []*Workspace {
	var out []*Workspace
	for id, entry := range r.workspaces {
		if now.Sub(entry.lastSeen) < r.idleTTL || entry.ws.inUse() {
			continue
		}
		delete(r.workspaces, id)
		out = append(out, entry.ws)
	}
	return out
}

// evictOldestLocked libera el workspace menos reciente que no este en uso.
// Si todos estan en uso no libera ninguno y el registro supera el limite.
func (r *Registry) evictOldestLocked() *Workspace {
	var (
		victim string
		oldest time.Time
	)
	for id, entry := range r.workspaces {
		if entry.ws.inUse() {
			continue
		}
		if victim == "" || entry.lastSeen.Before(oldest) {
			victim, oldest = id, entry.lastSeen
		}
	}
	if victim == "" {
		return nil
	}
	ws := r.workspaces[victim].ws
	delete(r.workspaces, victim)
	return ws
}
