package workspace

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"featherine-chat/internal/auth"
	"featherine-chat/internal/chat"
	"featherine-chat/internal/domain"
	"featherine-chat/internal/history"
	"featherine-chat/internal/kv"
	"featherine-chat/internal/llm"
)

// memRemote guarda sesiones por owner, como la tabla remota.
type memRemote struct {
	mu      sync.Mutex
	byOwner map[string][]domain.Session
	listErr error
}

func newMemRemote() *memRemote {
	return &memRemote{byOwner: make(map[string][]domain.Session)}
}

func (m *memRemote) List(_ context.Context, identity *domain.Identity) ([]domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := append([]domain.Session(nil), m.byOwner[identity.ID]...)
	domain.SortNewestFirst(out)
	return out, nil
}

func (m *memRemote) Append(_ context.Context, s domain.Session, identity *domain.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byOwner[identity.ID] = append(m.byOwner[identity.ID], s)
	return nil
}

func (m *memRemote) Clear(_ context.Context, identity *domain.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byOwner, identity.ID)
	return nil
}

type fakeBackend struct {
	identity   domain.Identity
	signOutErr error
}

func (f *fakeBackend) SignInWithGoogle(context.Context, string) (domain.Identity, auth.TokenPair, error) {
	return f.identity, auth.TokenPair{AccessToken: "a", RefreshToken: "r"}, nil
}

func (f *fakeBackend) SignOut(context.Context, string) error { return f.signOutErr }

func (f *fakeBackend) Refresh(context.Context, string) (domain.Identity, auth.TokenPair, error) {
	return f.identity, auth.TokenPair{AccessToken: "a2", RefreshToken: "r2"}, nil
}

func (f *fakeBackend) CurrentUser(context.Context, string) (domain.Identity, error) {
	return f.identity, nil
}

type fixture struct {
	ws      *Workspace
	remote  *memRemote
	local   *history.LocalStore
	backend *fakeBackend
	client  *llm.MockClient
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	remote := newMemRemote()
	local := history.NewLocalStore(kv.NewMemoryStore(), history.DeviceKey("dev-1"), nil)
	backend := &fakeBackend{identity: domain.Identity{ID: "u1", DisplayName: "Ana"}}
	gateway := auth.NewGateway(backend, nil)
	client := &llm.MockClient{Response: "hello"}
	ws := New("dev-1", client, history.NewRouter(remote, local), gateway, nil)
	t.Cleanup(ws.Close)
	return fixture{ws: ws, remote: remote, local: local, backend: backend, client: client}
}

func TestWorkspace_AnonymousSubmitArchivesLocally(t *testing.T) {
	f := newFixture(t)

	if _, err := f.ws.Submit(context.Background(), chat.Input{Text: "hi"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	sessions := f.ws.Sessions()
	if len(sessions) != 1 || sessions[0].OwnerID != "" {
		t.Fatalf("expected one anonymous session, got %+v", sessions)
	}
	stored, err := f.local.List(context.Background(), nil)
	if err != nil || len(stored) != 1 {
		t.Fatalf("expected session in local storage, got %v %v", stored, err)
	}
	if len(f.remote.byOwner) != 0 {
		t.Fatalf("anonymous session must not reach the remote store")
	}
}

func TestWorkspace_SignInLoadsRemoteAndSignOutRestoresLocal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.ws.Submit(ctx, chat.Input{Text: "anon question"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	_ = f.remote.Append(ctx, domain.NewSession([]domain.Message{
		domain.NewTextMessage(domain.RoleUser, "remote q"),
		domain.NewTextMessage(domain.RoleAssistant, "remote a"),
	}, "u1", time.Now()), &domain.Identity{ID: "u1"})

	if _, _, err := f.ws.Gateway.SignInWithGoogle(ctx, "tok"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	sessions := f.ws.Sessions()
	if len(sessions) != 1 || sessions[0].OwnerID != "u1" {
		t.Fatalf("expected remote list after sign-in, got %+v", sessions)
	}

	if _, err := f.ws.Submit(ctx, chat.Input{Text: "signed question"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got := len(f.remote.byOwner["u1"]); got != 2 {
		t.Fatalf("expected signed-in exchange archived remotely, got %d", got)
	}

	if err := f.ws.Gateway.SignOut(ctx); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	if msgs := f.ws.Controller.Snapshot().Messages; len(msgs) != 0 {
		t.Fatalf("conversation must be cleared on sign-out, got %d messages", len(msgs))
	}
	sessions = f.ws.Sessions()
	if len(sessions) != 1 || sessions[0].Messages[0].Text != "anon question" {
		t.Fatalf("expected local list after sign-out, got %+v", sessions)
	}
}

func TestWorkspace_SignOutFailureKeepsState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, _, err := f.ws.Gateway.SignInWithGoogle(ctx, "tok"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if _, err := f.ws.Submit(ctx, chat.Input{Text: "hi"}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	f.backend.signOutErr = errors.New("network")
	if err := f.ws.Gateway.SignOut(ctx); err == nil {
		t.Fatalf("expected sign-out error")
	}
	if f.ws.Identity() == nil || len(f.ws.Controller.Snapshot().Messages) != 2 {
		t.Fatalf("failed sign-out must leave identity and conversation untouched")
	}
}

func TestWorkspace_AnotherUserResetsConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, _, err := f.ws.Gateway.SignInWithGoogle(ctx, "tok"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if _, err := f.ws.Submit(ctx, chat.Input{Text: "private to u1"}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	f.backend.identity = domain.Identity{ID: "u2"}
	if _, err := f.ws.Gateway.Restore(ctx, "u2-token"); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if msgs := f.ws.Controller.Snapshot().Messages; len(msgs) != 0 {
		t.Fatalf("u2 must not inherit u1's conversation, got %d messages", len(msgs))
	}
	if len(f.ws.Sessions()) != 0 {
		t.Fatalf("u2 must see its own (empty) remote list, got %+v", f.ws.Sessions())
	}

	// la misma identidad con otro token no es un cambio de usuario
	if _, err := f.ws.Submit(ctx, chat.Input{Text: "from u2"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := f.ws.Gateway.Restore(ctx, "u2-token-2"); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if len(f.ws.Controller.Snapshot().Messages) != 2 {
		t.Fatalf("same user must keep the conversation")
	}
}

func TestRef_HidesClientID(t *testing.T) {
	ref := Ref("device-secret-123")
	if ref == "" || ref != Ref("device-secret-123") || ref == Ref("device-secret-124") {
		t.Fatalf("ref must be stable and distinct per id, got %q", ref)
	}
	if len(ref) != 12 || strings.Contains(ref, "device") {
		t.Fatalf("ref must not reveal the id, got %q", ref)
	}
}

func TestWorkspace_ClearAndOpenSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.ws.Submit(ctx, chat.Input{Text: "first"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	f.ws.Controller.Reset()

	id := f.ws.Sessions()[0].ID
	if _, err := f.ws.OpenSession(id); err != nil {
		t.Fatalf("open session: %v", err)
	}
	if msgs := f.ws.Controller.Snapshot().Messages; len(msgs) != 2 || msgs[0].Text != "first" {
		t.Fatalf("expected opened session, got %+v", msgs)
	}
	if _, err := f.ws.OpenSession("missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}

	if err := f.ws.ClearSessions(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if len(f.ws.Sessions()) != 0 {
		t.Fatalf("expected empty list after clear")
	}
	if err := f.ws.RefreshSessions(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if len(f.ws.Sessions()) != 0 {
		t.Fatalf("expected storage empty after clear")
	}
}

func TestWorkspace_RefreshFailureKeepsList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, _, err := f.ws.Gateway.SignInWithGoogle(ctx, "tok"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if _, err := f.ws.Submit(ctx, chat.Input{Text: "hi"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	f.remote.listErr = errors.New("unavailable")
	if err := f.ws.RefreshSessions(ctx); err == nil {
		t.Fatalf("expected refresh error")
	}
	if len(f.ws.Sessions()) != 1 {
		t.Fatalf("previous list must be kept on refresh failure")
	}
}

func TestRegistry_GetCreatesOncePerClient(t *testing.T) {
	store := kv.NewMemoryStore()
	created := 0
	reg := NewRegistry(func(id string) *Workspace {
		created++
		local := history.NewLocalStore(store, history.DeviceKey(id), nil)
		return New(id, &llm.MockClient{Response: "ok"}, history.NewRouter(nil, local), nil, nil)
	}, nil)

	ctx := context.Background()
	a := reg.Get(ctx, "dev-a")
	if reg.Get(ctx, " dev-a ") != a {
		t.Fatalf("expected the same workspace for the same client id")
	}
	b := reg.Get(ctx, "dev-b")
	if a == b || created != 2 {
		t.Fatalf("expected two workspaces, created=%d", created)
	}

	if _, err := a.Submit(ctx, chat.Input{Text: "hi"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(b.Sessions()) != 0 {
		t.Fatalf("devices must not share local history")
	}
	if a.Identity() != nil {
		t.Fatalf("workspace without gateway is anonymous")
	}
}

func newTestRegistry(created *[]string, opts ...RegistryOption) *Registry {
	store := kv.NewMemoryStore()
	return NewRegistry(func(id string) *Workspace {
		*created = append(*created, id)
		local := history.NewLocalStore(store, history.DeviceKey(id), nil)
		return New(id, &llm.MockClient{Response: "ok"}, history.NewRouter(nil, local), nil, nil)
	}, nil, opts...)
}

func TestRegistry_EvictsIdleWorkspaces(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var created []string
	reg := newTestRegistry(&created, WithIdleTTL(time.Hour), withRegistryClock(func() time.Time { return now }))
	ctx := context.Background()

	idle := reg.Get(ctx, "idle")
	streaming := reg.Get(ctx, "streaming")
	release := streaming.Hold()

	now = now.Add(2 * time.Hour)
	reg.Get(ctx, "fresh")

	if reg.Get(ctx, "idle") == idle {
		t.Fatalf("idle workspace must be replaced after the ttl")
	}
	if reg.Get(ctx, "streaming") != streaming {
		t.Fatalf("a held workspace must survive the sweep")
	}
	release()
	if got := strings.Join(created, ","); got != "idle,streaming,fresh,idle" {
		t.Fatalf("unexpected creation order %q", got)
	}
}

func TestRegistry_CapacityEvictsLeastRecent(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var created []string
	reg := newTestRegistry(&created, WithMaxWorkspaces(2), withRegistryClock(func() time.Time { return now }))
	ctx := context.Background()

	a := reg.Get(ctx, "a")
	now = now.Add(time.Second)
	b := reg.Get(ctx, "b")
	now = now.Add(time.Second)
	reg.Get(ctx, "a")
	now = now.Add(time.Second)
	reg.Get(ctx, "c")

	if reg.Get(ctx, "a") != a {
		t.Fatalf("recently used workspace must be kept")
	}
	if reg.Get(ctx, "b") == b {
		t.Fatalf("least recently used workspace must be evicted at capacity")
	}
}
