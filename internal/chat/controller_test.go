package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"featherine-chat/internal/config"
	"featherine-chat/internal/domain"
	"featherine-chat/internal/history"
	"featherine-chat/internal/llm"
)

type appendCall struct {
	session  domain.Session
	identity *domain.Identity
}

type mockStore struct {
	mu        sync.Mutex
	appends   []appendCall
	appendErr error
}

func (m *mockStore) List(_ context.Context, _ *domain.Identity) ([]domain.Session, error) {
	return nil, nil
}

func (m *mockStore) Append(_ context.Context, session domain.Session, identity *domain.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	m.appends = append(m.appends, appendCall{session: session, identity: identity})
	return nil
}

func (m *mockStore) Clear(_ context.Context, _ *domain.Identity) error { return nil }

func (m *mockStore) calls() []appendCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]appendCall(nil), m.appends...)
}

type staticIdentity struct{ id *domain.Identity }

func (s staticIdentity) Identity() *domain.Identity { return s.id }

// blockingCompleter bloquea cada llamada hasta recibir una respuesta por release.
type blockingCompleter struct {
	started chan struct{}
	release chan string
}

func newBlockingCompleter() *blockingCompleter {
	return &blockingCompleter{started: make(chan struct{}, 4), release: make(chan string)}
}

func (b *blockingCompleter) Complete(ctx context.Context, _ []domain.TranscriptEntry) (string, error) {
	b.started <- struct{}{}
	select {
	case reply := <-b.release:
		return reply, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func fixedClock() Option {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return withClock(func() time.Time { return at })
}

func TestSubmit_TextScenario(t *testing.T) {
	client := &llm.MockClient{Response: "hello"}
	store := &mockStore{}
	c := NewController(client, store, fixedClock())

	res, err := c.Submit(context.Background(), Input{Text: "hi"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Failed || res.Discarded {
		t.Fatalf("unexpected result: %+v", res)
	}

	calls := client.Calls()
	if len(calls) != 1 || len(calls[0]) != 1 {
		t.Fatalf("expected a single one-entry transcript, got %+v", calls)
	}
	if calls[0][0] != (domain.TranscriptEntry{Role: domain.RoleUser, Content: "hi"}) {
		t.Fatalf("unexpected transcript: %+v", calls[0])
	}

	msgs := c.Snapshot().Messages
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != domain.RoleUser || msgs[0].Kind != domain.KindText || msgs[0].Text != "hi" {
		t.Fatalf("unexpected user message: %+v", msgs[0])
	}
	if msgs[1].Role != domain.RoleAssistant || msgs[1].Kind != domain.KindText || msgs[1].Text != "hello" {
		t.Fatalf("unexpected reply: %+v", msgs[1])
	}

	archived := store.calls()
	if len(archived) != 1 {
		t.Fatalf("expected one archived session, got %d", len(archived))
	}
	s := archived[0].session
	if s.ID == "" || s.OwnerID != "" || archived[0].identity != nil {
		t.Fatalf("expected anonymous session with id, got %+v", s)
	}
	if len(s.Messages) != 2 || s.Messages[0].Text != "hi" || s.Messages[1].Text != "hello" {
		t.Fatalf("unexpected archived messages: %+v", s.Messages)
	}
}

func TestSubmit_ImageAndTextProducesSingleMessage(t *testing.T) {
	client := &llm.MockClient{Response: "a cat"}
	c := NewController(client, &mockStore{})

	if _, err := c.Submit(context.Background(), Input{Image: "data:image/png;base64,AAA", Text: " what is this "}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	msgs := c.Snapshot().Messages
	if len(msgs) != 2 || msgs[0].Kind != domain.KindTextAndImage {
		t.Fatalf("expected one text_and_image message plus reply, got %+v", msgs)
	}
	transcript := client.Calls()[0]
	want := "![image](data:image/png;base64,AAA)\n\nwhat is this"
	if got := transcript[len(transcript)-1].Content; got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestSubmit_ConversationGrowsTwicePerSubmission(t *testing.T) {
	client := &llm.MockClient{Response: "ok"}
	store := &mockStore{}
	c := NewController(client, store)

	const n = 4
	for i := 0; i < n; i++ {
		if _, err := c.Submit(context.Background(), Input{Text: fmt.Sprintf("q%d", i)}); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}

	msgs := c.Snapshot().Messages
	if len(msgs) != 2*n {
		t.Fatalf("expected %d messages, got %d", 2*n, len(msgs))
	}
	for i := 0; i < n; i++ {
		if msgs[2*i].Text != fmt.Sprintf("q%d", i) || !msgs[2*i].IsUser() || msgs[2*i+1].IsUser() {
			t.Fatalf("unexpected order at %d: %+v", i, msgs)
		}
	}

	// cada sesion archivada es un solo par pregunta/respuesta
	archived := store.calls()
	if len(archived) != n {
		t.Fatalf("expected %d sessions, got %d", n, len(archived))
	}
	for _, a := range archived {
		if len(a.session.Messages) != 2 {
			t.Fatalf("expected question/answer pair, got %+v", a.session.Messages)
		}
	}

	last := client.Calls()[n-1]
	if len(last) != 2*n-1 || last[1].Role != domain.RoleAssistant {
		t.Fatalf("expected full prior conversation in transcript, got %+v", last)
	}
}

func TestSubmit_EmptyIsRejected(t *testing.T) {
	client := &llm.MockClient{Response: "x"}
	c := NewController(client, &mockStore{})

	for _, in := range []Input{{}, {Text: "   "}, {Text: "\n", Image: " "}} {
		if _, err := c.Submit(context.Background(), in); !errors.Is(err, ErrEmptySubmission) {
			t.Fatalf("expected ErrEmptySubmission for %+v, got %v", in, err)
		}
	}
	if len(c.Snapshot().Messages) != 0 || len(client.Calls()) != 0 {
		t.Fatalf("empty submission must be a no-op")
	}
}

func TestSubmit_FailureAppendsApologyAndSkipsArchive(t *testing.T) {
	client := &llm.MockClient{Err: &llm.TransportError{StatusCode: 500, Body: "boom"}}
	store := &mockStore{}
	c := NewController(client, store)

	res, err := c.Submit(context.Background(), Input{Text: "hi"})
	if err != nil {
		t.Fatalf("submit must not return remote errors, got %v", err)
	}
	var te *llm.TransportError
	if !res.Failed || !errors.As(res.Err, &te) {
		t.Fatalf("expected failed result with transport error, got %+v", res)
	}

	msgs := c.Snapshot().Messages
	if len(msgs) != 2 || msgs[1].Text != config.DefaultApologyMessage || msgs[1].Role != domain.RoleAssistant {
		t.Fatalf("expected exactly one apology, got %+v", msgs)
	}
	if len(store.calls()) != 0 {
		t.Fatalf("failed exchange must not be archived")
	}

	// el buffer pendiente se descarta: el siguiente archivo no arrastra el fallo
	client.Err = nil
	client.Response = "fine"
	if _, err := c.Submit(context.Background(), Input{Text: "again"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	archived := store.calls()
	if len(archived) != 1 || len(archived[0].session.Messages) != 2 || archived[0].session.Messages[0].Text != "again" {
		t.Fatalf("unexpected archive after recovery: %+v", archived)
	}
}

func TestSubmit_MissingCompleterIsConfigurationError(t *testing.T) {
	c := NewController(nil, nil, WithApology("sorry"))

	res, err := c.Submit(context.Background(), Input{Text: "hi"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	var ce *llm.ConfigurationError
	if !errors.As(res.Err, &ce) || !errors.Is(res.Err, llm.ErrMissingAPIKey) {
		t.Fatalf("expected configuration error, got %v", res.Err)
	}
	if got := c.Snapshot().Messages[1].Text; got != "sorry" {
		t.Fatalf("expected custom apology, got %q", got)
	}
}

func TestSubmit_ArchiveFailureDoesNotAlterConversation(t *testing.T) {
	client := &llm.MockClient{Response: "hello"}
	store := &mockStore{appendErr: &history.PersistenceError{Op: "append", Backend: "local", Err: errors.New("disk full")}}

	var hooked []error
	c := NewController(client, store, WithArchiveErrorHook(func(_ domain.Session, err error) {
		hooked = append(hooked, err)
	}))

	res, err := c.Submit(context.Background(), Input{Text: "hi"})
	if err != nil || res.Failed {
		t.Fatalf("archive failure must not surface: res=%+v err=%v", res, err)
	}
	msgs := c.Snapshot().Messages
	if len(msgs) != 2 || msgs[1].Text != "hello" {
		t.Fatalf("conversation altered by archive failure: %+v", msgs)
	}
	var pe *history.PersistenceError
	if len(hooked) != 1 || !errors.As(hooked[0], &pe) {
		t.Fatalf("expected hook with persistence error, got %+v", hooked)
	}
}

func TestSubmit_ArchivesWithCurrentIdentity(t *testing.T) {
	client := &llm.MockClient{Response: "hello"}
	store := &mockStore{}
	id := &domain.Identity{ID: "u1", DisplayName: "Ana"}
	c := NewController(client, store, WithIdentity(staticIdentity{id: id}))

	if _, err := c.Submit(context.Background(), Input{Text: "hi"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	archived := store.calls()
	if len(archived) != 1 || archived[0].session.OwnerID != "u1" || archived[0].identity == nil || archived[0].identity.ID != "u1" {
		t.Fatalf("expected session owned by u1, got %+v", archived)
	}
}

func TestSubmit_StaleReplyAfterResetIsDiscarded(t *testing.T) {
	client := newBlockingCompleter()
	store := &mockStore{}
	c := NewController(client, store)

	done := make(chan Result, 1)
	go func() {
		res, _ := c.Submit(context.Background(), Input{Text: "slow question"})
		done <- res
	}()

	<-client.started
	if !c.Snapshot().Busy {
		t.Fatalf("expected busy while request is outstanding")
	}
	c.Reset()
	client.release <- "late answer"
	res := <-done

	if !res.Discarded {
		t.Fatalf("expected discarded result, got %+v", res)
	}
	state := c.Snapshot()
	if len(state.Messages) != 0 {
		t.Fatalf("stale reply leaked into new conversation: %+v", state.Messages)
	}
	if state.Busy {
		t.Fatalf("busy flag must clear once the request finishes")
	}
	if len(store.calls()) != 0 {
		t.Fatalf("stale exchange must not be archived")
	}
}

func TestSubmit_ConcurrentRequestsKeepBusyUntilAllFinish(t *testing.T) {
	client := newBlockingCompleter()
	c := NewController(client, &mockStore{})

	var wg sync.WaitGroup
	for _, q := range []string{"one", "two"} {
		wg.Add(1)
		go func(q string) {
			defer wg.Done()
			_, _ = c.Submit(context.Background(), Input{Text: q})
		}(q)
	}
	<-client.started
	<-client.started

	client.release <- "first"
	// espera a que el primer reply se aplique
	deadline := time.Now().Add(2 * time.Second)
	for len(c.Snapshot().Messages) < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !c.Snapshot().Busy {
		t.Fatalf("expected busy while a second request is outstanding")
	}

	client.release <- "second"
	wg.Wait()
	state := c.Snapshot()
	if state.Busy || len(state.Messages) != 4 {
		t.Fatalf("unexpected final state: %+v", state)
	}
}

func TestSubmit_OverlappingRequestsArchiveOwnExchange(t *testing.T) {
	client := newBlockingCompleter()
	store := &mockStore{}
	c := NewController(client, store)

	var wg sync.WaitGroup
	for _, q := range []string{"A", "B"} {
		wg.Add(1)
		go func(q string) {
			defer wg.Done()
			_, _ = c.Submit(context.Background(), Input{Text: q})
		}(q)
	}
	<-client.started
	<-client.started
	client.release <- "first"
	client.release <- "second"
	wg.Wait()

	calls := store.calls()
	if len(calls) != 2 {
		t.Fatalf("expected one archived session per exchange, got %d", len(calls))
	}
	questions := map[string]bool{}
	for i, call := range calls {
		msgs := call.session.Messages
		if len(msgs) != 2 {
			t.Fatalf("session %d: expected question and answer, got %+v", i, msgs)
		}
		if msgs[0].Role != domain.RoleUser || msgs[1].Role != domain.RoleAssistant {
			t.Fatalf("session %d: roles must alternate starting with user, got %s %s", i, msgs[0].Role, msgs[1].Role)
		}
		questions[msgs[0].Text] = true
	}
	if !questions["A"] || !questions["B"] {
		t.Fatalf("each question must be archived exactly once, got %v", questions)
	}
}

func TestSubmit_FailureDoesNotDropConcurrentQuestion(t *testing.T) {
	store := &mockStore{}
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	client := completerFunc(func(ctx context.Context, transcript []domain.TranscriptEntry) (string, error) {
		started <- struct{}{}
		<-release
		if transcript[len(transcript)-1].Content == "fails" {
			return "", errors.New("upstream down")
		}
		return "ok", nil
	})
	c := NewController(client, store)

	var wg sync.WaitGroup
	for _, q := range []string{"fails", "works"} {
		wg.Add(1)
		go func(q string) {
			defer wg.Done()
			_, _ = c.Submit(context.Background(), Input{Text: q})
		}(q)
	}
	<-started
	<-started
	close(release)
	wg.Wait()

	calls := store.calls()
	if len(calls) != 1 {
		t.Fatalf("expected only the successful exchange archived, got %d", len(calls))
	}
	msgs := calls[0].session.Messages
	if len(msgs) != 2 || msgs[0].Text != "works" || msgs[1].Text != "ok" {
		t.Fatalf("unexpected archived exchange: %+v", msgs)
	}
}

type completerFunc func(ctx context.Context, transcript []domain.TranscriptEntry) (string, error)

func (f completerFunc) Complete(ctx context.Context, transcript []domain.TranscriptEntry) (string, error) {
	return f(ctx, transcript)
}

func TestResetAndOpen(t *testing.T) {
	client := &llm.MockClient{Response: "hello"}
	store := &mockStore{}
	c := NewController(client, store)

	if _, err := c.Submit(context.Background(), Input{Text: "hi"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	gen := c.Snapshot().Generation
	c.Reset()
	state := c.Snapshot()
	if len(state.Messages) != 0 || state.Generation == gen {
		t.Fatalf("reset must clear conversation and bump generation: %+v", state)
	}
	if len(store.calls()) != 1 {
		t.Fatalf("reset must not touch archives")
	}

	session := store.calls()[0].session
	c.Open(session)
	if msgs := c.Snapshot().Messages; len(msgs) != 2 || msgs[0].Text != "hi" {
		t.Fatalf("expected opened session messages, got %+v", msgs)
	}

	// la conversacion abierta no comparte memoria con la sesion
	session.Messages[0].Text = "mutated"
	if c.Snapshot().Messages[0].Text != "hi" {
		t.Fatalf("open must copy session messages")
	}
}

func TestSubscribeReceivesStates(t *testing.T) {
	client := &llm.MockClient{Response: "hello"}
	c := NewController(client, nil)

	var mu sync.Mutex
	var states []State
	cancel := c.Subscribe(func(s State) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, s)
	})

	if _, err := c.Submit(context.Background(), Input{Text: "hi"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	mu.Lock()
	got := append([]State(nil), states...)
	mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(got))
	}
	if !got[0].Busy || len(got[0].Messages) != 1 {
		t.Fatalf("first notification should show optimistic user message: %+v", got[0])
	}
	if got[1].Busy || len(got[1].Messages) != 2 {
		t.Fatalf("second notification should show reply: %+v", got[1])
	}

	cancel()
	c.Reset()
	mu.Lock()
	defer mu.Unlock()
	if len(states) != 2 {
		t.Fatalf("cancelled subscriber must not be notified")
	}
}

func TestTranscriptProjection(t *testing.T) {
	msgs := []domain.Message{
		domain.NewTextMessage(domain.RoleUser, "  hola  "),
		domain.NewTextMessage(domain.RoleAssistant, "respuesta"),
		domain.NewImageMessage(domain.RoleUser, "https://img/x.png"),
		domain.NewImageTextMessage(domain.RoleUser, "https://img/y.png", " y esto? "),
	}
	got := Transcript(msgs)
	want := []domain.TranscriptEntry{
		{Role: domain.RoleUser, Content: "hola"},
		{Role: domain.RoleAssistant, Content: "respuesta"},
		{Role: domain.RoleUser, Content: "![image](https://img/x.png)"},
		{Role: domain.RoleUser, Content: "![image](https://img/y.png)\n\ny esto?"},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("entry %d: expected %+v, got %+v", i, want[i], got[i])
		}
	}
}

func TestTranscriptKeepsAssistantTextVerbatim(t *testing.T) {
	reply := "    indented code\n"
	got := Transcript([]domain.Message{domain.NewTextMessage(domain.RoleAssistant, reply)})
	if got[0].Content != reply {
		t.Fatalf("assistant content must be sent unmodified, got %q", got[0].Content)
	}
}
