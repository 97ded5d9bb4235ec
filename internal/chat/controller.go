// Package chat contiene el controlador de la conversacion activa: recibe las
// entradas del usuario, llama al modelo y archiva cada intercambio terminado.
package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"featherine-chat/internal/config"
	"featherine-chat/internal/domain"
	"featherine-chat/internal/history"
	"featherine-chat/internal/llm"
	"featherine-chat/internal/metrics"
)

var ErrEmptySubmission = errors.New("empty submission")

// IdentitySource entrega la identidad vigente al momento de archivar.
type IdentitySource interface {
	Identity() *domain.Identity
}

// Input es lo que captura la capa de presentacion: texto y/o una imagen.
type Input struct {
	Text  string `json:"text"`
	Image string `json:"image"`
}

// Result describe como termino un Submit.
// Failed indica que se agrego la disculpa; Discarded que la conversacion cambio mientras tanto.
type Result struct {
	Message   domain.Message
	Reply     domain.Message
	Failed    bool
	Discarded bool
	Err       error
}

// State es una copia inmutable de lo que la presentacion necesita dibujar.
type State struct {
	Messages   []domain.Message `json:"messages"`
	Busy       bool             `json:"busy"`
	Generation uint64           `json:"generation"`
}

type Option func(*Controller)

func WithLogger(logger *zap.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithIdentity(source IdentitySource) Option {
	return func(c *Controller) { c.identity = source }
}

// WithApology reemplaza el mensaje que se muestra cuando falla la completion.
func WithApology(text string) Option {
	return func(c *Controller) {
		if strings.TrimSpace(text) != "" {
			c.apology = text
		}
	}
}

// WithArchiveErrorHook recibe cada fallo de archivado.
func WithArchiveErrorHook(fn func(domain.Session, error)) Option {
	return func(c *Controller) { c.onArchiveError = fn }
}

func withClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// Controller es el dueño de la conversacion activa y del buffer de la sesion pendiente.
// Todas las mutaciones ocurren bajo mu; la llamada al modelo corre sin el lock.
type Controller struct {
	completer      llm.Completer
	store          history.Store
	identity       IdentitySource
	logger         *zap.Logger
	apology        string
	onArchiveError func(domain.Session, error)
	now            func() time.Time

	mu         sync.Mutex
	messages   []domain.Message
	pending    map[uint64]domain.Message // mensajes de usuario esperando respuesta, por intercambio
	nextTurn   uint64
	generation uint64
	inFlight   int
	subs       map[int]func(State)
	nextSub    int
}

// NewController crea un controlador con la conversacion vacia. store puede ser nil
// (no se archiva nada).
func NewController(completer llm.Completer, store history.Store, opts ...Option) *Controller {
	c := &Controller{
		completer: completer,
		store:     store,
		logger:    zap.NewNop(),
		apology:   config.DefaultApologyMessage,
		now:       func() time.Time { return time.Now().UTC() },
		pending:   make(map[uint64]domain.Message),
		subs:      make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit agrega el mensaje del usuario, pide la respuesta y archiva el intercambio.
// Cada Submit archiva solo su propio par pregunta/respuesta, aunque haya otros en vuelo.
// Solo devuelve error para entradas vacias; los fallos remotos quedan en Result.
func (c *Controller) Submit(ctx context.Context, in Input) (Result, error) {
	msg, ok := c.buildMessage(in)
	if !ok {
		return Result{}, ErrEmptySubmission
	}

	c.mu.Lock()
	prior := make([]domain.Message, len(c.messages))
	copy(prior, c.messages)
	gen := c.generation
	c.messages = append(c.messages, msg)
	turn := c.nextTurn
	c.nextTurn++
	c.pending[turn] = msg
	c.inFlight++
	state := c.stateLocked()
	c.mu.Unlock()
	c.notify(state)

	transcript := append(Transcript(prior), transcriptEntry(msg))
	start := time.Now()
	reply, err := c.complete(ctx, transcript)
	metrics.CompletionDuration.Observe(time.Since(start).Seconds())

	res := Result{Message: msg}
	if err != nil {
		c.logger.Warn("completion failed", zap.Error(err), zap.Int("transcript_len", len(transcript)))
		res.Failed = true
		res.Err = err
		res.Reply = domain.NewTextMessage(domain.RoleAssistant, c.apology)
	} else {
		res.Reply = domain.NewTextMessage(domain.RoleAssistant, reply)
	}
	res.Reply.CreatedAt = c.now()

	c.mu.Lock()
	c.inFlight--
	if c.generation != gen {
		res.Discarded = true
		state = c.stateLocked()
		c.mu.Unlock()
		c.notify(state)
		metrics.Completions.WithLabelValues(metrics.OutcomeDiscarded).Inc()
		c.logger.Info("discarding reply for a conversation that is no longer active",
			zap.Uint64("generation", gen))
		return res, nil
	}

	c.messages = append(c.messages, res.Reply)
	var archive []domain.Message
	if question, ok := c.pending[turn]; ok && !res.Failed {
		archive = []domain.Message{question, res.Reply}
	}
	delete(c.pending, turn)
	state = c.stateLocked()
	c.mu.Unlock()
	c.notify(state)

	if res.Failed {
		metrics.Completions.WithLabelValues(metrics.OutcomeFailed).Inc()
		return res, nil
	}
	metrics.Completions.WithLabelValues(metrics.OutcomeOK).Inc()
	c.archive(context.WithoutCancel(ctx), archive)
	return res, nil
}

// Reset empieza un chat nuevo; las sesiones archivadas no se tocan.
func (c *Controller) Reset() {
	c.replace(nil)
}

// Open reemplaza la conversacion activa por una copia de una sesion archivada.
func (c *Controller) Open(session domain.Session) {
	c.replace(session.Messages)
}

func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// Subscribe entrega un State despues de cada mutacion. Devuelve la funcion para darse de baja.
func (c *Controller) Subscribe(fn func(State)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs, id)
	}
}

func (c *Controller) buildMessage(in Input) (domain.Message, bool) {
	text := strings.TrimSpace(in.Text)
	image := strings.TrimSpace(in.Image)
	var msg domain.Message
	switch {
	case text != "" && image != "":
		msg = domain.NewImageTextMessage(domain.RoleUser, image, text)
	case image != "":
		msg = domain.NewImageMessage(domain.RoleUser, image)
	case text != "":
		msg = domain.NewTextMessage(domain.RoleUser, text)
	default:
		return domain.Message{}, false
	}
	msg.CreatedAt = c.now()
	return msg, true
}

func (c *Controller) complete(ctx context.Context, transcript []domain.TranscriptEntry) (string, error) {
	if c.completer == nil {
		return "", &llm.ConfigurationError{Err: llm.ErrMissingAPIKey}
	}
	return c.completer.Complete(ctx, transcript)
}

func (c *Controller) archive(ctx context.Context, messages []domain.Message) {
	if c.store == nil || len(messages) == 0 {
		return
	}
	var identity *domain.Identity
	if c.identity != nil {
		identity = c.identity.Identity()
	}
	session := domain.NewSession(messages, domain.OwnerID(identity), c.now())
	if err := c.store.Append(ctx, session, identity); err != nil {
		metrics.ArchiveFailures.Inc()
		c.logger.Error("archive session failed",
			zap.String("session_id", session.ID),
			zap.Bool("authenticated", identity != nil),
			zap.Error(err))
		if c.onArchiveError != nil {
			c.onArchiveError(session, err)
		}
		return
	}
	metrics.SessionsArchived.Inc()
}

func (c *Controller) replace(messages []domain.Message) {
	c.mu.Lock()
	c.messages = append([]domain.Message(nil), messages...)
	c.pending = make(map[uint64]domain.Message)
	c.generation++
	state := c.stateLocked()
	c.mu.Unlock()
	c.notify(state)
}

func (c *Controller) stateLocked() State {
	messages := make([]domain.Message, len(c.messages))
	copy(messages, c.messages)
	return State{Messages: messages, Busy: c.inFlight > 0, Generation: c.generation}
}

func (c *Controller) notify(state State) {
	c.mu.Lock()
	subs := make([]func(State), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()
	for _, fn := range subs {
		fn(state)
	}
}
