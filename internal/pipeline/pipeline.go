// Package pipeline runs one chat turn end to end: buffer admission, backend
// selection and invocation, reply admission and persistence.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/legalqa/legalqa/internal/chaterr"
	"github.com/legalqa/legalqa/internal/metrics"
	"github.com/legalqa/legalqa/internal/provider"
	"github.com/legalqa/legalqa/internal/retrieval"
	"github.com/legalqa/legalqa/internal/session"
	"github.com/legalqa/legalqa/internal/store"
)

// State is a step of a chat turn.
type State string

const (
	Idle           State = "idle"
	BufferPrepared State = "buffer_prepared"
	Confidence     State = "confidence"
	Searching      State = "searching"
	Synthesizing   State = "synthesizing"
	Generating     State = "generating"
	ResultReady    State = "result_ready"
	Persisted      State = "persisted"
	Failed         State = "failed"
)

var stageStates = map[retrieval.Stage]State{
	retrieval.StageConfidence:   Confidence,
	retrieval.StageSearching:    Searching,
	retrieval.StageSynthesizing: Synthesizing,
	retrieval.StageGenerating:   Generating,
}

// DefaultInvokeTimeout bounds a backend invocation, retrieval included.
const DefaultInvokeTimeout = 3 * time.Minute

// Request is one chat turn.
type Request struct {
	Message           string `json:"message"`
	ConversationID    string `json:"conversationId,omitempty"`
	BackendID         string `json:"backendId"`
	IsNewConversation bool   `json:"isNewConversation,omitempty"`
	UseSearch         bool   `json:"useSearch,omitempty"`

	// APIKey authenticates remote backends for this turn only.
	APIKey string `json:"-"`

	// Progress observes state entries. May be nil.
	Progress func(State) `json:"-"`
}

// Response is the result of a successful turn.
type Response struct {
	Response       string `json:"response"`
	ConversationID string `json:"conversationId"`
	TokenCount     int    `json:"tokenCount"`
	MaxTokens      int    `json:"maxTokens"`
	UsedSearch     bool   `json:"usedSearch"`
}

// Storage is the part of store.Store a turn needs.
type Storage interface {
	CreateConversation(ctx context.Context, title, userID string) (string, error)
	GetConversation(ctx context.Context, conversationID string) (*store.Conversation, error)
	LoadTurns(ctx context.Context, conversationID string) ([]session.Message, error)
	AppendTurns(ctx context.Context, conversationID string, msgs []session.Message) error
	DeleteConversation(ctx context.Context, conversationID string) error
}

// Pipeline runs chat turns. It is safe for concurrent use.
type Pipeline struct {
	sessions  *session.Store
	registry  *provider.Registry
	storage   Storage
	augmenter *retrieval.Augmenter

	invokeTimeout time.Duration
	log           zerolog.Logger
	metrics       *metrics.Metrics
}

// Option configures a Pipeline.
type Option func(*Pipeline)

func WithLogger(l zerolog.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithAugmenter enables the useSearch hint for backends without built-in
// retrieval.
func WithAugmenter(a *retrieval.Augmenter) Option {
	return func(p *Pipeline) { p.augmenter = a }
}

// WithInvokeTimeout bounds each backend invocation. Zero disables the bound.
func WithInvokeTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.invokeTimeout = d }
}

// New creates a Pipeline. storage may be nil, in which case nothing is
// persisted and conversation IDs are generated locally.
func New(sessions *session.Store, registry *provider.Registry, storage Storage, opts ...Option) *Pipeline {
	p := &Pipeline{
		sessions:      sessions,
		registry:      registry,
		storage:       storage,
		invokeTimeout: DefaultInvokeTimeout,
		log:           zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// turn carries the state of one Run.
type turn struct {
	p       *Pipeline
	userID  string
	backend string
	state   State
	notify  func(State)
	log     zerolog.Logger
}

func (t *turn) enter(s State) {
	t.log.Debug().Str("from", string(t.state)).Str("to", string(s)).Msg("transition")
	t.state = s
	t.p.metrics.ObserveTransition(string(s))
	if t.notify != nil {
		t.notify(s)
	}
}

func (t *turn) fail(err error) error {
	kind := chaterr.KindOf(err)
	if kind == "" {
		kind = chaterr.BackendInvocationFailed
	}
	t.log.Warn().Err(err).Str("kind", string(kind)).Str("state", string(t.state)).Msg("turn failed")
	t.p.metrics.ObserveError(string(kind))
	t.p.metrics.ObserveTurn(t.backend, "error", 0)
	t.enter(Failed)
	return err
}

// snapshot is the buffer state a backend call works from.
type snapshot struct {
	turns   []session.Turn
	epoch   uint64
	message string
}

// Run executes one turn for userID. Every error is a *chaterr.Error. The
// session lock is held only around buffer and storage work, never across the
// backend call.
func (p *Pipeline) Run(ctx context.Context, userID string, req *Request) (*Response, error) {
	t := &turn{
		p:       p,
		userID:  userID,
		backend: req.BackendID,
		state:   Idle,
		notify:  req.Progress,
		log:     p.log.With().Str("user", userID).Str("backend", req.BackendID).Logger(),
	}

	if strings.TrimSpace(userID) == "" {
		return nil, t.fail(chaterr.New(chaterr.InvalidRequest, "user identity is required"))
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, t.fail(chaterr.New(chaterr.InvalidRequest, "message is required"))
	}
	adapter, err := p.registry.Get(req.BackendID)
	if err != nil {
		return nil, t.fail(err)
	}
	desc := adapter.Descriptor()
	t.backend = string(desc.ID)

	// An unavailable backend must not consume budget, so check before
	// admitting anything.
	if err := adapter.Ready(ctx, req.APIKey); err != nil {
		return nil, t.fail(err)
	}

	sess := p.sessions.GetOrCreate(userID)
	p.metrics.SetActiveSessions(p.sessions.Len())

	snap, err := p.prepare(ctx, sess, req)
	if err != nil {
		return nil, t.fail(err)
	}
	t.enter(BufferPrepared)

	start := time.Now()
	res, err := p.generate(ctx, t, adapter, req, snap)
	if err != nil {
		return nil, t.fail(err)
	}
	t.enter(ResultReady)

	resp, err := p.commit(ctx, sess, snap, res)
	if err != nil {
		return nil, t.fail(err)
	}
	t.enter(Persisted)

	p.metrics.ObserveTurn(t.backend, "ok", time.Since(start))
	p.metrics.ObserveBuffer(resp.TokenCount)
	t.log.Info().
		Str("conversation", resp.ConversationID).
		Int("tokens", resp.TokenCount).
		Bool("used_search", resp.UsedSearch).
		Dur("elapsed", time.Since(start)).
		Msg("turn complete")
	t.enter(Idle)
	return resp, nil
}

// prepare brings the buffer to the conversation the request names and admits
// the user turn.
func (p *Pipeline) prepare(ctx context.Context, sess *session.Session, req *Request) (*snapshot, error) {
	sess.Lock()
	defer sess.Unlock()

	buf := sess.Buffer()
	switch {
	case req.IsNewConversation:
		sess.Reset()
	case req.ConversationID != "" && (req.ConversationID != sess.ActiveChatID() || buf.Len() == 0):
		if err := p.load(ctx, sess, req.ConversationID); err != nil {
			return nil, err
		}
	}

	if !p.isResubmission(sess, req.Message) {
		if err := buf.Add(session.RoleUser, req.Message); err != nil {
			return nil, err
		}
	}
	return &snapshot{turns: buf.Turns(), epoch: sess.Epoch(), message: req.Message}, nil
}

func (p *Pipeline) load(ctx context.Context, sess *session.Session, chatID string) error {
	if p.storage == nil {
		sess.Reset()
		sess.SetActiveChatID(chatID)
		return nil
	}
	// Another user's conversation looks missing.
	conv, err := p.storage.GetConversation(ctx, chatID)
	if err == nil && conv.UserID != sess.UserID {
		err = store.ErrNotFound
	}
	var prior []session.Message
	if err == nil {
		prior, err = p.storage.LoadTurns(ctx, chatID)
	}
	if errors.Is(err, store.ErrNotFound) {
		sess.Reset()
		return chaterr.Wrap(chaterr.InvalidRequest, err, "conversation %s does not exist", chatID)
	}
	if err != nil {
		sess.Reset()
		return chaterr.Wrap(chaterr.StorageFailed, err, "load conversation %s", chatID)
	}
	return sess.Load(chatID, prior)
}

// isResubmission reports whether message repeats the last user turn, which
// is still waiting for a reply after a failed attempt.
func (p *Pipeline) isResubmission(sess *session.Session, message string) bool {
	last, ok := sess.Buffer().Last()
	if !ok || last.Role != session.RoleUser || last.Content != message {
		return false
	}
	return sess.Persisted() < sess.Buffer().Len()
}

func (p *Pipeline) generate(ctx context.Context, t *turn, adapter provider.Adapter, req *Request, snap *snapshot) (*provider.Result, error) {
	desc := adapter.Descriptor()
	if p.invokeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.invokeTimeout)
		defer cancel()
	}

	turns := snap.turns
	hinted := false
	if req.UseSearch && !desc.SupportsRetrieval && p.augmenter != nil {
		t.enter(Searching)
		snippets := p.augmenter.Gather(ctx, snap.message)
		turns = withGrounding(turns, snap.message, snippets)
		hinted = true
	}

	preq := &provider.Request{Turns: turns, APIKey: req.APIKey}
	if desc.SupportsRetrieval {
		preq.OnStage = func(s retrieval.Stage) {
			if st, ok := stageStates[s]; ok {
				t.enter(st)
			}
		}
	} else {
		t.enter(Generating)
	}
	preq.Prompt = adapter.FormatPrompt(turns)
	t.log.Debug().Int("prompt_chars", len(preq.Prompt)).Int("turns", len(turns)).Msg("invoking backend")

	res, err := adapter.Invoke(ctx, preq)
	if err != nil {
		return nil, err
	}
	res.Raw = strings.TrimSpace(adapter.Clean(res.Raw))
	if res.Raw == "" {
		return nil, chaterr.New(chaterr.BackendResponseInvalid, "backend returned an empty reply").WithBackend(string(desc.ID))
	}
	res.UsedSearch = res.UsedSearch || hinted
	return res, nil
}

// withGrounding replaces the last user turn with a prompt carrying the
// search results.
func withGrounding(turns []session.Turn, query string, snippets []retrieval.Snippet) []session.Turn {
	out := make([]session.Turn, len(turns))
	copy(out, turns)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i].Role == session.RoleUser {
			out[i].Content = retrieval.GroundedPrompt(query, snippets)
			break
		}
	}
	return out
}

// commit admits the reply and persists the turns not yet stored.
func (p *Pipeline) commit(ctx context.Context, sess *session.Session, snap *snapshot, res *provider.Result) (*Response, error) {
	sess.Lock()
	defer sess.Unlock()

	if sess.Epoch() != snap.epoch {
		return nil, chaterr.New(chaterr.SessionReset, "conversation was reset while the reply was generated")
	}

	buf := sess.Buffer()
	before := buf.Len()
	if err := buf.Add(session.RoleAssistant, res.Raw); err != nil {
		if e, ok := chaterr.As(err); ok && e.Kind == chaterr.BudgetExceeded {
			return nil, chaterr.Budget(chaterr.ResponseExceedsBudget, e.Current, e.Cost, e.Max)
		}
		return nil, err
	}

	if err := p.persist(ctx, sess, snap.message); err != nil {
		buf.RollbackTo(before)
		return nil, err
	}

	return &Response{
		Response:       res.Raw,
		ConversationID: sess.ActiveChatID(),
		TokenCount:     buf.TokenCount(),
		MaxTokens:      buf.MaxTokens(),
		UsedSearch:     res.UsedSearch,
	}, nil
}

func (p *Pipeline) persist(ctx context.Context, sess *session.Session, message string) error {
	if p.storage == nil {
		if sess.ActiveChatID() == "" {
			sess.SetActiveChatID(uuid.NewString())
		}
		sess.MarkPersisted(sess.Buffer().Len())
		return nil
	}

	created := false
	chatID := sess.ActiveChatID()
	if chatID == "" {
		id, err := p.storage.CreateConversation(ctx, store.TitleFrom(message), sess.UserID)
		if err != nil {
			return chaterr.Wrap(chaterr.PersistenceFailed, err, "create conversation")
		}
		chatID, created = id, true
	}

	if err := p.storage.AppendTurns(ctx, chatID, session.Messages(sess.Pending())); err != nil {
		if created {
			if derr := p.storage.DeleteConversation(ctx, chatID); derr != nil {
				p.log.Warn().Err(derr).Str("conversation", chatID).Msg("remove empty conversation")
			}
		}
		return chaterr.Wrap(chaterr.PersistenceFailed, err, "save conversation %s", chatID)
	}

	sess.SetActiveChatID(chatID)
	sess.MarkPersisted(sess.Buffer().Len())
	return nil
}

// Clear discards the user's session. Stored conversations are untouched.
func (p *Pipeline) Clear(userID string) {
	p.sessions.Clear(userID)
	p.metrics.SetActiveSessions(p.sessions.Len())
	p.log.Info().Str("user", userID).Msg("session cleared")
}

// Stats describes a user's live buffer.
type Stats struct {
	ConversationID string `json:"conversationId"`
	Turns          int    `json:"turns"`
	TokenCount     int    `json:"tokenCount"`
	MaxTokens      int    `json:"maxTokens"`
}

// Stats reports the user's buffer usage. A user without a session has an
// empty buffer.
func (p *Pipeline) Stats(userID string) Stats {
	sess, ok := p.sessions.Get(userID)
	if !ok {
		return Stats{MaxTokens: p.sessions.MaxTokens()}
	}
	sess.Lock()
	defer sess.Unlock()
	buf := sess.Buffer()
	return Stats{
		ConversationID: sess.ActiveChatID(),
		Turns:          buf.Len(),
		TokenCount:     buf.TokenCount(),
		MaxTokens:      buf.MaxTokens(),
	}
}

// Registry exposes the backends the pipeline dispatches to.
func (p *Pipeline) Registry() *provider.Registry { return p.registry }
