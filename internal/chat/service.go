package chat

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/chatstore"
	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/domain"
	"github.com/fyrsmithlabs/ragd/internal/embeddings"
	"github.com/fyrsmithlabs/ragd/internal/guardian"
	"github.com/fyrsmithlabs/ragd/internal/llm"
	"github.com/fyrsmithlabs/ragd/internal/prompt"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
	"github.com/fyrsmithlabs/ragd/internal/websearch"
)

const instrumentationName = "github.com/fyrsmithlabs/ragd/internal/chat"

// Config carries the turn-orchestration knobs, assembled from the chat,
// rag, and primary-LLM sections of the application config.
type Config struct {
	// HistoryMessages caps the transcript sent on cache-eligible turns.
	HistoryMessages int
	// MaxTokens and Temperature are passed through to the completion call.
	MaxTokens   int
	Temperature float64
	// TurnTimeout bounds one whole turn including retrieval and the
	// completion round trips.
	TurnTimeout time.Duration
	// TopK and CtxChars shape retrieval: chunks fetched and the character
	// budget of the assembled excerpt block.
	TopK     int
	CtxChars int
	// PrimaryBudget is the estimated-token ceiling above which a turn is
	// routed straight to the fallback model.
	PrimaryBudget int
}

// ConfigFrom lifts the relevant sections out of the application config,
// filling defaults for anything unset.
func ConfigFrom(cfg *config.Config) Config {
	c := Config{
		HistoryMessages: cfg.Chat.HistoryMessages,
		MaxTokens:       cfg.Chat.MaxTokens,
		Temperature:     cfg.Chat.Temperature,
		TurnTimeout:     cfg.Chat.TurnTimeout.Duration(),
		TopK:            cfg.RAG.TopK,
		CtxChars:        cfg.RAG.CtxChars,
		PrimaryBudget:   cfg.Primary.TokenBudget,
	}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.HistoryMessages <= 0 {
		c.HistoryMessages = 5
	}
	if c.TurnTimeout <= 0 {
		c.TurnTimeout = 60 * time.Second
	}
	if c.TopK <= 0 {
		c.TopK = 10
	}
	if c.CtxChars <= 0 {
		c.CtxChars = 12000
	}
	if c.PrimaryBudget <= 0 {
		c.PrimaryBudget = 6000
	}
}

// Deps bundles the collaborators a Service orchestrates. Store, Vectors,
// Embedder, Primary, and Fallback are required; Web and Recorder may be
// nil, which disables web augmentation and token accounting respectively.
type Deps struct {
	Store    chatstore.Store
	Vectors  vectorstore.Store
	Embedder embeddings.Provider
	Guardian *guardian.Service
	Web      *websearch.Tool
	Primary  llm.Client
	Fallback llm.Client
	Prompts  *prompt.Cache
	Recorder *prompt.Recorder
	Logger   *zap.Logger
}

// TurnRequest is one inbound user message. SessionID is the internal
// session id; empty requests a fresh session. FileID, when set, asks for
// retrieval grounded on that uploaded document.
type TurnRequest struct {
	SessionID string
	Owner     string
	UserText  string
	RoleName  string
	FileID    *int64
}

// TurnResult is the outcome of a completed turn.
type TurnResult struct {
	SessionID     string
	SessionHandle int64
	Reply         string
	Model         string
	WasCached     bool
	UsedFallback  bool
	UsedRAG       bool
	UsedWeb       bool
	// PersistFailed reports that the assistant reply could not be written
	// back to the store. The reply is still valid; the transcript is not.
	PersistFailed bool
}

// Service runs the chat turn loop: gate, persist, retrieve, assemble,
// route, complete, persist, account.
type Service struct {
	cfg      Config
	store    chatstore.Store
	vectors  vectorstore.Store
	embedder embeddings.Provider
	guardian *guardian.Service
	web      *websearch.Tool
	primary  llm.Client
	fallback llm.Client
	prompts  *prompt.Cache
	recorder *prompt.Recorder
	logger   *zap.Logger
	tracer   trace.Tracer

	turns      metric.Int64Counter
	switches   metric.Int64Counter
	turnTimeMs metric.Float64Histogram
}

// New wires a Service. A nil Deps.Logger gets a no-op logger.
func New(cfg Config, deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()

	s := &Service{
		cfg:      cfg,
		store:    deps.Store,
		vectors:  deps.Vectors,
		embedder: deps.Embedder,
		guardian: deps.Guardian,
		web:      deps.Web,
		primary:  deps.Primary,
		fallback: deps.Fallback,
		prompts:  deps.Prompts,
		recorder: deps.Recorder,
		logger:   logger,
		tracer:   otel.Tracer(instrumentationName),
	}
	s.initMetrics()
	return s
}

func (s *Service) initMetrics() {
	meter := otel.Meter(instrumentationName)
	var err error

	s.turns, err = meter.Int64Counter(
		"ragd.chat.turns",
		metric.WithDescription("Chat turns by outcome"),
	)
	if err != nil {
		s.logger.Warn("failed to create turn counter", zap.Error(err))
	}

	s.switches, err = meter.Int64Counter(
		"ragd.chat.fallback_switches",
		metric.WithDescription("Mid-turn switches from the primary to the fallback model"),
	)
	if err != nil {
		s.logger.Warn("failed to create fallback counter", zap.Error(err))
	}

	s.turnTimeMs, err = meter.Float64Histogram(
		"ragd.chat.turn_duration_ms",
		metric.WithDescription("Wall time of one chat turn in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		s.logger.Warn("failed to create turn histogram", zap.Error(err))
	}
}

// HandleMessage runs one turn. Nothing is persisted and no model is
// consulted until the guardian admits the message; after admission the
// user message is durable even if the rest of the turn fails.
func (s *Service) HandleMessage(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.TurnTimeout)
	defer cancel()

	ctx, span := s.tracer.Start(ctx, "chat.turn",
		trace.WithAttributes(
			attribute.Bool("chat.new_session", req.SessionID == ""),
			attribute.Bool("chat.rag_requested", req.FileID != nil),
		))
	defer span.End()

	start := time.Now()
	result, err := s.handle(ctx, req)
	elapsed := float64(time.Since(start)) / float64(time.Millisecond)

	outcome := "ok"
	if err != nil {
		outcome = string(domain.KindOf(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	s.countTurn(ctx, outcome)
	if s.turnTimeMs != nil {
		s.turnTimeMs.Record(ctx, elapsed, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
	return result, err
}

func (s *Service) handle(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	if strings.TrimSpace(req.UserText) == "" {
		return nil, domain.New(domain.KindValidation, "message is empty")
	}
	role, ok := prompt.LookupRole(req.RoleName)
	if !ok {
		return nil, domain.Newf(domain.KindValidation, "unknown agent role %q (known: %s)",
			req.RoleName, strings.Join(prompt.RoleNames(), ", "))
	}

	verdict := s.guardian.Evaluate(ctx, req.UserText)
	if !verdict.Allowed {
		s.logger.Info("message blocked",
			zap.String("reason", verdict.Reason),
			zap.String("threat_level", string(verdict.Level)))
		return nil, blockedError(verdict)
	}

	sess, err := s.resolveSession(ctx, req)
	if err != nil {
		return nil, err
	}

	userMsg, err := s.store.AddMessage(ctx, sess.ID, domain.RoleUser, req.UserText)
	if err != nil {
		return nil, err
	}

	ragBlock, usedRAG, err := s.retrieve(ctx, req)
	if err != nil {
		return nil, err
	}
	webBlock, usedWeb := s.augmentWeb(ctx, req.UserText)
	dynamic := usedRAG || usedWeb

	// Dynamic context makes the system prompt unique per turn, so the
	// prompt cache is bypassed and the reference prompt is useless.
	var system string
	var wasCached bool
	if dynamic {
		system = assembleSystem(role.FullPrompt, req.FileID, ragBlock, webBlock)
	} else {
		system, wasCached = s.prompts.Resolve(sess.ID, role)
	}

	historyLimit := 0
	if !dynamic {
		historyLimit = s.cfg.HistoryMessages
	}
	history, err := s.store.ListMessages(ctx, sess.ID, historyLimit)
	if err != nil {
		return nil, err
	}
	messages := toLLMMessages(history)

	estimated := llm.EstimateTokens(system)
	for _, m := range messages {
		estimated += llm.EstimateTokens(m.Content)
	}
	useFallback := dynamic || estimated > s.cfg.PrimaryBudget

	completion, onFallback, err := s.complete(ctx, useFallback, llm.CompletionRequest{
		SystemPrompt: system,
		Messages:     messages,
		MaxTokens:    s.cfg.MaxTokens,
		Temperature:  s.cfg.Temperature,
	})
	if err != nil {
		return nil, err
	}

	persistFailed := false
	if _, err := s.store.AddMessage(ctx, sess.ID, domain.RoleAssistant, completion.Text); err != nil {
		persistFailed = true
		s.logger.Error("assistant message write failed, reply returned without transcript",
			zap.String("session_id", sess.ID),
			zap.Error(err))
	}

	s.recorder.Record(ctx, domain.TokenMetrics{
		SessionID:     sess.ID,
		CallIndex:     userMsg.Index,
		SystemTokens:  llm.EstimateTokens(system),
		HistoryTokens: historyTokens(messages),
		UserTokens:    llm.EstimateTokens(req.UserText),
		WasCached:     wasCached,
		Timestamp:     time.Now().UTC(),
	})

	s.logger.Debug("turn complete",
		zap.String("session_id", sess.ID),
		zap.String("model", completion.Model),
		zap.Bool("rag", usedRAG),
		zap.Bool("web", usedWeb),
		zap.Bool("fallback", onFallback),
		zap.Bool("cached", wasCached),
		zap.Int("estimated_tokens", estimated))

	return &TurnResult{
		SessionID:     sess.ID,
		SessionHandle: sess.Handle,
		Reply:         completion.Text,
		Model:         completion.Model,
		WasCached:     wasCached,
		UsedFallback:  onFallback,
		UsedRAG:       usedRAG,
		UsedWeb:       usedWeb,
		PersistFailed: persistFailed,
	}, nil
}

// resolveSession creates a session on the empty sentinel, otherwise loads
// and ownership-checks the existing one.
func (s *Service) resolveSession(ctx context.Context, req TurnRequest) (*domain.Session, error) {
	if req.SessionID == "" {
		return s.store.CreateSession(ctx, req.Owner, sessionTitle(req.UserText))
	}
	sess, err := s.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if sess.Owner != "" && req.Owner != "" && sess.Owner != req.Owner {
		return nil, domain.New(domain.KindForbidden, "session belongs to another user")
	}
	return sess, nil
}

// retrieve runs the RAG arm. A missing or not-yet-indexed file degrades
// to plain chat; embedding or vector-store failures surface, since the
// caller explicitly asked for grounded answers.
func (s *Service) retrieve(ctx context.Context, req TurnRequest) (string, bool, error) {
	if req.FileID == nil {
		return "", false, nil
	}
	fid := *req.FileID

	file, err := s.store.GetFile(ctx, fid)
	if err != nil {
		if domain.IsKind(err, domain.KindNotFound) {
			s.logger.Warn("rag file not found, answering without context", zap.Int64("file_id", fid))
			return "", false, nil
		}
		return "", false, err
	}
	if file.Status != domain.FileIndexed {
		s.logger.Warn("rag file not indexed yet, answering without context",
			zap.Int64("file_id", fid),
			zap.String("status", string(file.Status)))
		return "", false, nil
	}

	query, err := s.embedder.EmbedQuery(ctx, req.UserText)
	if err != nil {
		return "", false, err
	}
	hits, err := s.vectors.Search(ctx, &fid, query, s.cfg.TopK)
	if err != nil {
		return "", false, err
	}
	if len(hits) == 0 {
		s.logger.Warn("rag search returned nothing, answering without context", zap.Int64("file_id", fid))
		return "", false, nil
	}
	return buildExcerptBlock(hits, s.cfg.CtxChars), true, nil
}

// augmentWeb consults the allow-listed web tool. It can only add
// context, never fail the turn.
func (s *Service) augmentWeb(ctx context.Context, userText string) (string, bool) {
	if s.web == nil || !s.web.Enabled() || !websearch.ShouldSearch(userText) {
		return "", false
	}
	results := s.web.Search(ctx, userText, websearch.DefaultMaxResults)
	if len(results) == 0 {
		return "", false
	}
	return buildWebBlock(results), true
}

// complete routes the call. Direct-to-fallback turns get no second
// chance; primary turns retry once on the fallback when the failure is a
// retriable availability error.
func (s *Service) complete(ctx context.Context, useFallback bool, req llm.CompletionRequest) (*llm.CompletionResult, bool, error) {
	if useFallback {
		result, err := s.fallback.Complete(ctx, req)
		if err != nil {
			return nil, true, domain.Wrap(domain.KindLLMExhausted, "fallback completion failed", err)
		}
		return result, true, nil
	}

	result, err := s.primary.Complete(ctx, req)
	if err == nil {
		return result, false, nil
	}
	if !domain.IsKind(err, domain.KindLLMUnavailable) || !domain.IsRetriable(err) {
		return nil, false, err
	}

	s.logger.Warn("primary completion failed, retrying on fallback",
		zap.String("primary_model", s.primary.Model()),
		zap.Error(err))
	if s.switches != nil {
		s.switches.Add(ctx, 1)
	}

	result, ferr := s.fallback.Complete(ctx, req)
	if ferr != nil {
		return nil, true, domain.Wrap(domain.KindLLMExhausted, "primary and fallback both failed", ferr)
	}
	return result, true, nil
}

// DeleteSession removes a session with its transcript and drops the
// session's prompt-cache marks. Deleting an absent session reports
// deleted=false without error.
func (s *Service) DeleteSession(ctx context.Context, sessionID, owner string) (bool, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		if domain.IsKind(err, domain.KindNotFound) {
			return false, nil
		}
		return false, err
	}
	if sess.Owner != "" && owner != "" && sess.Owner != owner {
		return false, domain.New(domain.KindForbidden, "session belongs to another user")
	}

	deleted, err := s.store.DeleteSession(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if deleted {
		s.prompts.Invalidate(sessionID)
	}
	return deleted, nil
}

// SearchChunks embeds the query and returns the nearest stored chunks,
// optionally scoped to one file.
func (s *Service) SearchChunks(ctx context.Context, query string, fileID *int64, topK int) ([]vectorstore.Scored, error) {
	if strings.TrimSpace(query) == "" {
		return nil, domain.New(domain.KindValidation, "query is empty")
	}
	if topK <= 0 {
		topK = s.cfg.TopK
	}
	vec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	return s.vectors.Search(ctx, fileID, vec, topK)
}

func (s *Service) countTurn(ctx context.Context, outcome string) {
	if s.turns == nil {
		return
	}
	s.turns.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func blockedError(v domain.GuardianVerdict) error {
	e := domain.New(domain.KindMessageBlocked, "message blocked by guardian").
		WithMeta("reason", v.Reason).
		WithMeta("threat_level", string(v.Level))
	if len(v.Categories) > 0 {
		e = e.WithMeta("categories", v.Categories)
	}
	return e
}

// historyTokens estimates the transcript portion of the call, excluding
// the current user message (accounted separately).
func historyTokens(messages []llm.Message) int {
	total := 0
	for i, m := range messages {
		if i == len(messages)-1 {
			break
		}
		total += llm.EstimateTokens(m.Content)
	}
	return total
}
