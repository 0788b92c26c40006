// Package chat is the conversational entry point. It runs a message through
// the pending-confirmation check, the model (when one is configured) and
// the deterministic classifier, executes the resulting action and keeps the
// conversation log.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/basket/taskchat/internal/audit"
	"github.com/basket/taskchat/internal/bus"
	"github.com/basket/taskchat/internal/confirm"
	"github.com/basket/taskchat/internal/engine"
	"github.com/basket/taskchat/internal/executor"
	"github.com/basket/taskchat/internal/intent"
	"github.com/basket/taskchat/internal/otel"
	"github.com/basket/taskchat/internal/persistence"
	"github.com/basket/taskchat/internal/safety"
	"github.com/basket/taskchat/internal/shared"
)

// ErrInvalidMessage wraps sanitizer rejections (empty or too long).
var ErrInvalidMessage = errors.New("chat: invalid message")

const (
	DefaultLLMTimeout   = 10 * time.Second
	DefaultHistoryLimit = 50

	slowPrefix = "I'm running a bit slow right now. "
)

// Store is what the facade needs from persistence.
type Store interface {
	executor.TaskStore
	CurrentConversation(ctx context.Context, ownerID string) (persistence.Conversation, error)
	AddMessage(ctx context.Context, ownerID, conversationID, role, content string, toolCalls json.RawMessage) (persistence.Message, error)
	ListMessages(ctx context.Context, ownerID, conversationID string, limit int) ([]persistence.Message, error)
	ClearConversation(ctx context.Context, ownerID string) (int64, error)
}

// Reply is the answer to one chat message.
type Reply struct {
	Response       string              `json:"response"`
	Intent         string              `json:"intent"`
	Data           map[string]any      `json:"data,omitempty"`
	ActionsTaken   []executor.ToolCall `json:"actions_taken"`
	ConversationID string              `json:"conversation_id"`
	DemoMode       bool                `json:"demo_mode"`
}

// Config tunes the facade. Zero values take the defaults.
type Config struct {
	LLMTimeout       time.Duration
	HistoryLimit     int
	MaxMessageLength int
	// Model names the active model for Status.
	Model string
}

// Service is the chat facade. A nil brain runs in demo mode.
type Service struct {
	store     Store
	exec      *executor.Executor
	confirm   *confirm.Machine
	brain     engine.Brain
	sanitizer *safety.Sanitizer
	bus       *bus.Bus
	metrics   *otel.Metrics
	logger    *slog.Logger
	cfg       Config
}

func NewService(store Store, machine *confirm.Machine, brain engine.Brain, eventBus *bus.Bus, metrics *otel.Metrics, logger *slog.Logger, cfg Config) *Service {
	if cfg.LLMTimeout <= 0 {
		cfg.LLMTimeout = DefaultLLMTimeout
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		exec:      executor.New(store),
		confirm:   machine,
		brain:     brain,
		sanitizer: safety.NewSanitizer(cfg.MaxMessageLength),
		bus:       eventBus,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
	}
}

// DemoMode reports whether no model is configured.
func (s *Service) DemoMode() bool { return s.brain == nil }

// Status describes model availability for the status endpoint.
type Status struct {
	Available bool   `json:"available"`
	Model     string `json:"model,omitempty"`
	Message   string `json:"message"`
}

func (s *Service) Status() Status {
	if s.DemoMode() {
		return Status{Message: "AI assistant is not configured; running in demo mode"}
	}
	return Status{Available: true, Model: s.cfg.Model, Message: "AI assistant is ready"}
}

// Handle answers one message from owner and records both sides of the
// exchange in the owner's current conversation.
func (s *Service) Handle(ctx context.Context, owner, message string) (Reply, error) {
	ctx, span := otel.StartSpan(ctx, otel.GlobalTracer(), "chat.handle", otel.AttrUserID.String(owner))
	defer span.End()

	clean, err := s.sanitizer.Clean(message)
	if err != nil {
		return Reply{}, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}

	conv, err := s.store.CurrentConversation(ctx, owner)
	if err != nil {
		return Reply{}, fmt.Errorf("load conversation: %w", err)
	}
	if _, err := s.store.AddMessage(ctx, owner, conv.ID, persistence.RoleUser, clean, nil); err != nil {
		return Reply{}, fmt.Errorf("save user message: %w", err)
	}

	reply, err := s.respond(ctx, owner, clean)
	if err != nil {
		if errors.Is(err, executor.ErrAccessDenied) {
			audit.Deny(ctx, "chat.task_access", "cross_owner_task", owner)
		}
		span.RecordError(err)
		return Reply{}, err
	}
	reply.ConversationID = conv.ID
	reply.DemoMode = reply.DemoMode || s.DemoMode()
	if reply.ActionsTaken == nil {
		reply.ActionsTaken = []executor.ToolCall{}
	}

	var toolCalls json.RawMessage
	if len(reply.ActionsTaken) > 0 {
		if b, err := json.Marshal(reply.ActionsTaken); err == nil {
			toolCalls = b
		}
	}
	if _, err := s.store.AddMessage(ctx, owner, conv.ID, persistence.RoleAssistant, reply.Response, toolCalls); err != nil {
		s.logger.Warn("save assistant message failed", "trace_id", shared.TraceID(ctx), "error", err)
	}

	span.SetAttributes(otel.AttrIntent.String(reply.Intent), otel.AttrDemoMode.Bool(reply.DemoMode))
	s.metrics.RecordChatMessage(ctx, reply.Intent, reply.DemoMode)
	s.bus.Publish(bus.TopicChatReplied, bus.ChatEvent{
		OwnerID:        owner,
		ConversationID: conv.ID,
		Intent:         reply.Intent,
		DemoMode:       reply.DemoMode,
	})
	return reply, nil
}

func (s *Service) respond(ctx context.Context, owner, msg string) (Reply, error) {
	pending, err := s.confirm.Pending(ctx, owner)
	if err != nil {
		return Reply{}, fmt.Errorf("load pending confirmation: %w", err)
	}
	if pending != nil {
		// Replies like "y" are meaningless on their own, so confirmation
		// runs before the meaningless check.
		outcome, p, err := s.confirm.Resolve(ctx, owner, msg, intent.IsAffirmative, intent.IsNegative)
		if err != nil {
			return Reply{}, fmt.Errorf("resolve confirmation: %w", err)
		}
		switch outcome {
		case confirm.Confirmed:
			res, err := s.exec.ExecuteByID(ctx, owner, intent.Delete, p.TaskID, intent.Params{})
			return fromResult(res), err
		case confirm.Cancelled:
			return Reply{Response: "Okay, I've cancelled the deletion.", Intent: "cancelled"}, nil
		}
	}

	reply, err := s.answer(ctx, owner, msg, pending)
	if err != nil || pending == nil || reply.awaitsConfirmation() {
		return reply, err
	}
	// The user moved on without answering; a later "yes" must not reach
	// the old delete.
	if err := s.confirm.Clear(ctx, owner); err != nil {
		return Reply{}, fmt.Errorf("clear confirmation: %w", err)
	}
	return reply, nil
}

// answer handles a message that is not a reply to a pending confirmation.
func (s *Service) answer(ctx context.Context, owner, msg string, pending *confirm.Pending) (Reply, error) {
	if intent.IsMeaningless(msg) {
		return Reply{Response: notUnderstood, Intent: string(intent.Clarify)}, nil
	}

	det := intent.Classify(msg)
	if s.brain == nil {
		return s.deterministic(ctx, owner, det, false)
	}

	if check := s.sanitizer.Check(msg); check.Verdict == safety.Block {
		s.logger.Warn("chat message kept from model", "trace_id", shared.TraceID(ctx), "reason", check.Reason)
		audit.Deny(ctx, "chat.model", check.Reason, owner)
		s.metrics.RecordFallback(ctx, "blocked")
		return s.deterministic(ctx, owner, det, false)
	}

	reply, err := s.viaModel(ctx, owner, msg, pending)
	if err == nil {
		return reply, nil
	}
	if errors.Is(err, executor.ErrAccessDenied) {
		return Reply{}, err
	}
	class := engine.ClassifyError(err)
	s.logger.Warn("model path failed, using deterministic reply",
		"trace_id", shared.TraceID(ctx), "error_class", string(class), "error", err)
	s.metrics.RecordFallback(ctx, string(class))
	reply, err = s.deterministic(ctx, owner, det, class.Transient())
	reply.DemoMode = true
	return reply, err
}

// viaModel asks the model for an envelope and routes it. Any error means
// the caller should fall back to the deterministic path, except
// executor.ErrAccessDenied which is final.
func (s *Service) viaModel(ctx context.Context, owner, msg string, pending *confirm.Pending) (Reply, error) {
	tasks, err := s.store.ListTasks(ctx, owner, nil)
	if err != nil {
		return Reply{}, fmt.Errorf("list tasks: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.LLMTimeout)
	defer cancel()
	start := time.Now()
	text, err := s.brain.Complete(callCtx, engine.SystemPrompt, engine.BuildUserPrompt(msg, tasks, pending))
	s.metrics.RecordLLMCall(ctx, providerName(s.brain), time.Since(start), err)
	if err != nil {
		return Reply{}, err
	}

	env, err := engine.DecodeEnvelope(text)
	if err != nil {
		return Reply{}, err
	}
	return s.route(ctx, owner, env, pending)
}

func (s *Service) route(ctx context.Context, owner string, env engine.Envelope, pending *confirm.Pending) (Reply, error) {
	message := modelText(ctx, s.logger, env.Message)

	if !env.Executable() {
		if env.Data.PendingAction == confirm.ActionDelete && env.Data.TaskID != "" {
			return s.askDelete(ctx, owner, env.Data.TaskID)
		}
		return Reply{Response: message, Intent: strings.ToLower(string(env.Intent))}, nil
	}

	var (
		res executor.Result
		err error
	)
	switch env.Intent {
	case engine.ModelCreate:
		res, err = s.exec.Execute(ctx, owner, intent.Result{Intent: intent.Create, Params: intent.Params{Title: env.Action.Title()}})
	case engine.ModelList:
		res, err = s.exec.Execute(ctx, owner, intent.Result{Intent: intent.List, Params: intent.Params{Filter: intent.Filter(env.Data.Filter)}})
	case engine.ModelComplete, engine.ModelUncomplete, engine.ModelUpdate:
		if env.Data.TaskID == "" {
			return Reply{}, &engine.ParseError{Reason: "action without task_id", Raw: env.Message}
		}
		in := map[engine.ModelIntent]intent.Intent{
			engine.ModelComplete:   intent.Complete,
			engine.ModelUncomplete: intent.Uncomplete,
			engine.ModelUpdate:     intent.Update,
		}[env.Intent]
		res, err = s.exec.ExecuteByID(ctx, owner, in, env.Data.TaskID, intent.Params{NewTitle: env.Action.Title()})
	case engine.ModelDelete:
		if env.Data.TaskID == "" {
			return Reply{}, &engine.ParseError{Reason: "delete without task_id", Raw: env.Message}
		}
		// A model delete runs only against the task held in the pending
		// slot. A confirmation the model claims in its own output is not
		// trusted; anything else starts a new confirmation.
		if pending == nil || pending.TaskID != env.Data.TaskID {
			return s.askDelete(ctx, owner, env.Data.TaskID)
		}
		if err := s.confirm.Clear(ctx, owner); err != nil {
			return Reply{}, fmt.Errorf("clear confirmation: %w", err)
		}
		res, err = s.exec.ExecuteByID(ctx, owner, intent.Delete, env.Data.TaskID, intent.Params{})
	default:
		return Reply{Response: message, Intent: strings.ToLower(string(env.Intent))}, nil
	}
	return fromResult(res), err
}

// deterministic answers without the model. slow marks a model timeout or
// rate limit, which prefixes clarifications with an apology.
func (s *Service) deterministic(ctx context.Context, owner string, det intent.Result, slow bool) (Reply, error) {
	var (
		reply Reply
		err   error
	)
	switch det.Intent {
	case intent.Greeting:
		reply = Reply{Response: greetingText, Intent: string(intent.Greeting)}
	case intent.Help:
		reply = Reply{Response: helpText, Intent: string(intent.Help)}
	case intent.Unknown:
		reply = Reply{Response: unknownText, Intent: string(intent.Unknown)}
	case intent.Delete:
		task, miss, rerr := s.exec.Resolve(ctx, owner, intent.Delete, det.Params.Reference)
		switch {
		case rerr != nil:
			err = rerr
		case miss != nil:
			reply = fromResult(*miss)
		default:
			reply, err = s.awaitDelete(ctx, owner, task)
		}
	default:
		var res executor.Result
		res, err = s.exec.Execute(ctx, owner, det)
		reply = fromResult(res)
	}
	if err != nil {
		return Reply{}, err
	}
	if slow && (reply.Intent == string(intent.Clarify) || reply.Intent == string(intent.Unknown)) {
		reply.Response = slowPrefix + reply.Response
	}
	return reply, nil
}

// askDelete starts a confirmation for a task id named by the model.
func (s *Service) askDelete(ctx context.Context, owner, taskID string) (Reply, error) {
	task, err := s.store.GetTask(ctx, owner, taskID)
	switch {
	case errors.Is(err, persistence.ErrForbidden):
		return Reply{}, executor.ErrAccessDenied
	case errors.Is(err, persistence.ErrNotFound):
		return Reply{}, &engine.ParseError{Reason: "unknown task_id " + taskID}
	case err != nil:
		return Reply{}, fmt.Errorf("get task: %w", err)
	}
	return s.awaitDelete(ctx, owner, task)
}

func (s *Service) awaitDelete(ctx context.Context, owner string, task persistence.Task) (Reply, error) {
	p := confirm.Pending{Action: confirm.ActionDelete, TaskID: task.ID, TaskTitle: task.Title}
	if err := s.confirm.Await(ctx, owner, p); err != nil {
		return Reply{}, fmt.Errorf("await confirmation: %w", err)
	}
	s.bus.Publish(bus.TopicChatConfirmationPending, bus.ChatEvent{OwnerID: owner, Intent: string(intent.Delete)})
	return Reply{
		Response: fmt.Sprintf("Are you sure you want to delete '%s'? This action cannot be undone. Reply 'yes' to confirm or 'no' to cancel.", task.Title),
		Intent:   string(intent.Clarify),
		Data: map[string]any{
			"task_id":        task.ID,
			"task_title":     task.Title,
			"pending_action": confirm.ActionDelete,
		},
	}, nil
}

func (r Reply) awaitsConfirmation() bool {
	return r.Data["pending_action"] == confirm.ActionDelete
}

// History returns the owner's current conversation, oldest message first.
func (s *Service) History(ctx context.Context, owner string) (persistence.Conversation, []persistence.Message, error) {
	conv, err := s.store.CurrentConversation(ctx, owner)
	if err != nil {
		return persistence.Conversation{}, nil, fmt.Errorf("load conversation: %w", err)
	}
	msgs, err := s.store.ListMessages(ctx, owner, conv.ID, s.cfg.HistoryLimit)
	if err != nil {
		return persistence.Conversation{}, nil, fmt.Errorf("list messages: %w", err)
	}
	return conv, msgs, nil
}

// ClearHistory deletes the owner's messages and any pending confirmation.
func (s *Service) ClearHistory(ctx context.Context, owner string) (int64, error) {
	n, err := s.store.ClearConversation(ctx, owner)
	if err != nil {
		return 0, fmt.Errorf("clear conversation: %w", err)
	}
	if err := s.confirm.Clear(ctx, owner); err != nil {
		s.logger.Warn("clear pending confirmation failed", "trace_id", shared.TraceID(ctx), "error", err)
	}
	return n, nil
}

func fromResult(r executor.Result) Reply {
	return Reply{
		Response:     r.Message,
		Intent:       string(r.Intent),
		Data:         r.Data,
		ActionsTaken: r.ToolCalls,
	}
}

// modelText scrubs secret-looking strings from model prose.
func modelText(ctx context.Context, logger *slog.Logger, text string) string {
	if leaks := safety.ScanLeaks(text); len(leaks) > 0 {
		logger.Warn("leak detector triggered on model output", "trace_id", shared.TraceID(ctx), "findings", len(leaks))
		return safety.RedactLeaks(text)
	}
	return text
}

func providerName(b engine.Brain) string {
	if n, ok := b.(interface{ Name() string }); ok {
		return n.Name()
	}
	return "failover"
}
