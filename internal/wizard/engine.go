package wizard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rsautomocion/tallerbot/internal/validate"
)

// Protocol errors surfaced to the conversation gateway. They signal caller
// misuse, never corrupt state, and are turned into user-facing messages at
// the gateway boundary.
var (
	ErrIntentNotFound = errors.New("no template registered for intent")
	ErrSessionActive  = errors.New("a session is already active for this user")
	ErrNoSession      = errors.New("no active session for this user")
	ErrInvalidState   = errors.New("action not legal in current state")
)

// SkipToken is the input that skips an optional field.
const SkipToken = "-"

// CommitError wraps a repository failure during confirm. The session is
// preserved so the user can retry confirm without re-entering fields.
type CommitError struct {
	Intent Intent
	Err    error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit of %s failed: %v", e.Intent, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }

// CommitResult carries the outcome of a successful commit.
type CommitResult struct {
	// EntityID identifies the created record, when the intent creates one.
	EntityID string
	// Message is the human-readable result relayed to the user.
	Message string
}

// Committer persists the payload of a completed wizard. One committer
// operation is bound per intent; it must be atomic from the engine's point
// of view.
type Committer interface {
	Commit(ctx context.Context, intent Intent, payload map[string]string) (*CommitResult, error)
}

// CommitterFunc adapts a function to the Committer interface.
type CommitterFunc func(ctx context.Context, intent Intent, payload map[string]string) (*CommitResult, error)

// Commit implements Committer.
func (f CommitterFunc) Commit(ctx context.Context, intent Intent, payload map[string]string) (*CommitResult, error) {
	return f(ctx, intent, payload)
}

// ActionKind enumerates the actions available from the confirmation screen
// (plus cancel, which is legal anywhere). Transport payloads are decoded into
// this closed set at the gateway boundary; the engine never parses strings.
type ActionKind string

const (
	ActionConfirm ActionKind = "confirm"
	ActionEdit    ActionKind = "edit"
	ActionCancel  ActionKind = "cancel"
)

// Action is a decoded user action. Field is set only for ActionEdit.
type Action struct {
	Kind  ActionKind
	Field string
}

// ReplyKind tells the gateway what a Reply carries.
type ReplyKind string

const (
	// ReplyPrompt asks the user for the field at the current step.
	ReplyPrompt ReplyKind = "prompt"
	// ReplySummary shows all collected fields and the available actions.
	ReplySummary ReplyKind = "summary"
	// ReplyResult reports a successful commit.
	ReplyResult ReplyKind = "result"
	// ReplyCancelled acknowledges a cancel.
	ReplyCancelled ReplyKind = "cancelled"
)

// StepPrompt describes the prompt for one step.
type StepPrompt struct {
	Field FieldSpec
	// Step and Total are 1-based display positions.
	Step  int
	Total int
	// Errors is non-empty on the resubmission path after invalid input.
	Errors []string
	// Current holds the previously collected value when re-prompting via edit.
	Current string
}

// SummaryField is one collected field shown on the confirmation screen.
type SummaryField struct {
	Key   string
	Label string
	Value string
}

// Summary is the confirmation screen content.
type Summary struct {
	Intent Intent
	Title  string
	Fields []SummaryField
}

// Reply is the engine's answer to one inbound event. Exactly one of Prompt,
// Summary and Result is set, according to Kind.
type Reply struct {
	Kind    ReplyKind
	Intent  Intent
	Prompt  *StepPrompt
	Summary *Summary
	Result  *CommitResult
}

// Engine owns the step-by-step protocol for every guided flow, independent of
// which entity the flow collects data for.
type Engine struct {
	registry   *Registry
	sessions   SessionStore
	committers map[Intent]Committer
	validator  func(FieldSpec, string) (bool, string, []string)
	now        func() time.Time
}

// NewEngine creates a wizard engine. Templates must already be validated via
// Registry.Validate; ValidateBindings should be called before serving to make
// unbound intents fatal at startup rather than at runtime.
func NewEngine(registry *Registry, sessions SessionStore, committers map[Intent]Committer) *Engine {
	return &Engine{
		registry:   registry,
		sessions:   sessions,
		committers: committers,
		validator:  validateField,
		now:        time.Now,
	}
}

// ValidateBindings checks that every registered template has a committer.
func (e *Engine) ValidateBindings() error {
	for _, intent := range e.registry.Intents() {
		if _, ok := e.committers[intent]; !ok {
			return fmt.Errorf("no committer bound for intent %s", intent)
		}
	}
	return nil
}

// Start begins a guided flow for a user and returns the first step's prompt.
// It fails with ErrIntentNotFound for an unregistered intent and with
// ErrSessionActive if the user already has a session; the caller must cancel
// first, so partially entered data is never silently discarded.
func (e *Engine) Start(ctx context.Context, userID string, intent Intent) (*Reply, error) {
	slog.Debug("Engine Start", "userID", userID, "intent", intent)

	tmpl, ok := e.registry.Get(intent)
	if !ok {
		slog.Error("Engine Start unknown intent", "userID", userID, "intent", intent)
		return nil, fmt.Errorf("%w: %s", ErrIntentNotFound, intent)
	}

	existing, err := e.sessions.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up session: %w", err)
	}
	if existing != nil {
		slog.Debug("Engine Start rejected, session active", "userID", userID, "activeIntent", existing.Intent)
		return nil, fmt.Errorf("%w (intent %s)", ErrSessionActive, existing.Intent)
	}

	sess := NewSession(userID, intent, e.now())
	if err := e.sessions.Put(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	slog.Info("Engine started wizard", "userID", userID, "intent", intent, "steps", len(tmpl.Steps))
	return e.promptReply(tmpl, sess, nil), nil
}

// HandleInput processes free-text input for the user's current step. Invalid
// input re-issues the same prompt with the error list and does not advance
// the cursor. Valid input stores the normalized value and advances; when the
// final field is collected the reply is the confirmation summary.
func (e *Engine) HandleInput(ctx context.Context, userID, raw string) (*Reply, error) {
	slog.Debug("Engine HandleInput", "userID", userID, "input_length", len(raw))

	sess, tmpl, err := e.activeSession(ctx, userID)
	if err != nil {
		return nil, err
	}

	// Text while confirming is not a step input; show the summary again.
	if sess.Confirming(tmpl) {
		sess.Touch(e.now())
		if err := e.sessions.Put(ctx, sess); err != nil {
			return nil, fmt.Errorf("failed to store session: %w", err)
		}
		return e.summaryReply(tmpl, sess), nil
	}

	spec := tmpl.Steps[sess.Cursor]
	ok, normalized, errs := e.validator(spec, raw)
	if !ok {
		slog.Debug("Engine input rejected", "userID", userID, "intent", sess.Intent, "field", spec.Key, "errors", strings.Join(errs, "; "))
		sess.Touch(e.now())
		if err := e.sessions.Put(ctx, sess); err != nil {
			return nil, fmt.Errorf("failed to store session: %w", err)
		}
		reply := e.promptReply(tmpl, sess, errs)
		return reply, nil
	}

	sess.Collected[spec.Key] = normalized
	sess.Cursor = nextCursor(tmpl, sess)
	sess.Touch(e.now())
	if err := e.sessions.Put(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	if sess.Confirming(tmpl) {
		slog.Info("Engine wizard reached confirmation", "userID", userID, "intent", sess.Intent)
		return e.summaryReply(tmpl, sess), nil
	}
	slog.Debug("Engine advanced to next step", "userID", userID, "intent", sess.Intent, "cursor", sess.Cursor)
	return e.promptReply(tmpl, sess, nil), nil
}

// HandleAction processes a decoded confirm/edit/cancel action.
func (e *Engine) HandleAction(ctx context.Context, userID string, action Action) (*Reply, error) {
	slog.Debug("Engine HandleAction", "userID", userID, "action", action.Kind, "field", action.Field)

	if action.Kind == ActionCancel {
		// Cancel is legal from any state and idempotent.
		if err := e.sessions.Delete(ctx, userID); err != nil {
			return nil, fmt.Errorf("failed to delete session: %w", err)
		}
		slog.Info("Engine cancelled wizard", "userID", userID)
		return &Reply{Kind: ReplyCancelled}, nil
	}

	sess, tmpl, err := e.activeSession(ctx, userID)
	if err != nil {
		return nil, err
	}

	switch action.Kind {
	case ActionConfirm:
		return e.confirm(ctx, sess, tmpl)
	case ActionEdit:
		return e.edit(ctx, sess, tmpl, action.Field)
	default:
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidState, action.Kind)
	}
}

// confirm invokes the committer bound to the session's intent. On repository
// failure the session survives untouched so confirm may be retried.
func (e *Engine) confirm(ctx context.Context, sess *Session, tmpl Template) (*Reply, error) {
	if !sess.Confirming(tmpl) {
		return nil, fmt.Errorf("%w: confirm is only legal from the confirmation screen", ErrInvalidState)
	}

	committer, ok := e.committers[sess.Intent]
	if !ok {
		// Unreachable after ValidateBindings; kept as a guard.
		return nil, fmt.Errorf("%w: %s", ErrIntentNotFound, sess.Intent)
	}

	payload := copyCollected(sess.Collected)
	result, err := committer.Commit(ctx, sess.Intent, payload)
	if err != nil {
		slog.Error("Engine commit failed, session preserved", "error", err, "userID", sess.UserID, "intent", sess.Intent)
		sess.Touch(e.now())
		if putErr := e.sessions.Put(ctx, sess); putErr != nil {
			slog.Error("Engine failed to refresh session after commit failure", "error", putErr, "userID", sess.UserID)
		}
		return nil, &CommitError{Intent: sess.Intent, Err: err}
	}

	if err := e.sessions.Delete(ctx, sess.UserID); err != nil {
		slog.Error("Engine failed to delete session after commit", "error", err, "userID", sess.UserID)
	}
	slog.Info("Engine committed wizard", "userID", sess.UserID, "intent", sess.Intent, "entityID", result.EntityID)
	return &Reply{Kind: ReplyResult, Intent: sess.Intent, Result: result}, nil
}

// edit relocates the cursor to a previously collected field. Later collected
// values are kept; after a valid resubmission the cursor fast-forwards back
// to the confirmation screen if nothing else is missing.
func (e *Engine) edit(ctx context.Context, sess *Session, tmpl Template, fieldKey string) (*Reply, error) {
	if !sess.Confirming(tmpl) {
		return nil, fmt.Errorf("%w: edit is only legal from the confirmation screen", ErrInvalidState)
	}
	idx := tmpl.StepIndex(fieldKey)
	if idx < 0 {
		return nil, fmt.Errorf("%w: template %s has no field %q", ErrInvalidState, sess.Intent, fieldKey)
	}

	sess.Cursor = idx
	sess.Touch(e.now())
	if err := e.sessions.Put(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}
	slog.Debug("Engine edit-jump", "userID", sess.UserID, "intent", sess.Intent, "field", fieldKey, "cursor", idx)
	return e.promptReply(tmpl, sess, nil), nil
}

func (e *Engine) activeSession(ctx context.Context, userID string) (*Session, Template, error) {
	sess, err := e.sessions.Get(ctx, userID)
	if err != nil {
		return nil, Template{}, fmt.Errorf("failed to look up session: %w", err)
	}
	if sess == nil {
		return nil, Template{}, ErrNoSession
	}
	tmpl, ok := e.registry.Get(sess.Intent)
	if !ok {
		// A session for an unregistered intent means the registry changed
		// under a live session; drop it rather than wedge the user.
		_ = e.sessions.Delete(ctx, userID)
		return nil, Template{}, fmt.Errorf("%w: %s", ErrIntentNotFound, sess.Intent)
	}
	return sess, tmpl, nil
}

func (e *Engine) promptReply(tmpl Template, sess *Session, errs []string) *Reply {
	spec := tmpl.Steps[sess.Cursor]
	return &Reply{
		Kind:   ReplyPrompt,
		Intent: sess.Intent,
		Prompt: &StepPrompt{
			Field:   spec,
			Step:    sess.Cursor + 1,
			Total:   len(tmpl.Steps),
			Errors:  errs,
			Current: sess.Collected[spec.Key],
		},
	}
}

func (e *Engine) summaryReply(tmpl Template, sess *Session) *Reply {
	fields := make([]SummaryField, 0, len(tmpl.Steps))
	for _, spec := range tmpl.Steps {
		fields = append(fields, SummaryField{Key: spec.Key, Label: spec.Label, Value: sess.Collected[spec.Key]})
	}
	return &Reply{
		Kind:   ReplySummary,
		Intent: sess.Intent,
		Summary: &Summary{
			Intent: sess.Intent,
			Title:  tmpl.Title,
			Fields: fields,
		},
	}
}

// nextCursor returns the index of the first step after the current one whose
// value has not been collected yet, or len(Steps) when everything is present.
// On the plain forward path this is simply cursor+1; after an edit it skips
// already-filled later fields so the user lands back on the summary.
func nextCursor(tmpl Template, sess *Session) int {
	for i := sess.Cursor + 1; i < len(tmpl.Steps); i++ {
		if _, ok := sess.Collected[tmpl.Steps[i].Key]; !ok {
			return i
		}
	}
	return len(tmpl.Steps)
}

// validateField runs the field's validator, honoring the skip token for
// optional fields. Skipped optional fields are stored as the empty string so
// they count as collected.
func validateField(spec FieldSpec, raw string) (bool, string, []string) {
	trimmed := strings.TrimSpace(raw)
	if spec.Optional && trimmed == SkipToken {
		return true, "", nil
	}
	res := validate.Validate(spec.Kind, trimmed)
	return res.Valid, res.Normalized, res.Errors
}
