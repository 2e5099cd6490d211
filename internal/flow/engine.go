package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/TrackPipe/internal/models"
)

var (
	// ErrFormInProgress is returned by Start when the user already has an active form.
	ErrFormInProgress = errors.New("a form is already in progress")
	// ErrUnknownForm is returned by Start for a form kind with no registered spec.
	ErrUnknownForm = errors.New("unknown form")
	// ErrNoActiveForm is returned when an operation needs an active form and the user is idle.
	ErrNoActiveForm = errors.New("no active form")
)

// StorageError wraps a failure of a storage collaborator. The conversation state is left as
// it was before the failing call, so the user can resend the last answer.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// CancelTokens are the inputs that cancel the active form, compared case-insensitively.
var CancelTokens = []string{"/cancel", "отмена", "cancel"}

// IsCancelSignal reports whether input is a cancel token.
func IsCancelSignal(input string) bool {
	s := strings.TrimSpace(input)
	for _, tok := range CancelTokens {
		if strings.EqualFold(s, tok) {
			return true
		}
	}
	return false
}

// ResultKind tells the caller how to respond to the user.
type ResultKind int

const (
	// ResultNotHandled means the user is idle and the input is not for the engine.
	ResultNotHandled ResultKind = iota
	// ResultPrompt carries the next question.
	ResultPrompt
	// ResultValidationError carries guidance and the same question again.
	ResultValidationError
	// ResultCompletion carries the finalized record.
	ResultCompletion
	// ResultCancelled carries the cancel outcome.
	ResultCancelled
)

// CancelOutcome distinguishes cancelling nothing from cancelling an active form.
type CancelOutcome int

const (
	CancelledIdle CancelOutcome = iota
	CancelledActive
)

// Result is the outcome of one engine call.
type Result struct {
	Kind   ResultKind
	Prompt *Prompt
	// Reason explains a validation failure.
	Reason string
	Record *models.FinalizedRecord
	Cancel CancelOutcome
}

// ExpiryHandler is called after an idle form has been evicted by the timer.
type ExpiryHandler func(ctx context.Context, userID string, form models.FormKind)

// Engine drives users through registered forms.
type Engine struct {
	registry *Registry
	states   StateManager
	sink     RecordSink
	custom   CustomFieldSource

	now         func() time.Time
	loc         *time.Location
	idleTimeout time.Duration
	timer       Timer
	onExpire    ExpiryHandler

	locks userLocks
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithClock sets the time source used for timestamps and deadline shortcuts.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// WithLocation reads the clock in loc, so "today" and the deadline shortcuts
// follow the user's zone rather than the host's.
func WithLocation(loc *time.Location) EngineOption {
	return func(e *Engine) {
		e.loc = loc
	}
}

// WithIdleTimeout evicts forms untouched for longer than d. Zero keeps forms forever.
func WithIdleTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		e.idleTimeout = d
	}
}

// WithTimer sets the timer used for proactive idle eviction.
func WithTimer(t Timer) EngineOption {
	return func(e *Engine) {
		e.timer = t
	}
}

// WithExpiryHandler registers a callback for forms evicted by the idle timer.
func WithExpiryHandler(fn ExpiryHandler) EngineOption {
	return func(e *Engine) {
		e.onExpire = fn
	}
}

// NewEngine creates an Engine. custom may be nil when no spec uses a custom tail.
func NewEngine(registry *Registry, states StateManager, sink RecordSink, custom CustomFieldSource, opts ...EngineOption) *Engine {
	e := &Engine{
		registry: registry,
		states:   states,
		sink:     sink,
		custom:   custom,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.loc != nil {
		base, loc := e.now, e.loc
		e.now = func() time.Time { return base().In(loc) }
	}
	if e.idleTimeout > 0 && e.timer == nil {
		e.timer = NewIdleTimers()
	}
	slog.Debug("Engine created", "idleTimeout", e.idleTimeout)
	return e
}

func (e *Engine) lock(userID string) func() {
	return e.locks.lock(userID)
}

// Start begins a form for an idle user and returns its first prompt.
func (e *Engine) Start(ctx context.Context, userID string, kind models.FormKind) (Result, error) {
	if userID == "" {
		return Result{}, models.ErrEmptyUserID
	}
	unlock := e.lock(userID)
	defer unlock()

	spec, ok := e.registry.Get(kind)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownForm, kind)
	}
	st, err := e.load(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	if st != nil {
		slog.Debug("Engine Start rejected", "userID", userID, "requested", kind, "active", st.Form)
		return Result{}, fmt.Errorf("%w: %s", ErrFormInProgress, st.Form)
	}

	now := e.now()
	st = &models.ConversationState{
		UserID:     userID,
		Form:       kind,
		CurrentKey: spec.First,
		Answers:    models.NewAnswers(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := e.states.Save(ctx, st); err != nil {
		return Result{}, &StorageError{Op: "save state", Err: err}
	}
	e.armTimer(userID, now)
	slog.Info("Engine form started", "userID", userID, "form", kind)

	first, _ := spec.Field(spec.First)
	return Result{Kind: ResultPrompt, Prompt: e.prompt(ctx, spec, first, st)}, nil
}

// Advance feeds one user input to the active form.
func (e *Engine) Advance(ctx context.Context, userID, input string) (Result, error) {
	if IsCancelSignal(input) {
		outcome, err := e.Cancel(ctx, userID)
		if err != nil {
			return Result{}, err
		}
		return Result{Kind: ResultCancelled, Cancel: outcome}, nil
	}

	unlock := e.lock(userID)
	defer unlock()

	st, err := e.load(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	if st == nil {
		return Result{Kind: ResultNotHandled}, nil
	}
	spec, ok := e.registry.Get(st.Form)
	if !ok {
		e.abandon(ctx, st, "spec missing")
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownForm, st.Form)
	}
	field, err := currentField(spec, st)
	if err != nil {
		e.abandon(ctx, st, err.Error())
		return Result{}, err
	}

	now := e.now()
	value, verr := field.Parse(input, now)
	if verr != nil {
		slog.Debug("Engine answer rejected", "userID", userID, "form", st.Form, "field", field.Key, "reason", verr.Reason)
		return Result{Kind: ResultValidationError, Reason: verr.Reason, Prompt: e.prompt(ctx, spec, field, st)}, nil
	}

	// Work on a copy so a failed write leaves the persisted state untouched.
	next := *st
	next.Answers = st.Answers.Clone()
	next.Answers.Set(field.StoreKey(), value)
	next.UpdatedAt = now

	complete, err := e.step(ctx, spec, &next)
	if err != nil {
		return Result{}, err
	}
	if complete {
		return e.complete(ctx, &next)
	}

	if err := e.states.Save(ctx, &next); err != nil {
		return Result{}, &StorageError{Op: "save state", Err: err}
	}
	e.armTimer(userID, now)

	nextField, err := currentField(spec, &next)
	if err != nil {
		e.abandon(ctx, &next, err.Error())
		return Result{}, err
	}
	return Result{Kind: ResultPrompt, Prompt: e.prompt(ctx, spec, nextField, &next)}, nil
}

// step moves st past its current field and reports whether the form is complete.
func (e *Engine) step(ctx context.Context, spec *Spec, st *models.ConversationState) (bool, error) {
	if st.InCustomLoop {
		return !stepCustomLoop(st), nil
	}
	key, err := spec.Next(st.CurrentKey, st.Answers)
	if err != nil {
		e.abandon(ctx, st, err.Error())
		if !errors.Is(err, ErrUnknownBranch) {
			err = fmt.Errorf("%w: %v", ErrUnknownBranch, err)
		}
		return false, err
	}
	if key != Complete {
		st.CurrentKey = key
		return false, nil
	}
	if !spec.CustomTail || e.custom == nil {
		return true, nil
	}
	defs, err := e.custom.ListCustomFields(ctx, st.UserID)
	if err != nil {
		return false, &StorageError{Op: "load custom fields", Err: err}
	}
	return !enterCustomLoop(st, defs), nil
}

func (e *Engine) complete(ctx context.Context, st *models.ConversationState) (Result, error) {
	rec := models.FinalizedRecord{
		ID:          uuid.NewString(),
		UserID:      st.UserID,
		Form:        st.Form,
		Fields:      st.Answers.Clone(),
		CompletedAt: st.UpdatedAt,
	}
	if err := e.sink.SaveRecord(ctx, rec); err != nil {
		slog.Error("Engine save record failed", "error", err, "userID", st.UserID, "form", st.Form)
		return Result{}, &StorageError{Op: "save record", Err: err}
	}
	if err := e.states.Reset(ctx, st.UserID); err != nil {
		// The record is already stored; a leftover state would duplicate it on retry.
		slog.Error("Engine reset after completion failed", "error", err, "userID", st.UserID)
	}
	e.disarmTimer(st.UserID)
	slog.Info("Engine form completed", "userID", st.UserID, "form", st.Form, "recordID", rec.ID, "fields", rec.Fields.Len())
	return Result{Kind: ResultCompletion, Record: &rec}, nil
}

// Cancel discards the user's active form, if any.
func (e *Engine) Cancel(ctx context.Context, userID string) (CancelOutcome, error) {
	unlock := e.lock(userID)
	defer unlock()

	st, err := e.load(ctx, userID)
	if err != nil {
		return CancelledIdle, err
	}
	if st == nil {
		slog.Debug("Engine Cancel while idle", "userID", userID)
		return CancelledIdle, nil
	}
	if err := e.states.Reset(ctx, userID); err != nil {
		return CancelledActive, &StorageError{Op: "reset state", Err: err}
	}
	e.disarmTimer(userID)
	slog.Info("Engine form cancelled", "userID", userID, "form", st.Form)
	return CancelledActive, nil
}

// Active returns the user's in-progress form kind, or false when the user is idle.
func (e *Engine) Active(ctx context.Context, userID string) (models.FormKind, bool, error) {
	unlock := e.lock(userID)
	defer unlock()

	st, err := e.load(ctx, userID)
	if err != nil || st == nil {
		return "", false, err
	}
	return st.Form, true, nil
}

// CurrentPrompt re-renders the question the user is expected to answer.
func (e *Engine) CurrentPrompt(ctx context.Context, userID string) (*Prompt, error) {
	unlock := e.lock(userID)
	defer unlock()

	st, err := e.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, ErrNoActiveForm
	}
	spec, ok := e.registry.Get(st.Form)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownForm, st.Form)
	}
	field, err := currentField(spec, st)
	if err != nil {
		return nil, err
	}
	return e.prompt(ctx, spec, field, st), nil
}

// load returns the user's state, evicting it when it has been idle too long.
func (e *Engine) load(ctx context.Context, userID string) (*models.ConversationState, error) {
	st, err := e.states.Load(ctx, userID)
	if err != nil {
		return nil, &StorageError{Op: "load state", Err: err}
	}
	if st == nil || !e.expired(st) {
		return st, nil
	}
	slog.Info("Engine evicting idle form", "userID", userID, "form", st.Form, "updatedAt", st.UpdatedAt)
	if err := e.states.Reset(ctx, userID); err != nil {
		return nil, &StorageError{Op: "reset state", Err: err}
	}
	return nil, nil
}

func (e *Engine) expired(st *models.ConversationState) bool {
	return e.idleTimeout > 0 && e.now().Sub(st.UpdatedAt) > e.idleTimeout
}

// abandon resets a state that cannot continue.
func (e *Engine) abandon(ctx context.Context, st *models.ConversationState, reason string) {
	slog.Error("Engine abandoning form", "userID", st.UserID, "form", st.Form, "currentKey", st.CurrentKey, "reason", reason)
	if err := e.states.Reset(ctx, st.UserID); err != nil {
		slog.Error("Engine reset failed", "error", err, "userID", st.UserID)
	}
	e.disarmTimer(st.UserID)
}

func (e *Engine) prompt(ctx context.Context, spec *Spec, f *Field, st *models.ConversationState) *Prompt {
	p := &Prompt{
		Form:    spec.Kind,
		Field:   f.Key,
		Text:    f.QuestionText(st.Answers),
		Choices: f.Choices,
	}
	if f.Suggest != nil {
		s, err := f.Suggest(ctx, st.UserID, st.Answers)
		if err != nil {
			slog.Warn("Engine suggestions unavailable", "error", err, "userID", st.UserID, "field", f.Key)
		}
		p.Suggestions = s
	}
	return p
}

// armTimer (re)schedules proactive eviction for the user's form last touched at stamp.
func (e *Engine) armTimer(userID string, stamp time.Time) {
	e.armTimerAfter(userID, stamp, e.idleTimeout)
}

func (e *Engine) armTimerAfter(userID string, stamp time.Time, d time.Duration) {
	if e.idleTimeout <= 0 || e.timer == nil {
		return
	}
	e.timer.Reset(userID, d, func() { e.expire(userID, stamp) })
}

func (e *Engine) disarmTimer(userID string) {
	if e.timer != nil {
		e.timer.Stop(userID)
	}
}

// expire evicts the user's form if it has not been touched since stamp.
func (e *Engine) expire(userID string, stamp time.Time) {
	ctx := context.Background()
	unlock := e.lock(userID)
	st, err := e.states.Load(ctx, userID)
	if err != nil || st == nil || st.UpdatedAt.After(stamp) {
		unlock()
		return
	}
	if err := e.states.Reset(ctx, userID); err != nil {
		unlock()
		slog.Error("Engine idle eviction failed", "error", err, "userID", userID)
		return
	}
	unlock()

	slog.Info("Engine idle form expired", "userID", userID, "form", st.Form)
	if e.onExpire != nil {
		e.onExpire(ctx, userID, st.Form)
	}
}
