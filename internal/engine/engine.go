package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/chainsight/responder/internal/collab"
	"github.com/chainsight/responder/internal/expressions"
	"github.com/chainsight/responder/internal/logging"
	"github.com/chainsight/responder/internal/state"
	"github.com/chainsight/responder/internal/store"
	"github.com/chainsight/responder/pkg/schema"
)

// Config tunes the engine's execution behavior.
type Config struct {
	// StepTimeout is the deadline for a single step invocation.
	StepTimeout time.Duration
	// MaxRetries is the number of retries for a transiently failing step.
	MaxRetries int
	// RetryBase and RetryMax bound the doubling backoff between retries.
	RetryBase time.Duration
	RetryMax  time.Duration
	// MaxIterations bounds the review modify loop.
	MaxIterations int
	// EscalationExpr overrides the default escalation policy predicate.
	EscalationExpr string
}

func (c *Config) applyDefaults() {
	if c.StepTimeout <= 0 {
		c.StepTimeout = 30 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 200 * time.Millisecond
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 5 * time.Second
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
}

// Engine drives disruption-response runs: it executes the current step,
// applies its delta, consults the router, suspends at the review
// checkpoint, and resumes from the persisted cursor when a decision
// arrives. One engine serves many concurrent runs; each run's state is
// exclusively owned for the duration of a Start or Resume call, enforced
// by the store's optimistic version check.
type Engine struct {
	store     store.Store
	collabs   *collab.Set
	registry  *Registry
	router    *Router
	gate      Gate
	cel       *expressions.CELEngine
	jq        *expressions.GoJQEngine
	validator *schema.Validator
	logger    *slog.Logger
	cfg       Config
}

// New builds an engine over the given store and collaborator set.
func New(st store.Store, collabs *collab.Set, logger *slog.Logger, cfg Config) (*Engine, error) {
	cfg.applyDefaults()

	if logger == nil {
		logger = slog.Default()
	}

	cel, err := expressions.NewCELEngine()
	if err != nil {
		return nil, err
	}
	validator, err := schema.NewValidator()
	if err != nil {
		return nil, err
	}

	gate := Gate{}
	guard := NewIterationGuard(cfg.MaxIterations)
	policy := expressions.NewEscalationPolicy(cfg.EscalationExpr)

	return &Engine{
		store:     st,
		collabs:   collabs,
		registry:  DefaultRegistry(gate),
		router:    NewRouter(guard, policy),
		gate:      gate,
		cel:       cel,
		jq:        expressions.NewGoJQEngine(),
		validator: validator,
		logger:    logger,
		cfg:       cfg,
	}, nil
}

// Start validates the event, creates a new run, and drives it until it
// suspends at review or reaches a terminal step.
func (e *Engine) Start(ctx context.Context, event state.DisruptionEvent) (string, schema.Outcome, error) {
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}
	if event.ID == "" {
		event.ID = "evt-" + uuid.NewString()[:8]
	}
	if err := e.validator.ValidateEvent(event); err != nil {
		return "", schema.OutcomeFailed, err
	}

	runID := uuid.NewString()
	run := &store.Run{
		ID:          runID,
		Status:      schema.RunStatusActive,
		CurrentStep: schema.StepClassify,
		State:       state.New(runID, event),
	}
	if err := e.store.CreateRun(ctx, run); err != nil {
		return "", schema.OutcomeFailed, err
	}

	ctx = logging.WithRunID(ctx, runID)
	e.appendEvent(ctx, runID, "", schema.EventRunStarted, map[string]any{
		"category": string(event.Category),
		"event_id": event.ID,
	})
	e.logger.InfoContext(ctx, "run started", "category", string(event.Category))

	outcome, err := e.loop(ctx, run)
	return runID, outcome, err
}

// Resume delivers a human decision to a suspended run and drives it onward
// from the persisted cursor. Calling it on a non-suspended run is an
// INVALID_TRANSITION; a duplicate resume racing another loses the store's
// version check and surfaces CONFLICT.
func (e *Engine) Resume(ctx context.Context, runID string, decision schema.Decision) (schema.Outcome, error) {
	if err := decision.Validate(); err != nil {
		return schema.OutcomeFailed, err
	}
	if decision.DecidedAt.IsZero() {
		decision.DecidedAt = time.Now().UTC()
	}

	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return schema.OutcomeFailed, err
	}
	if !run.State.Suspended || run.Status != schema.RunStatusSuspended {
		return schema.OutcomeFailed, schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"resume called on non-suspended run %s (status %s)", runID, string(run.Status))
	}

	ctx = logging.WithRunID(ctx, runID)

	run.State.Suspended = false
	run.State.HumanDecision = &decision
	run.Status = schema.RunStatusActive
	if _, err := e.store.Checkpoint(ctx, run, run.Version); err != nil {
		return schema.OutcomeFailed, err
	}

	e.appendEvent(ctx, runID, string(schema.StepReview), schema.EventRunResumed, map[string]any{
		"decision": string(decision.Kind),
	})
	e.appendEvent(ctx, runID, string(schema.StepReview), schema.EventDecisionResolved, map[string]any{
		"decision":   string(decision.Kind),
		"decided_by": decision.DecidedBy,
	})
	e.logger.InfoContext(ctx, "run resumed", "decision", string(decision.Kind))

	// Re-enter at the review router, never re-running applied steps.
	if err := e.advance(ctx, run, schema.StepReview); err != nil {
		return e.fail(ctx, run, err)
	}
	return e.loop(ctx, run)
}

// GetState returns a read-only snapshot of the run. Calling it any number
// of times never mutates the run.
func (e *Engine) GetState(ctx context.Context, runID string) (*state.WorkflowState, error) {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	return run.State.Clone(), nil
}

// Inspect evaluates a jq expression against the run's state snapshot.
func (e *Engine) Inspect(ctx context.Context, runID, query string) (any, error) {
	snapshot, err := e.GetState(ctx, runID)
	if err != nil {
		return nil, err
	}
	doc, err := expressions.SnapshotDocument(snapshot)
	if err != nil {
		return nil, err
	}
	return e.jq.Evaluate(ctx, query, doc)
}

// ListPending returns the runs waiting at the review checkpoint.
func (e *Engine) ListPending(ctx context.Context) ([]*store.Run, error) {
	status := schema.RunStatusSuspended
	return e.store.ListRuns(ctx, store.RunFilter{Status: &status})
}

// Events returns the run's event log after the given sequence.
func (e *Engine) Events(ctx context.Context, runID string, since int64) ([]*store.Event, error) {
	return e.store.GetEvents(ctx, runID, since)
}

// loop drives the run until it suspends or terminates. Steps execute
// strictly sequentially; the cursor in state is the sole resumption point.
func (e *Engine) loop(ctx context.Context, run *store.Run) (schema.Outcome, error) {
	s := run.State
	for !s.Terminal() {
		if s.CurrentStep == schema.StepReview {
			if s.HumanDecision == nil {
				return e.suspend(ctx, run)
			}
			// Decision already delivered; branch without re-suspending.
			if err := e.advance(ctx, run, schema.StepReview); err != nil {
				return e.fail(ctx, run, err)
			}
			continue
		}

		if err := e.executeCurrent(ctx, run); err != nil {
			return e.fail(ctx, run, err)
		}
	}
	return e.finish(ctx, run)
}

// executeCurrent runs the step at the cursor (honoring its guard), applies
// its delta, and advances the cursor via the router. Recoverable failures
// are absorbed into the error log and rerouted through fallback.
func (e *Engine) executeCurrent(ctx context.Context, run *store.Run) error {
	s := run.State
	stepName := s.CurrentStep
	ctx = logging.WithStep(ctx, string(stepName))

	reg, err := e.registry.Lookup(stepName)
	if err != nil {
		return err
	}

	if reg.Guard != "" {
		ok, err := e.cel.EvaluateBool(ctx, reg.Guard, expressions.Scope(s))
		if err != nil {
			return err
		}
		if !ok {
			e.logger.DebugContext(ctx, "step skipped by guard", "guard", reg.Guard)
			return e.advance(ctx, run, stepName)
		}
	}

	e.appendEvent(ctx, run.ID, string(stepName), schema.EventStepStarted, nil)

	delta, err := e.runWithRetry(ctx, reg.Step, s)
	if err != nil {
		if isContractViolation(err) {
			return err
		}
		// Recoverable: log, reroute through fallback.
		s.AppendError(stepName, errorCode(err), err.Error())
		s.CurrentStep = schema.StepFallback
		e.appendEvent(ctx, run.ID, string(stepName), schema.EventStepFailed, map[string]any{
			"error": err.Error(),
		})
		e.appendEvent(ctx, run.ID, string(stepName), schema.EventStepFallback, nil)
		e.logger.WarnContext(ctx, "step failed, routing to fallback", "error", err)
		return e.advance(ctx, run, schema.StepFallback)
	}

	// The plan artifact comes from an external generator; never trust its
	// structure.
	if delta != nil && delta.Plan != nil {
		if err := e.validator.ValidatePlan(delta.Plan); err != nil {
			return err
		}
	}

	if err := s.Apply(stepName, delta); err != nil {
		return err
	}
	e.appendEvent(ctx, run.ID, string(stepName), schema.EventStepApplied, nil)

	return e.advance(ctx, run, stepName)
}

// advance consults the router after `applied`, applies any routing delta,
// moves the cursor, and checkpoints.
func (e *Engine) advance(ctx context.Context, run *store.Run, applied schema.StepName) error {
	s := run.State
	next, delta, err := e.router.Route(ctx, applied, s)
	if err != nil {
		return err
	}
	if err := s.Apply(applied, delta); err != nil {
		return err
	}
	s.CurrentStep = next
	run.CurrentStep = next

	if err := s.CheckInvariants(); err != nil {
		return err
	}
	if _, err := e.store.Checkpoint(ctx, run, run.Version); err != nil {
		return err
	}
	return nil
}

// runWithRetry invokes the step under its deadline, retrying transient
// collaborator failures with doubling backoff.
func (e *Engine) runWithRetry(ctx context.Context, step Step, s *state.WorkflowState) (*state.Delta, error) {
	var lastErr error
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := ComputeBackoff(e.cfg.RetryBase, e.cfg.RetryMax, attempt-1)
			if err := WaitForBackoff(ctx, delay); err != nil {
				return nil, err
			}
			e.logger.DebugContext(ctx, "retrying step", "attempt", attempt)
		}

		stepCtx, cancel := context.WithTimeout(ctx, e.cfg.StepTimeout)
		delta, err := step.Run(stepCtx, s, e.collabs)
		cancel()
		if err == nil {
			return delta, nil
		}
		lastErr = err
		if !IsRetryableError(err) {
			return nil, err
		}
	}
	return nil, schema.NewErrorf(schema.ErrCodeRetryExhausted,
		"step %s failed after %d attempts", string(step.Name()), e.cfg.MaxRetries+1).
		WithStep(string(step.Name())).WithCause(lastErr)
}

// suspend parks the run at the review checkpoint. The persisted state plus
// cursor is the complete resumable representation; the process may restart
// entirely between suspend and resume.
func (e *Engine) suspend(ctx context.Context, run *store.Run) (schema.Outcome, error) {
	s := run.State
	s.Suspended = true
	run.Status = schema.RunStatusSuspended

	if err := s.CheckInvariants(); err != nil {
		return e.fail(ctx, run, err)
	}
	if _, err := e.store.Checkpoint(ctx, run, run.Version); err != nil {
		return schema.OutcomeFailed, err
	}

	e.appendEvent(ctx, run.ID, string(schema.StepReview), schema.EventRunSuspended, nil)
	e.appendEvent(ctx, run.ID, string(schema.StepReview), schema.EventDecisionRequested, map[string]any{
		"plan_id":   planID(s),
		"iteration": s.IterationCount,
	})
	e.logger.InfoContext(ctx, "run suspended for review", "iteration", s.IterationCount)
	return schema.OutcomeSuspended, nil
}

// finish archives a run that reached a terminal step.
func (e *Engine) finish(ctx context.Context, run *store.Run) (schema.Outcome, error) {
	s := run.State
	now := time.Now().UTC()
	run.CompletedAt = &now

	// The approve decision outlives the gate only until the run terminates;
	// attribution stays in the decision_resolved event.
	s.HumanDecision = nil

	outcome := schema.OutcomeCompleted
	eventType := schema.EventRunCompleted
	switch s.CurrentStep {
	case schema.TerminalFailed:
		run.Status = schema.RunStatusFailed
		outcome = schema.OutcomeFailed
		eventType = schema.EventRunFailed
	case schema.TerminalEscalated:
		run.Status = schema.RunStatusCompleted
		e.appendEvent(ctx, run.ID, string(schema.StepReview), schema.EventIterationLimitExceeded, map[string]any{
			"iterations": s.IterationCount,
		})
		e.appendEvent(ctx, run.ID, "", schema.EventEscalationRaised, map[string]any{
			"reason": s.TerminalReason,
		})
	default:
		run.Status = schema.RunStatusCompleted
	}

	if s.CurrentStep == schema.TerminalDone && hasExecutionErrors(s) {
		outcome = schema.OutcomePartial
	}

	if _, err := e.store.Checkpoint(ctx, run, run.Version); err != nil {
		return schema.OutcomeFailed, err
	}
	e.appendEvent(ctx, run.ID, string(s.CurrentStep), eventType, map[string]any{
		"terminal": string(s.CurrentStep),
		"reason":   s.TerminalReason,
	})
	e.emitWriteEvents(ctx, run)
	e.logger.InfoContext(ctx, "run finished",
		"terminal", string(s.CurrentStep), "outcome", string(outcome))
	return outcome, nil
}

// fail aborts the run on an engine-contract violation. The last applied
// state is preserved for diagnosis; no partial delta is left behind.
func (e *Engine) fail(ctx context.Context, run *store.Run, cause error) (schema.Outcome, error) {
	s := run.State
	s.AppendError(s.CurrentStep, errorCode(cause), cause.Error())
	s.CurrentStep = schema.TerminalFailed
	s.Suspended = false
	s.TerminalReason = cause.Error()
	run.CurrentStep = schema.TerminalFailed
	run.Status = schema.RunStatusFailed
	now := time.Now().UTC()
	run.CompletedAt = &now

	if _, cerr := e.store.Checkpoint(ctx, run, run.Version); cerr != nil {
		e.logger.ErrorContext(ctx, "failed to checkpoint failed run", "error", cerr)
	}
	e.appendEvent(ctx, run.ID, string(s.CurrentStep), schema.EventRunFailed, map[string]any{
		"error": cause.Error(),
	})
	e.logger.ErrorContext(ctx, "run failed", "error", cause)
	return schema.OutcomeFailed, cause
}

// emitWriteEvents records one event per confirmed world-changing action.
func (e *Engine) emitWriteEvents(ctx context.Context, run *store.Run) {
	for _, r := range run.State.Receipts {
		eventType := schema.EventNotificationSent
		if r.Kind == "purchase_order" {
			eventType = schema.EventPurchaseOrderUpdated
		}
		e.appendEvent(ctx, run.ID, string(schema.StepExecuteActions), eventType, map[string]any{
			"reference": r.Reference,
		})
	}
	for _, entry := range run.State.ErrorLog {
		if entry.Step == schema.StepExecuteActions {
			e.appendEvent(ctx, run.ID, string(schema.StepExecuteActions),
				schema.EventWriteActionFailed, map[string]any{"error": entry.Message})
		}
	}
}

// appendEvent writes to the run event log best-effort; the log is an
// observability surface, not part of the state machine.
func (e *Engine) appendEvent(ctx context.Context, runID, step, eventType string, payload map[string]any) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			e.logger.WarnContext(ctx, "failed to marshal event payload", "type", eventType, "error", err)
		} else {
			raw = b
		}
	}
	err := e.store.AppendEvent(ctx, &store.Event{
		RunID:   runID,
		Step:    step,
		Type:    eventType,
		Payload: raw,
	})
	if err != nil {
		e.logger.WarnContext(ctx, "failed to append event", "type", eventType, "error", err)
	}
}

// isContractViolation distinguishes fatal engine-contract errors from
// step-local recoverable failures.
func isContractViolation(err error) bool {
	var rerr *schema.ResponderError
	if !errors.As(err, &rerr) {
		return false
	}
	switch rerr.Code {
	case schema.ErrCodeInvalidTransition, schema.ErrCodeMalformedDelta,
		schema.ErrCodeGateDenied, schema.ErrCodeConflict:
		return true
	}
	return false
}

func hasExecutionErrors(s *state.WorkflowState) bool {
	for _, entry := range s.ErrorLog {
		if entry.Step == schema.StepExecuteActions {
			return true
		}
	}
	return false
}

func planID(s *state.WorkflowState) string {
	if s.Plan == nil {
		return ""
	}
	return s.Plan.ID
}
