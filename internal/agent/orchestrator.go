package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wargame-agent/backend/internal/errs"
	"github.com/wargame-agent/backend/internal/metrics"
	"github.com/wargame-agent/backend/internal/retrieval"
	"github.com/wargame-agent/backend/internal/storage/models"
	"github.com/wargame-agent/backend/pkg/circuitbreaker"
	"github.com/wargame-agent/backend/pkg/correlation"
	"github.com/wargame-agent/backend/pkg/logger"
	"github.com/wargame-agent/backend/pkg/retry"
)

// Config bounds one orchestration session. Zero values fall back to the
// defaults below.
type Config struct {
	MaxIterations    int
	FailureThreshold uint32
	Cooldown         time.Duration
	RetryPolicy      retry.Policy
	SessionTimeout   time.Duration
}

const (
	defaultMaxIterations  = 8
	defaultSessionTimeout = 120 * time.Second
)

func (c Config) withDefaults() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = defaultMaxIterations
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 3
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 60 * time.Second
	}
	if c.RetryPolicy.MaxAttempts == 0 {
		c.RetryPolicy = retry.Policy{
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			MaxDelay:    8 * time.Second,
			Multiplier:  2.0,
			Logger:      logger.GetLogger(),
		}
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = defaultSessionTimeout
	}
	return c
}

// Progress event types streamed to session watchers.
const (
	EventSessionStarted  = "session_started"
	EventToolStarted     = "tool_started"
	EventToolSucceeded   = "tool_succeeded"
	EventToolFailed      = "tool_failed"
	EventFallback        = "fallback"
	EventSessionFinished = "session_finished"
)

type ProgressEvent struct {
	Type      string `json:"type"`
	Iteration int    `json:"iteration"`
	Tool      string `json:"tool,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

type ProgressFunc func(ProgressEvent)

// errNoDataSources terminates a session when both a tool and its fallback
// have open breakers.
var errNoDataSources = errors.New("no data sources available")

// Orchestrator runs tool-calling sessions: each iteration asks the planner
// for a step, routes it through the circuit breakers (falling back to the
// paired source when one is open), and executes it under the retry policy.
// Sessions end completed, partial at the iteration cap, or failed on timeout
// or source exhaustion. Breakers are shared across concurrent sessions.
type Orchestrator struct {
	registry *Registry
	planner  Planner
	breakers *circuitbreaker.Registry
	cfg      Config
}

func New(registry *Registry, planner Planner, cfg Config) *Orchestrator {
	cfg = cfg.withDefaults()

	breakers := circuitbreaker.NewRegistry(circuitbreaker.Config{
		FailureThreshold: cfg.FailureThreshold,
		Cooldown:         cfg.Cooldown,
		OnStateChange: func(name string, _, to circuitbreaker.State) {
			open := 0.0
			if to == circuitbreaker.StateOpen {
				open = 1.0
			}
			metrics.CircuitBreakerOpen.WithLabelValues(name).Set(open)
		},
		Logger: logger.GetLogger(),
	})

	return &Orchestrator{
		registry: registry,
		planner:  planner,
		breakers: breakers,
		cfg:      cfg,
	}
}

func (o *Orchestrator) Run(ctx context.Context, goal Goal) *models.OrchestrationSession {
	return o.RunWithProgress(ctx, goal, nil)
}

// RunWithProgress executes a session, reporting progress events as it goes.
// The returned session always carries whatever results were accumulated, even
// on timeout or failure.
func (o *Orchestrator) RunWithProgress(ctx context.Context, goal Goal, progress ProgressFunc) *models.OrchestrationSession {
	ctx, correlationID := correlation.Ensure(ctx)
	start := time.Now()

	session := &models.OrchestrationSession{
		CorrelationID: correlationID,
		UserID:        goal.UserID,
		Status:        models.SessionRunning,
		StartedAt:     start.UTC(),
	}

	if goal.Query == "" {
		o.finish(session, models.SessionFailed, "query must not be empty", progress)
		return session
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.SessionTimeout)
	defer cancel()

	logger.Info("Session started",
		zap.String("correlation_id", correlationID),
		zap.String("user_id", goal.UserID),
		zap.String("query", goal.Query),
	)
	emit(progress, ProgressEvent{Type: EventSessionStarted})

	for {
		if err := ctx.Err(); err != nil {
			o.finishInterrupted(session, err, start, progress)
			return session
		}

		if session.IterationCount >= o.cfg.MaxIterations {
			o.finish(session, models.SessionPartial, "iteration limit reached", progress)
			return session
		}

		plan, err := o.planner.NextStep(ctx, goal, session)
		if err != nil {
			if ctx.Err() != nil {
				o.finishInterrupted(session, ctx.Err(), start, progress)
				return session
			}
			o.finish(session, models.SessionFailed, fmt.Sprintf("planning failed: %v", err), progress)
			return session
		}

		if plan.Done {
			session.Answer = plan.Answer
			o.finish(session, models.SessionCompleted, "", progress)
			return session
		}

		err = o.executeStep(ctx, plan, goal, session, progress)
		session.IterationCount++

		switch {
		case errors.Is(err, errNoDataSources):
			o.finish(session, models.SessionFailed, errNoDataSources.Error(), progress)
			return session
		case err != nil && ctx.Err() != nil:
			o.finishInterrupted(session, ctx.Err(), start, progress)
			return session
		case err != nil:
			logger.Warn("Tool step failed",
				zap.String("correlation_id", correlationID),
				zap.String("tool", plan.ToolName),
				zap.Int("iteration", session.IterationCount),
				zap.Error(err),
			)
		}
	}
}

// executeStep resolves the planned tool through the breakers and runs it.
// Results land on the session; a returned error means the step produced
// nothing.
func (o *Orchestrator) executeStep(ctx context.Context, plan Plan, goal Goal, session *models.OrchestrationSession, progress ProgressFunc) error {
	tool, ok := o.registry.Get(plan.ToolName)
	if !ok {
		return fmt.Errorf("unknown tool %q", plan.ToolName)
	}

	input := plan.Input
	resolved, err := o.resolveTool(tool)
	if err != nil {
		emit(progress, ProgressEvent{
			Type:      EventToolFailed,
			Iteration: session.IterationCount,
			Tool:      tool.Name,
			Detail:    err.Error(),
		})
		return err
	}

	if resolved.Name != tool.Name {
		input = fallbackInput(resolved, input, goal)
		logger.Info("Falling back to paired source",
			zap.String("from", tool.Name),
			zap.String("to", resolved.Name),
		)
		emit(progress, ProgressEvent{
			Type:      EventFallback,
			Iteration: session.IterationCount,
			Tool:      resolved.Name,
			Detail:    fmt.Sprintf("circuit open for %s", tool.Name),
		})
	}

	emit(progress, ProgressEvent{
		Type:      EventToolStarted,
		Iteration: session.IterationCount,
		Tool:      resolved.Name,
	})

	output, err := o.invoke(ctx, resolved, input, session)
	if err != nil {
		emit(progress, ProgressEvent{
			Type:      EventToolFailed,
			Iteration: session.IterationCount,
			Tool:      resolved.Name,
			Detail:    err.Error(),
		})
		return err
	}

	session.AccumulatedResults = append(session.AccumulatedResults, models.ToolResult{
		Tool:   resolved.Name,
		Output: output,
	})
	emit(progress, ProgressEvent{
		Type:      EventToolSucceeded,
		Iteration: session.IterationCount,
		Tool:      resolved.Name,
	})
	return nil
}

// resolveTool checks the breaker before any call is attempted. An open
// breaker routes to the tool's paired fallback source; with both sources
// open the session has nowhere left to read from.
func (o *Orchestrator) resolveTool(tool Tool) (Tool, error) {
	if o.breakers.Get(tool.Name).Allow() == nil {
		return tool, nil
	}

	if tool.Fallback == "" {
		return Tool{}, &errs.CircuitOpenError{
			Tool:  tool.Name,
			Until: o.breakers.Get(tool.Name).OpenUntil(),
		}
	}

	fallback, ok := o.registry.Get(tool.Fallback)
	if !ok {
		return Tool{}, fmt.Errorf("fallback tool %q not registered", tool.Fallback)
	}
	if o.breakers.Get(fallback.Name).Allow() != nil {
		return Tool{}, errNoDataSources
	}
	return fallback, nil
}

// fallbackInput rebuilds the arguments for the paired source, carrying the
// query over and filling the rest from defaults.
func fallbackInput(to Tool, input map[string]any, goal Goal) map[string]any {
	query := stringArg(input, "query", goal.Query)

	switch to.Name {
	case ToolMemorySearch:
		return map[string]any{
			"query":   query,
			"user_id": goal.UserID,
			"limit":   float64(5),
		}
	case ToolSearchDocs:
		return map[string]any{
			"query": query,
			"top_k": float64(retrieval.DefaultTopK),
		}
	}
	return map[string]any{"query": query}
}

// invoke runs one tool call under the retry policy. Each attempt is recorded
// on the session; an exhausted cycle counts as a single breaker failure.
// Invalid input and cancelled contexts are never retried.
func (o *Orchestrator) invoke(ctx context.Context, tool Tool, input map[string]any, session *models.OrchestrationSession) (any, error) {
	breaker := o.breakers.Get(tool.Name)
	policy := o.cfg.RetryPolicy

	var lastErr error

loop:
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		callStart := time.Now()
		output, err := tool.Handler(ctx, input)
		latency := time.Since(callStart)

		outcome := models.OutcomeSuccess
		if err != nil {
			outcome = models.OutcomeError
			if errors.Is(err, context.DeadlineExceeded) {
				outcome = models.OutcomeTimeout
			}
		}

		session.Attempts = append(session.Attempts, models.ToolCallAttempt{
			ToolName:      tool.Name,
			AttemptNumber: attempt,
			Outcome:       outcome,
			LatencyMS:     latency.Milliseconds(),
		})
		metrics.ToolCallsTotal.WithLabelValues(tool.Name, outcome).Inc()
		metrics.ToolCallDuration.WithLabelValues(tool.Name).Observe(latency.Seconds())

		if err == nil {
			breaker.RecordSuccess()
			return output, nil
		}
		lastErr = err

		var invalid *errs.ValidationError
		if errors.As(err, &invalid) {
			break
		}
		if ctx.Err() != nil || attempt == policy.MaxAttempts {
			break
		}

		delay := policy.DelayFor(attempt)
		logger.Warn("Tool call failed, retrying",
			zap.String("tool", tool.Name),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", policy.MaxAttempts),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			break loop
		case <-time.After(delay):
		}
	}

	// Bad input is the caller's fault and says nothing about the tool's
	// health.
	var invalid *errs.ValidationError
	if errors.As(lastErr, &invalid) {
		return nil, &errs.ToolInvocationError{Tool: tool.Name, Err: lastErr}
	}

	breaker.RecordFailure()
	return nil, &errs.ToolInvocationError{Tool: tool.Name, Err: lastErr}
}

func (o *Orchestrator) finishInterrupted(session *models.OrchestrationSession, cause error, start time.Time, progress ProgressFunc) {
	reason := "session cancelled"
	if errors.Is(cause, context.DeadlineExceeded) {
		timeoutErr := &errs.OrchestrationTimeoutError{Elapsed: time.Since(start).Round(time.Millisecond)}
		reason = timeoutErr.Error()
	}
	o.finish(session, models.SessionFailed, reason, progress)
}

func (o *Orchestrator) finish(session *models.OrchestrationSession, status, reason string, progress ProgressFunc) {
	session.Status = status
	session.FailureReason = reason
	session.FinishedAt = time.Now().UTC()

	duration := session.FinishedAt.Sub(session.StartedAt)
	metrics.SessionsTotal.WithLabelValues(status).Inc()
	metrics.SessionDuration.Observe(duration.Seconds())

	logger.Info("Session finished",
		zap.String("correlation_id", session.CorrelationID),
		zap.String("status", status),
		zap.String("reason", reason),
		zap.Int("iterations", session.IterationCount),
		zap.Int("results", len(session.AccumulatedResults)),
		zap.Duration("duration", duration),
	)
	emit(progress, ProgressEvent{
		Type:      EventSessionFinished,
		Iteration: session.IterationCount,
		Detail:    status,
	})
}

// BreakerStates snapshots tool breaker states for health reporting.
func (o *Orchestrator) BreakerStates() map[string]string {
	states := make(map[string]string)
	for name, state := range o.breakers.States() {
		states[name] = state.String()
	}
	return states
}

func emit(progress ProgressFunc, event ProgressEvent) {
	if progress != nil {
		progress(event)
	}
}
