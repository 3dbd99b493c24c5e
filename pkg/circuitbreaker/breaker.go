package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

type Config struct {
	FailureThreshold uint32
	Cooldown         time.Duration
	OnStateChange    func(name string, from State, to State)
	Logger           *zap.Logger
}

// Breaker tracks consecutive failures for one named dependency. After
// FailureThreshold consecutive failures the breaker opens until the cooldown
// elapses; a success while closed resets the failure count.
type Breaker struct {
	name             string
	failureThreshold uint32
	cooldown         time.Duration
	onStateChange    func(name string, from State, to State)
	logger           *zap.Logger

	mu                  sync.Mutex
	consecutiveFailures uint32
	openUntil           time.Time
}

func New(name string, cfg Config) *Breaker {
	b := &Breaker{
		name:             name,
		failureThreshold: cfg.FailureThreshold,
		cooldown:         cfg.Cooldown,
		onStateChange:    cfg.OnStateChange,
		logger:           cfg.Logger,
	}

	if b.failureThreshold == 0 {
		b.failureThreshold = 5
	}
	if b.cooldown == 0 {
		b.cooldown = 60 * time.Second
	}

	return b
}

// Allow reports whether a call may proceed. While the breaker is open it
// returns ErrCircuitOpen without side effects.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if time.Now().Before(b.openUntil) {
		return ErrCircuitOpen
	}
	return nil
}

func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	wasOpen := time.Now().Before(b.openUntil)
	b.consecutiveFailures = 0
	b.openUntil = time.Time{}

	if wasOpen {
		b.notify(StateOpen, StateClosed)
	}
}

func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++
	if b.consecutiveFailures < b.failureThreshold {
		return
	}

	now := time.Now()
	wasOpen := now.Before(b.openUntil)
	b.openUntil = now.Add(b.cooldown)

	if !wasOpen {
		b.notify(StateClosed, StateOpen)
	}
}

func (b *Breaker) notify(from, to State) {
	if b.onStateChange != nil {
		b.onStateChange(b.name, from, to)
	}

	if b.logger != nil {
		b.logger.Info("Circuit breaker state changed",
			zap.String("name", b.name),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
			zap.Uint32("failures", b.consecutiveFailures),
		)
	}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if time.Now().Before(b.openUntil) {
		return StateOpen
	}
	return StateClosed
}

func (b *Breaker) ConsecutiveFailures() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.consecutiveFailures
}

func (b *Breaker) OpenUntil() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.openUntil
}

// Execute runs fn under the breaker: an open breaker short-circuits with
// ErrCircuitOpen, otherwise the outcome of fn is recorded.
func (b *Breaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.Allow(); err != nil {
		return err
	}

	err := fn()
	if err != nil {
		b.RecordFailure()
		return err
	}

	b.RecordSuccess()
	return nil
}

// Registry holds one breaker per dependency name, shared across concurrent
// sessions.
type Registry struct {
	cfg Config

	mu       sync.Mutex
	breakers map[string]*Breaker
}

func NewRegistry(cfg Config) *Registry {
	return &Registry{
		cfg:      cfg,
		breakers: make(map[string]*Breaker),
	}
}

func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[name]
	if !ok {
		b = New(name, r.cfg)
		r.breakers[name] = b
	}
	return b
}

// States snapshots the current state of every known breaker.
func (r *Registry) States() map[string]State {
	r.mu.Lock()
	defer r.mu.Unlock()

	states := make(map[string]State, len(r.breakers))
	for name, b := range r.breakers {
		states[name] = b.State()
	}
	return states
}
