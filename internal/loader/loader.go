// Package loader fetches, instantiates and starts activity modules.
//
// A module is only reachable through the Handle returned by a successful
// Load, so nothing can ask for activities before the module has started.
package loader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"example.com/activityboard/internal/domain"
	"example.com/activityboard/internal/observability"
)

var (
	// ErrLoadFailure wraps every error returned by Load.
	ErrLoadFailure = errors.New("module load failed")
	// ErrNotReady is returned when the module is requested before a successful Load.
	ErrNotReady = errors.New("module not ready")
)

// Module is a started activity module.
type Module interface {
	Activities(ctx context.Context) ([]domain.ActivityRecord, error)
	Close(ctx context.Context) error
}

// Source starts a module. Implementations return Permanent errors for
// failures a retry cannot fix.
type Source interface {
	Name() string
	Start(ctx context.Context) (Module, error)
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// State is the lifecycle position of a Loader.
type State int

const (
	StateUnloaded State = iota
	StateLoading
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Option configures optional behaviour for the Loader.
type Option func(*Loader)

// WithRetry retries failed starts with exponential backoff. maxAttempts counts
// the first attempt; values below 2 disable retry.
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(l *Loader) {
		l.maxAttempts = maxAttempts
		l.baseDelay = baseDelay
	}
}

// WithLogger overrides the logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(l *Loader) {
		l.logger = logger
	}
}

// Loader drives a Source from Unloaded to Ready.
type Loader struct {
	source      Source
	maxAttempts int
	baseDelay   time.Duration
	logger      logrus.FieldLogger

	mu       sync.Mutex
	state    State
	handle   *Handle
	inflight *loadCall
}

// loadCall is the result shared by every Load waiting on the same attempt.
type loadCall struct {
	done   chan struct{}
	handle *Handle
	err    error
}

// New constructs a Loader for the source.
func New(source Source, opts ...Option) *Loader {
	l := &Loader{
		source:      source,
		maxAttempts: 1,
		baseDelay:   500 * time.Millisecond,
		logger:      logrus.StandardLogger().WithField("component", "loader"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load starts the module and returns its handle. It blocks until the module has
// started, every attempt has failed, or ctx is done. Once Ready, further calls
// return the same handle. Calls made while a load is in flight wait for that
// load instead of starting another.
func (l *Loader) Load(ctx context.Context) (*Handle, error) {
	l.mu.Lock()
	if l.state == StateReady {
		handle := l.handle
		l.mu.Unlock()
		return handle, nil
	}
	if call := l.inflight; call != nil {
		l.mu.Unlock()
		select {
		case <-call.done:
			return call.handle, call.err
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadFailure, l.source.Name(), ctx.Err())
		}
	}
	call := &loadCall{done: make(chan struct{})}
	l.inflight = call
	l.state = StateLoading
	l.mu.Unlock()

	module, err := l.start(ctx)

	l.mu.Lock()
	l.inflight = nil
	if err != nil {
		l.state = StateFailed
		call.err = fmt.Errorf("%w: %s: %w", ErrLoadFailure, l.source.Name(), err)
	} else {
		l.handle = &Handle{module: module, source: l.source.Name()}
		l.state = StateReady
		call.handle = l.handle
	}
	l.mu.Unlock()
	close(call.done)

	return call.handle, call.err
}

// start runs the retry loop without holding the lock.
func (l *Loader) start(ctx context.Context) (Module, error) {
	log := l.logger.WithField("source", l.source.Name())
	began := time.Now()
	attempt := 0

	var module Module
	operation := func() error {
		attempt++
		m, err := l.source.Start(ctx)
		if err != nil {
			return err
		}
		module = m
		return nil
	}
	notify := func(err error, wait time.Duration) {
		log.WithError(err).WithFields(logrus.Fields{"attempt": attempt, "retry_in": wait}).Warn("module start failed, retrying")
	}

	err := backoff.RetryNotify(operation, l.policy(ctx), notify)
	observability.RecordModuleLoad(l.source.Name(), time.Since(began), err)
	if err != nil {
		log.WithError(err).WithField("attempts", attempt).Error("module load failed")
		return nil, err
	}
	log.WithFields(logrus.Fields{"attempts": attempt, "elapsed": time.Since(began)}).Info("module ready")
	return module, nil
}

// Handle returns the started module's handle, or ErrNotReady.
func (l *Loader) Handle() (*Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateReady {
		return nil, fmt.Errorf("%w: %s", ErrNotReady, l.state)
	}
	return l.handle, nil
}

// State reports the current lifecycle state.
func (l *Loader) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Close releases a started module and returns the loader to Unloaded. It has no
// effect while a load is in flight.
func (l *Loader) Close(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inflight != nil {
		return nil
	}
	if l.handle == nil {
		l.state = StateUnloaded
		return nil
	}
	err := l.handle.Close(ctx)
	l.handle = nil
	l.state = StateUnloaded
	return err
}

func (l *Loader) policy(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = l.baseDelay
	exp.MaxElapsedTime = 0

	retries := 0
	if l.maxAttempts > 1 {
		retries = l.maxAttempts - 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(retries)), ctx)
}

// Handle is the post-load accessor for a started module.
type Handle struct {
	module Module
	source string
}

// Source names the module source the handle was loaded from.
func (h *Handle) Source() string {
	return h.source
}

// Activities returns every activity record the module holds, in module order.
func (h *Handle) Activities(ctx context.Context) ([]domain.ActivityRecord, error) {
	return h.module.Activities(ctx)
}

// Close releases the module.
func (h *Handle) Close(ctx context.Context) error {
	return h.module.Close(ctx)
}
