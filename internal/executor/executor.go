// Package executor dispatches tool calls to registered providers: single
// calls, bounded concurrent batches, and dependency-ordered multi-phase
// bundles. Failure is a value at this boundary: handler errors, panics,
// and timeouts all become classified failure responses, never Go errors
// or escaped panics.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/basinworks/toolplane/internal/call"
	"github.com/basinworks/toolplane/internal/registry"
	"github.com/basinworks/toolplane/internal/resilience"
)

// Defaults applied when Config leaves fields zero.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxParallel = 4
)

// Config holds executor tuning.
type Config struct {
	// DefaultTimeout bounds each provider invocation. Zero means the
	// package default.
	DefaultTimeout time.Duration

	// ToolTimeouts overrides the timeout per tool name.
	ToolTimeouts map[string]time.Duration

	// MaxParallel is the default in-flight bound for parallel execution.
	MaxParallel int

	// RetryAttempts enables bounded retry of retryable failures for
	// query tools. Values <= 1 disable retry.
	RetryAttempts int

	// RetryDelay is the fixed delay between retry attempts.
	RetryDelay time.Duration

	// RateLimit caps dispatched calls per second across the executor.
	// Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the rate limiter burst size.
	RateBurst int

	// Classifier supplies alternative-tool suggestions on failures.
	Classifier *resilience.Classifier

	// Log is the operational logger. Nil means slog.Default.
	Log *slog.Logger

	// Tracer emits a span per provider invocation. Nil means the global
	// tracer (a no-op unless the embedding application installs an SDK).
	Tracer trace.Tracer

	// Now overrides time.Now for testing.
	Now func() time.Time
}

// Executor dispatches requests against a registry of providers.
type Executor struct {
	reg        *registry.Registry
	classifier *resilience.Classifier
	log        *slog.Logger
	tracer     trace.Tracer
	now        func() time.Time

	defaultTimeout time.Duration
	toolTimeouts   map[string]time.Duration
	maxParallel    int
	retryAttempts  int
	retryDelay     time.Duration

	reliability *reliability
}

// New creates an executor over the given registry.
func New(reg *registry.Registry, cfg Config) *Executor {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer("toolplane/executor")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	timeout := cfg.DefaultTimeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxParallel := cfg.MaxParallel
	if maxParallel <= 0 {
		maxParallel = DefaultMaxParallel
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 100 * time.Millisecond
	}

	return &Executor{
		reg:            reg,
		classifier:     cfg.Classifier,
		log:            log.With("component", "executor"),
		tracer:         tracer,
		now:            now,
		defaultTimeout: timeout,
		toolTimeouts:   cfg.ToolTimeouts,
		maxParallel:    maxParallel,
		retryAttempts:  cfg.RetryAttempts,
		retryDelay:     retryDelay,
		reliability:    newReliability(cfg.RateLimit, cfg.RateBurst),
	}
}

// MaxParallel returns the default in-flight bound.
func (e *Executor) MaxParallel() int { return e.maxParallel }

// Execute dispatches a single request and always returns a Response:
// resolution failures, handler errors, panics, and timeouts are captured
// as classified failures.
func (e *Executor) Execute(ctx context.Context, req call.Request) call.Response {
	start := e.now()

	desc, err := e.reg.Describe(req.Tool)
	if err != nil {
		return e.failure(req, registry.Descriptor{}, start, err)
	}
	provider, err := e.reg.Get(desc.Provider)
	if err != nil {
		return e.failure(req, desc, start, err)
	}

	ctx, span := e.tracer.Start(ctx, "tool.execute",
		trace.WithAttributes(
			attribute.String("tool.name", desc.Name),
			attribute.String("tool.provider", desc.Provider),
			attribute.String("tool.kind", string(desc.Kind)),
		))
	defer span.End()

	data, err := e.dispatch(ctx, provider, desc, req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return e.failure(req, desc, start, err)
	}

	span.SetStatus(codes.Ok, "")
	return call.OK(data, e.metadata(desc.Provider, start))
}

// dispatch runs the provider handler through the rate limiter and the
// provider's circuit breaker. Retryable failures of query tools are
// retried inside the breaker so one logical call counts as one breaker
// execution; command tools never retry.
func (e *Executor) dispatch(ctx context.Context, p registry.Provider, desc registry.Descriptor, req call.Request) (any, error) {
	if err := e.reliability.wait(ctx); err != nil {
		return nil, err
	}

	return e.reliability.call(desc.Provider, func() (any, error) {
		if desc.Kind != registry.KindQuery || e.retryAttempts <= 1 {
			return e.invokeOnce(ctx, p, desc, req)
		}

		var data any
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(uint(e.retryAttempts)),
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				return e.retryDelay
			}),
			retry.RetryIf(func(err error) bool {
				retryable := resilience.Classify(err).Type == call.ErrorRetryable
				if retryable {
					e.log.Debug("retrying tool call", "tool", desc.Name, "error", err)
				}
				return retryable
			}),
		)
		err := r.Do(func() error {
			var callErr error
			data, callErr = e.invokeOnce(ctx, p, desc, req)
			return callErr
		})
		return data, err
	})
}

// invokeOnce runs one handler invocation with panic recovery and the
// per-tool timeout. Once submitted, a call either completes or times out;
// there is no mid-flight cancellation beyond the context handed to the
// handler.
func (e *Executor) invokeOnce(ctx context.Context, p registry.Provider, desc registry.Descriptor, req call.Request) (any, error) {
	timeout := e.timeoutFor(desc.Name)
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		data any
		err  error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("handler panic: %v", r)}
			}
		}()
		data, err := p.Invoke(cctx, desc.Name, req.Args)
		done <- outcome{data: data, err: err}
	}()

	select {
	case o := <-done:
		return o.data, o.err
	case <-cctx.Done():
		if ctx.Err() != nil {
			return nil, fmt.Errorf("call canceled: %w", ctx.Err())
		}
		return nil, fmt.Errorf("timeout: tool %s exceeded %s", desc.Name, timeout)
	}
}

func (e *Executor) timeoutFor(tool string) time.Duration {
	if t, ok := e.toolTimeouts[tool]; ok && t > 0 {
		return t
	}
	return e.defaultTimeout
}

func (e *Executor) failure(req call.Request, desc registry.Descriptor, start time.Time, err error) call.Response {
	detail := resilience.Classify(err)
	if desc.Name != "" {
		detail.AlternativeTools = e.classifier.Alternatives(desc, e.reg)
	}
	e.log.Warn("tool call failed",
		"tool", req.Tool, "provider", desc.Provider, "type", string(detail.Type), "error", err)
	return call.Failure(detail, e.metadata(desc.Provider, start))
}

func (e *Executor) metadata(provider string, start time.Time) call.Metadata {
	now := e.now()
	return call.Metadata{
		Provider:       provider,
		Timestamp:      now,
		DurationMillis: now.Sub(start).Milliseconds(),
	}
}
