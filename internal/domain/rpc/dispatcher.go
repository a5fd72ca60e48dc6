// Package rpc implements the method dispatcher (spec §4.6): a registry of
// named methods, each gated by an optional access-control predicate and an
// optional rate limit, invoked concurrently with call-id correlated
// responses.
//
// Grounded on the teacher's UpstreamRouter (internal/domain/proxy) for the
// overall shape — a method-name switch that builds a response envelope and
// never lets a handler panic escape to the transport — generalized from a
// fixed JSON-RPC method set to a registrable one, and from the teacher's
// single-upstream forwarding to in-process predicate/rate-limit gates plus
// a bounded worker pool.
package rpc

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/riptide-ws/riptide/internal/domain/conn"
	"github.com/riptide-ws/riptide/internal/domain/ratelimit"
	"github.com/riptide-ws/riptide/pkg/riptide"
)

var tracer = otel.Tracer("github.com/riptide-ws/riptide/internal/domain/rpc")

// HandlerFunc implements one RPC method. It receives the calling
// connection (for session-bag reads and ad-hoc Send) and the decoded
// args/kwargs, and returns the response value or an error. A returned
// error becomes ErrInternalError on the wire; the handler is never
// responsible for wire error codes except via ErrInvalidArguments, which
// it signals by returning InvalidArgumentsError.
type HandlerFunc func(ctx context.Context, c *conn.Connection, args []any, kwargs map[string]any) (any, error)

// InvalidArgumentsError lets a handler signal ErrInvalidArguments instead
// of the default ErrInternalError for a returned error.
type InvalidArgumentsError struct{ Msg string }

func (e InvalidArgumentsError) Error() string { return e.Msg }

// CloseDirective tells the caller to close the connection with the given
// WebSocket close code and reason once the returned response has actually
// been enqueued (spec §4.3: a disconnect_on_exceed rejection is "closed
// ... after the response is enqueued"). Dispatch never closes the
// connection itself — only the caller, who owns the Send call, can
// guarantee that ordering.
type CloseDirective struct {
	Code   int
	Reason string
}

type method struct {
	name     string
	handler  HandlerFunc
	requires riptide.Predicate
	rlConfig ratelimit.Config
	hasRL    bool
}

// Dispatcher is the method registry and invocation gate (spec §4.6).
type Dispatcher struct {
	mu       sync.RWMutex
	methods  map[string]*method
	limiter  *ratelimit.Limiter
	sem      chan struct{}
	logger   *slog.Logger
	timeout  time.Duration
}

// Option configures a Dispatcher at construction.
type Option func(*Dispatcher)

// WithMaxConcurrency bounds the number of RPC handlers running at once
// across the whole dispatcher (spec's "bounded worker pool" concurrency
// note). 0 means unbounded.
func WithMaxConcurrency(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.sem = make(chan struct{}, n)
		}
	}
}

// WithLogger overrides the default slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithCallTimeout bounds how long a single handler invocation may run
// before its context is cancelled. 0 disables the timeout.
func WithCallTimeout(d time.Duration) Option {
	return func(disp *Dispatcher) { disp.timeout = d }
}

// New creates a Dispatcher backed by limiter for rate-limit gating.
func New(limiter *ratelimit.Limiter, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		methods: make(map[string]*method),
		limiter: limiter,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// registration is the fluent builder returned by Handle, letting callers
// chain .Requires(pred).RateLimit(cfg) the way the spec's method
// registration reads (spec §4.1's "on(method, handler).requires(pred)").
type registration struct {
	d *Dispatcher
	m *method
}

// Handle registers name with fn, replacing any prior registration for the
// same name — later registrations win, matching the teacher's
// last-write-wins config layering idiom.
func (d *Dispatcher) Handle(name string, fn HandlerFunc) *registration {
	m := &method{name: name, handler: fn}
	d.mu.Lock()
	d.methods[name] = m
	d.mu.Unlock()
	return &registration{d: d, m: m}
}

// Requires attaches an access-control predicate: the method is only
// invoked when pred.Eval(caller) is true, otherwise the call fails with
// ErrAccessDenied (spec §4.2).
func (r *registration) Requires(pred riptide.Predicate) *registration {
	r.m.requires = pred
	return r
}

// RateLimit attaches a per-(connection,method) rate limit (spec §4.3).
func (r *registration) RateLimit(cfg ratelimit.Config) *registration {
	r.m.rlConfig = cfg
	r.m.hasRL = true
	return r
}

// Remove unregisters a method by name.
func (d *Dispatcher) Remove(name string) {
	d.mu.Lock()
	delete(d.methods, name)
	d.mu.Unlock()
}

// Methods lists the currently registered method names, mostly for
// introspection/tests.
func (d *Dispatcher) Methods() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.methods))
	for name := range d.methods {
		out = append(out, name)
	}
	return out
}

func (d *Dispatcher) lookup(name string) (*method, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.methods[name]
	return m, ok
}

// Dispatch gates and invokes req against c, returning the Response-variant
// RPC envelope to send back and, when the connection must be dropped as a
// consequence (e.g. a disconnect_on_exceed rate limit), a non-nil
// CloseDirective the caller must act on only after it has sent resp. It
// never panics or returns a transport-level error: every failure mode
// becomes a wire-level ErrorCode (spec §4.6), including a recovered
// handler panic (-> ErrInternalError).
func (d *Dispatcher) Dispatch(ctx context.Context, c *conn.Connection, req riptide.RPC) (resp riptide.RPC, closeAfter *CloseDirective) {
	ctx, span := tracer.Start(ctx, "rpc.dispatch",
		trace.WithAttributes(attribute.String("rpc.method", req.Method), attribute.String("rpc.call_id", req.CallID)))
	defer span.End()

	m, ok := d.lookup(req.Method)
	if !ok {
		span.SetStatus(codes.Error, "method not found")
		return errResponse(req.CallID, riptide.ErrMethodNotFound), nil
	}

	if m.requires != nil && !m.requires.Eval(c) {
		d.logger.Debug("rpc access denied", "method", req.Method, "conn", c.ID())
		span.SetStatus(codes.Error, "access denied")
		return errResponse(req.CallID, riptide.ErrAccessDenied), nil
	}

	if m.hasRL && d.limiter != nil {
		if !d.limiter.Allow(c.ID(), req.Method, m.rlConfig) {
			span.SetStatus(codes.Error, "rate limited")
			resp := errResponse(req.CallID, riptide.ErrRateLimited)
			if m.rlConfig.DisconnectOnExceed {
				return resp, &CloseDirective{Code: conn.ClosePolicyViolation, Reason: "rate limit exceeded"}
			}
			return resp, nil
		}
	}

	if d.sem != nil {
		select {
		case d.sem <- struct{}{}:
			defer func() { <-d.sem }()
		case <-ctx.Done():
			span.SetStatus(codes.Error, "context cancelled waiting for a worker slot")
			return errResponse(req.CallID, riptide.ErrInternalError), nil
		}
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if d.timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	return d.invoke(callCtx, c, m, req), nil
}

// invoke runs the handler with panic recovery, keeping one bad handler
// from taking down the connection's read loop.
func (d *Dispatcher) invoke(ctx context.Context, c *conn.Connection, m *method, req riptide.RPC) (resp riptide.RPC) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("rpc handler panicked", "method", m.name, "panic", r)
			resp = errResponse(req.CallID, riptide.ErrInternalError)
		}
	}()

	result, err := m.handler(ctx, c, req.Args, req.Kwargs)
	if err != nil {
		var invalid InvalidArgumentsError
		if asInvalidArgs(err, &invalid) {
			return errResponse(req.CallID, riptide.ErrInvalidArguments)
		}
		d.logger.Warn("rpc handler error", "method", m.name, "error", err)
		return errResponse(req.CallID, riptide.ErrInternalError)
	}

	// result may legitimately be nil, 0, "", false, or an empty slice —
	// NewResponse carries it through untouched (spec's falsy-safe
	// response requirement).
	return riptide.NewResponse(req.CallID, result, nil)
}

func asInvalidArgs(err error, target *InvalidArgumentsError) bool {
	if ia, ok := err.(InvalidArgumentsError); ok {
		*target = ia
		return true
	}
	return false
}

func errResponse(callID string, code riptide.ErrorCode) riptide.RPC {
	c := code
	return riptide.NewResponse(callID, nil, &c)
}
