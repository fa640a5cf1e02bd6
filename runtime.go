package blambda

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/cockroachdb/errors"
)

// Handler processes one invocation in buffered mode: the returned bytes
// become the response payload, a returned error becomes the invocation
// error. The event bytes are only valid during the call.
type Handler func(ctx *Context, event []byte) ([]byte, error)

// StreamHandler processes one invocation in streaming mode, driving the
// response through s. An error returned after the stream is open is
// reported through trailers; before that, through the ordinary error
// endpoint.
type StreamHandler func(ctx *Context, event []byte, s *Stream) error

// traceEnvVar is mutated per invocation so downstream SDK calls join the
// trace of the event being processed.
const traceEnvVar = "_X_AMZN_TRACE_ID"

const (
	pollBackoffFloor = 50 * time.Millisecond
	pollBackoffCeil  = 2 * time.Second
)

// Runtime bundles everything the loop needs: configuration snapshot,
// Runtime API client, allocators and log sink. Nothing here is a package
// global; the entry wrappers construct one Runtime and thread it through
// the loop, so there is exactly one of each by construction.
type Runtime struct {
	cfg      *Config
	client   *apiClient
	sink     *Sink
	gpa      Allocator
	arena    *Arena
	outbound http.RoundTripper
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithSink replaces the stderr log sink.
func WithSink(s *Sink) Option {
	return func(r *Runtime) { r.sink = s }
}

// WithOutboundTransport replaces the transport behind Context.NewRequest.
func WithOutboundTransport(t http.RoundTripper) Option {
	return func(r *Runtime) { r.outbound = t }
}

// New initializes a Runtime: it loads the configuration exactly once and
// prepares the Runtime API client. Returns an error when the environment is
// incomplete, in which case the process must not serve.
func New(opts ...Option) (*Runtime, error) {
	rt := &Runtime{
		gpa:      GPA{},
		arena:    NewArena(),
		outbound: defaultOutboundTransport(),
	}
	for _, opt := range opts {
		opt(rt)
	}
	if rt.sink == nil {
		rt.sink = newStderrSink()
	}

	cfg, err := LoadConfig(rt.sink)
	if err != nil {
		return nil, errors.Wrap(err, "load configuration")
	}
	rt.cfg = cfg
	rt.client = newAPIClient(cfg.RuntimeAPI)

	return rt, nil
}

// RunBuffered drives the fetch-invoke-respond loop in buffered mode until
// ctx is cancelled. On the platform ctx never is; cancellation exists for
// tests and embedders.
func (r *Runtime) RunBuffered(ctx context.Context, h Handler) error {
	for {
		inv, err := r.poll(ctx)
		if err != nil {
			return err
		}
		r.dispatchBuffered(ctx, inv, h)
	}
}

// RunStreaming drives the loop in streaming mode until ctx is cancelled.
func (r *Runtime) RunStreaming(ctx context.Context, h StreamHandler) error {
	for {
		inv, err := r.poll(ctx)
		if err != nil {
			return err
		}
		r.dispatchStreaming(ctx, inv, h)
	}
}

// poll fetches the next invocation, retrying transport failures with
// exponential backoff indefinitely. The platform offers no other recourse
// and owns the invocation deadline, so giving up is never the right move.
func (r *Runtime) poll(ctx context.Context) (*invocation, error) {
	var delay backoff
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		inv, err := r.client.next(ctx)
		if err == nil {
			return inv, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.sink.Warnf("fetching next invocation failed: %s", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay.next()):
		}
	}
}

// backoff yields the poll retry schedule: 50ms doubling up to a 2s cap.
type backoff struct {
	d time.Duration
}

func (b *backoff) next() time.Duration {
	if b.d == 0 {
		b.d = pollBackoffFloor
		return b.d
	}
	b.d *= 2
	if b.d > pollBackoffCeil {
		b.d = pollBackoffCeil
	}
	return b.d
}

// dispatchBuffered runs one buffered invocation through to its terminal
// report. Report failures are logged and swallowed: as far as the loop is
// concerned the invocation is complete either way.
func (r *Runtime) dispatchBuffered(ctx context.Context, inv *invocation, h Handler) {
	req := newRequest(inv)
	hctx, cleanup := r.enter(ctx, req)
	defer cleanup()

	body, herr := callBuffered(hctx, inv.payload, h)
	if herr != nil {
		ie := newInvokeError(herr)
		r.sink.Errorf("invocation failed: %s: %s", ie.Type, ie.Message)
		if err := r.client.postInvokeError(ctx, req.ID, ie); err != nil {
			r.sink.Errorf("reporting invocation error failed: %s", err)
		}
		return
	}
	if err := r.client.postResponse(ctx, req.ID, body); err != nil {
		r.sink.Errorf("reporting invocation response failed: %s", err)
	}
}

// dispatchStreaming runs one streaming invocation through to its terminal
// report, which may already have happened through the stream by the time
// the handler returns.
func (r *Runtime) dispatchStreaming(ctx context.Context, inv *invocation, h StreamHandler) {
	req := newRequest(inv)
	hctx, cleanup := r.enter(ctx, req)
	defer cleanup()

	stream := newStream(
		func(contentType string) (chunkWriter, error) {
			return r.client.openStream(ctx, req.ID, contentType)
		},
		func(ie *invokeError) error {
			return r.client.postInvokeError(ctx, req.ID, ie)
		},
		r.sink,
	)

	herr := callStreaming(hctx, inv.payload, stream, h)
	r.finishStream(ctx, req, stream, herr)
}

// finishStream emits the terminal report a streaming handler did not emit
// itself. Exactly one terminal report goes out per invocation: through the
// stream if it was opened, through the plain endpoints otherwise.
func (r *Runtime) finishStream(ctx context.Context, req Request, s *Stream, herr error) {
	if herr == nil {
		switch {
		case s.closed():
			// the terminator is already on the wire
		case s.opened():
			if err := s.Close(); err != nil {
				r.sink.Errorf("closing stream failed: %s", err)
			}
		default:
			// never opened: an empty buffered response completes the invocation
			if err := r.client.postResponse(ctx, req.ID, nil); err != nil {
				r.sink.Errorf("reporting invocation response failed: %s", err)
			}
		}
		return
	}

	if s.closed() {
		// the stream already carried a terminal report; the error only
		// exists process side at this point
		r.sink.Errorf("handler failed after stream close: %s", herr)
		return
	}
	if err := s.CloseWithError(herr); err != nil {
		r.sink.Errorf("reporting invocation error failed: %s", err)
	}
}

// enter prepares the per-invocation environment: trace variable, sink
// request id binding, a fresh arena and the handler context carrying the
// platform deadline. The returned cleanup undoes the bindings and resets
// the arena.
func (r *Runtime) enter(ctx context.Context, req Request) (*Context, func()) {
	if req.XRayTraceID != "" {
		os.Setenv(traceEnvVar, req.XRayTraceID)
	} else {
		os.Unsetenv(traceEnvVar)
	}
	r.sink.setRequestID(req.ID)
	r.arena.Reset()

	dctx, cancel := ctx, func() {}
	if deadline := req.Deadline(); !deadline.IsZero() {
		dctx, cancel = context.WithDeadline(ctx, deadline)
	}

	hctx := &Context{
		Context:  dctx,
		cfg:      r.cfg,
		req:      req,
		gpa:      r.gpa,
		arena:    r.arena,
		sink:     r.sink,
		outbound: r.outbound,
	}

	return hctx, func() {
		cancel()
		r.sink.setRequestID("")
		r.arena.Reset()
	}
}

// callBuffered invokes the handler, turning a panic into a reportable error
// so one bad event cannot take the sandbox down unreported.
func callBuffered(ctx *Context, event []byte, h Handler) (body []byte, err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &panicError{value: v}
		}
	}()
	return h(ctx, event)
}

// callStreaming invokes the streaming handler with the same panic barrier.
func callStreaming(ctx *Context, event []byte, s *Stream, h StreamHandler) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &panicError{value: v}
		}
	}()
	return h(ctx, event, s)
}
