// Package engine dispatches a typed buffer through pluggable units.
//
// A process starts at an endpoint node. Before the node graph is walked,
// every registered middleware whose predicate accepts the buffer may
// short-circuit the process, redirect it to another node, or pass an
// updated buffer along. Nodes then hand control to one another until one
// of them completes the process with an output.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/ravi-parthasarathy/nodeflow/pkg/engine"

// InputMapper turns an external input into the endpoint id to start from
// and the initial buffer.
type InputMapper[In, B any] func(in In) (endpoint string, buf B, err error)

// Engine runs processes against a Resolver. It holds no per-process state
// and is safe for concurrent use.
type Engine[In, B, O any] struct {
	resolver Resolver[B, O]
	mapInput InputMapper[In, B]
	recorder Recorder
	tracer   trace.Tracer
	maxSteps int
}

type options struct {
	recorder Recorder
	tracer   trace.Tracer
	maxSteps int
}

// Option configures an Engine.
type Option func(*options)

// WithRecorder sets where execution summaries go. Defaults to a slog
// recorder on slog.Default().
func WithRecorder(r Recorder) Option {
	return func(o *options) { o.recorder = r }
}

// WithTracerProvider sets the OpenTelemetry provider spans are created
// from. Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracer = tp.Tracer(instrumentationName) }
}

// WithMaxSteps bounds the number of nodes a single process may visit.
// Zero means unbounded.
func WithMaxSteps(n int) Option {
	return func(o *options) { o.maxSteps = n }
}

// New creates an Engine.
func New[In, B, O any](resolver Resolver[B, O], mapInput InputMapper[In, B], opts ...Option) (*Engine[In, B, O], error) {
	if resolver == nil {
		return nil, fmt.Errorf("resolver must not be nil")
	}
	if mapInput == nil {
		return nil, fmt.Errorf("input mapper must not be nil")
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxSteps < 0 {
		return nil, fmt.Errorf("max steps must not be negative, got %d", o.maxSteps)
	}
	if o.recorder == nil {
		o.recorder = NewSlogRecorder(slog.Default())
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(instrumentationName)
	}
	return &Engine[In, B, O]{
		resolver: resolver,
		mapInput: mapInput,
		recorder: o.recorder,
		tracer:   o.tracer,
		maxSteps: o.maxSteps,
	}, nil
}

// Result is the outcome of one process.
type Result[O any] struct {
	RunID     uuid.UUID
	Endpoint  string
	StartedAt time.Time
	Duration  time.Duration
	// Trace lists every unit invoked, in order.
	Trace Chain

	output    O
	hasOutput bool
	err       error
}

// Output returns the process output. The boolean is false when the process
// failed.
func (r Result[O]) Output() (O, bool) { return r.output, r.hasOutput }

// HasOutput reports whether the process completed with an output.
func (r Result[O]) HasOutput() bool { return r.hasOutput }

// Err returns the failure that stopped the process, or nil.
func (r Result[O]) Err() error { return r.err }

// Failed reports whether the process stopped on an error.
func (r Result[O]) Failed() bool { return r.err != nil }

// Process maps in to an endpoint and a buffer, then crawls the unit graph.
//
// Unknown endpoints, unresolvable units and cancellation of ctx are
// returned as errors. A unit failing on a deadline of its own is not a
// cancellation. Every other failure raised by a unit is contained: Process
// returns a nil error and a Result whose Err is set and whose output is
// absent. In all cases the returned Result carries the run id and the
// trace, and a Summary is handed to the recorder.
func (e *Engine[In, B, O]) Process(ctx context.Context, in In) (Result[O], error) {
	res := Result[O]{RunID: uuid.New(), StartedAt: time.Now()}

	ctx, span := e.tracer.Start(ctx, "nodeflow.process",
		trace.WithAttributes(attribute.String("nodeflow.run_id", res.RunID.String())))
	defer span.End()

	var chain Chain
	start, out, err := e.run(ctx, in, &res, &chain)

	res.Duration = time.Since(res.StartedAt)
	res.Trace = chain.clone()
	if err == nil {
		res.output, res.hasOutput = out, true
	} else {
		if cancelledBy(ctx, err) {
			err = newCancelError(err)
		}
		res.err = err
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(
		attribute.String("nodeflow.endpoint", res.Endpoint),
		attribute.Int("nodeflow.steps", len(chain)),
	)

	e.recorder.Record(ctx, Summary{
		RunID:     res.RunID,
		Endpoint:  res.Endpoint,
		Start:     start,
		StartedAt: res.StartedAt,
		Duration:  res.Duration,
		Success:   err == nil,
		Cancelled: errors.Is(err, ErrCancelled),
		Trace:     chain.clone(),
		Err:       err,
	})

	if err != nil && (IsConfigError(err) || errors.Is(err, ErrCancelled)) {
		return res, err
	}
	return res, nil
}

func (e *Engine[In, B, O]) run(ctx context.Context, in In, res *Result[O], chain *Chain) (Ref, O, error) {
	var zero O

	if err := ctx.Err(); err != nil {
		return "", zero, newCancelError(err)
	}
	endpoint, buf, err := e.mapInput(in)
	res.Endpoint = endpoint
	if err != nil {
		return "", zero, fmt.Errorf("map input: %w", err)
	}

	start, err := e.resolver.Endpoint(endpoint)
	if err != nil {
		return "", zero, err
	}

	out, err := e.crawl(ctx, start, buf, chain)
	return start, out, err
}
