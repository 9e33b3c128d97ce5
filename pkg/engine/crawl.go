package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// crawl runs the middleware pass and then walks the node graph from the
// entry node (or from wherever a middleware redirected) until a unit
// completes the process.
func (e *Engine[In, B, O]) crawl(ctx context.Context, entry Ref, buf B, chain *Chain) (O, error) {
	var zero O
	start := entry

middleware:
	for _, ref := range e.resolver.Middlewares() {
		if err := ctx.Err(); err != nil {
			return zero, newCancelError(fmt.Errorf("before middleware %q: %w", ref, err))
		}

		mw, err := e.resolver.Middleware(ref)
		if err != nil {
			return zero, err
		}
		run, err := shouldRun(mw, buf)
		if err != nil {
			return zero, &UnitError{Kind: StepMiddleware, Ref: ref, Err: err}
		}
		if !run {
			continue
		}

		res, err := e.invoke(ctx, StepMiddleware, ref, mw, buf, chain)
		if err != nil {
			return zero, err
		}
		switch res.kind {
		case KindCompleted:
			return res.out, nil
		case KindProlonged:
			start, buf = res.next, res.buf
			break middleware
		case KindPassthrough:
			buf = res.buf
		default:
			return zero, fmt.Errorf("middleware %q: %w: %s", ref, ErrInvalidResult, res.kind)
		}
	}

	current := start
	for steps := 1; ; steps++ {
		if err := ctx.Err(); err != nil {
			return zero, newCancelError(fmt.Errorf("before node %q: %w", current, err))
		}
		if e.maxSteps > 0 && steps > e.maxSteps {
			return zero, fmt.Errorf("node %q: %w (%d)", current, ErrStepLimit, e.maxSteps)
		}

		node, err := e.resolver.Node(current)
		if err != nil {
			return zero, err
		}

		res, err := e.invoke(ctx, StepNode, current, node, buf, chain)
		if err != nil {
			return zero, err
		}
		switch res.kind {
		case KindCompleted:
			return res.out, nil
		case KindProlonged:
			current, buf = res.next, res.buf
		default:
			return zero, fmt.Errorf("node %q: %w: %s", current, ErrInvalidResult, res.kind)
		}
	}
}

// invoke calls one unit inside its own span and appends the step to chain,
// whatever the outcome.
func (e *Engine[In, B, O]) invoke(
	ctx context.Context,
	kind StepKind,
	ref Ref,
	n Node[B, O],
	buf B,
	chain *Chain,
) (res NodeResult[B, O], err error) {
	ctx, span := e.tracer.Start(ctx, "nodeflow."+kind.String(),
		trace.WithAttributes(
			attribute.String("nodeflow.ref", string(ref)),
			attribute.String("nodeflow.kind", kind.String()),
		))
	started := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = &RecoveryError{PanicValue: r, StackTrace: string(debug.Stack())}
		}
		step := Step{Kind: kind, Ref: ref, Duration: time.Since(started)}
		if err != nil {
			err = &UnitError{Kind: kind, Ref: ref, Err: err}
			step.Err = err
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			step.Outcome = res.kind
		}
		span.SetAttributes(attribute.String("nodeflow.outcome", step.Outcome.String()))
		span.End()
		*chain = append(*chain, step)
	}()

	return n.Invoke(ctx, buf)
}

func shouldRun[B, O any](mw Middleware[B, O], buf B) (run bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &RecoveryError{PanicValue: r, StackTrace: string(debug.Stack())}
		}
	}()
	return mw.ShouldRun(buf), nil
}
