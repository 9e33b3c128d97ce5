package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/ravi-parthasarathy/nodeflow/pkg/engine"
	"github.com/ravi-parthasarathy/nodeflow/pkg/registry"
)

type counter struct {
	Value int
}

type request struct {
	Endpoint string
	Value    int
}

type (
	reg    = registry.Registry[counter, int]
	result = engine.NodeResult[counter, int]
)

func mapRequest(r request) (string, counter, error) {
	return r.Endpoint, counter{Value: r.Value}, nil
}

func node(fn func(ctx context.Context, c counter) (result, error)) registry.Factory[engine.Node[counter, int]] {
	return registry.Instance[engine.Node[counter, int]](engine.NodeFunc[counter, int](fn))
}

func middleware(when func(counter) bool, fn func(ctx context.Context, c counter) (result, error)) registry.Factory[engine.Middleware[counter, int]] {
	return registry.Instance(engine.NewMiddleware[counter, int](when, fn))
}

func mustRegister(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("register: %v", err)
	}
}

// arithmetic registers Start(+10) -> Double(*2) -> Final(complete).
func arithmetic(t *testing.T) *reg {
	t.Helper()
	r := registry.New[counter, int]()
	mustRegister(t, r.AddEndpoint("Start", "start", node(func(_ context.Context, c counter) (result, error) {
		c.Value += 10
		return engine.Next[int]("Double", c), nil
	})))
	mustRegister(t, r.AddNode("Double", node(func(_ context.Context, c counter) (result, error) {
		c.Value *= 2
		return engine.Next[int]("Final", c), nil
	})))
	mustRegister(t, r.AddNode("Final", node(func(_ context.Context, c counter) (result, error) {
		return engine.Complete[counter](c.Value), nil
	})))
	return r
}

func newEngine(t *testing.T, r *reg, opts ...engine.Option) *engine.Engine[request, counter, int] {
	t.Helper()
	opts = append([]engine.Option{engine.WithRecorder(engine.NopRecorder)}, opts...)
	e, err := engine.New[request, counter, int](r, mapRequest, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

// process runs req and fails the test on a returned error.
func process(t *testing.T, e *engine.Engine[request, counter, int], req request) engine.Result[int] {
	t.Helper()
	res, err := e.Process(t.Context(), req)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	return res
}

func wantOutput(t *testing.T, res engine.Result[int], want int) {
	t.Helper()
	out, ok := res.Output()
	if !ok {
		t.Fatalf("no output, err = %v", res.Err())
	}
	if out != want {
		t.Errorf("output = %d, want %d", out, want)
	}
}

func wantTrace(t *testing.T, res engine.Result[int], want ...string) {
	t.Helper()
	if want == nil {
		want = []string{}
	}
	got := res.Trace.Names()
	if got == nil {
		got = []string{}
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("trace mismatch (-want +got):\n%s", diff)
	}
}

func TestProcess_ArithmeticChain(t *testing.T) {
	t.Parallel()
	res := process(t, newEngine(t, arithmetic(t)), request{Endpoint: "start", Value: 5})

	wantOutput(t, res, 30)
	wantTrace(t, res, "Start", "Double", "Final")
	if res.Failed() {
		t.Errorf("unexpected failure: %v", res.Err())
	}
	if res.RunID == uuid.Nil {
		t.Error("run id not set")
	}
}

func TestProcess_MiddlewareBeforeStart(t *testing.T) {
	t.Parallel()
	r := arithmetic(t)
	mustRegister(t, r.AddMiddleware("Middleware", middleware(
		func(c counter) bool { return c.Value > 3 },
		func(_ context.Context, c counter) (result, error) {
			c.Value += 5
			return engine.Pass[int](c), nil
		},
	)))
	e := newEngine(t, r)

	res := process(t, e, request{Endpoint: "start", Value: 5})
	wantOutput(t, res, 40)
	wantTrace(t, res, "Middleware", "Start", "Double", "Final")
	if step := res.Trace[0]; step.Kind != engine.StepMiddleware || step.Outcome != engine.KindPassthrough {
		t.Errorf("first step = %s/%s, want middleware/passthrough", step.Kind, step.Outcome)
	}

	// Below the threshold the middleware leaves no trace.
	res = process(t, e, request{Endpoint: "start", Value: 2})
	wantOutput(t, res, 24)
	wantTrace(t, res, "Start", "Double", "Final")
}

func TestProcess_MiddlewareShortCircuit(t *testing.T) {
	t.Parallel()
	r := arithmetic(t)
	mustRegister(t, r.AddMiddleware("Guard", middleware(nil, func(_ context.Context, c counter) (result, error) {
		return engine.Complete[counter](-1), nil
	})))
	var ran bool
	mustRegister(t, r.AddMiddleware("Later", middleware(nil, func(_ context.Context, c counter) (result, error) {
		ran = true
		return engine.Pass[int](c), nil
	})))

	res := process(t, newEngine(t, r), request{Endpoint: "start", Value: 5})
	wantOutput(t, res, -1)
	wantTrace(t, res, "Guard")
	if ran {
		t.Error("middleware after a short circuit ran")
	}
}

func TestProcess_MiddlewareRedirect(t *testing.T) {
	t.Parallel()
	r := arithmetic(t)
	mustRegister(t, r.AddMiddleware("Skip", middleware(nil, func(_ context.Context, c counter) (result, error) {
		c.Value = 100
		return engine.Next[int]("Final", c), nil
	})))
	var ran bool
	mustRegister(t, r.AddMiddleware("Later", middleware(nil, func(_ context.Context, c counter) (result, error) {
		ran = true
		return engine.Pass[int](c), nil
	})))

	res := process(t, newEngine(t, r), request{Endpoint: "start", Value: 5})
	wantOutput(t, res, 100)
	wantTrace(t, res, "Skip", "Final")
	if ran {
		t.Error("middleware after a redirect ran")
	}
}

func TestProcess_UnknownEndpoint(t *testing.T) {
	t.Parallel()
	var invoked bool
	r := registry.New[counter, int]()
	mustRegister(t, r.AddEndpoint("Start", "start", node(func(_ context.Context, c counter) (result, error) {
		invoked = true
		return engine.Complete[counter](1), nil
	})))

	res, err := newEngine(t, r).Process(t.Context(), request{Endpoint: "nope", Value: 1})
	if !errors.Is(err, engine.ErrEndpointNotFound) || !engine.IsConfigError(err) {
		t.Fatalf("expected ErrEndpointNotFound, got %v", err)
	}
	if invoked {
		t.Error("endpoint node ran for an unknown endpoint")
	}
	if len(res.Trace) != 0 || res.HasOutput() {
		t.Errorf("expected empty result, got %+v", res)
	}
}

func TestProcess_UnknownRedirectTarget(t *testing.T) {
	t.Parallel()
	r := registry.New[counter, int]()
	mustRegister(t, r.AddEndpoint("Start", "start", node(func(_ context.Context, c counter) (result, error) {
		return engine.Next[int]("Missing", c), nil
	})))

	res, err := newEngine(t, r).Process(t.Context(), request{Endpoint: "start"})
	if !errors.Is(err, engine.ErrUnitNotFound) {
		t.Fatalf("expected ErrUnitNotFound, got %v", err)
	}
	if !errors.Is(res.Err(), engine.ErrUnitNotFound) {
		t.Errorf("result error = %v", res.Err())
	}
	wantTrace(t, res, "Start")
}

func TestProcess_PreCancelledContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	res, err := newEngine(t, arithmetic(t)).Process(ctx, request{Endpoint: "start", Value: 5})
	if !errors.Is(err, engine.ErrCancelled) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected ErrCancelled wrapping context.Canceled, got %v", err)
	}
	if len(res.Trace) != 0 || res.HasOutput() {
		t.Errorf("expected empty result, got %+v", res)
	}
}

func TestProcess_PreCancelledBeforeMapping(t *testing.T) {
	t.Parallel()
	var mapped bool
	e, err := engine.New[request, counter, int](arithmetic(t), func(request) (string, counter, error) {
		mapped = true
		return "", counter{}, errors.New("bad input")
	}, engine.WithRecorder(engine.NopRecorder))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err = e.Process(ctx, request{})
	if !errors.Is(err, engine.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if mapped {
		t.Error("input mapper ran on a cancelled context")
	}
}

func TestProcess_CancelledMidWalk(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(t.Context())
	r := registry.New[counter, int]()
	mustRegister(t, r.AddEndpoint("Start", "start", node(func(_ context.Context, c counter) (result, error) {
		cancel()
		return engine.Next[int]("Never", c), nil
	})))
	mustRegister(t, r.AddNode("Never", node(func(_ context.Context, c counter) (result, error) {
		t.Error("node after cancellation must not run")
		return engine.Complete[counter](0), nil
	})))

	res, err := newEngine(t, r).Process(ctx, request{Endpoint: "start"})
	if !errors.Is(err, engine.ErrCancelled) || !engine.IsCancellation(err) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	wantTrace(t, res, "Start")
}

func TestProcess_UnitContextErrorAfterCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(t.Context())
	r := registry.New[counter, int]()
	mustRegister(t, r.AddEndpoint("Start", "start", node(func(ctx context.Context, c counter) (result, error) {
		cancel()
		return result{}, ctx.Err()
	})))

	_, err := newEngine(t, r).Process(ctx, request{Endpoint: "start"})
	if !errors.Is(err, engine.ErrCancelled) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected ErrCancelled wrapping context.Canceled, got %v", err)
	}
}

func TestProcess_UnitOwnDeadlineIsContained(t *testing.T) {
	t.Parallel()
	r := registry.New[counter, int]()
	mustRegister(t, r.AddEndpoint("Start", "start", node(func(_ context.Context, c counter) (result, error) {
		return result{}, context.DeadlineExceeded
	})))

	var summary engine.Summary
	e := newEngine(t, r, engine.WithRecorder(engine.RecorderFunc(func(_ context.Context, s engine.Summary) {
		summary = s
	})))
	res := process(t, e, request{Endpoint: "start"})

	if errors.Is(res.Err(), engine.ErrCancelled) || !errors.Is(res.Err(), context.DeadlineExceeded) {
		t.Fatalf("expected contained deadline failure, got %v", res.Err())
	}
	if summary.Cancelled || summary.Success {
		t.Errorf("summary = %+v, want a failure", summary)
	}
}

func TestProcess_FailureIsContained(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	r := registry.New[counter, int]()
	mustRegister(t, r.AddEndpoint("Start", "start", node(func(_ context.Context, c counter) (result, error) {
		return engine.Next[int]("Fail", c), nil
	})))
	mustRegister(t, r.AddNode("Fail", node(func(_ context.Context, c counter) (result, error) {
		return result{}, boom
	})))

	var summaries []engine.Summary
	e := newEngine(t, r, engine.WithRecorder(engine.RecorderFunc(func(_ context.Context, s engine.Summary) {
		summaries = append(summaries, s)
	})))

	res := process(t, e, request{Endpoint: "start"})
	if res.HasOutput() || !errors.Is(res.Err(), boom) {
		t.Fatalf("expected contained boom, got output=%v err=%v", res.HasOutput(), res.Err())
	}
	var unitErr *engine.UnitError
	if !errors.As(res.Err(), &unitErr) || unitErr.Ref != "Fail" {
		t.Errorf("expected UnitError at Fail, got %v", res.Err())
	}

	wantTrace(t, res, "Start", "Fail")
	if !res.Trace[1].Failed() || res.Trace[1].Outcome != engine.KindInvalid {
		t.Errorf("failed step = %+v", res.Trace[1])
	}

	if len(summaries) != 1 {
		t.Fatalf("got %d summaries, want 1", len(summaries))
	}
	s := summaries[0]
	if s.Success || s.Cancelled {
		t.Errorf("summary success=%v cancelled=%v", s.Success, s.Cancelled)
	}
	if s.Endpoint != "start" || s.Start != "Start" || s.RunID != res.RunID {
		t.Errorf("summary = %+v", s)
	}
	if !errors.Is(s.Err, boom) {
		t.Errorf("summary error = %v", s.Err)
	}
}

func TestProcess_PanicIsContained(t *testing.T) {
	t.Parallel()
	r := registry.New[counter, int]()
	mustRegister(t, r.AddEndpoint("Start", "start", node(func(_ context.Context, c counter) (result, error) {
		panic("kaboom")
	})))

	res := process(t, newEngine(t, r), request{Endpoint: "start"})
	var recErr *engine.RecoveryError
	if !errors.As(res.Err(), &recErr) {
		t.Fatalf("expected RecoveryError, got %v", res.Err())
	}
	if recErr.PanicValue != "kaboom" || recErr.StackTrace == "" {
		t.Errorf("recovery = %+v", recErr)
	}
}

func TestProcess_NodePassthroughIsInvalid(t *testing.T) {
	t.Parallel()
	r := registry.New[counter, int]()
	mustRegister(t, r.AddEndpoint("Start", "start", node(func(_ context.Context, c counter) (result, error) {
		return engine.Pass[int](c), nil
	})))
	mustRegister(t, r.AddEndpoint("Zero", "zero", node(func(_ context.Context, c counter) (result, error) {
		return result{}, nil
	})))
	e := newEngine(t, r)

	for _, endpoint := range []string{"start", "zero"} {
		res := process(t, e, request{Endpoint: endpoint})
		if !errors.Is(res.Err(), engine.ErrInvalidResult) || res.HasOutput() {
			t.Errorf("%s: expected ErrInvalidResult, got %v", endpoint, res.Err())
		}
	}
}

func TestProcess_ZeroOutputIsStillOutput(t *testing.T) {
	t.Parallel()
	r := registry.New[counter, int]()
	mustRegister(t, r.AddEndpoint("Start", "start", node(func(_ context.Context, c counter) (result, error) {
		return engine.Complete[counter](0), nil
	})))

	wantOutput(t, process(t, newEngine(t, r), request{Endpoint: "start"}), 0)
}

func TestProcess_MapperErrorIsContained(t *testing.T) {
	t.Parallel()
	bad := errors.New("bad input")
	e, err := engine.New[request, counter, int](arithmetic(t), func(request) (string, counter, error) {
		return "", counter{}, bad
	}, engine.WithRecorder(engine.NopRecorder))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res := process(t, e, request{})
	if !errors.Is(res.Err(), bad) {
		t.Errorf("result error = %v, want %v", res.Err(), bad)
	}
}

func TestProcess_Branching(t *testing.T) {
	t.Parallel()
	r := registry.New[counter, int]()
	mustRegister(t, r.AddEndpoint("Check", "check", node(func(_ context.Context, c counter) (result, error) {
		if c.Value >= 10 {
			return engine.Next[int]("High", c), nil
		}
		return engine.Next[int]("Low", c), nil
	})))
	mustRegister(t, r.AddNode("High", node(func(_ context.Context, c counter) (result, error) {
		return engine.Complete[counter](1), nil
	})))
	mustRegister(t, r.AddNode("Low", node(func(_ context.Context, c counter) (result, error) {
		return engine.Complete[counter](0), nil
	})))
	e := newEngine(t, r)

	tests := []struct {
		value int
		want  int
		trace []string
	}{
		{value: 15, want: 1, trace: []string{"Check", "High"}},
		{value: 3, want: 0, trace: []string{"Check", "Low"}},
	}
	for _, tt := range tests {
		res := process(t, e, request{Endpoint: "check", Value: tt.value})
		wantOutput(t, res, tt.want)
		wantTrace(t, res, tt.trace...)
	}
}

func TestProcess_RegistrationOrderIndependent(t *testing.T) {
	t.Parallel()
	r := registry.New[counter, int]()
	mustRegister(t, r.AddNode("Final", node(func(_ context.Context, c counter) (result, error) {
		return engine.Complete[counter](c.Value), nil
	})))
	mustRegister(t, r.AddNode("Double", node(func(_ context.Context, c counter) (result, error) {
		c.Value *= 2
		return engine.Next[int]("Final", c), nil
	})))
	mustRegister(t, r.AddEndpoint("Start", "start", node(func(_ context.Context, c counter) (result, error) {
		c.Value += 10
		return engine.Next[int]("Double", c), nil
	})))

	wantOutput(t, process(t, newEngine(t, r), request{Endpoint: "start", Value: 5}), 30)
}

func TestProcess_MaxSteps(t *testing.T) {
	t.Parallel()
	r := registry.New[counter, int]()
	mustRegister(t, r.AddEndpoint("Loop", "loop", node(func(_ context.Context, c counter) (result, error) {
		c.Value++
		return engine.Next[int]("Loop", c), nil
	})))

	res := process(t, newEngine(t, r, engine.WithMaxSteps(5)), request{Endpoint: "loop"})
	if !errors.Is(res.Err(), engine.ErrStepLimit) {
		t.Errorf("expected ErrStepLimit, got %v", res.Err())
	}
	if len(res.Trace) != 5 {
		t.Errorf("trace has %d steps, want 5", len(res.Trace))
	}
}

func TestProcess_FreshInstancePerResolution(t *testing.T) {
	t.Parallel()
	var created int
	var mu sync.Mutex
	r := registry.New[counter, int]()
	mustRegister(t, r.AddEndpoint("Start", "start", func() (engine.Node[counter, int], error) {
		mu.Lock()
		created++
		mu.Unlock()
		return engine.NodeFunc[counter, int](func(_ context.Context, c counter) (result, error) {
			return engine.Complete[counter](c.Value), nil
		}), nil
	}))
	e := newEngine(t, r)

	for range 3 {
		process(t, e, request{Endpoint: "start"})
	}
	if created != 3 {
		t.Errorf("factory called %d times, want 3", created)
	}
}

func TestProcess_Concurrent(t *testing.T) {
	t.Parallel()
	e := newEngine(t, arithmetic(t))

	var wg sync.WaitGroup
	outs := make([]int, 50)
	for i := range outs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := e.Process(context.Background(), request{Endpoint: "start", Value: i})
			if err != nil {
				return
			}
			outs[i], _ = res.Output()
		}()
	}
	wg.Wait()

	for i, out := range outs {
		if want := (i + 10) * 2; out != want {
			t.Errorf("outs[%d] = %d, want %d", i, out, want)
		}
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	if _, err := engine.New[request, counter, int](nil, mapRequest); err == nil {
		t.Error("expected error for nil resolver")
	}
	if _, err := engine.New[request, counter, int](arithmetic(t), nil); err == nil {
		t.Error("expected error for nil mapper")
	}
	if _, err := engine.New[request, counter, int](arithmetic(t), mapRequest, engine.WithMaxSteps(-1)); err == nil {
		t.Error("expected error for negative max steps")
	}
}
