package natsbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ravi-parthasarathy/nodeflow/pkg/engine"
	"github.com/ravi-parthasarathy/nodeflow/pkg/flow"
	"github.com/ravi-parthasarathy/nodeflow/pkg/llm"
)

// Response codes.
const (
	CodeOK               = "ok"
	CodeEmpty            = "empty"
	CodeBadRequest       = "bad_request"
	CodeEndpointNotFound = "endpoint_not_found"
	CodeUnitNotFound     = "unit_not_found"
	CodeCancelled        = "cancelled"
	CodeFailed           = "failed"
)

// Processor runs one flow request. *flow.Engine implements it.
type Processor interface {
	Process(ctx context.Context, req flow.Request) (engine.Result[flow.Reply], error)
}

// Step is the wire form of one trace entry.
type Step struct {
	Kind       string  `json:"kind"`
	Ref        string  `json:"ref"`
	Outcome    string  `json:"outcome"`
	DurationMS float64 `json:"duration_ms"`
	Error      string  `json:"error,omitempty"`
}

// Response is the reply published for every request.
type Response struct {
	RunID string `json:"run_id,omitempty"`
	OK    bool   `json:"ok"`
	Code  string `json:"code"`
	Error string `json:"error,omitempty"`
	// Retryable is set when the failure came from a rate limit or a
	// provider outage.
	Retryable bool        `json:"retryable,omitempty"`
	Reply     *flow.Reply `json:"reply,omitempty"`
	Trace     []Step      `json:"trace,omitempty"`
}

// Server consumes requests from a NATS queue group and replies with the
// process outcome.
type Server struct {
	conn   *nats.Conn
	proc   Processor
	cfg    Config
	logger *zap.Logger
}

// NewServer creates a Server. conn may be nil when only Handle is used.
func NewServer(conn *nats.Conn, proc Processor, cfg Config, logger *zap.Logger) (*Server, error) {
	if proc == nil {
		return nil, fmt.Errorf("processor cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{conn: conn, proc: proc, cfg: cfg, logger: logger}, nil
}

// Serve subscribes to the configured subject and processes requests with at
// most cfg.Workers in flight. It blocks until ctx is cancelled, then
// unsubscribes, answers every request still buffered with CodeCancelled and
// waits for in-flight requests.
func (s *Server) Serve(ctx context.Context) error {
	if s.conn == nil {
		return fmt.Errorf("serve: no NATS connection")
	}

	msgs := make(chan *nats.Msg, s.cfg.Workers)
	sub, err := s.conn.ChanQueueSubscribe(s.cfg.Subject, s.cfg.Queue, msgs)
	if err != nil {
		return fmt.Errorf("subscribe %q: %w", s.cfg.Subject, err)
	}
	s.logger.Info("serving flow requests",
		zap.String("subject", s.cfg.Subject),
		zap.String("queue", s.cfg.Queue),
		zap.Int("workers", s.cfg.Workers))

	var g errgroup.Group
	slots := semaphore.NewWeighted(int64(s.cfg.Workers))

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case msg := <-msgs:
			if err := slots.Acquire(ctx, 1); err != nil {
				s.reject(msg)
				break loop
			}
			g.Go(func() error {
				defer slots.Release(1)
				s.serveMsg(ctx, msg)
				return nil
			})
		}
	}

	s.logger.Info("shutting down flow server")
	if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		s.logger.Warn("unsubscribe failed", zap.Error(err))
	}
	if n := s.drain(msgs); n > 0 {
		s.logger.Info("rejected buffered requests", zap.Int("count", n))
	}
	_ = g.Wait()
	return ctx.Err()
}

// drain rejects every message left in msgs without blocking.
func (s *Server) drain(msgs <-chan *nats.Msg) int {
	n := 0
	for {
		select {
		case msg := <-msgs:
			s.reject(msg)
			n++
		default:
			return n
		}
	}
}

func (s *Server) reject(msg *nats.Msg) {
	if msg.Reply == "" {
		return
	}
	if err := msg.Respond(shutdownResponse()); err != nil {
		s.logger.Warn("failed to reject request", zap.String("subject", msg.Subject), zap.Error(err))
	}
}

func shutdownResponse() []byte {
	out, _ := json.Marshal(Response{Code: CodeCancelled, Error: "server shutting down"})
	return out
}

func (s *Server) serveMsg(ctx context.Context, msg *nats.Msg) {
	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}
	start := time.Now()
	data := s.Handle(ctx, msg.Data)
	if msg.Reply == "" {
		s.logger.Debug("request had no reply subject", zap.String("subject", msg.Subject))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Error("failed to publish response", zap.Error(err))
		return
	}
	s.logger.Debug("request served", zap.Duration("duration", time.Since(start)))
}

// Handle decodes a JSON flow.Request, processes it and returns the encoded
// Response.
func (s *Server) Handle(ctx context.Context, data []byte) []byte {
	resp := s.handle(ctx, data)
	out, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
		out, _ = json.Marshal(Response{Code: CodeFailed, Error: "encode response: " + err.Error()})
	}
	return out
}

func (s *Server) handle(ctx context.Context, data []byte) Response {
	var req flow.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Response{Code: CodeBadRequest, Error: fmt.Sprintf("decode request: %v", err)}
	}
	if req.Endpoint == "" {
		return Response{Code: CodeBadRequest, Error: "endpoint is required"}
	}

	res, err := s.proc.Process(ctx, req)
	resp := NewResponse(res, err)
	if !resp.OK {
		s.logger.Warn("flow request did not complete",
			zap.String("run_id", resp.RunID),
			zap.String("endpoint", req.Endpoint),
			zap.String("code", resp.Code),
			zap.String("error", resp.Error))
	}
	return resp
}

// NewResponse converts the outcome of one process to its wire form.
func NewResponse(res engine.Result[flow.Reply], err error) Response {
	resp := Response{RunID: res.RunID.String(), Trace: wireTrace(res.Trace)}
	switch {
	case err != nil:
		resp.Code = errorCode(err)
		resp.Error = err.Error()
	case res.Failed():
		resp.Code = CodeFailed
		resp.Error = res.Err().Error()
		resp.Retryable = llm.Transient(res.Err())
	case !res.HasOutput():
		resp.Code = CodeEmpty
	default:
		reply, _ := res.Output()
		resp.OK, resp.Code, resp.Reply = true, CodeOK, &reply
	}
	return resp
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, engine.ErrEndpointNotFound):
		return CodeEndpointNotFound
	case errors.Is(err, engine.ErrUnitNotFound):
		return CodeUnitNotFound
	case errors.Is(err, engine.ErrCancelled):
		return CodeCancelled
	default:
		return CodeFailed
	}
}

func wireTrace(chain engine.Chain) []Step {
	if len(chain) == 0 {
		return nil
	}
	out := make([]Step, len(chain))
	for i, st := range chain {
		out[i] = Step{
			Kind:       st.Kind.String(),
			Ref:        string(st.Ref),
			Outcome:    st.Outcome.String(),
			DurationMS: float64(st.Duration.Microseconds()) / 1000,
		}
		if st.Err != nil {
			out[i].Error = st.Err.Error()
		}
	}
	return out
}
