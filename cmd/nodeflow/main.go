package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ravi-parthasarathy/nodeflow/pkg/config"
	"github.com/ravi-parthasarathy/nodeflow/pkg/engine"
	"github.com/ravi-parthasarathy/nodeflow/pkg/flow"
	"github.com/ravi-parthasarathy/nodeflow/pkg/natsbridge"
	"github.com/ravi-parthasarathy/nodeflow/pkg/report"
	"github.com/ravi-parthasarathy/nodeflow/pkg/telemetry"

	// Register all LLM providers via their init() functions.
	_ "github.com/ravi-parthasarathy/nodeflow/pkg/llm/providers"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// app holds what every subcommand shares once flags are parsed.
type app struct {
	configPath string
	logLevel   string

	cfg    config.Config
	logger *zap.Logger
	hub    *sentry.Hub
}

func rootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "nodeflow",
		Short: "nodeflow runs conversational flows defined as DOT graphs",
		Long: `nodeflow dispatches requests through DOT-defined flows.

Nodes with an endpoint attribute are entry points, middleware nodes guard
every request, and edge labels decide where the conversation goes next.`,
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.setup()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			a.teardown()
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level override: debug, info, warn or error")

	root.AddCommand(runCmd(a))
	root.AddCommand(lintCmd(a))
	root.AddCommand(graphCmd(a))
	root.AddCommand(serveCmd(a))
	return root
}

func (a *app) setup() error {
	a.cfg = config.Default()
	if a.configPath != "" {
		cfg, err := config.Load(a.configPath)
		if err != nil {
			return err
		}
		a.cfg = cfg
	}
	if a.logLevel != "" {
		a.cfg.Log.Level = a.logLevel
	}
	logger, err := telemetry.NewLogger(a.cfg.Log.Level, a.cfg.Log.Format)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	a.logger = logger

	if a.cfg.Sentry.DSN != "" {
		client, err := sentry.NewClient(sentry.ClientOptions{
			Dsn:         a.cfg.Sentry.DSN,
			Environment: a.cfg.Sentry.Environment,
		})
		if err != nil {
			return fmt.Errorf("init sentry: %w", err)
		}
		a.hub = sentry.NewHub(client, sentry.NewScope())
	}
	return nil
}

func (a *app) teardown() {
	if a.hub != nil {
		a.hub.Flush(2 * time.Second)
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

// flowPath picks the flow file from the arguments or the config file.
func (a *app) flowPath(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	if a.cfg.Flow != "" {
		return a.cfg.Flow, nil
	}
	return "", errors.New("no flow file given (pass one or set flow in the config file)")
}

func (a *app) loadFlow(args []string) (*flow.Flow, error) {
	path, err := a.flowPath(args)
	if err != nil {
		return nil, err
	}
	f, err := flow.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return f, nil
}

// buildEngine builds an engine for f with tracing set up. The returned function
// flushes the tracer provider.
func (a *app) buildEngine(ctx context.Context, f *flow.Flow) (*flow.Engine, func(), error) {
	shutdown, err := telemetry.SetupTracing(ctx, a.cfg.Tracing, a.logger)
	if err != nil {
		return nil, nil, err
	}
	recorders := []engine.Recorder{telemetry.NewZapRecorder(a.logger)}
	if a.hub != nil {
		recorders = append(recorders, telemetry.NewSentryRecorder(a.hub))
	}
	eng, err := flow.NewEngine(f, flow.Deps{
		DefaultModel:  a.cfg.LLM.DefaultModel,
		ScriptTimeout: a.cfg.Script.Timeout,
	},
		engine.WithRecorder(engine.Recorders(recorders...)),
		engine.WithMaxSteps(a.cfg.Engine.MaxSteps),
	)
	if err != nil {
		_ = telemetry.ShutdownTracing(shutdown, a.logger)
		return nil, nil, fmt.Errorf("build engine: %w", err)
	}
	return eng, func() { _ = telemetry.ShutdownTracing(shutdown, a.logger) }, nil
}

// ─── run ──────────────────────────────────────────────────────────────────────

func runCmd(a *app) *cobra.Command {
	var (
		endpoint string
		vars     []string
		asJSON   bool
		format   string
	)

	cmd := &cobra.Command{
		Use:   "run [flow.dot]",
		Short: "Process a single request through a flow",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := report.ParseMode(format)
			if err != nil {
				return err
			}
			values, err := parseVars(vars)
			if err != nil {
				return err
			}
			f, err := a.loadFlow(args)
			if err != nil {
				return err
			}
			if endpoint == "" {
				eps := f.Endpoints()
				if len(eps) == 0 {
					return errors.New("flow has no endpoints")
				}
				endpoint = eps[0].Endpoint()
			}

			ctx := signalContext(cmd.Context())
			eng, done, err := a.buildEngine(ctx, f)
			if err != nil {
				return err
			}
			defer done()

			res, err := eng.Process(ctx, flow.Request{Endpoint: endpoint, Vars: values})
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(natsbridge.NewResponse(res, err)); encErr != nil {
					return encErr
				}
			} else {
				printResult(cmd.OutOrStdout(), res, mode)
			}
			if err != nil {
				return err
			}
			return res.Err()
		},
	}

	cmd.Flags().StringVar(&endpoint, "endpoint", "", "endpoint to start from (default: first endpoint in the flow)")
	cmd.Flags().StringArrayVar(&vars, "var", nil, "initial state value as key=value (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the response as JSON")
	cmd.Flags().StringVar(&format, "format", "text", "trace table format: text or markdown")
	return cmd
}

func printResult(w io.Writer, res engine.Result[flow.Reply], mode report.Mode) {
	if reply, ok := res.Output(); ok {
		fmt.Fprintf(w, "%s\n", reply.Text)
		for _, b := range reply.Buttons {
			fmt.Fprintf(w, "  [%s] -> %s\n", b.Label, b.Payload)
		}
		fmt.Fprintln(w)
	}
	if len(res.Trace) > 0 {
		fmt.Fprint(w, report.Trace(res.Trace, mode))
		fmt.Fprintln(w)
	}
}

// parseVars turns key=value pairs into initial state.
func parseVars(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --var %q: want key=value", p)
		}
		out[k] = v
	}
	return out, nil
}

// ─── lint ─────────────────────────────────────────────────────────────────────

func lintCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "lint [flow.dot]",
		Short: "Validate a flow DOT file without running it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := a.loadFlow(args)
			if err != nil {
				return err
			}
			if err := flow.ValidateErr(f); err != nil {
				return err
			}
			eps := make([]string, 0)
			for _, n := range f.Endpoints() {
				eps = append(eps, n.Endpoint())
			}
			sort.Strings(eps)
			fmt.Fprintf(cmd.OutOrStdout(), "OK: flow %q is valid (%d nodes, %d edges, %d middleware, endpoints: %s)\n",
				f.Name, len(f.Nodes), len(f.Edges), len(f.Middlewares()), strings.Join(eps, ", "))
			return nil
		},
	}
}

// ─── serve ────────────────────────────────────────────────────────────────────

func serveCmd(a *app) *cobra.Command {
	var natsURL string

	cmd := &cobra.Command{
		Use:   "serve [flow.dot]",
		Short: "Serve flow requests over NATS request/reply",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := a.loadFlow(args)
			if err != nil {
				return err
			}
			ctx := signalContext(cmd.Context())
			eng, done, err := a.buildEngine(ctx, f)
			if err != nil {
				return err
			}
			defer done()

			if natsURL != "" {
				a.cfg.NATS.URL = natsURL
			}
			conn, err := natsbridge.Connect(ctx, a.cfg.NATS, a.logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := natsbridge.Close(conn); err != nil {
					a.logger.Warn("close NATS connection", zap.Error(err))
				}
			}()

			srv, err := natsbridge.NewServer(conn, eng, a.cfg.NATS, a.logger)
			if err != nil {
				return err
			}
			if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&natsURL, "nats-url", "", "NATS server URL (overrides the config file)")
	return cmd
}

// signalContext returns a context that is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(ch)
		select {
		case <-ch:
			fmt.Fprintln(os.Stderr, "\n[nodeflow] interrupted, cancelling")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx
}
