package flow

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/ravi-parthasarathy/nodeflow/pkg/llm"
)

const defaultPromptMaxTokens = 1024

// setAction renders the "value" template and stores it under "key".
func setAction(_ context.Context, n *Node, st *State) error {
	val, err := renderTemplate(n.Attrs["value"], st.Snapshot())
	if err != nil {
		return fmt.Errorf("template error: %w", err)
	}
	st.Set(n.Attrs["key"], val)
	return nil
}

// transformAction applies the comma-separated "ops" to the "source" value
// and stores the result under "key" (defaults to source).
func transformAction(_ context.Context, n *Node, st *State) error {
	source := n.Attrs["source"]
	key := n.Attrs["key"]
	if key == "" {
		key = source
	}
	val := st.GetString(source)
	snap := st.Snapshot()

	for _, op := range strings.Split(n.Attrs["ops"], ",") {
		switch op = strings.TrimSpace(op); op {
		case "trim":
			val = strings.TrimSpace(val)
		case "upper":
			val = strings.ToUpper(val)
		case "lower":
			val = strings.ToLower(val)
		case "title":
			val = cases.Title(language.Und).String(val)
		case "replace":
			oldStr, err := renderTemplate(n.Attrs["old"], snap)
			if err != nil {
				return fmt.Errorf("'old' template error: %w", err)
			}
			newStr, err := renderTemplate(n.Attrs["new"], snap)
			if err != nil {
				return fmt.Errorf("'new' template error: %w", err)
			}
			val = strings.ReplaceAll(val, oldStr, newStr)
		default:
			return fmt.Errorf("unknown op %q (supported: %s)", op, strings.Join(transformOps, ", "))
		}
	}
	st.Set(key, val)
	return nil
}

var transformOps = []string{"trim", "upper", "lower", "title", "replace"}

// newRegexAction compiles the node's pattern once and returns an action
// storing the capture group (or whole match) of "source" under "key".
func newRegexAction(n *Node) (action, error) {
	re, err := regexp.Compile(n.Attrs["pattern"])
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}
	group := 0
	if g := n.Attrs["group"]; g != "" {
		group, err = strconv.Atoi(g)
		if err != nil || group < 0 {
			return nil, fmt.Errorf("group must be a non-negative integer, got %q", g)
		}
	}
	if group > re.NumSubexp() {
		return nil, fmt.Errorf("group %d out of range (pattern has %d groups)", group, re.NumSubexp())
	}

	return func(_ context.Context, n *Node, st *State) error {
		matches := re.FindStringSubmatch(st.GetString(n.Attrs["source"]))
		if matches == nil {
			st.Set(n.Attrs["key"], n.Attrs["no_match"])
			return nil
		}
		st.Set(n.Attrs["key"], matches[group])
		return nil
	}, nil
}

// assertAction fails the process when "expr" does not hold.
func assertAction(_ context.Context, n *Node, st *State) error {
	expr := n.Attrs["expr"]
	ok, err := EvalCondition(expr, st.Snapshot())
	if err != nil {
		return err
	}
	if !ok {
		msg := n.Attrs["message"]
		if msg == "" {
			msg = "assertion failed"
		}
		return fmt.Errorf("%s: expr=%q", msg, expr)
	}
	return nil
}

// sleepAction pauses for "duration". The sleep is cancellable via ctx.
func sleepAction(ctx context.Context, n *Node, _ *State) error {
	dur, err := time.ParseDuration(n.Attrs["duration"])
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", n.Attrs["duration"], err)
	}
	timer := time.NewTimer(dur)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("cancelled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// newPromptAction returns an action performing a single-turn LLM call and
// storing the text under "key" and "last_output".
func newPromptAction(client llm.Client, defaultModel string) action {
	return func(ctx context.Context, n *Node, st *State) error {
		if client == nil {
			return fmt.Errorf("no LLM client configured")
		}
		rendered, err := renderTemplate(n.Attrs["prompt"], st.Snapshot())
		if err != nil {
			return fmt.Errorf("template error: %w", err)
		}

		model := n.Attrs["model"]
		if model == "" {
			model = defaultModel
		}
		maxTokens := defaultPromptMaxTokens
		if mt := n.Attrs["max_tokens"]; mt != "" {
			if v, err := strconv.Atoi(mt); err == nil && v > 0 {
				maxTokens = v
			}
		}

		resp, err := client.Complete(ctx, llm.Request{
			Model:     model,
			System:    n.Attrs["system"],
			Messages:  []llm.Message{llm.UserMessage(rendered)},
			MaxTokens: maxTokens,
		})
		if err != nil {
			return fmt.Errorf("LLM call: %w", err)
		}
		st.Set(n.Attrs["key"], resp.Text)
		st.Set("last_output", resp.Text)
		return nil
	}
}
