package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ravi-parthasarathy/nodeflow/pkg/engine"
)

// Request starts a flow process at an endpoint with initial state vars.
type Request struct {
	Endpoint string         `json:"endpoint"`
	Vars     map[string]any `json:"vars,omitempty"`
}

// Button is a quick-reply option attached to a Reply.
type Button struct {
	Label   string `json:"label"`
	Payload string `json:"payload"`
}

// Reply is the output of a flow process.
type Reply struct {
	Node    string   `json:"node"`
	Text    string   `json:"text"`
	Buttons []Button `json:"buttons,omitempty"`
}

// Result is the unit result type of flow processes.
type Result = engine.NodeResult[*State, Reply]

// ErrNoRoute is returned when none of a node's outgoing edges matches the
// current state.
var ErrNoRoute = errors.New("no outgoing edge matched")

// action performs a node's side effect on the state.
type action func(ctx context.Context, n *Node, st *State) error

// unit is a non-terminal flow node: it runs its action, then follows the
// first outgoing edge whose condition holds.
type unit struct {
	node  *Node
	act   action
	edges []*Edge
}

func (u *unit) Invoke(ctx context.Context, st *State) (Result, error) {
	if u.act != nil {
		if err := u.act(ctx, u.node, st); err != nil {
			return Result{}, fmt.Errorf("%s: %w", u.node.Kind, err)
		}
	}
	next, err := selectNext(u.node.ID, u.edges, st)
	if err != nil {
		return Result{}, err
	}
	return engine.Next[Reply](engine.Ref(next), st), nil
}

// endpointNode exposes a unit under an external endpoint id.
type endpointNode struct {
	engine.Node[*State, Reply]
	id string
}

func (e endpointNode) EndpointID() string { return e.id }

// replyUnit ends the process with a rendered reply.
type replyUnit struct {
	node *Node
}

func (r *replyUnit) Invoke(_ context.Context, st *State) (Result, error) {
	reply, err := renderReply(r.node, st)
	if err != nil {
		return Result{}, err
	}
	return engine.Complete[*State](reply), nil
}

// middlewareUnit guards every process. When its condition holds it may set
// a state value, then either replies, redirects to another node, or lets the
// process continue.
type middlewareUnit struct {
	node *Node
}

func (m *middlewareUnit) ShouldRun(st *State) bool {
	when := m.node.Attrs["when"]
	if when == "" {
		return true
	}
	ok, err := EvalCondition(when, st.Snapshot())
	return err == nil && ok
}

func (m *middlewareUnit) Invoke(_ context.Context, st *State) (Result, error) {
	if key := m.node.Attrs["key"]; key != "" {
		val, err := renderTemplate(m.node.Attrs["value"], st.Snapshot())
		if err != nil {
			return Result{}, fmt.Errorf("middleware: value template: %w", err)
		}
		st.Set(key, val)
	}
	if _, ok := m.node.Attrs["reply"]; ok {
		reply, err := renderReply(m.node, st)
		if err != nil {
			return Result{}, err
		}
		return engine.Complete[*State](reply), nil
	}
	if target := m.node.Attrs["goto"]; target != "" {
		return engine.Next[Reply](engine.Ref(target), st), nil
	}
	return engine.Pass[Reply](st), nil
}

// selectNext evaluates outgoing edges in order and returns the target of
// the first one whose condition holds.
func selectNext(nodeID string, edges []*Edge, st *State) (string, error) {
	snap := st.Snapshot()
	for _, edge := range edges {
		cond := edge.Condition
		if cond == "" || cond == "_" {
			return edge.To, nil
		}
		ok, err := EvalCondition(cond, snap)
		if err != nil {
			return "", fmt.Errorf("edge %q->%q: %w", edge.From, edge.To, err)
		}
		if ok {
			return edge.To, nil
		}
	}
	return "", fmt.Errorf("node %q: %w", nodeID, ErrNoRoute)
}

func renderReply(n *Node, st *State) (Reply, error) {
	snap := st.Snapshot()
	text, err := renderTemplate(n.Attrs["reply"], snap)
	if err != nil {
		return Reply{}, fmt.Errorf("reply: text template: %w", err)
	}
	buttons, err := parseButtons(n.Attrs["buttons"], snap)
	if err != nil {
		return Reply{}, fmt.Errorf("reply: %w", err)
	}
	return Reply{Node: n.ID, Text: text, Buttons: buttons}, nil
}

// parseButtons parses "Label:payload|Label:payload". A button without a
// payload uses its label as payload.
func parseButtons(raw string, vars map[string]any) ([]Button, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	rendered, err := renderTemplate(raw, vars)
	if err != nil {
		return nil, fmt.Errorf("buttons template: %w", err)
	}
	var out []Button
	for _, item := range strings.Split(rendered, "|") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		label, payload, ok := strings.Cut(item, ":")
		label = strings.TrimSpace(label)
		if !ok {
			payload = label
		}
		if label == "" {
			return nil, fmt.Errorf("button %q: empty label", item)
		}
		out = append(out, Button{Label: label, Payload: strings.TrimSpace(payload)})
	}
	return out, nil
}
