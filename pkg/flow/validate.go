package flow

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// LintError describes a structural problem in a flow.
type LintError struct {
	NodeID  string
	Message string
}

func (e LintError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("node %q: %s", e.NodeID, e.Message)
	}
	return e.Message
}

// requiredAttrs maps each node kind to the attributes that must be present
// (non-empty).
var requiredAttrs = map[Kind][]string{
	KindRoute:      nil,
	KindSet:        {"key"},
	KindTransform:  {"source", "ops"},
	KindRegex:      {"source", "pattern", "key"},
	KindAssert:     {"expr"},
	KindSleep:      {"duration"},
	KindScript:     {"script"},
	KindHTTP:       {"url"},
	KindJSON:       {"source", "path", "key"},
	KindPrompt:     {"prompt", "key"},
	KindReply:      {"reply"},
	KindMiddleware: nil,
}

// Validate checks a flow for structural correctness. It returns all
// discovered errors, not just the first.
func Validate(f *Flow) []LintError {
	var errs []LintError
	add := func(id, format string, args ...any) {
		errs = append(errs, LintError{NodeID: id, Message: fmt.Sprintf(format, args...)})
	}

	endpoints := map[string]string{}
	for _, id := range f.Order {
		n, ok := f.Nodes[id]
		if !ok {
			add("", "order references unknown node %q", id)
			continue
		}
		if ep := n.Endpoint(); ep != "" {
			if n.Kind == KindMiddleware {
				add(id, "middleware cannot be an endpoint")
			} else if owner, dup := endpoints[ep]; dup {
				add(id, "endpoint %q already used by node %q", ep, owner)
			} else {
				endpoints[ep] = id
			}
		}
	}
	if len(endpoints) == 0 {
		add("", "flow must declare at least one endpoint node")
	}

	for _, e := range f.Edges {
		from, okFrom := f.Nodes[e.From]
		to, okTo := f.Nodes[e.To]
		if !okFrom {
			add("", "edge references unknown source node %q", e.From)
		}
		if !okTo {
			add("", "edge references unknown target node %q", e.To)
		}
		if okFrom && from.Kind == KindMiddleware {
			add(e.From, "middleware cannot have outgoing edges")
		}
		if okTo && to.Kind == KindMiddleware {
			add(e.To, "middleware cannot have incoming edges")
		}
		if okFrom && from.Kind == KindReply {
			add(e.From, "reply node cannot have outgoing edges")
		}
		if e.Condition != "" && e.Condition != "_" {
			if err := CheckCondition(e.Condition); err != nil {
				add(e.From, "edge to %q: %v", e.To, err)
			}
		}
	}

	for _, id := range f.sortedIDs() {
		n := f.Nodes[id]
		required, known := requiredAttrs[n.Kind]
		if !known {
			add(id, "unknown node type %q", n.Kind)
			continue
		}
		for _, attr := range required {
			if n.Attrs[attr] == "" {
				add(id, "missing required attribute %q for node type %q", attr, n.Kind)
			}
		}
		errs = append(errs, validateKind(f, n)...)
	}

	reachable := f.reachable()
	for _, id := range f.sortedIDs() {
		if f.Nodes[id].Kind == KindMiddleware {
			continue
		}
		if !reachable[id] {
			add(id, "node is not reachable from any endpoint or middleware")
		}
	}
	return errs
}

// validateKind runs the checks specific to a node's kind.
func validateKind(f *Flow, n *Node) []LintError {
	var errs []LintError
	add := func(format string, args ...any) {
		errs = append(errs, LintError{NodeID: n.ID, Message: fmt.Sprintf(format, args...)})
	}

	switch n.Kind {
	case KindMiddleware:
		if when := n.Attrs["when"]; when != "" {
			if err := CheckCondition(when); err != nil {
				add("when: %v", err)
			}
		}
		if target := n.Attrs["goto"]; target != "" {
			switch t, ok := f.Nodes[target]; {
			case !ok:
				add("goto target %q does not exist", target)
			case t.Kind == KindMiddleware:
				add("goto target %q is a middleware", target)
			}
			if _, ok := n.Attrs["reply"]; ok {
				add("middleware cannot both reply and goto")
			}
		}
	case KindReply:
	default:
		if len(f.OutgoingEdges(n.ID)) == 0 {
			add("node of type %q needs at least one outgoing edge", n.Kind)
		}
	}

	switch n.Kind {
	case KindAssert:
		if expr := n.Attrs["expr"]; expr != "" {
			if err := CheckCondition(expr); err != nil {
				add("expr: %v", err)
			}
		}
	case KindSleep:
		if d := n.Attrs["duration"]; d != "" {
			if _, err := time.ParseDuration(d); err != nil {
				add("invalid duration %q", d)
			}
		}
	case KindRegex:
		if n.Attrs["pattern"] != "" {
			if _, err := newRegexAction(n); err != nil {
				add("%v", err)
			}
		}
	case KindScript:
		if n.Attrs["script"] != "" {
			if _, err := newScriptAction(n, 0); err != nil {
				add("%v", err)
			}
		}
	case KindHTTP:
		if ts := n.Attrs["timeout"]; ts != "" {
			if _, err := time.ParseDuration(ts); err != nil {
				add("invalid timeout %q", ts)
			}
		}
	case KindTransform:
		for _, op := range strings.Split(n.Attrs["ops"], ",") {
			if op = strings.TrimSpace(op); op != "" && !contains(transformOps, op) {
				add("unknown transform op %q", op)
			}
		}
	}
	return errs
}

// ValidateErr calls Validate and returns nil if there are no errors, or a
// combined error message listing all lint errors.
func ValidateErr(f *Flow) error {
	errs := Validate(f)
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return fmt.Errorf("flow validation failed:\n  %s", strings.Join(msgs, "\n  "))
}

// reachable returns the set of node ids reachable from endpoints and
// middleware goto targets.
func (f *Flow) reachable() map[string]bool {
	var queue []string
	for _, n := range f.Endpoints() {
		queue = append(queue, n.ID)
	}
	for _, n := range f.Middlewares() {
		if target := n.Attrs["goto"]; target != "" {
			queue = append(queue, target)
		}
	}
	visited := map[string]bool{}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur] {
			continue
		}
		visited[cur] = true
		for _, e := range f.OutgoingEdges(cur) {
			queue = append(queue, e.To)
		}
	}
	return visited
}

func (f *Flow) sortedIDs() []string {
	ids := make([]string, 0, len(f.Nodes))
	for id := range f.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
