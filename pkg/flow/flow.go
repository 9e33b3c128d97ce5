// Package flow builds conversational processes from Graphviz DOT files.
//
// Every DOT node becomes an engine unit. Nodes with an "endpoint" attribute
// are entry points, nodes of kind middleware run before every process, and
// edges (optionally labelled with a condition) decide where a unit hands the
// conversation state next. A reply node ends the process with the text and
// buttons to show the user.
package flow

// Kind identifies what a flow node does.
type Kind string

const (
	KindRoute      Kind = "route"
	KindSet        Kind = "set"
	KindTransform  Kind = "transform"
	KindRegex      Kind = "regex"
	KindAssert     Kind = "assert"
	KindSleep      Kind = "sleep"
	KindScript     Kind = "script"
	KindHTTP       Kind = "http"
	KindJSON       Kind = "json"
	KindPrompt     Kind = "prompt"
	KindReply      Kind = "reply"
	KindMiddleware Kind = "middleware"
)

// Node is a single vertex of a flow graph.
type Node struct {
	ID    string
	Kind  Kind
	Attrs map[string]string // all DOT attributes
}

// Endpoint returns the external id the node answers to, or "".
func (n *Node) Endpoint() string { return n.Attrs["endpoint"] }

// Edge is a directed connection between two nodes.
type Edge struct {
	From      string
	To        string
	Condition string // empty or "_" means unconditional
}

// Flow is the parsed representation of a .dot flow file.
type Flow struct {
	Name  string
	Nodes map[string]*Node
	// Order lists node ids in the order they were first declared. Middleware
	// runs in this order.
	Order      []string
	Edges      []*Edge
	Stylesheet *Stylesheet
}

// OutgoingEdges returns all edges leaving nodeID, in definition order.
func (f *Flow) OutgoingEdges(nodeID string) []*Edge {
	var out []*Edge
	for _, e := range f.Edges {
		if e.From == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// IncomingEdges returns all edges arriving at nodeID.
func (f *Flow) IncomingEdges(nodeID string) []*Edge {
	var out []*Edge
	for _, e := range f.Edges {
		if e.To == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// Endpoints returns endpoint nodes in declaration order.
func (f *Flow) Endpoints() []*Node {
	var out []*Node
	for _, id := range f.Order {
		if n := f.Nodes[id]; n.Endpoint() != "" && n.Kind != KindMiddleware {
			out = append(out, n)
		}
	}
	return out
}

// Middlewares returns middleware nodes in declaration order.
func (f *Flow) Middlewares() []*Node {
	var out []*Node
	for _, id := range f.Order {
		if n := f.Nodes[id]; n.Kind == KindMiddleware {
			out = append(out, n)
		}
	}
	return out
}

// Stylesheet holds CSS-like model configuration rules.
type Stylesheet struct {
	Rules []StyleRule
}

// StyleRule applies model settings to nodes matching a selector.
type StyleRule struct {
	Selector string // e.g. "kind[prompt]", "id[greet]" or "*"
	Model    string
}
