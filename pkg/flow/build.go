package flow

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ravi-parthasarathy/nodeflow/pkg/engine"
	"github.com/ravi-parthasarathy/nodeflow/pkg/llm"
	"github.com/ravi-parthasarathy/nodeflow/pkg/registry"
)

// DefaultModel is used by prompt nodes that name no model.
const DefaultModel = "anthropic:claude-sonnet-4-6"

// Engine is the engine type flows run on.
type Engine = engine.Engine[Request, *State, Reply]

// Registry is the registry type flows register into.
type Registry = registry.Registry[*State, Reply]

// Deps are the collaborators flow units need at run time.
type Deps struct {
	// LLM serves prompt nodes. Defaults to an llm.Router.
	LLM llm.Client
	// DefaultModel is the model ID used by prompt nodes without a model
	// attribute or stylesheet match.
	DefaultModel string
	// ScriptTimeout bounds each script node run. Defaults to one second.
	ScriptTimeout time.Duration
	// HTTPClient serves http nodes. Defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// MapRequest is the engine input mapper for flows: the request endpoint
// becomes the entry point and its vars seed a fresh State.
func MapRequest(r Request) (string, *State, error) {
	return r.Endpoint, NewState(r.Vars), nil
}

// NewEngine validates f, registers its nodes in a new registry and returns
// an engine running it.
func NewEngine(f *Flow, deps Deps, opts ...engine.Option) (*Engine, error) {
	reg := registry.New[*State, Reply]()
	if err := Register(f, reg, deps); err != nil {
		return nil, err
	}
	return engine.New[Request, *State, Reply](reg, MapRequest, opts...)
}

// Register validates f and adds one unit per node to reg. Middleware is
// added in declaration order.
func Register(f *Flow, reg *Registry, deps Deps) error {
	if f == nil {
		return fmt.Errorf("flow must not be nil")
	}
	if err := ValidateErr(f); err != nil {
		return err
	}
	if deps.LLM == nil {
		deps.LLM = llm.NewRouter()
	}
	if deps.DefaultModel == "" {
		deps.DefaultModel = DefaultModel
	}

	for _, id := range f.Order {
		n := f.Nodes[id]
		ref := engine.Ref(id)

		if n.Kind == KindMiddleware {
			mw := &middlewareUnit{node: n}
			if err := reg.AddMiddleware(ref, registry.Instance[engine.Middleware[*State, Reply]](mw)); err != nil {
				return fmt.Errorf("register %q: %w", id, err)
			}
			continue
		}

		u, err := buildUnit(f, n, deps)
		if err != nil {
			return fmt.Errorf("build node %q: %w", id, err)
		}
		if ep := n.Endpoint(); ep != "" {
			err = reg.AddEndpointNode(ref, registry.Instance[engine.EndpointNode[*State, Reply]](endpointNode{Node: u, id: ep}))
		} else {
			err = reg.AddNode(ref, registry.Instance(u))
		}
		if err != nil {
			return fmt.Errorf("register %q: %w", id, err)
		}
	}
	return nil
}

func buildUnit(f *Flow, n *Node, deps Deps) (engine.Node[*State, Reply], error) {
	if n.Kind == KindReply {
		return &replyUnit{node: n}, nil
	}

	var act action
	switch n.Kind {
	case KindRoute:
	case KindSet:
		act = setAction
	case KindTransform:
		act = transformAction
	case KindAssert:
		act = assertAction
	case KindSleep:
		act = sleepAction
	case KindRegex:
		a, err := newRegexAction(n)
		if err != nil {
			return nil, err
		}
		act = a
	case KindScript:
		a, err := newScriptAction(n, deps.ScriptTimeout)
		if err != nil {
			return nil, err
		}
		act = a
	case KindPrompt:
		act = newPromptAction(deps.LLM, deps.DefaultModel)
	case KindHTTP:
		act = newHTTPAction(deps.HTTPClient)
	case KindJSON:
		act = jsonAction
	default:
		return nil, fmt.Errorf("unknown node type %q", n.Kind)
	}
	return &unit{node: n, act: act, edges: f.OutgoingEdges(n.ID)}, nil
}
