package flow

import (
	"fmt"
	"os"
	"strings"

	gographviz "github.com/awalterschulze/gographviz"
)

// Load reads and parses a DOT flow file.
func Load(path string) (*Flow, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read flow: %w", err)
	}
	return ParseDOT(string(src))
}

// ParseDOT parses a Graphviz DOT string into a Flow and applies its model
// stylesheet.
func ParseDOT(src string) (*Flow, error) {
	graphAst, err := gographviz.ParseString(src)
	if err != nil {
		return nil, fmt.Errorf("dot parse error: %w", err)
	}

	// gographviz.Graph rejects unknown attribute names, so collect into a
	// permissive implementation of its Interface instead.
	collector := newDOTCollector()
	if err := gographviz.Analyse(graphAst, collector); err != nil {
		return nil, fmt.Errorf("dot analyse error: %w", err)
	}

	f := &Flow{
		Name:  collector.name,
		Nodes: make(map[string]*Node, len(collector.nodes)),
		Order: collector.order,
	}
	for id, attrs := range collector.nodes {
		kind := Kind(attrs["type"])
		if kind == "" {
			kind = KindRoute
		}
		f.Nodes[id] = &Node{ID: id, Kind: kind, Attrs: attrs}
	}
	for _, e := range collector.edges {
		f.Edges = append(f.Edges, &Edge{From: e.from, To: e.to, Condition: e.condition})
	}
	if raw, ok := collector.graphAttrs["model_stylesheet"]; ok {
		f.Stylesheet = parseStylesheet(raw)
	}
	ApplyStylesheet(f)
	return f, nil
}

type rawEdge struct {
	from, to  string
	condition string
}

// dotCollector implements gographviz.Interface without attribute validation.
type dotCollector struct {
	name       string
	nodes      map[string]map[string]string
	order      []string
	edges      []rawEdge
	graphAttrs map[string]string
}

func newDOTCollector() *dotCollector {
	return &dotCollector{
		nodes:      make(map[string]map[string]string),
		graphAttrs: make(map[string]string),
	}
}

func (c *dotCollector) SetStrict(_ bool) error { return nil }
func (c *dotCollector) SetDir(_ bool) error    { return nil }
func (c *dotCollector) SetName(n string) error { c.name = unquote(n); return nil }
func (c *dotCollector) String() string         { return c.name }

func (c *dotCollector) AddNode(_ string, name string, attrs map[string]string) error {
	id := unquote(name)
	if _, ok := c.nodes[id]; !ok {
		c.nodes[id] = make(map[string]string, len(attrs))
		c.order = append(c.order, id)
	}
	for k, v := range attrs {
		c.nodes[id][k] = unquote(v)
	}
	return nil
}

func (c *dotCollector) AddEdge(src, dst string, _ bool, attrs map[string]string) error {
	from, to := unquote(src), unquote(dst)
	// Edges may mention nodes that are never declared on their own.
	for _, id := range []string{from, to} {
		if _, ok := c.nodes[id]; !ok {
			c.nodes[id] = map[string]string{}
			c.order = append(c.order, id)
		}
	}
	c.edges = append(c.edges, rawEdge{from: from, to: to, condition: unquote(attrs["label"])})
	return nil
}

func (c *dotCollector) AddPortEdge(src, _, dst, _ string, directed bool, attrs map[string]string) error {
	return c.AddEdge(src, dst, directed, attrs)
}

func (c *dotCollector) AddAttr(_ string, field, value string) error {
	c.graphAttrs[field] = unquote(value)
	return nil
}

func (c *dotCollector) AddSubGraph(_, _ string, _ map[string]string) error { return nil }

// unquote strips surrounding double-quotes from a DOT attribute value.
func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return strings.ReplaceAll(s[1:len(s)-1], `\"`, `"`)
	}
	return s
}

// parseStylesheet parses a simple CSS-like model stylesheet.
// Example: `kind[prompt] { model: "anthropic:claude-sonnet-4-6" }`
func parseStylesheet(src string) *Stylesheet {
	ss := &Stylesheet{}
	for _, part := range strings.Split(strings.TrimSpace(src), "}") {
		part = strings.TrimSpace(part)
		selector, body, ok := strings.Cut(part, "{")
		if !ok {
			continue
		}
		rule := StyleRule{Selector: strings.TrimSpace(selector)}
		for _, line := range strings.Split(body, ";") {
			k, v, ok := strings.Cut(line, ":")
			if !ok {
				continue
			}
			if strings.TrimSpace(k) == "model" {
				rule.Model = strings.Trim(strings.TrimSpace(v), `"'`)
			}
		}
		ss.Rules = append(ss.Rules, rule)
	}
	return ss
}
