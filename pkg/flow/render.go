package flow

import (
	"fmt"
	"sort"
	"strings"
)

// RenderDOT writes f back out as a DOT digraph: nodes in declaration order
// with sorted attributes, then edges in definition order.
func RenderDOT(f *Flow) string {
	var sb strings.Builder
	name := f.Name
	if name == "" {
		name = "flow"
	}
	fmt.Fprintf(&sb, "digraph %s {\n", quoteID(name))
	if f.Stylesheet != nil && len(f.Stylesheet.Rules) > 0 {
		var rules []string
		for _, r := range f.Stylesheet.Rules {
			rules = append(rules, fmt.Sprintf("%s { model: %s }", r.Selector, r.Model))
		}
		fmt.Fprintf(&sb, "  model_stylesheet=%s\n", quote(strings.Join(rules, " ")))
	}
	for _, id := range f.Order {
		n := f.Nodes[id]
		keys := make([]string, 0, len(n.Attrs))
		for k := range n.Attrs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		attrs := make([]string, 0, len(keys))
		for _, k := range keys {
			attrs = append(attrs, fmt.Sprintf("%s=%s", k, quote(n.Attrs[k])))
		}
		if len(attrs) == 0 {
			fmt.Fprintf(&sb, "  %s\n", quoteID(id))
			continue
		}
		fmt.Fprintf(&sb, "  %s [%s]\n", quoteID(id), strings.Join(attrs, ", "))
	}
	for _, e := range f.Edges {
		if e.Condition == "" {
			fmt.Fprintf(&sb, "  %s -> %s\n", quoteID(e.From), quoteID(e.To))
			continue
		}
		fmt.Fprintf(&sb, "  %s -> %s [label=%s]\n", quoteID(e.From), quoteID(e.To), quote(e.Condition))
	}
	sb.WriteString("}\n")
	return sb.String()
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

var dotKeywords = map[string]bool{"node": true, "edge": true, "graph": true, "digraph": true, "subgraph": true, "strict": true}

// quoteID leaves plain identifiers bare.
func quoteID(s string) string {
	if dotKeywords[strings.ToLower(s)] {
		return quote(s)
	}
	for i, c := range s {
		isLetter := c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
		if !isLetter && (i == 0 || c < '0' || c > '9') {
			return quote(s)
		}
	}
	if s == "" {
		return `""`
	}
	return s
}
