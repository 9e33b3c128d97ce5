package flow

import "strings"

// ApplyStylesheet sets the "model" attribute of prompt nodes matched by the
// flow's stylesheet. Later rules win, and a model set on the node itself is
// never overridden.
func ApplyStylesheet(f *Flow) {
	if f.Stylesheet == nil {
		return
	}
	for _, node := range f.Nodes {
		if node.Kind != KindPrompt || node.Attrs["model"] != "" {
			continue
		}
		var model string
		for _, rule := range f.Stylesheet.Rules {
			if rule.Model != "" && matchesSelector(rule.Selector, node) {
				model = rule.Model
			}
		}
		if model != "" {
			node.Attrs["model"] = model
		}
	}
}

// matchesSelector returns true if the node matches the given selector.
// Supported selectors:
//   - "*"              all nodes
//   - "kind[prompt]"   nodes of that kind ("type[...]" is accepted too)
//   - "id[greet]"      the node with that id
func matchesSelector(selector string, node *Node) bool {
	selector = strings.TrimSpace(selector)
	if selector == "*" {
		return true
	}
	name, arg, ok := strings.Cut(strings.TrimSuffix(selector, "]"), "[")
	if !ok {
		return false
	}
	switch name {
	case "kind", "type":
		return string(node.Kind) == arg
	case "id":
		return node.ID == arg
	}
	return false
}
