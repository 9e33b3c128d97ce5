// Package report renders process traces and flow graphs as tables.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ravi-parthasarathy/nodeflow/pkg/engine"
	"github.com/ravi-parthasarathy/nodeflow/pkg/flow"
)

// Mode controls the output format.
type Mode int

const (
	ASCII    Mode = iota // box-drawn terminal tables
	Markdown             // GitHub-flavoured Markdown tables
)

// ParseMode maps "text"/"ascii" and "markdown"/"md" to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "", "text", "ascii":
		return ASCII, nil
	case "markdown", "md":
		return Markdown, nil
	default:
		return ASCII, fmt.Errorf("unknown table format %q", s)
	}
}

func newWriter(m Mode) table.Writer {
	w := table.NewWriter()
	if m == ASCII {
		w.SetStyle(table.StyleLight)
	}
	w.Style().Format.Footer = text.FormatDefault
	return w
}

func render(w table.Writer, m Mode) string {
	if m == Markdown {
		return w.RenderMarkdown()
	}
	return w.Render()
}

// Trace renders one row per invoked unit with a total in the footer.
func Trace(chain engine.Chain, m Mode) string {
	w := newWriter(m)
	w.AppendHeader(table.Row{"#", "Kind", "Unit", "Outcome", "Duration", "Error"})
	w.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, WidthMax: 60},
	})

	var total time.Duration
	for i, st := range chain {
		outcome, errText := st.Outcome.String(), ""
		if st.Failed() {
			outcome, errText = "failed", st.Err.Error()
		}
		w.AppendRow(table.Row{i + 1, st.Kind.String(), string(st.Ref), outcome, FmtDuration(st.Duration), errText})
		total += st.Duration
	}
	w.AppendFooter(table.Row{"", "", fmt.Sprintf("%d steps", len(chain)), "", FmtDuration(total), ""})
	return render(w, m)
}

// Flow renders one row per node in declaration order with its outgoing
// routes.
func Flow(f *flow.Flow, m Mode) string {
	w := newWriter(m)
	w.AppendHeader(table.Row{"Node", "Kind", "Endpoint", "Next"})
	w.SetColumnConfigs([]table.ColumnConfig{{Number: 4, WidthMax: 60}})

	for _, id := range f.Order {
		n := f.Nodes[id]
		var next []string
		for _, e := range f.OutgoingEdges(id) {
			if e.Condition == "" || e.Condition == "_" {
				next = append(next, e.To)
				continue
			}
			next = append(next, fmt.Sprintf("%s [%s]", e.To, e.Condition))
		}
		if target := n.Attrs["goto"]; n.Kind == flow.KindMiddleware && target != "" {
			next = append(next, "goto "+target)
		}
		w.AppendRow(table.Row{id, string(n.Kind), n.Endpoint(), strings.Join(next, ", ")})
	}
	return render(w, m)
}

// FmtDuration formats d with millisecond precision below a minute.
func FmtDuration(d time.Duration) string {
	switch {
	case d >= time.Minute:
		s := int(d.Seconds())
		return fmt.Sprintf("%dm %ds", s/60, s%60)
	case d >= time.Millisecond:
		return d.Round(time.Millisecond).String()
	default:
		return d.Round(time.Microsecond).String()
	}
}
