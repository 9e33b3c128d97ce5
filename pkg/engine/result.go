package engine

// Ref identifies a unit (node or middleware) known to a Resolver.
type Ref string

// ResultKind discriminates the variants of NodeResult.
type ResultKind uint8

const (
	// KindInvalid is the kind of the zero NodeResult. Units must never
	// return it.
	KindInvalid ResultKind = iota
	// KindCompleted ends the process with an output.
	KindCompleted
	// KindProlonged continues at another unit with an updated buffer.
	KindProlonged
	// KindPassthrough lets the next middleware (or the entry node) run.
	// Only middleware may return it.
	KindPassthrough
)

func (k ResultKind) String() string {
	switch k {
	case KindCompleted:
		return "completed"
	case KindProlonged:
		return "prolonged"
	case KindPassthrough:
		return "passthrough"
	default:
		return "invalid"
	}
}

// NodeResult is what a unit hands back to the crawler. Exactly one variant
// is populated; build values with Complete, Next or Pass.
type NodeResult[B, O any] struct {
	kind ResultKind
	next Ref
	buf  B
	out  O
}

// Complete ends the process with out.
func Complete[B, O any](out O) NodeResult[B, O] {
	return NodeResult[B, O]{kind: KindCompleted, out: out}
}

// Next continues the walk at unit next, carrying buf.
func Next[O, B any](next Ref, buf B) NodeResult[B, O] {
	return NodeResult[B, O]{kind: KindProlonged, next: next, buf: buf}
}

// Pass lets the middleware chain continue with buf.
func Pass[O, B any](buf B) NodeResult[B, O] {
	return NodeResult[B, O]{kind: KindPassthrough, buf: buf}
}

// Kind reports which variant r holds.
func (r NodeResult[B, O]) Kind() ResultKind { return r.kind }

// Output returns the final output of a Completed result.
func (r NodeResult[B, O]) Output() (O, bool) {
	return r.out, r.kind == KindCompleted
}

// Next returns the target of a Prolonged result.
func (r NodeResult[B, O]) Next() (Ref, bool) {
	return r.next, r.kind == KindProlonged
}

// Buffer returns the buffer carried by a Prolonged or Passthrough result.
func (r NodeResult[B, O]) Buffer() (B, bool) {
	return r.buf, r.kind == KindProlonged || r.kind == KindPassthrough
}
